package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalx/chartlens/internal/model"
)

type fakeProvider struct {
	mu       sync.Mutex
	response string
	err      error
	delay    time.Duration
	calls    int32
	inFlight int32
	maxSeen  int32
}

func (f *fakeProvider) AnalyzeChart(ctx context.Context, _ *model.AnalysisRequest) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		prev := atomic.LoadInt32(&f.maxSeen)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxSeen, prev, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.inFlight, -1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type passNormalizer struct{}

func (passNormalizer) Normalize(raw string, req *model.AnalysisRequest) (*model.AnalysisResult, error) {
	if raw == "not-a-chart" {
		return nil, &NotChartError{Reason: "screenshot of a spreadsheet"}
	}
	return &model.AnalysisResult{
		Symbol:     req.Symbol,
		Trend:      model.TrendBullish,
		Confidence: 80,
	}, nil
}

// fakeLedger is a mutex-guarded ledger stub for orchestrator tests.
type fakeLedger struct {
	mu      sync.Mutex
	balance int
	stored  []*model.StoredAnalysis
}

func (f *fakeLedger) DebitForAnalysis(_ context.Context, rec *model.StoredAnalysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance < rec.CreditsUsed {
		return ErrInsufficientCredits
	}
	f.balance -= rec.CreditsUsed
	f.stored = append(f.stored, rec)
	return nil
}

func newTestService(p Provider, led CreditLedger, maxConcurrent int) *Service {
	return NewService(p, passNormalizer{}, led, nil, Options{
		MaxConcurrent: maxConcurrent,
		ExecutorOpts: ExecutorOptions{
			MaxRetries:     1,
			AttemptTimeout: time.Second,
			BaseInterval:   time.Millisecond,
			MaxInterval:    2 * time.Millisecond,
			MaxJitter:      time.Millisecond,
		},
	})
}

func testRequest(userID string) *model.AnalysisRequest {
	return &model.AnalysisRequest{
		ImageBytes: []byte{0xFF, 0xD8, 0xFF, 0xE0},
		Symbol:     "BTC/USDT",
		UserID:     userID,
	}
}

func TestAnalyzeAnonymousSkipsDebit(t *testing.T) {
	led := &fakeLedger{balance: 0}
	svc := newTestService(&fakeProvider{response: "{}"}, led, 1)

	res, err := svc.Analyze(context.Background(), testRequest(""))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Persisted {
		t.Error("anonymous result must not be persisted")
	}
	if len(led.stored) != 0 {
		t.Errorf("stored %d analyses, want 0", len(led.stored))
	}
	if res.Timestamp.IsZero() {
		t.Error("timestamp must be set")
	}
}

func TestAnalyzeAuthenticatedDebitsOnce(t *testing.T) {
	led := &fakeLedger{balance: 2}
	svc := newTestService(&fakeProvider{response: "{}"}, led, 1)

	res, err := svc.Analyze(context.Background(), testRequest("user-1"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.Persisted || res.AnalysisID == "" {
		t.Error("authenticated result must be persisted with an id")
	}
	if led.balance != 1 {
		t.Errorf("balance = %d, want 1", led.balance)
	}
	if len(led.stored) != 1 {
		t.Fatalf("stored %d analyses, want 1", len(led.stored))
	}
	if led.stored[0].CreditsUsed != 1 {
		t.Errorf("creditsUsed = %d, want 1", led.stored[0].CreditsUsed)
	}
}

func TestAnalyzeInsufficientCreditsDiscardsResult(t *testing.T) {
	led := &fakeLedger{balance: 0}
	svc := newTestService(&fakeProvider{response: "{}"}, led, 1)

	_, err := svc.Analyze(context.Background(), testRequest("user-1"))
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if len(led.stored) != 0 {
		t.Error("no analysis may be stored when the debit fails")
	}
	if got := svc.InFlight(); got != 0 {
		t.Errorf("in flight = %d, want 0 (slot released)", got)
	}
}

func TestAnalyzeNotChartNotRetriedNoDebit(t *testing.T) {
	led := &fakeLedger{balance: 5}
	provider := &fakeProvider{response: "not-a-chart"}
	svc := newTestService(provider, led, 1)

	_, err := svc.Analyze(context.Background(), testRequest("user-1"))
	var notChart *NotChartError
	if !errors.As(err, &notChart) {
		t.Fatalf("err = %v, want NotChartError", err)
	}
	if notChart.Reason != "screenshot of a spreadsheet" {
		t.Errorf("reason = %q", notChart.Reason)
	}
	if led.balance != 5 {
		t.Errorf("balance changed to %d on NOT_CHART", led.balance)
	}
	if got := atomic.LoadInt32(&provider.calls); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
	if got := svc.InFlight(); got != 0 {
		t.Errorf("in flight = %d, want 0", got)
	}
}

func TestAnalyzeValidation(t *testing.T) {
	svc := newTestService(&fakeProvider{response: "{}"}, nil, 1)

	if _, err := svc.Analyze(context.Background(), &model.AnalysisRequest{}); !errors.Is(err, ErrMissingImage) {
		t.Errorf("empty image err = %v, want ErrMissingImage", err)
	}

	small := NewService(&fakeProvider{response: "{}"}, passNormalizer{}, nil, nil, Options{MaxImageBytes: 4})
	big := &model.AnalysisRequest{ImageBytes: make([]byte, 10)}
	if _, err := small.Analyze(context.Background(), big); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("oversize err = %v, want ErrImageTooLarge", err)
	}
}

func TestAnalyzeBoundsProviderConcurrency(t *testing.T) {
	provider := &fakeProvider{response: "{}", delay: 10 * time.Millisecond}
	svc := newTestService(provider, nil, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Analyze(context.Background(), testRequest("")); err != nil {
				t.Errorf("Analyze: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&provider.maxSeen); got > 2 {
		t.Errorf("max concurrent provider calls = %d, want <= 2", got)
	}
	if got := svc.InFlight(); got != 0 {
		t.Errorf("in flight after drain = %d, want 0", got)
	}
}

func TestAnalyzeReleasesSlotOnProviderFailure(t *testing.T) {
	provider := &fakeProvider{err: &ProviderError{StatusCode: 401, Message: "unauthorized"}}
	svc := newTestService(provider, nil, 1)

	if _, err := svc.Analyze(context.Background(), testRequest("")); err == nil {
		t.Fatal("expected provider error")
	}
	if got := svc.InFlight(); got != 0 {
		t.Fatalf("in flight = %d, want 0", got)
	}

	// Gate must still admit the next caller.
	provider.mu.Lock()
	provider.err = nil
	provider.mu.Unlock()
	if _, err := svc.Analyze(context.Background(), testRequest("")); err != nil {
		t.Fatalf("Analyze after failure: %v", err)
	}
}
