package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/signalx/chartlens/internal/gateway"
	"github.com/signalx/chartlens/internal/ledger"
	"github.com/signalx/chartlens/internal/model"
	"github.com/signalx/chartlens/internal/normalize"
)

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46}

type scriptedProvider struct {
	response string
	err      error
}

func (p *scriptedProvider) AnalyzeChart(context.Context, *model.AnalysisRequest) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.response, nil
}

func newTestServer(t *testing.T, provider gateway.Provider, initialCredits int) (*Server, *ledger.Memory) {
	t.Helper()
	led := ledger.NewMemory()
	svc := gateway.NewService(provider, normalize.New(), led, nil, gateway.Options{
		MaxConcurrent: 1,
		ExecutorOpts: gateway.ExecutorOptions{
			MaxRetries:     1,
			AttemptTimeout: time.Second,
			BaseInterval:   time.Millisecond,
			MaxInterval:    2 * time.Millisecond,
			MaxJitter:      time.Millisecond,
		},
	})
	return New(svc, led, nil, Options{
		InitialCredits: initialCredits,
		AdminToken:     "test-admin-token",
	}), led
}

func analyzeBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"imageBase64": base64.StdEncoding.EncodeToString(jpegBytes),
		"symbol":      "BTC/USDT",
		"timeframe":   "4H",
	})
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewBuffer(body)
}

func doRequest(t *testing.T, s *Server, method, path, userID string, body *bytes.Buffer) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeChartAnonymous(t *testing.T) {
	s, _ := newTestServer(t, &scriptedProvider{response: `{"symbol": "BTC/USDT", "trend": "bullish", "confidence": 90}`}, 3)

	rec := doRequest(t, s, http.MethodPost, "/api/analyze-chart", "", analyzeBody(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp analyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Analysis == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.AnalysisID != "" {
		t.Error("anonymous analysis must not be persisted")
	}
	if resp.Analysis.Confidence != 90 {
		t.Errorf("confidence = %d", resp.Analysis.Confidence)
	}
}

func TestAnalyzeChartDebitsAndStoresHistory(t *testing.T) {
	s, led := newTestServer(t, &scriptedProvider{response: `{"symbol": "ETH/USDT", "trend": "bearish"}`}, 2)

	rec := doRequest(t, s, http.MethodPost, "/api/analyze-chart", "user-1", analyzeBody(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp analyzeResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.AnalysisID == "" {
		t.Fatal("expected persisted analysis id")
	}

	acc, err := led.Account(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acc.Balance != 1 {
		t.Errorf("balance = %d, want 1", acc.Balance)
	}

	histRec := doRequest(t, s, http.MethodGet, "/api/analysis/history", "user-1", nil)
	if histRec.Code != http.StatusOK {
		t.Fatalf("history status = %d", histRec.Code)
	}
	var hist struct {
		Analyses []model.StoredAnalysis `json:"analyses"`
	}
	_ = json.Unmarshal(histRec.Body.Bytes(), &hist)
	if len(hist.Analyses) != 1 || hist.Analyses[0].ID != resp.AnalysisID {
		t.Errorf("history = %+v", hist.Analyses)
	}
}

func TestAnalyzeChartInsufficientCredits(t *testing.T) {
	s, _ := newTestServer(t, &scriptedProvider{response: `{}`}, 0)

	rec := doRequest(t, s, http.MethodPost, "/api/analyze-chart", "user-1", analyzeBody(t))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402; body = %s", rec.Code, rec.Body.String())
	}

	// The computed result was discarded: nothing in history.
	histRec := doRequest(t, s, http.MethodGet, "/api/analysis/history", "user-1", nil)
	var hist struct {
		Analyses []model.StoredAnalysis `json:"analyses"`
	}
	_ = json.Unmarshal(histRec.Body.Bytes(), &hist)
	if len(hist.Analyses) != 0 {
		t.Errorf("history = %+v, want empty", hist.Analyses)
	}
}

func TestAnalyzeChartNotChart(t *testing.T) {
	s, led := newTestServer(t, &scriptedProvider{
		response: `{"isChart": false, "notChartReason": "screenshot of a spreadsheet"}`,
	}, 3)

	rec := doRequest(t, s, http.MethodPost, "/api/analyze-chart", "user-1", analyzeBody(t))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Details != "screenshot of a spreadsheet" {
		t.Errorf("details = %q", resp.Details)
	}

	acc, _ := led.Account(context.Background(), "user-1")
	if acc.Balance != 3 {
		t.Errorf("balance = %d, want 3 (NOT_CHART never consumes credits)", acc.Balance)
	}
}

func TestAnalyzeChartValidation(t *testing.T) {
	s, _ := newTestServer(t, &scriptedProvider{response: `{}`}, 3)

	empty, _ := json.Marshal(map[string]string{"symbol": "BTC/USDT"})
	rec := doRequest(t, s, http.MethodPost, "/api/analyze-chart", "", bytes.NewBuffer(empty))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing image status = %d, want 400", rec.Code)
	}

	notImage, _ := json.Marshal(map[string]string{
		"imageBase64": base64.StdEncoding.EncodeToString([]byte("just some text")),
	})
	rec = doRequest(t, s, http.MethodPost, "/api/analyze-chart", "", bytes.NewBuffer(notImage))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-image status = %d, want 400", rec.Code)
	}
}

func TestDeleteAnalysisRefunds(t *testing.T) {
	s, led := newTestServer(t, &scriptedProvider{response: `{}`}, 1)

	rec := doRequest(t, s, http.MethodPost, "/api/analyze-chart", "user-1", analyzeBody(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d", rec.Code)
	}
	var resp analyzeResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)

	delRec := doRequest(t, s, http.MethodDelete, "/api/analysis/"+resp.AnalysisID, "user-1", nil)
	if delRec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body = %s", delRec.Code, delRec.Body.String())
	}

	acc, _ := led.Account(context.Background(), "user-1")
	if acc.Balance != 1 {
		t.Errorf("balance after refund = %d, want 1", acc.Balance)
	}

	delAgain := doRequest(t, s, http.MethodDelete, "/api/analysis/"+resp.AnalysisID, "user-1", nil)
	if delAgain.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", delAgain.Code)
	}
}

func TestCreditsEndpointCreatesAccount(t *testing.T) {
	s, _ := newTestServer(t, &scriptedProvider{response: `{}`}, 3)

	rec := doRequest(t, s, http.MethodGet, "/api/credits", "fresh-user", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var acc model.CreditAccount
	_ = json.Unmarshal(rec.Body.Bytes(), &acc)
	if acc.Balance != 3 || !acc.IsActive {
		t.Errorf("account = %+v", acc)
	}
}

func TestCreditsRequireIdentity(t *testing.T) {
	s, _ := newTestServer(t, &scriptedProvider{response: `{}`}, 3)

	for _, path := range []string{"/api/credits", "/api/credits/transactions", "/api/analysis/history"} {
		rec := doRequest(t, s, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, rec.Code)
		}
	}
}

func TestAdminCredits(t *testing.T) {
	s, led := newTestServer(t, &scriptedProvider{response: `{}`}, 0)

	body, _ := json.Marshal(adminCreditsRequest{UserID: "user-1", Amount: 5, Description: "promo"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/credits", bytes.NewBuffer(body))
	req.Header.Set("X-Admin-Token", "test-admin-token")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	acc, _ := led.Account(context.Background(), "user-1")
	if acc.Balance != 5 {
		t.Errorf("balance = %d, want 5", acc.Balance)
	}

	// Wrong or missing token is rejected.
	body, _ = json.Marshal(adminCreditsRequest{UserID: "user-1", Amount: 5})
	bad := doRequest(t, s, http.MethodPost, "/api/admin/credits", "", bytes.NewBuffer(body))
	if bad.Code != http.StatusForbidden {
		t.Errorf("unauthenticated admin status = %d, want 403", bad.Code)
	}
}
