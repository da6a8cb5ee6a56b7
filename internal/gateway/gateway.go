// Package gateway orchestrates one chart analysis end to end: admission
// through the bounded-concurrency gate, the resilient provider call, response
// normalization, and the atomic credit debit for authenticated callers.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/signalx/chartlens/internal/model"
)

// Provider is the external vision-inference service. It returns the raw
// completion text for one chart image.
type Provider interface {
	AnalyzeChart(ctx context.Context, req *model.AnalysisRequest) (string, error)
}

// Normalizer validates raw provider output into a fully populated result.
type Normalizer interface {
	Normalize(raw string, req *model.AnalysisRequest) (*model.AnalysisResult, error)
}

// CreditLedger is the subset of the ledger the orchestrator needs: the atomic
// debit-and-persist step.
type CreditLedger interface {
	DebitForAnalysis(ctx context.Context, rec *model.StoredAnalysis) error
}

// Notifier receives best-effort notifications about finished analyses.
type Notifier interface {
	AnalysisCompleted(userID string, res *model.AnalysisResult)
}

// Options configures the analysis service.
type Options struct {
	MaxConcurrent  int
	MaxImageBytes  int
	ExecutorOpts   ExecutorOptions
	AnalysisCredit int // credits consumed per successful analysis
}

// Service is the analysis orchestrator. Construct it explicitly with its
// collaborators; there is no package-level instance.
type Service struct {
	gate       *Semaphore
	executor   *Executor
	provider   Provider
	normalizer Normalizer
	ledger     CreditLedger
	notifier   Notifier
	opts       Options
	logger     zerolog.Logger
}

// Result is the successful outcome of one orchestration call.
type Result struct {
	Analysis   *model.AnalysisResult `json:"analysis"`
	AnalysisID string                `json:"analysisId,omitempty"`
	Persisted  bool                  `json:"persisted"`
	Timestamp  time.Time             `json:"timestamp"`
}

// NewService wires the orchestrator. Ledger and notifier may be nil: without
// a ledger every caller is treated as anonymous (no debit, no persistence).
func NewService(provider Provider, normalizer Normalizer, ledger CreditLedger, notifier Notifier, opts Options) *Service {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 10 << 20
	}
	if opts.AnalysisCredit <= 0 {
		opts.AnalysisCredit = 1
	}
	return &Service{
		gate:       NewSemaphore(opts.MaxConcurrent),
		executor:   NewExecutor(opts.ExecutorOpts),
		provider:   provider,
		normalizer: normalizer,
		ledger:     ledger,
		notifier:   notifier,
		opts:       opts,
		logger:     log.With().Str("component", "analysis_service").Logger(),
	}
}

// Analyze runs the full pipeline for one request. The admission slot is held
// across all retry attempts and the normalization step, and is released on
// every exit path before the debit runs. A failure after normalization
// discards the computed result: an analysis is never stored without its debit
// and credits are never consumed without a stored result.
func (s *Service) Analyze(ctx context.Context, req *model.AnalysisRequest) (*Result, error) {
	if len(req.ImageBytes) == 0 {
		return nil, ErrMissingImage
	}
	if len(req.ImageBytes) > s.opts.MaxImageBytes {
		return nil, ErrImageTooLarge
	}

	if err := s.gate.Acquire(ctx); err != nil {
		return nil, err
	}

	raw, err := s.executor.Execute(ctx, func(ctx context.Context) (string, error) {
		return s.provider.AnalyzeChart(ctx, req)
	})
	if err != nil {
		s.gate.Release()
		s.logger.Error().Err(err).Str("symbol", req.Symbol).Msg("provider call failed")
		return nil, err
	}

	analysis, err := s.normalizer.Normalize(raw, req)
	s.gate.Release()
	if err != nil {
		return nil, err
	}

	res := &Result{
		Analysis:  analysis,
		Timestamp: time.Now().UTC(),
	}

	if req.Authenticated() && s.ledger != nil {
		rec := &model.StoredAnalysis{
			ID:          uuid.NewString(),
			UserID:      req.UserID,
			Symbol:      orDefault(req.Symbol, "Unknown"),
			Timeframe:   orDefault(req.Timeframe, "Unknown"),
			Result:      *analysis,
			CreditsUsed: s.opts.AnalysisCredit,
			CreatedAt:   res.Timestamp,
		}
		if err := s.ledger.DebitForAnalysis(ctx, rec); err != nil {
			s.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("debit failed, discarding analysis")
			return nil, err
		}
		res.AnalysisID = rec.ID
		res.Persisted = true
	}

	if s.notifier != nil {
		go s.notifier.AnalysisCompleted(req.UserID, analysis)
	}

	s.logger.Info().
		Str("symbol", analysis.Symbol).
		Str("trend", analysis.Trend).
		Int("confidence", analysis.Confidence).
		Bool("persisted", res.Persisted).
		Msg("analysis completed")
	return res, nil
}

// InFlight reports how many provider calls currently hold an admission slot.
func (s *Service) InFlight() int {
	return s.gate.InFlight()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
