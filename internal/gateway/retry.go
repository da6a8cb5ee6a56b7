package gateway

import (
	"context"
	"errors"
	"math/rand"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Classifier decides whether a provider failure is worth retrying.
type Classifier interface {
	Retryable(err error) bool
}

// ClassifierFunc adapts a plain function to the Classifier interface.
type ClassifierFunc func(err error) bool

func (f ClassifierFunc) Retryable(err error) bool {
	return f(err)
}

var transientMessage = regexp.MustCompile(`(?i)quota|rate|overload|timeout`)

// DefaultClassifier treats rate limiting, overload, server-side 5xx and
// timeouts as transient. Everything else, including NotChart and
// configuration failures, is fatal.
func DefaultClassifier() Classifier {
	return ClassifierFunc(func(err error) bool {
		var notChart *NotChartError
		var confErr *ConfigurationError
		if errors.As(err, &notChart) || errors.As(err, &confErr) {
			return false
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var provErr *ProviderError
		if errors.As(err, &provErr) {
			switch provErr.StatusCode {
			case 408, 429, 500, 502, 503, 504:
				return true
			}
		}
		return transientMessage.MatchString(err.Error())
	})
}

// ExecutorOptions configures the retry/timeout wrapper around one provider call.
type ExecutorOptions struct {
	MaxRetries     int           // additional attempts after the first
	AttemptTimeout time.Duration // wall-clock deadline per attempt
	BaseInterval   time.Duration // first backoff wait
	MaxInterval    time.Duration // cap on a single wait
	MaxJitter      time.Duration // random extra added to each wait
	Classifier     Classifier
}

// Executor runs a single-shot inference call under a per-attempt deadline and
// an exponential backoff retry schedule. It holds no admission state itself:
// the caller acquires the gate once and the executor retries under that slot.
type Executor struct {
	opts   ExecutorOptions
	logger zerolog.Logger
}

// NewExecutor creates an executor, filling unset options with the defaults
// from the service contract (3 retries, 25s deadline, 500ms base doubling up
// to 10s, 0-250ms jitter).
func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.AttemptTimeout == 0 {
		opts.AttemptTimeout = 25 * time.Second
	}
	if opts.BaseInterval == 0 {
		opts.BaseInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval == 0 {
		opts.MaxInterval = 10 * time.Second
	}
	if opts.MaxJitter == 0 {
		opts.MaxJitter = 250 * time.Millisecond
	}
	if opts.Classifier == nil {
		opts.Classifier = DefaultClassifier()
	}
	return &Executor{
		opts:   opts,
		logger: log.With().Str("component", "executor").Logger(),
	}
}

// Execute runs call until it succeeds, a fatal error occurs, retries are
// exhausted, or ctx is cancelled. The returned string is the raw provider
// output.
func (e *Executor) Execute(ctx context.Context, call func(ctx context.Context) (string, error)) (string, error) {
	var out string
	attempt := 0

	operation := func() error {
		attempt++
		text, err := e.attempt(ctx, call)
		if err != nil {
			if !e.opts.Classifier.Retryable(err) {
				return backoff.Permanent(err)
			}
			e.logger.Warn().Err(err).Int("attempt", attempt).Msg("retryable provider failure")
			return err
		}
		out = text
		return nil
	}

	schedule := e.newSchedule()
	err := backoff.Retry(operation, backoff.WithContext(schedule, ctx))
	if err != nil {
		return "", err
	}
	return out, nil
}

// attempt races one provider call against the attempt deadline. If the
// transport ignores cancellation the loser's result is discarded.
func (e *Executor) attempt(ctx context.Context, call func(ctx context.Context) (string, error)) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.opts.AttemptTimeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := call(attemptCtx)
		done <- outcome{text, err}
	}()

	select {
	case o := <-done:
		return o.text, o.err
	case <-attemptCtx.Done():
		return "", attemptCtx.Err()
	}
}

func (e *Executor) newSchedule() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.opts.BaseInterval
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = e.opts.MaxInterval
	exp.MaxElapsedTime = 0
	var b backoff.BackOff = &jitterBackOff{delegate: exp, maxJitter: e.opts.MaxJitter, cap: e.opts.MaxInterval}
	return backoff.WithMaxRetries(b, uint64(e.opts.MaxRetries))
}

// jitterBackOff adds a uniform random delay on top of the exponential
// schedule, keeping each wait under the configured cap.
type jitterBackOff struct {
	delegate  backoff.BackOff
	maxJitter time.Duration
	cap       time.Duration
}

func (j *jitterBackOff) NextBackOff() time.Duration {
	next := j.delegate.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if j.maxJitter > 0 {
		next += time.Duration(rand.Int63n(int64(j.maxJitter)))
	}
	if next > j.cap {
		next = j.cap
	}
	return next
}

func (j *jitterBackOff) Reset() {
	j.delegate.Reset()
}
