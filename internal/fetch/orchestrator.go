package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/Rajchodisetti/marketcore/internal/cache"
	"github.com/Rajchodisetti/marketcore/internal/market"
	"github.com/Rajchodisetti/marketcore/internal/observ"
)

const maxKeyLen = 256

var (
	// ErrMalformedKey rejects keys that can never name a cache entry
	ErrMalformedKey = errors.New("fetch: malformed key")
	// ErrNoDegrade means the request has no synthetic fallback to offer
	ErrNoDegrade = errors.New("fetch: request has no degrade function")
)

// Envelope is every value handed back to callers, tagged with its origin
type Envelope struct {
	Key        string            `json:"key"`
	Tier       cache.Tier        `json:"tier"`
	Value      any               `json:"data"`
	DataSource market.DataSource `json:"dataSource"`
	AsOf       time.Time         `json:"asOf"`
}

// Request describes one logical upstream operation
type Request struct {
	Tier    cache.Tier
	Key     string
	TTL     time.Duration // <= 0 uses the tier TTL
	Fetch   FetchFunc
	Cost    int // rate limit permits per attempt, default 1
	Degrade func() any
}

// Config holds the orchestration policies
type Config struct {
	Retry   RetryPolicy
	Pacer   Pacer
	Timeout time.Duration // bounds each caller's wait and each shared upstream fetch; 0 = unbounded
}

// Orchestrator makes a single upstream operation robust: pacing, rate
// limiting, retries, read-through caching and stale/synthetic fallback
type Orchestrator struct {
	cache   *cache.MultiTierCache
	limiter Limiter
	cfg     Config
	now     func() time.Time
}

// Option customises an Orchestrator
type Option func(*Orchestrator)

// WithClock sets the clock used to stamp synthetic envelopes
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New wires an orchestrator over a shared cache and limiter
func New(c *cache.MultiTierCache, limiter Limiter, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{cache: c, limiter: limiter, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Now reads the orchestrator's clock
func (o *Orchestrator) Now() time.Time { return o.now() }

// ValidateKey rejects empty, oversized or control-character keys
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrMalformedKey)
	}
	if len(key) > maxKeyLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrMalformedKey, maxKeyLen)
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q", ErrMalformedKey, key)
		}
	}
	return nil
}

func (o *Orchestrator) validate(req Request) error {
	if err := ValidateKey(req.Key); err != nil {
		return err
	}
	if _, err := o.cache.TTL(req.Tier); err != nil {
		return err
	}
	if req.Degrade == nil {
		return ErrNoDegrade
	}
	if req.Fetch == nil {
		return fmt.Errorf("fetch: request %s/%s has no fetch function", req.Tier, req.Key)
	}
	return nil
}

// Execute resolves one request. It only returns an error for a malformed
// request; upstream failures turn into a stale or mock envelope.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (Envelope, error) {
	if err := o.validate(req); err != nil {
		return Envelope{}, err
	}

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	v, src, err := o.cache.GetOrExecute(ctx, req.Tier, req.Key, req.TTL, o.compose(req))
	env := Envelope{Key: req.Key, Tier: req.Tier, Value: v, DataSource: src, AsOf: o.now()}

	switch {
	case err == nil:
		// cached and fresh values alike are as old as their entry
		if at, ok := o.cache.StoredAt(req.Tier, req.Key); ok {
			env.AsOf = at
		}
	case errors.Is(err, cache.ErrNoEntry):
		env.Value = req.Degrade()
		env.DataSource = market.SourceMock
		observ.Warn("fetch_degraded", map[string]any{
			"tier":     string(req.Tier),
			"key":      req.Key,
			"attempts": attemptsOf(err),
			"err_kind": string(market.KindOf(err)),
			"error":    err.Error(),
		})
	default:
		return Envelope{}, err
	}

	observ.IncCounter("fetch_result_total", map[string]string{
		"tier":   string(req.Tier),
		"source": string(env.DataSource),
	})
	observ.RecordDuration("fetch_execute", time.Since(start), map[string]string{"tier": string(req.Tier)})
	return env, nil
}

// compose builds pacer(retry(limited(upstream))) for one request, bounded by
// the configured timeout. The cache runs it detached from the callers, so
// this bound is what stops a hung upstream.
func (o *Orchestrator) compose(req Request) FetchFunc {
	retry := o.cfg.Retry
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		observ.Debug("fetch_retry", map[string]any{
			"tier":     string(req.Tier),
			"key":      req.Key,
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"err_kind": string(market.KindOf(err)),
		})
	}
	limited := RateLimitedPolicy{Limiter: o.limiter, Cost: req.Cost}
	fn := o.cfg.Pacer.Wrap(retry.Wrap(limited.Wrap(req.Fetch)))
	if o.cfg.Timeout <= 0 {
		return fn
	}
	return func(ctx context.Context) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
		return fn(ctx)
	}
}

func attemptsOf(err error) int {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex.Attempts
	}
	return 0
}
