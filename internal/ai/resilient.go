package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrAllCredentialsExhausted = errors.New("ai: all credentials exhausted")

type ClientConfig struct {
	Provider string
	Model    string
	// Timeout bounds each provider call. Zero disables it.
	Timeout time.Duration
	// Backoff is the fixed pause before retrying an unavailable credential.
	Backoff time.Duration
	// UnavailableRetries bounds retries on one credential before it is rotated away.
	UnavailableRetries int
}

// ResilientClient calls a provider through a CredentialPool, rotating on quota
// failures and backing off on transient ones.
type ResilientClient struct {
	pool     *CredentialPool
	registry *Registry
	cfg      ClientConfig
	log      *zap.Logger

	mu        sync.Mutex
	providers map[int]Provider

	sleep func(ctx context.Context, d time.Duration) error
}

func NewResilientClient(pool *CredentialPool, registry *Registry, cfg ClientConfig, log *zap.Logger) *ResilientClient {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.UnavailableRetries < 0 {
		cfg.UnavailableRetries = 0
	}
	return &ResilientClient{
		pool:      pool,
		registry:  registry,
		cfg:       cfg,
		log:       log.With(zap.String("provider", cfg.Provider), zap.String("model", cfg.Model)),
		providers: make(map[int]Provider),
		sleep:     sleepCtx,
	}
}

// Generate returns the provider's text, ErrAllCredentialsExhausted once every
// credential has been rotated through, or a wrapped non-retryable error.
func (c *ResilientClient) Generate(ctx context.Context, req Request) (string, error) {
	cred := c.pool.Active()
	rotations := 0
	unavailable := 0

	for rotations < c.pool.Size() {
		text, err := c.call(ctx, cred, req)
		if err == nil {
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		switch KindOf(err) {
		case KindQuota:
			rotations++
			unavailable = 0
			next := c.pool.Rotate(cred.Index)
			c.log.Warn("credential quota exhausted, rotating",
				zap.Int("from", cred.Index), zap.Int("to", next.Index), zap.Int("attempt", rotations))
			cred = next

		case KindUnavailable:
			unavailable++
			if unavailable > c.cfg.UnavailableRetries {
				rotations++
				unavailable = 0
				next := c.pool.Rotate(cred.Index)
				c.log.Warn("credential still unavailable, rotating",
					zap.Int("from", cred.Index), zap.Int("to", next.Index), zap.Int("attempt", rotations))
				cred = next
				continue
			}
			c.log.Info("provider unavailable, backing off",
				zap.Int("credential", cred.Index), zap.Duration("backoff", c.cfg.Backoff), zap.Error(err))
			if err := c.sleep(ctx, c.cfg.Backoff); err != nil {
				return "", err
			}

		default:
			return "", fmt.Errorf("generate: %w", err)
		}
	}

	c.log.Error("all credentials exhausted", zap.Int("pool_size", c.pool.Size()))
	return "", ErrAllCredentialsExhausted
}

func (c *ResilientClient) call(ctx context.Context, cred Credential, req Request) (string, error) {
	p, err := c.providerFor(ctx, cred)
	if err != nil {
		return "", err
	}

	cctx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	text, err := p.Complete(cctx, req)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		// our own per-call timeout fired; the upstream stalled
		return "", &ProviderError{Kind: KindUnavailable, Provider: c.cfg.Provider, Err: err}
	}
	return text, err
}

func (c *ResilientClient) providerFor(ctx context.Context, cred Credential) (Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.providers[cred.Index]; ok {
		return p, nil
	}
	p, err := c.registry.Get(ctx, c.cfg.Provider, cred, c.cfg.Model)
	if err != nil {
		return nil, err
	}
	c.providers[cred.Index] = p
	return p, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
