package synth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/sensei/internal/ai"
)

type fakeGen struct {
	out   string
	err   error
	calls []ai.Request
}

func (g *fakeGen) Generate(ctx context.Context, req ai.Request) (string, error) {
	g.calls = append(g.calls, req)
	return g.out, g.err
}

type mapCache struct {
	m      map[string]string
	getErr error
}

func (c *mapCache) Get(ctx context.Context, key string) (string, bool, error) {
	if c.getErr != nil {
		return "", false, c.getErr
	}
	q, ok := c.m[key]
	return q, ok, nil
}

func (c *mapCache) Set(ctx context.Context, key, query string) error {
	c.m[key] = query
	return nil
}

func TestSynthesize_TradeClose(t *testing.T) {
	gen := &fakeGen{out: "  \"managing drawdown after a gold loss\"\n"}
	s := New(gen, nil, nil)

	q := s.Synthesize(context.Background(), TradeClose, map[string]any{"asset": "XAUUSD", "outcome": "LOSS", "pnl": -100})

	assert.Equal(t, "managing drawdown after a gold loss", q)
	require.Len(t, gen.calls, 1)
	assert.Equal(t, float32(0.3), gen.calls[0].Temperature)
	assert.Contains(t, gen.calls[0].System, "Trading Analyst Assistant")
	assert.Contains(t, gen.calls[0].Input, "User closed a trade")
	assert.Contains(t, gen.calls[0].Input, `"asset":"XAUUSD"`)
	assert.Empty(t, gen.calls[0].History)
}

func TestSynthesize_DistinctTemplates(t *testing.T) {
	gen := &fakeGen{out: "q"}
	s := New(gen, nil, nil)
	ctx := context.Background()

	s.Synthesize(ctx, TradeOpen, map[string]any{"asset": "BTCUSD", "side": "buy"})
	s.Synthesize(ctx, ModuleComplete, map[string]any{"module": "Risk Management"})
	s.Synthesize(ctx, ConceptHighlight, map[string]any{"highlighted_text": "liquidity sweep", "current_chapter": "3. Structure"})

	require.Len(t, gen.calls, 3)
	assert.Contains(t, gen.calls[0].Input, "opening a NEW trade")
	assert.Contains(t, gen.calls[1].Input, "finished a learning module")
	assert.Contains(t, gen.calls[2].Input, `TEXT: "liquidity sweep"`)
	assert.Contains(t, gen.calls[2].Input, `Chapter "3. Structure"`)
}

func TestSynthesize_UnknownKindSkipsProvider(t *testing.T) {
	gen := &fakeGen{out: "never"}
	s := New(gen, nil, nil)

	assert.Equal(t, UnknownEventQuery, s.Synthesize(context.Background(), EventKind("deposit"), nil))
	assert.Empty(t, gen.calls)
}

func TestSynthesize_FailureFallsBack(t *testing.T) {
	s := New(&fakeGen{err: ai.ErrAllCredentialsExhausted}, nil, nil)
	assert.Equal(t, FallbackQuery, s.Synthesize(context.Background(), TradeClose, map[string]any{"pnl": -5}))

	s = New(&fakeGen{out: "   "}, nil, nil)
	assert.Equal(t, FallbackQuery, s.Synthesize(context.Background(), TradeClose, map[string]any{"pnl": -5}))
}

func TestSynthesize_CachesByKindAndPayload(t *testing.T) {
	gen := &fakeGen{out: "scaling winners"}
	cache := &mapCache{m: map[string]string{}}
	s := New(gen, cache, nil)
	ctx := context.Background()
	payload := map[string]any{"asset": "EURUSD", "pnl": 40}

	assert.Equal(t, "scaling winners", s.Synthesize(ctx, TradeClose, payload))
	assert.Equal(t, "scaling winners", s.Synthesize(ctx, TradeClose, payload))
	assert.Len(t, gen.calls, 1)

	s.Synthesize(ctx, TradeOpen, payload)
	assert.Len(t, gen.calls, 2)
	assert.Len(t, cache.m, 2)
}

func TestSynthesize_CacheErrorIgnored(t *testing.T) {
	gen := &fakeGen{out: "entry rules"}
	s := New(gen, &mapCache{m: map[string]string{}, getErr: errors.New("conn refused")}, nil)

	assert.Equal(t, "entry rules", s.Synthesize(context.Background(), TradeOpen, map[string]any{"asset": "NAS100"}))
}

func TestCacheKeyStable(t *testing.T) {
	a := CacheKey(TradeClose, []byte(`{"pnl":-1}`))
	assert.Len(t, a, 64)
	assert.Equal(t, a, CacheKey(TradeClose, []byte(`{"pnl":-1}`)))
	assert.NotEqual(t, a, CacheKey(TradeOpen, []byte(`{"pnl":-1}`)))
}
