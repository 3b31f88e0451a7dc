package synth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/suPer8Hu/sensei/internal/ai"
)

type EventKind string

const (
	TradeClose       EventKind = "trade_close"
	TradeOpen        EventKind = "trade_open"
	ModuleComplete   EventKind = "module_complete"
	ConceptHighlight EventKind = "concept_highlight"
)

func (k EventKind) Known() bool {
	switch k {
	case TradeClose, TradeOpen, ModuleComplete, ConceptHighlight:
		return true
	}
	return false
}

const (
	UnknownEventQuery = "general trading principles"
	FallbackQuery     = "trading psychology and risk management"

	temperature = 0.3
)

const systemPrompt = "You are a Trading Analyst Assistant. " +
	"Your job is to convert raw event data into a specific SEARCH QUERY for a vector database.\n" +
	"The goal is to find educational content relevant to the user's recent action.\n" +
	"Output ONLY the search query string. No quotes, no explanations."

type Generator interface {
	Generate(ctx context.Context, req ai.Request) (string, error)
}

// Cache stores synthesized queries. A miss is ("", false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, query string) error
}

type Synthesizer struct {
	gen   Generator
	cache Cache
	log   *zap.Logger
}

// New builds a Synthesizer. cache may be nil.
func New(gen Generator, cache Cache, log *zap.Logger) *Synthesizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synthesizer{gen: gen, cache: cache, log: log}
}

// Synthesize turns an event into a search query. It never fails: unknown kinds
// and generation errors map to fixed fallback queries.
func (s *Synthesizer) Synthesize(ctx context.Context, kind EventKind, payload map[string]any) string {
	if !kind.Known() {
		return UnknownEventQuery
	}

	details, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("synthesizer: payload not encodable", zap.String("kind", string(kind)), zap.Error(err))
		return FallbackQuery
	}

	key := CacheKey(kind, details)
	if s.cache != nil {
		if q, ok, err := s.cache.Get(ctx, key); err != nil {
			s.log.Warn("synthesizer: cache get failed", zap.Error(err))
		} else if ok {
			return q
		}
	}

	out, err := s.gen.Generate(ctx, ai.Request{
		System:      systemPrompt,
		Input:       eventPrompt(kind, details, payload),
		Temperature: temperature,
	})
	if err != nil {
		s.log.Warn("synthesizer: generation failed, using fallback", zap.String("kind", string(kind)), zap.Error(err))
		return FallbackQuery
	}
	q := strings.Trim(strings.TrimSpace(out), `"'`)
	if q == "" {
		return FallbackQuery
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, q); err != nil {
			s.log.Warn("synthesizer: cache set failed", zap.Error(err))
		}
	}
	return q
}

// CacheKey is the hex SHA-256 of the event kind and its JSON payload.
func CacheKey(kind EventKind, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func eventPrompt(kind EventKind, details []byte, payload map[string]any) string {
	switch kind {
	case TradeClose:
		return fmt.Sprintf(`EVENT: User closed a trade.
DETAILS: %s

TASK: Generate a search query to find advice on what they did right or wrong.
If PnL is negative, focus on risk management or psychology.
If PnL is positive, focus on consistency or scaling.`, details)

	case TradeOpen:
		return fmt.Sprintf(`EVENT: User is opening a NEW trade.
DETAILS: %s

TASK: Generate a search query to find specific "Watch outs" or "Key levels"
for this asset class or general entry rules.
Example: "Gold volatility trading rules" or "Bitcoin breakout strategies"`, details)

	case ModuleComplete:
		return fmt.Sprintf(`EVENT: User finished a learning module.
DETAILS: %s

TASK: Generate a search query to find advanced concepts related to this module
to suggest 'what's next'.`, details)

	default:
		return fmt.Sprintf(`EVENT: User highlighted text in a learning module.
TEXT: "%v"
CONTEXT: Chapter "%v"

TASK: Extract the CORE TRADING CONCEPT from the highlighted text.
Convert it into a search query to find the definition and examples.`,
			valueOr(payload, "highlighted_text"), valueOr(payload, "current_chapter"))
	}
}

func valueOr(m map[string]any, key string) any {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return "None"
}
