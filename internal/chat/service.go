package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/sensei/internal/ai"
	"github.com/suPer8Hu/sensei/internal/memory"
	"github.com/suPer8Hu/sensei/internal/retrieval"
	"github.com/suPer8Hu/sensei/internal/synth"
	"github.com/suPer8Hu/sensei/internal/tagging"
)

// BusyMessage is returned in place of an answer when every credential is exhausted.
const BusyMessage = "System Notification: All API keys are currently unavailable. " +
	"The Sensei is tending to other students; all systems are busy. Try again shortly."

const (
	mainTemperature = 0.7
	generalLogic    = "General Logic"
)

type Generator interface {
	Generate(ctx context.Context, req ai.Request) (string, error)
}

type Searcher interface {
	Search(ctx context.Context, query string, tags []string, topK int) (*retrieval.Grounding, error)
}

type Tagger interface {
	Tags(ctx context.Context, query string) []string
}

type QuerySynthesizer interface {
	Synthesize(ctx context.Context, kind synth.EventKind, payload map[string]any) string
}

type Deps struct {
	Gen       Generator
	Retriever Searcher
	Memory    *memory.Store
	// optional
	Tagger      Tagger
	Synthesizer QuerySynthesizer
	Repo        *Repo
	Publisher   JobPublisher
	TopK        int
	Log         *zap.Logger
}

type Service struct {
	gen       Generator
	retriever Searcher
	memory    *memory.Store
	tagger    Tagger
	synth     QuerySynthesizer
	repo      *Repo
	publisher JobPublisher
	topK      int
	log       *zap.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	if d.TopK <= 0 {
		d.TopK = 5
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Service{
		gen:       d.Gen,
		retriever: d.Retriever,
		memory:    d.Memory,
		tagger:    d.Tagger,
		synth:     d.Synthesizer,
		repo:      d.Repo,
		publisher: d.Publisher,
		topK:      d.TopK,
		log:       d.Log,
		now:       time.Now,
	}
}

// Chat answers one grounded question and records the turn pair. Queries with
// no grounding get an in-persona refusal and leave memory untouched.
func (s *Service) Chat(ctx context.Context, userID, query string, state UserState) (*ChatResult, error) {
	start := s.now()

	var tags []string
	if s.tagger != nil {
		tags = s.tagger.Tags(ctx, query)
	}
	sources := tags
	if len(sources) == 0 {
		sources = []string{generalLogic}
	}

	g, err := s.retriever.Search(ctx, query, tags, s.topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	if g == nil {
		s.log.Info("guardrail refusal", zap.String("user_id", userID), zap.String("query", query))
		answer, err := s.generate(ctx, ai.Request{
			System:      refusalPrompt,
			Input:       refusalInput(query),
			Temperature: mainTemperature,
		})
		if err != nil {
			return nil, err
		}
		return &ChatResult{Answer: answer, Sources: sources, Refused: true, LatencyMS: s.since(start)}, nil
	}

	unlock := s.memory.Lock(userID)
	defer unlock()

	turns := s.memory.History(userID)
	history := make([]ai.Message, 0, len(turns))
	for _, t := range turns {
		history = append(history, ai.Message{Role: t.Role, Content: t.Text})
	}

	input := groundedInput(g, query)
	answer, err := s.gen.Generate(ctx, ai.Request{
		System:      BuildSystemPrompt(state),
		History:     history,
		Input:       input,
		Temperature: mainTemperature,
	})
	if errors.Is(err, ai.ErrAllCredentialsExhausted) {
		return &ChatResult{Answer: BusyMessage, Sources: sources, Context: g, LatencyMS: s.since(start)}, nil
	}
	if err != nil {
		return nil, err
	}

	s.memory.Append(ctx, userID,
		memory.Turn{Role: memory.RoleUser, Text: input},
		memory.Turn{Role: memory.RoleModel, Text: answer},
	)

	return &ChatResult{Answer: answer, Sources: sources, Context: g, LatencyMS: s.since(start)}, nil
}

func (s *Service) History(userID string) []memory.Turn {
	return s.memory.History(userID)
}

// AnalyzeTradeEntry gives a one-sentence tip for a trade about to be opened.
func (s *Service) AnalyzeTradeEntry(ctx context.Context, asset, side string) (string, error) {
	g := s.groundEvent(ctx, synth.TradeOpen, map[string]any{"asset": asset, "side": side})
	return s.generate(ctx, ai.Request{
		System:      tradeEntryPrompt(asset, side, g),
		Input:       fmt.Sprintf("I am entering %s on %s. What should I watch out for?", side, asset),
		Temperature: mainTemperature,
	})
}

// DashboardBriefing writes the two-sentence briefing for a recent event.
// g may be nil.
func (s *Service) DashboardBriefing(ctx context.Context, m TradeMetrics, g *retrieval.Grounding, event string) (string, error) {
	return s.generate(ctx, ai.Request{
		System:      briefingPrompt(m, g, event),
		Input:       "Generate my Dashboard Summary.",
		Temperature: mainTemperature,
	})
}

// ExplainConcept explains highlighted lesson text.
func (s *Service) ExplainConcept(ctx context.Context, highlight, chapter string) (string, error) {
	g := s.groundEvent(ctx, synth.ConceptHighlight, map[string]any{
		"highlighted_text": highlight,
		"current_chapter":  chapter,
	})
	return s.generate(ctx, ai.Request{
		System:      conceptPrompt(chapter, g),
		Input:       fmt.Sprintf("Explain this concept: '%s'", highlight),
		Temperature: mainTemperature,
	})
}

// RecommendNextModule picks the next module from curriculum. Output that does
// not decode into a valid recommendation is replaced by DefaultRecommendation.
func (s *Service) RecommendNextModule(ctx context.Context, trade TradeAnalysis, curriculum []string) (Recommendation, error) {
	raw, err := s.gen.Generate(ctx, ai.Request{
		System:      recommendPrompt(curriculum),
		Input:       recommendInput(trade),
		Temperature: mainTemperature,
	})
	if errors.Is(err, ai.ErrAllCredentialsExhausted) {
		return DefaultRecommendation, nil
	}
	if err != nil {
		return Recommendation{}, err
	}

	rec, err := DecodeRecommendation(raw, curriculum)
	if err != nil {
		s.log.Warn("malformed recommendation, using default", zap.String("raw", raw), zap.Error(err))
		return DefaultRecommendation, nil
	}
	return rec, nil
}

// DecodeRecommendation strictly parses a model answer. The module must be one
// of valid, verbatim, when valid is non-empty.
func DecodeRecommendation(raw string, valid []string) (Recommendation, error) {
	dec := json.NewDecoder(strings.NewReader(tagging.StripFences(raw)))
	dec.DisallowUnknownFields()

	var rec Recommendation
	if err := dec.Decode(&rec); err != nil {
		return Recommendation{}, fmt.Errorf("decode recommendation: %w", err)
	}
	if dec.More() {
		return Recommendation{}, errors.New("decode recommendation: trailing data")
	}
	rec.Module = strings.TrimSpace(rec.Module)
	rec.Reason = strings.TrimSpace(rec.Reason)
	if rec.Module == "" || rec.Reason == "" {
		return Recommendation{}, errors.New("decode recommendation: module and reason are required")
	}
	if len(valid) > 0 && !slices.Contains(valid, rec.Module) {
		return Recommendation{}, fmt.Errorf("decode recommendation: unknown module %q", rec.Module)
	}
	return rec, nil
}

// ProcessEvent synthesizes a query from an event, grounds it and writes the
// dashboard briefing.
func (s *Service) ProcessEvent(ctx context.Context, kind synth.EventKind, payload map[string]any, m TradeMetrics) (*EventResult, error) {
	query := s.synthesize(ctx, kind, payload)

	g, err := s.retriever.Search(ctx, query, nil, s.topK)
	if err != nil {
		s.log.Warn("event search failed", zap.String("kind", string(kind)), zap.Error(err))
		g = nil
	}

	briefing, err := s.DashboardBriefing(ctx, m, g, DescribeEvent(kind, payload))
	if err != nil {
		return nil, err
	}
	return &EventResult{Query: query, Grounding: g, Briefing: briefing}, nil
}

// DescribeEvent renders an event as one line for the briefing prompt.
func DescribeEvent(kind synth.EventKind, payload map[string]any) string {
	switch kind {
	case synth.TradeClose:
		return fmt.Sprintf("Closed a trade on %v: %v (PnL $%v)", field(payload, "asset"), field(payload, "outcome"), field(payload, "pnl"))
	case synth.TradeOpen:
		return fmt.Sprintf("Opened a %v trade on %v", field(payload, "side"), field(payload, "asset"))
	case synth.ModuleComplete:
		return fmt.Sprintf("Finished the module %v", field(payload, "module"))
	case synth.ConceptHighlight:
		return fmt.Sprintf("Highlighted %q while reading", fmt.Sprint(field(payload, "highlighted_text")))
	default:
		b, _ := json.Marshal(payload)
		return fmt.Sprintf("%s %s", kind, b)
	}
}

func field(m map[string]any, k string) any {
	if v, ok := m[k]; ok && v != nil {
		return v
	}
	return "?"
}

// groundEvent finds optional grounding for an event-driven prompt. Failures
// only cost the grounding.
func (s *Service) groundEvent(ctx context.Context, kind synth.EventKind, payload map[string]any) *retrieval.Grounding {
	query := s.synthesize(ctx, kind, payload)
	g, err := s.retriever.Search(ctx, query, nil, s.topK)
	if err != nil {
		s.log.Warn("event search failed", zap.String("kind", string(kind)), zap.Error(err))
		return nil
	}
	return g
}

func (s *Service) synthesize(ctx context.Context, kind synth.EventKind, payload map[string]any) string {
	if s.synth == nil {
		return synth.FallbackQuery
	}
	return s.synth.Synthesize(ctx, kind, payload)
}

// generate maps credential exhaustion to BusyMessage.
func (s *Service) generate(ctx context.Context, req ai.Request) (string, error) {
	text, err := s.gen.Generate(ctx, req)
	if errors.Is(err, ai.ErrAllCredentialsExhausted) {
		return BusyMessage, nil
	}
	return text, err
}

func (s *Service) since(start time.Time) float64 {
	ms := float64(s.now().Sub(start).Microseconds()) / 1000
	return float64(int64(ms*100)) / 100
}
