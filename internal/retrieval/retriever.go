package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Candidate is one chunk returned by the similarity index.
type Candidate struct {
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata"`
	Tags       []string          `json:"tags"`
	SourceID   string            `json:"source_id"`
	Similarity float64           `json:"similarity"`
}

// Grounding is the single candidate chosen to ground an answer.
type Grounding struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
	Tags     []string          `json:"tags"`
	SourceID string            `json:"source_id"`
	Score    float64           `json:"score"`
}

// Index is the similarity search collaborator. Tags filter with OR semantics.
type Index interface {
	Query(ctx context.Context, text string, tags []string, topK int) ([]Candidate, error)
}

// Scorer is a cross-encoder: higher means more relevant.
type Scorer interface {
	Score(ctx context.Context, query, text string) (float64, error)
}

// BatchScorer scores many texts in one call, in input order. A Scorer that also
// implements it is called once per search.
type BatchScorer interface {
	ScoreAll(ctx context.Context, query string, texts []string) ([]float64, error)
}

type Retriever struct {
	index     Index
	scorer    Scorer
	threshold float64
	topK      int
	// parallel caps concurrent scorer calls per search.
	parallel int
	log      *zap.Logger
}

func NewRetriever(index Index, scorer Scorer, threshold float64, topK int, log *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{index: index, scorer: scorer, threshold: threshold, topK: topK, parallel: 4, log: log}
}

type scored struct {
	c     Candidate
	score float64
}

// Search returns the best reranked candidate, or nil when nothing scores
// strictly above the threshold.
func (r *Retriever) Search(ctx context.Context, query string, tags []string, topK int) (*Grounding, error) {
	if topK <= 0 {
		topK = r.topK
	}

	candidates, err := r.index.Query(ctx, query, tags, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	if len(candidates) == 0 {
		r.log.Debug("no candidates", zap.String("query", query), zap.Strings("tags", tags))
		return nil, nil
	}

	ranked, err := r.rerank(ctx, query, candidates)
	if err != nil {
		return nil, err
	}

	best := ranked[0]
	if best.score <= r.threshold {
		r.log.Info("best candidate below threshold",
			zap.String("query", query), zap.Float64("score", best.score), zap.Float64("threshold", r.threshold))
		return nil, nil
	}

	return &Grounding{
		Text:     best.c.Text,
		Metadata: best.c.Metadata,
		Tags:     best.c.Tags,
		SourceID: best.c.SourceID,
		Score:    best.score,
	}, nil
}

// rerank scores every pair, in one batch when the scorer supports it and
// concurrently otherwise, and sorts descending; ties keep retrieval order.
func (r *Retriever) rerank(ctx context.Context, query string, candidates []Candidate) ([]scored, error) {
	out := make([]scored, len(candidates))

	if bs, ok := r.scorer.(BatchScorer); ok {
		texts := make([]string, len(candidates))
		for i, c := range candidates {
			texts[i] = c.Text
		}
		scores, err := bs.ScoreAll(ctx, query, texts)
		if err != nil {
			return nil, fmt.Errorf("rerank: %w", err)
		}
		if len(scores) != len(candidates) {
			return nil, fmt.Errorf("rerank: got %d scores for %d candidates", len(scores), len(candidates))
		}
		for i, c := range candidates {
			out[i] = scored{c: c, score: scores[i]}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, c := range candidates {
		g.Go(func() error {
			s, err := r.scorer.Score(gctx, query, c.Text)
			if err != nil {
				return fmt.Errorf("rerank candidate %d: %w", i, err)
			}
			out[i] = scored{c: c, score: s}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out, nil
}
