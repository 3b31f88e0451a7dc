package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type fakeIndex struct {
	candidates []Candidate
	err        error
	gotTags    []string
	gotTopK    int
}

func (f *fakeIndex) Query(ctx context.Context, text string, tags []string, topK int) ([]Candidate, error) {
	f.gotTags = tags
	f.gotTopK = topK
	return f.candidates, f.err
}

type mapScorer map[string]float64

func (m mapScorer) Score(ctx context.Context, query, text string) (float64, error) {
	s, ok := m[text]
	if !ok {
		return 0, errors.New("unknown text " + text)
	}
	return s, nil
}

func TestSearch_TieKeepsRetrievalOrder(t *testing.T) {
	idx := &fakeIndex{candidates: []Candidate{{Text: "A"}, {Text: "B"}, {Text: "C"}}}
	r := NewRetriever(idx, mapScorer{"A": 0.9, "B": 0.9, "C": 0.3}, 0, 5, nil)

	g, err := r.Search(context.Background(), "q", nil, 0)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "A", g.Text)
	assert.Equal(t, 0.9, g.Score)
	assert.Equal(t, 5, idx.gotTopK)
}

func TestSearch_PicksHighestScoreNotFirstRetrieved(t *testing.T) {
	idx := &fakeIndex{candidates: []Candidate{{Text: "A"}, {Text: "B"}, {Text: "C", SourceID: "doc-c"}}}
	r := NewRetriever(idx, mapScorer{"A": -1, "B": 2, "C": 7.5}, 0, 5, nil)

	g, err := r.Search(context.Background(), "q", []string{"risk"}, 3)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "C", g.Text)
	assert.Equal(t, "doc-c", g.SourceID)
	assert.Equal(t, []string{"risk"}, idx.gotTags)
	assert.Equal(t, 3, idx.gotTopK)
}

func TestSearch_ThresholdIsStrict(t *testing.T) {
	idx := &fakeIndex{candidates: []Candidate{{Text: "A"}, {Text: "B"}}}
	r := NewRetriever(idx, mapScorer{"A": 0.0, "B": -4}, 0.0, 5, nil)

	g, err := r.Search(context.Background(), "What's the weather today?", nil, 0)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestSearch_EmptyIndexResult(t *testing.T) {
	r := NewRetriever(&fakeIndex{}, mapScorer{}, 0, 5, nil)

	g, err := r.Search(context.Background(), "q", nil, 0)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestSearch_PropagatesScorerError(t *testing.T) {
	idx := &fakeIndex{candidates: []Candidate{{Text: "A"}, {Text: "missing"}}}
	r := NewRetriever(idx, mapScorer{"A": 1}, 0, 5, nil)

	_, err := r.Search(context.Background(), "q", nil, 0)
	require.Error(t, err)
}

func TestSearch_PropagatesIndexError(t *testing.T) {
	r := NewRetriever(&fakeIndex{err: errors.New("down")}, mapScorer{}, 0, 5, nil)

	_, err := r.Search(context.Background(), "q", nil, 0)
	require.Error(t, err)
}

func TestHTTPCrossEncoder_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)
		var req rerankReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "stop loss", req.Query)
		assert.Equal(t, []string{"always set a stop"}, req.Texts)
		assert.True(t, req.RawScores)
		_ = json.NewEncoder(w).Encode([]rerankResp{{Index: 0, Score: 3.25}})
	}))
	defer srv.Close()

	s, err := NewHTTPCrossEncoder(srv.URL+"/").Score(context.Background(), "stop loss", "always set a stop")
	require.NoError(t, err)
	assert.Equal(t, 3.25, s)
}

func TestHTTPCrossEncoder_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPCrossEncoder(srv.URL).Score(context.Background(), "q", "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model loading")
}

type batchScorer struct {
	mapScorer
	batches int
}

func (b *batchScorer) ScoreAll(ctx context.Context, query string, texts []string) ([]float64, error) {
	b.batches++
	out := make([]float64, len(texts))
	for i, txt := range texts {
		s, err := b.Score(ctx, query, txt)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func TestSearch_BatchScorerIsCalledOnce(t *testing.T) {
	idx := &fakeIndex{candidates: []Candidate{{Text: "A"}, {Text: "B"}, {Text: "C"}}}
	bs := &batchScorer{mapScorer: mapScorer{"A": 0.9, "B": 0.9, "C": 4}}
	r := NewRetriever(idx, bs, 0, 5, nil)

	g, err := r.Search(context.Background(), "q", nil, 0)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "C", g.Text)
	assert.Equal(t, 1, bs.batches)
}

func TestHTTPCrossEncoder_ScoreAllOneRoundTrip(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req rerankReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b", "c"}, req.Texts)
		// sorted by score, as the server answers
		_ = json.NewEncoder(w).Encode([]rerankResp{{Index: 2, Score: 5}, {Index: 0, Score: 1}, {Index: 1, Score: -2}})
	}))
	defer srv.Close()

	scores, err := NewHTTPCrossEncoder(srv.URL).ScoreAll(context.Background(), "q", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -2, 5}, scores)
	assert.Equal(t, 1, calls)
}

func TestHTTPCrossEncoder_ScoreAllRejectsBadIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]rerankResp{{Index: 0, Score: 1}, {Index: 0, Score: 2}})
	}))
	defer srv.Close()

	_, err := NewHTTPCrossEncoder(srv.URL).ScoreAll(context.Background(), "q", []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad result index")
}
