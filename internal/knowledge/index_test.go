package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// keywordEmbedder maps text onto a fixed vocabulary so similarity is predictable.
type keywordEmbedder struct{ vocab []string }

func (e keywordEmbedder) vec(text string) []float32 {
	text = strings.ToLower(text)
	v := make([]float32, len(e.vocab))
	for i, w := range e.vocab {
		v[i] = float32(strings.Count(text, w))
	}
	return v
}

func (e keywordEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.vec(text), nil
}

func (e keywordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seededIndex(t *testing.T) *Index {
	t.Helper()
	idx := NewIndex(openTestDB(t), keywordEmbedder{vocab: []string{"stop", "loss", "gold", "trend", "volume"}}, nil)
	n, err := idx.Ingest(context.Background(), []Document{
		{Source: "stops", Text: "A stop loss is a stop order that caps loss.", Tags: []string{"Risk Management", "stop loss"}},
		{Source: "gold", Text: "Gold trends hard; respect the trend.", Tags: []string{"instruments"}},
		{Source: "volume", Text: "Volume confirms the trend.", Tags: []string{"indicators"}},
		{Source: "empty", Text: "   "},
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	return idx
}

func TestQuery_RanksBySimilarity(t *testing.T) {
	idx := seededIndex(t)

	got, err := idx.Query(context.Background(), "where do I put my stop loss", nil, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "stops", got[0].SourceID)
	assert.Equal(t, []string{"risk management", "stop loss"}, got[0].Tags)
	assert.GreaterOrEqual(t, got[0].Similarity, got[1].Similarity)
}

func TestQuery_SingleTagIsExact(t *testing.T) {
	idx := seededIndex(t)

	got, err := idx.Query(context.Background(), "trend", []string{"indicators"}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "volume", got[0].SourceID)
}

func TestQuery_MultipleTagsMatchAny(t *testing.T) {
	idx := seededIndex(t)

	got, err := idx.Query(context.Background(), "trend", []string{"indicators", "instruments"}, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)

	sources := []string{got[0].SourceID, got[1].SourceID}
	assert.ElementsMatch(t, []string{"gold", "volume"}, sources)
}

func TestQuery_UnknownTagReturnsNothing(t *testing.T) {
	idx := seededIndex(t)

	got, err := idx.Query(context.Background(), "weather", []string{"meteorology"}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTags(t *testing.T) {
	idx := seededIndex(t)

	tags, err := idx.Tags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"indicators", "instruments", "risk management", "stop loss"}, tags)
}

func TestVectorRoundTripAndCosine(t *testing.T) {
	v := []float32{1, -2.5, 0, 3}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	assert.InDelta(t, 1.0, cosine(v, v), 1e-9)
	assert.Equal(t, 0.0, cosine(v, []float32{1}))

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestLoadCorpus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`documents:
  - source: stops
    text: "Always define your risk."
    tags: [risk management]
    metadata:
      chapter: Stop losses
`), 0o644))

	docs, err := LoadCorpus(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "stops", docs[0].Source)
	assert.Equal(t, []string{"risk management"}, docs[0].Tags)
	assert.Equal(t, "Stop losses", docs[0].Metadata["chapter"])
}
