package knowledge

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/sensei/internal/retrieval"
)

// Index is a gorm-backed similarity index. Chunks are filtered by tag in SQL
// and ranked by cosine similarity in process.
type Index struct {
	db       *gorm.DB
	embedder Embedder
	log      *zap.Logger
}

var _ retrieval.Index = (*Index)(nil)

func NewIndex(db *gorm.DB, embedder Embedder, log *zap.Logger) *Index {
	if log == nil {
		log = zap.NewNop()
	}
	return &Index{db: db, embedder: embedder, log: log}
}

// Models lists the tables the index owns.
func Models() []any { return []any{&Chunk{}, &ChunkTag{}} }

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// Ingest embeds docs in batch and stores them with their tags in one transaction.
func (x *Index) Ingest(ctx context.Context, docs []Document) (int, error) {
	texts := make([]string, 0, len(docs))
	kept := make([]Document, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		texts = append(texts, d.Text)
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return 0, nil
	}

	vectors, err := x.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(kept) {
		return 0, fmt.Errorf("embed documents: got %d vectors for %d docs", len(vectors), len(kept))
	}

	err = x.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, d := range kept {
			meta, err := json.Marshal(d.Metadata)
			if err != nil {
				return err
			}
			chunk := &Chunk{
				SourceID:  d.Source,
				Text:      d.Text,
				Embedding: encodeVector(vectors[i]),
				Metadata:  string(meta),
			}
			if err := tx.Create(chunk).Error; err != nil {
				return err
			}
			for _, tag := range normalizeTags(d.Tags) {
				if err := tx.Create(&ChunkTag{ChunkID: chunk.ID, Tag: tag}).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}

	x.log.Info("knowledge ingested", zap.Int("chunks", len(kept)))
	return len(kept), nil
}

// Query returns up to topK chunks by descending cosine similarity. One tag
// matches exactly, several tags match any.
func (x *Index) Query(ctx context.Context, text string, tags []string, topK int) ([]retrieval.Candidate, error) {
	if topK <= 0 {
		topK = 5
	}

	qvec, err := x.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	q := x.db.WithContext(ctx).Model(&Chunk{})
	switch tags = normalizeTags(tags); len(tags) {
	case 0:
	case 1:
		q = q.Where("id IN (?)", x.db.Model(&ChunkTag{}).Select("chunk_id").Where("tag = ?", tags[0]))
	default:
		q = q.Where("id IN (?)", x.db.Model(&ChunkTag{}).Select("chunk_id").Where("tag IN ?", tags))
	}

	var chunks []Chunk
	if err := q.Order("id ASC").Find(&chunks).Error; err != nil {
		return nil, err
	}

	type hit struct {
		chunk Chunk
		sim   float64
	}
	hits := make([]hit, 0, len(chunks))
	for _, c := range chunks {
		vec, err := decodeVector(c.Embedding)
		if err != nil {
			x.log.Warn("skipping chunk with bad embedding", zap.Uint64("chunk_id", c.ID), zap.Error(err))
			continue
		}
		hits = append(hits, hit{chunk: c, sim: cosine(qvec, vec)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })
	if len(hits) > topK {
		hits = hits[:topK]
	}

	ids := make([]uint64, len(hits))
	for i, h := range hits {
		ids[i] = h.chunk.ID
	}
	tagsByChunk, err := x.tagsFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]retrieval.Candidate, 0, len(hits))
	for _, h := range hits {
		meta := map[string]string{}
		if h.chunk.Metadata != "" {
			_ = json.Unmarshal([]byte(h.chunk.Metadata), &meta)
		}
		out = append(out, retrieval.Candidate{
			Text:       h.chunk.Text,
			Metadata:   meta,
			Tags:       tagsByChunk[h.chunk.ID],
			SourceID:   h.chunk.SourceID,
			Similarity: h.sim,
		})
	}
	return out, nil
}

// Tags returns the distinct tag vocabulary of the index.
func (x *Index) Tags(ctx context.Context) ([]string, error) {
	var tags []string
	err := x.db.WithContext(ctx).Model(&ChunkTag{}).Distinct("tag").Order("tag ASC").Pluck("tag", &tags).Error
	return tags, err
}

func (x *Index) tagsFor(ctx context.Context, ids []uint64) (map[uint64][]string, error) {
	out := make(map[uint64][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []ChunkTag
	if err := x.db.WithContext(ctx).Where("chunk_id IN ?", ids).Order("tag ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ChunkID] = append(out[r.ChunkID], r.Tag)
	}
	return out, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("embedding length is not a multiple of 4")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
