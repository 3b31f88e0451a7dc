package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPCrossEncoder scores pairs against a text-embeddings-inference style
// /rerank endpoint serving a cross-encoder such as ms-marco-MiniLM-L-6-v2.
// RawScores asks for logits so the threshold lines up with the model output.
type HTTPCrossEncoder struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPCrossEncoder(baseURL string) *HTTPCrossEncoder {
	return &HTTPCrossEncoder{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type rerankReq struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

type rerankResp struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (e *HTTPCrossEncoder) Score(ctx context.Context, query, text string) (float64, error) {
	scores, err := e.ScoreAll(ctx, query, []string{text})
	if err != nil {
		return 0, err
	}
	return scores[0], nil
}

// ScoreAll scores every text against query in one /rerank call. The result is
// in input order; the server answers sorted by score with an index per text.
func (e *HTTPCrossEncoder) ScoreAll(ctx context.Context, query string, texts []string) ([]float64, error) {
	if e.Client == nil {
		return nil, errors.New("crossencoder: http client is nil")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	b, err := json.Marshal(rerankReq{Query: query, Texts: texts, RawScores: true})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/rerank", e.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("crossencoder: %s", msg)
	}

	var decoded []rerankResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if len(decoded) != len(texts) {
		return nil, fmt.Errorf("crossencoder: got %d scores for %d texts", len(decoded), len(texts))
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, d := range decoded {
		if d.Index < 0 || d.Index >= len(texts) || seen[d.Index] {
			return nil, fmt.Errorf("crossencoder: bad result index %d", d.Index)
		}
		seen[d.Index] = true
		scores[d.Index] = d.Score
	}
	return scores, nil
}
