package tagging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/suPer8Hu/sensei/internal/ai"
)

type Generator interface {
	Generate(ctx context.Context, req ai.Request) (string, error)
}

// Router maps a free-form query onto glossary tags with one
// zero-temperature generation call.
type Router struct {
	gen     Generator
	tags    []string
	allowed map[string]string
	log     *zap.Logger
}

func NewRouter(gen Generator, glossary []string, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{gen: gen, allowed: make(map[string]string, len(glossary)), log: log}
	for _, t := range glossary {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, dup := r.allowed[key]; dup {
			continue
		}
		r.allowed[key] = t
		r.tags = append(r.tags, t)
	}
	return r
}

// Tags returns the glossary tags relevant to query, or nil when the glossary
// is empty, the query is unrelated, or the call fails.
func (r *Router) Tags(ctx context.Context, query string) []string {
	if len(r.tags) == 0 {
		return nil
	}

	system := "You are a strict query classifier. " +
		"Your job is to map the USER QUERY to the most relevant tags from the GLOSSARY list.\n" +
		"GLOSSARY: " + strings.Join(r.tags, ", ") + "\n\n" +
		"RULES:\n" +
		"1. Return ONLY a JSON list of strings (e.g. [\"tag1\", \"tag2\"]).\n" +
		"2. Use ONLY tags from the glossary.\n" +
		"3. If unrelated, return []."

	out, err := r.gen.Generate(ctx, ai.Request{
		System:      system,
		Input:       "USER QUERY: " + query,
		Temperature: 0,
	})
	if err != nil {
		r.log.Warn("tag router failed", zap.Error(err))
		return nil
	}

	var raw []string
	if err := json.Unmarshal([]byte(StripFences(out)), &raw); err != nil {
		r.log.Warn("tag router returned malformed output", zap.String("raw", out), zap.Error(err))
		return nil
	}

	var tags []string
	seen := map[string]bool{}
	for _, t := range raw {
		canon, ok := r.allowed[strings.ToLower(strings.TrimSpace(t))]
		if !ok || seen[canon] {
			continue
		}
		seen[canon] = true
		tags = append(tags, canon)
	}
	return tags
}

// StripFences removes markdown code fences models like to wrap JSON in.
func StripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// LoadGlossary reads a YAML (or JSON) mapping of term -> definition and
// returns its terms in sorted order.
func LoadGlossary(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var terms map[string]any
	if err := yaml.Unmarshal(b, &terms); err != nil {
		return nil, fmt.Errorf("parse glossary %s: %w", path, err)
	}
	out := make([]string, 0, len(terms))
	for k := range terms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
