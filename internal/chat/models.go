package chat

import "github.com/suPer8Hu/sensei/internal/retrieval"

// TradeMetrics is the caller's trade-performance summary. Nil fields are
// rendered as "N/A".
type TradeMetrics struct {
	WinRate            *float64 `json:"win_rate,omitempty"`
	TotalPnL           *float64 `json:"total_pnl,omitempty"`
	AvgPnL             *float64 `json:"avg_pnl,omitempty"`
	TradeCount         int      `json:"trade_count"`
	RiskDefinitionRate *float64 `json:"risk_definition_rate,omitempty"`
}

type LearningProgress struct {
	CurrentChapter     string   `json:"current_chapter"`
	FinishedChapters   []string `json:"finished_chapters"`
	UnfinishedChapters []string `json:"unfinished_chapters"`
}

// UserState is supplied per request and never stored.
type UserState struct {
	LearningProgress
	Metrics TradeMetrics `json:"trade_metrics"`
}

type ChatResult struct {
	Answer    string               `json:"answer"`
	Sources   []string             `json:"sources"`
	Context   *retrieval.Grounding `json:"context"`
	Refused   bool                 `json:"refused"`
	LatencyMS float64              `json:"latency_ms"`
}

// TradeAnalysis describes the trade a recommendation is based on.
type TradeAnalysis struct {
	Asset       string  `json:"asset"`
	Side        string  `json:"side"`
	Outcome     string  `json:"outcome"`
	PnL         float64 `json:"pnl"`
	RiskDefined bool    `json:"risk_defined"`
}

type Recommendation struct {
	Module string `json:"module"`
	Reason string `json:"reason"`
}

// DefaultRecommendation is returned when the model's answer cannot be decoded.
var DefaultRecommendation = Recommendation{
	Module: "Trading performance and analysis",
	Reason: "Review your discipline.",
}

type EventResult struct {
	Query     string               `json:"query"`
	Grounding *retrieval.Grounding `json:"context"`
	Briefing  string               `json:"briefing"`
}
