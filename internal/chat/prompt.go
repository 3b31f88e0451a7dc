package chat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suPer8Hu/sensei/internal/retrieval"
)

type Tone int

const (
	ToneNeutral Tone = iota
	ToneScold
	ToneDemandStops
	ToneEncourage
)

func (t Tone) String() string {
	switch t {
	case ToneScold:
		return "scold"
	case ToneDemandStops:
		return "demand_stops"
	case ToneEncourage:
		return "encourage"
	default:
		return "neutral"
	}
}

// SelectTone picks exactly one coaching directive, in priority order.
func SelectTone(m TradeMetrics) Tone {
	switch {
	case m.WinRate != nil && m.AvgPnL != nil && *m.WinRate > 60 && *m.AvgPnL < 0:
		return ToneScold
	case m.RiskDefinitionRate != nil && *m.RiskDefinitionRate < 50:
		return ToneDemandStops
	case m.WinRate != nil && *m.WinRate < 40:
		return ToneEncourage
	default:
		return ToneNeutral
	}
}

var toneDirectives = map[Tone]string{
	ToneScold: `SCOLD them! Their win rate is high but their average trade loses money. ` +
		`Tell them they are "picking up pennies in front of a steamroller" (taking small wins, big losses).`,
	ToneDemandStops: `IGNORE their question and tell them to start using Stop Losses immediately. ` +
		`They rarely define their risk.`,
	ToneEncourage: `Be encouraging. Tell them to focus on "Market Structure" and not to give up.`,
	ToneNeutral:   `Coach them steadily: answer the question and tie it back to their current lesson.`,
}

// BuildSystemPrompt renders the chat system instruction for a user state.
// It is deterministic in its input.
func BuildSystemPrompt(state UserState) string {
	m := state.Metrics
	current := state.CurrentChapter
	if current == "" {
		current = "Unknown"
	}

	var b strings.Builder
	b.WriteString(`You are "The Sensei", a wise, slightly strict, but caring trading mentor.` + "\n\n")
	b.WriteString("=== STUDENT PROFILE ===\n")
	fmt.Fprintf(&b, "- Current Lesson:    %s\n", current)
	fmt.Fprintf(&b, "- Win Rate:          %s%%\n", num(m.WinRate))
	fmt.Fprintf(&b, "- Total PnL:         $%s\n", num(m.TotalPnL))
	fmt.Fprintf(&b, "- Avg PnL/Trade:     $%s\n", num(m.AvgPnL))
	fmt.Fprintf(&b, "- Total Trades:      %d\n", m.TradeCount)
	fmt.Fprintf(&b, "- Risk Discipline:   %s%% (How often they use Stop Losses)\n", num(m.RiskDefinitionRate))
	fmt.Fprintf(&b, "- Completed Modules: [%s]\n\n", listOrNone(state.FinishedChapters))
	b.WriteString("=== INSTRUCTIONS ===\n")
	b.WriteString("1. Source of Truth: Answer using ONLY the provided REFERENCE CONTEXT.\n")
	b.WriteString("2. Contextual Coaching: " + toneDirectives[SelectTone(m)] + "\n")
	b.WriteString(`3. Tone: Concise (under 150 words), authoritative, using trading metaphors (e.g., "Market is a battlefield," "Price is truth").`)
	return b.String()
}

const refusalPrompt = `You are "The Sensei". The student has asked a question that is OUTSIDE the "Scrolls of Knowledge" (your database).

TASK:
Refuse to answer. You must be HUMOROUS, STERN, and use TRADING METAPHORS.

Examples of style:
- "Focus! That question is like buying the top of a meme coin - foolish."
- "We are here to study charts, not the weather. Your focus is drifting like a loose stop-loss."

Do NOT answer the question. Just scold them wittily.`

func refusalInput(query string) string {
	return fmt.Sprintf("The student asked this off-topic question: '%s'. Reject it.", query)
}

// groundedInput is both what the model sees and what memory stores.
func groundedInput(g *retrieval.Grounding, query string) string {
	return "REFERENCE CONTEXT:\n" + g.Text + "\n\nUSER QUESTION:\n" + query
}

func tradeEntryPrompt(asset, side string, g *retrieval.Grounding) string {
	return fmt.Sprintf(`You are "The Sensei". The student is about to enter a %s position on %s.

REFERENCE INTEL:
%s

TASK:
Give a 1-sentence warning or tip.
Speak as a strict mentor watching their student step onto the battlefield.
Focus on what typically goes wrong with this specific asset or setup.`,
		strings.ToUpper(side), asset, groundingOr(g, "General Market Wisdom"))
}

func briefingPrompt(m TradeMetrics, g *retrieval.Grounding, event string) string {
	return fmt.Sprintf(`You are "The Sensei".

TASK: Write a 2-sentence 'Daily Briefing' for the student's dashboard.

INPUT CONTEXT:
1. Recent Event: %s
2. Reference Knowledge: %s
3. Student Stats: WinRate %s%%, PnL $%s

GUIDELINES:
- Be insightful, authoritative, and concise.
- Connect their recent action (Event) to the educational concept (Reference).
- If they just lost money, be encouraging but firm about the lesson.
- If they just finished a module, congratulate them and link it to their stats.`,
		event, groundingOr(g, "General Wisdom"), num(m.WinRate), num(m.TotalPnL))
}

func conceptPrompt(chapter string, g *retrieval.Grounding) string {
	return fmt.Sprintf(`You are "The Sensei".
The student is reading Chapter: "%s" and is confused by a specific concept.

TASK: Explain the HIGHLIGHTED TEXT clearly but with wisdom.

REFERENCE CONTEXT:
%s

GUIDELINES:
1. Definition: Define the concept simply.
2. Example: Give a 1-sentence trading example.
3. Keep it under 100 words.
4. Be helpful, but maintain the persona of a wise mentor.`,
		chapter, groundingOr(g, "General Knowledge"))
}

func recommendPrompt(curriculum []string) string {
	return fmt.Sprintf(`You are "The Sensei". You must assign the student's next lesson based on their recent performance.

AVAILABLE SCROLLS (MODULES):
[%s]

TASK:
Based on the student's recent trade, pick ONE module they must study next.

RULES:
1. Return ONLY a JSON object: {"module": "Exact Module Name", "reason": "Strict, personalized explanation"}
2. The "reason" MUST reference the specific ASSET and the MISTAKE.
- Bad Example: "You need to study risk."
- Good Example: "You longed XAUUSD without a shield (Stop Loss) and paid the price. Review risk protocols immediately."
3. If the trade was a LOSS, pick a module related to the mistake.
4. The "module" value MUST match one of the Available Scrolls exactly.`, strings.Join(curriculum, ", "))
}

func recommendInput(t TradeAnalysis) string {
	return fmt.Sprintf(`Asset Traded: %s
Position: %s
Trade Outcome: %s
PnL: $%s
Risk Defined (Stop Loss): %t`, t.Asset, t.Side, t.Outcome, strconv.FormatFloat(t.PnL, 'f', -1, 64), t.RiskDefined)
}

func groundingOr(g *retrieval.Grounding, fallback string) string {
	if g == nil || strings.TrimSpace(g.Text) == "" {
		return fallback
	}
	return g.Text
}

func num(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func listOrNone(xs []string) string {
	if len(xs) == 0 {
		return "None"
	}
	return strings.Join(xs, ", ")
}
