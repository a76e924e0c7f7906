package grouping

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"nixo.app/triage/common/llm"
	"nixo.app/triage/internal/model"
)

// ArbitrationInput describes a borderline recent-channel pair.
type ArbitrationInput struct {
	Ticket         model.Ticket
	RecentMessages []model.Message // oldest first
	Message        model.IncomingMessage
	Classification model.Classification
	Score          model.MatchScoreBreakdown
}

type Verdict struct {
	ShouldMerge bool    `json:"should_merge" jsonschema_description:"True if the new message is about the same underlying issue as the ticket"`
	Confidence  float64 `json:"confidence" jsonschema_description:"Confidence in the decision, 0.0-1.0"`
	Reason      string  `json:"reason" jsonschema_description:"One sentence explaining the decision"`
}

// Arbiter decides borderline merges. Errors mean "no decision".
type Arbiter interface {
	Arbitrate(ctx context.Context, in ArbitrationInput) (Verdict, error)
}

var verdictSchema = llm.GenerateSchema[Verdict]()

type LLMArbiter struct {
	llm llm.Client
}

func NewArbiter(client llm.Client) *LLMArbiter {
	return &LLMArbiter{llm: client}
}

func (a *LLMArbiter) Arbitrate(ctx context.Context, in ArbitrationInput) (Verdict, error) {
	var v Verdict
	_, err := a.llm.Chat(ctx, llm.Request{
		SystemPrompt: arbiterSystemPrompt,
		UserPrompt:   buildArbitrationPrompt(in),
		SchemaName:   "merge_verdict",
		Schema:       verdictSchema,
		MaxTokens:    300,
		Temperature:  llm.Temp(0),
	}, &v)
	if err != nil {
		return Verdict{}, fmt.Errorf("arbitration: %w", err)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return Verdict{}, fmt.Errorf("arbitration: confidence %v out of range", v.Confidence)
	}
	return v, nil
}

func buildArbitrationPrompt(in ArbitrationInput) string {
	var b strings.Builder

	b.WriteString("## Candidate ticket\n")
	fmt.Fprintf(&b, "Title: %s\nCategory: %s\n", in.Ticket.Title, in.Ticket.Category)
	if in.Ticket.Summary.Description != "" {
		fmt.Fprintf(&b, "Summary: %s\n", in.Ticket.Summary.Description)
	}
	b.WriteString("Latest messages:\n")
	for _, m := range in.RecentMessages {
		fmt.Fprintf(&b, "- [%s] %s\n", m.Author(), clipRunes(m.Text, 500))
	}

	b.WriteString("\n## New message\n")
	fmt.Fprintf(&b, "Text: %s\n", clipRunes(in.Message.Text, 1000))
	fmt.Fprintf(&b, "Category: %s\nTitle: %s\n", in.Classification.Category, in.Classification.ShortTitle)
	if len(in.Classification.Signals) > 0 {
		fmt.Fprintf(&b, "Signals: %s\n", strings.Join(in.Classification.Signals, ", "))
	}

	score, _ := json.Marshal(in.Score)
	fmt.Fprintf(&b, "\n## Heuristic score\n%s\n", score)

	return b.String()
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

const arbiterSystemPrompt = `You decide whether a new chat message belongs to an existing support ticket.

Both were posted in the same channel within a few minutes, and a heuristic score was inconclusive.

Merge when the message continues the same problem or request: a follow-up, more detail, a "same here", a screenshot description, a workaround question about the same issue.
Do not merge when the message raises a different problem, even in the same feature area, or when it only shares generic words.

Be conservative: a wrong merge hides an issue, a missed merge only creates a duplicate.`
