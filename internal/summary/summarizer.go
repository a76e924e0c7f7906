// Package summary produces the structured ticket summary shown on the dashboard.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"nixo.app/triage/common/llm"
	"nixo.app/triage/common/logger"
	"nixo.app/triage/internal/model"
)

const (
	maxConversationMessages = 50
	maxMessageChars         = 1000
)

type summaryResponse struct {
	Description      string   `json:"description" jsonschema_description:"Two to four sentences describing the problem or request and its impact"`
	ActionItems      []string `json:"action_items" jsonschema_description:"Concrete next steps for the team, most important first"`
	TechnicalDetails string   `json:"technical_details" jsonschema_description:"Error codes, endpoints, platforms or steps to reproduce. Empty string if none"`
	PriorityHint     string   `json:"priority_hint" jsonschema:"enum=low,enum=medium,enum=high,enum=critical" jsonschema_description:"Suggested priority"`
}

var summarySchema = llm.GenerateSchema[summaryResponse]()

type Summarizer struct {
	llm llm.Client
}

func New(client llm.Client) *Summarizer {
	return &Summarizer{llm: client}
}

// ConversationInput is everything known about a ticket when its summary is refreshed.
type ConversationInput struct {
	Title           string
	Category        model.Category
	Messages        []model.Message // oldest first
	Assignees       []string
	Reporter        string
	CurrentPriority model.Priority
}

// SummarizeNew summarizes the message that opens a ticket. It never fails; provider
// errors produce a Fallback summary.
func (s *Summarizer) SummarizeNew(ctx context.Context, text string, cls model.Classification, reporter string, assignees []string) model.TicketSummary {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "triage.summary"})

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\nCategory: %s\nReporter: %s\n", cls.ShortTitle, cls.Category, orUnknown(reporter))
	if len(assignees) > 0 {
		fmt.Fprintf(&b, "Assignees: %s\n", strings.Join(assignees, ", "))
	}
	if len(cls.Signals) > 0 {
		fmt.Fprintf(&b, "Signals: %s\n", strings.Join(cls.Signals, ", "))
	}
	fmt.Fprintf(&b, "\nMessage:\n%s\n", clip(text, maxMessageChars))

	floor := UrgencyFloor(text)
	summary, ok := s.generate(ctx, b.String())
	if !ok {
		return Fallback(cls.ShortTitle, cls.Category, floor)
	}
	summary.Priority = model.MaxPriority(summary.Priority, floor)
	return summary
}

// SummarizeConversation re-summarizes a ticket from its whole thread. The resulting
// priority is never lower than the current one or than any urgency cue in the thread.
func (s *Summarizer) SummarizeConversation(ctx context.Context, in ConversationInput) model.TicketSummary {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "triage.summary"})

	messages := in.Messages
	if len(messages) > maxConversationMessages {
		messages = messages[len(messages)-maxConversationMessages:]
	}

	texts := make([]string, 0, len(in.Messages))
	for _, m := range in.Messages {
		texts = append(texts, m.Text)
	}
	floor := UrgencyFloor(texts...)
	if in.CurrentPriority.Rank() > floor.Rank() {
		floor = in.CurrentPriority
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\nCategory: %s\nReporter: %s\n", in.Title, in.Category, orUnknown(in.Reporter))
	if len(in.Assignees) > 0 {
		fmt.Fprintf(&b, "Assignees: %s\n", strings.Join(in.Assignees, ", "))
	}
	if in.CurrentPriority.Valid() {
		fmt.Fprintf(&b, "Current priority: %s\n", in.CurrentPriority)
	}
	b.WriteString("\nConversation (oldest first):\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Author(), clip(m.Text, maxMessageChars))
	}

	summary, ok := s.generate(ctx, b.String())
	if !ok {
		return Fallback(in.Title, in.Category, floor)
	}
	summary.Priority = model.MaxPriority(summary.Priority, floor)
	return summary
}

func (s *Summarizer) generate(ctx context.Context, prompt string) (model.TicketSummary, bool) {
	var resp summaryResponse
	_, err := s.llm.Chat(ctx, llm.Request{
		SystemPrompt: summarySystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "ticket_summary",
		Schema:       summarySchema,
		MaxTokens:    800,
		Temperature:  llm.Temp(0.2),
	}, &resp)
	if err != nil {
		slog.WarnContext(ctx, "summary generation failed, using fallback",
			"error", err,
			"transient", llm.IsTransient(err))
		return model.TicketSummary{}, false
	}

	description := strings.TrimSpace(resp.Description)
	if description == "" {
		slog.WarnContext(ctx, "summary rejected: empty description, using fallback")
		return model.TicketSummary{}, false
	}

	summary := model.TicketSummary{
		Description: description,
		ActionItems: make([]string, 0, len(resp.ActionItems)),
		Priority:    model.Priority(strings.ToLower(strings.TrimSpace(resp.PriorityHint))),
	}
	for _, item := range resp.ActionItems {
		if item = strings.TrimSpace(item); item != "" {
			summary.ActionItems = append(summary.ActionItems, item)
		}
	}
	if details := strings.TrimSpace(resp.TechnicalDetails); details != "" {
		summary.TechnicalDetails = &details
	}
	return summary, true
}

// Fallback builds a summary from the title and category alone. floor may be empty.
func Fallback(title string, category model.Category, floor model.Priority) model.TicketSummary {
	return model.TicketSummary{
		Description: fmt.Sprintf("%s: %s", categoryLabel(category), title),
		ActionItems: []string{genericActionItem(category)},
		Priority:    model.MaxPriority(floor),
		Fallback:    true,
	}
}

// MergeAssignees returns the union of the ticket's assignees and any inferred ones,
// keeping first-seen order.
func MergeAssignees(existing, inferred []string) []string {
	out := make([]string, 0, len(existing)+len(inferred))
	seen := make(map[string]struct{}, len(existing)+len(inferred))
	for _, list := range [][]string{existing, inferred} {
		for _, a := range list {
			a = strings.TrimSpace(a)
			if a == "" {
				continue
			}
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

func categoryLabel(c model.Category) string {
	switch c {
	case model.CategoryBugReport:
		return "Bug report"
	case model.CategoryFeatureRequest:
		return "Feature request"
	case model.CategoryProductQuestion:
		return "Product question"
	default:
		return "Support question"
	}
}

func genericActionItem(c model.Category) string {
	switch c {
	case model.CategoryBugReport:
		return "Reproduce the issue and identify the root cause"
	case model.CategoryFeatureRequest:
		return "Review the request with the product team"
	default:
		return "Follow up with the reporter"
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

const summarySystemPrompt = `You maintain tickets built from customer chat conversations.

Write a summary an engineer can act on without reading the chat.

## Rules

- description: what is wrong or being asked for, who is affected and since when if stated. No greetings, no speculation.
- action_items: 1-4 concrete next steps. Do not invent facts that are not in the conversation.
- technical_details: error codes, endpoints, platforms, versions, reproduction steps. Empty string if none.
- priority_hint: critical for outages, data loss or security; high when users are blocked or explicitly urgent; medium for normal bugs and requests; low for cosmetic issues and nice-to-haves.
- When summarizing a conversation, consider every message. A later calm message does not lower urgency expressed earlier.`
