// Package classify asks the language model whether a chat message is a product signal
// worth tracking and, if so, what kind.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"nixo.app/triage/common/llm"
	"nixo.app/triage/common/logger"
	"nixo.app/triage/internal/cache"
	"nixo.app/triage/internal/model"
)

const (
	maxShortTitle      = 100
	fallbackTitleRunes = 50
	maxSignals         = 20
)

type classificationResponse struct {
	IsRelevant        bool     `json:"is_relevant" jsonschema_description:"True if the message reports a problem, asks for help or requests a product change"`
	Category          string   `json:"category" jsonschema:"enum=bug_report,enum=support_question,enum=feature_request,enum=product_question,enum=irrelevant" jsonschema_description:"Kind of message"`
	Confidence        float64  `json:"confidence" jsonschema_description:"Confidence in the category, 0.0-1.0"`
	ShortTitle        string   `json:"short_title" jsonschema_description:"Ticket-style title, at most 100 characters"`
	Signals           []string `json:"signals" jsonschema_description:"Lowercase keywords naming the affected feature, object, error code or platform"`
	InferredAssignees []string `json:"inferred_assignees" jsonschema_description:"People or teams the message explicitly names as owners"`
}

var classificationSchema = llm.GenerateSchema[classificationResponse]()

// Classifier classifies messages through the language model, caching results by
// normalized text. The client is expected to be wrapped with llm.Limit.
type Classifier struct {
	llm   llm.Client
	cache *cache.Cache[model.Classification]
}

// New creates a classifier. A nil cache disables caching.
func New(client llm.Client, c *cache.Cache[model.Classification]) *Classifier {
	return &Classifier{llm: client, cache: c}
}

// Classify never fails: any provider or validation error yields Fallback(rawText).
// Failed calls are not retried and fallbacks are not cached.
func (c *Classifier) Classify(ctx context.Context, rawText, normalizedText string) model.Classification {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "triage.classify"})

	if c.cache != nil {
		if cached, ok := c.cache.Get(normalizedText); ok {
			slog.DebugContext(ctx, "classification cache hit")
			return clone(cached)
		}
	}

	start := time.Now()
	var resp classificationResponse
	llmResp, err := c.llm.Chat(ctx, llm.Request{
		SystemPrompt: classifySystemPrompt,
		UserPrompt:   rawText,
		SchemaName:   "message_classification",
		Schema:       classificationSchema,
		MaxTokens:    400,
		Temperature:  llm.Temp(0),
	}, &resp)
	if err != nil {
		slog.WarnContext(ctx, "classification failed, using fallback",
			"error", err,
			"transient", llm.IsTransient(err),
			"text", logger.Truncate(rawText, 200))
		return Fallback(rawText)
	}

	result, err := resp.toModel()
	if err != nil {
		slog.WarnContext(ctx, "classification rejected, using fallback",
			"error", err,
			"text", logger.Truncate(rawText, 200))
		return Fallback(rawText)
	}

	if c.cache != nil {
		c.cache.Set(normalizedText, clone(result))
	}

	attrs := []any{
		"category", result.Category,
		"relevant", result.IsRelevant,
		"confidence", result.Confidence,
		"latency_ms", time.Since(start).Milliseconds(),
	}
	if llmResp != nil {
		attrs = append(attrs, "prompt_tokens", llmResp.PromptTokens, "completion_tokens", llmResp.CompletionTokens)
	}
	slog.InfoContext(ctx, "message classified", attrs...)

	return result
}

// Fallback is the classification used whenever the model cannot be consulted.
func Fallback(rawText string) model.Classification {
	return model.Classification{
		IsRelevant:        false,
		Category:          model.CategoryIrrelevant,
		Confidence:        0,
		ShortTitle:        truncateRunes(strings.TrimSpace(rawText), fallbackTitleRunes),
		Signals:           []string{},
		InferredAssignees: []string{},
	}
}

func (r classificationResponse) toModel() (model.Classification, error) {
	category := model.Category(strings.TrimSpace(r.Category))
	if !category.Valid() {
		return model.Classification{}, fmt.Errorf("unknown category %q", r.Category)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return model.Classification{}, fmt.Errorf("confidence %v out of range", r.Confidence)
	}
	title := strings.TrimSpace(r.ShortTitle)
	if title == "" {
		return model.Classification{}, fmt.Errorf("empty short_title")
	}

	return model.Classification{
		IsRelevant:        r.IsRelevant,
		Category:          category,
		Confidence:        r.Confidence,
		ShortTitle:        truncateRunes(title, maxShortTitle),
		Signals:           cleanList(r.Signals, true, maxSignals),
		InferredAssignees: cleanList(r.InferredAssignees, false, 0),
	}, nil
}

func cleanList(in []string, lower bool, limit int) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if lower {
			s = strings.ToLower(s)
		}
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func clone(c model.Classification) model.Classification {
	c.Signals = slices.Clone(c.Signals)
	c.InferredAssignees = slices.Clone(c.InferredAssignees)
	return c
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

const classifySystemPrompt = `You triage messages posted in a customer support chat for a software product.

Decide whether the message is a product signal the team should track, and classify it.

## Categories

- bug_report: something is broken, erroring, crashing, slow or behaving unexpectedly
- support_question: the user needs help doing something or is blocked ("how do I…", "I can't find…")
- feature_request: the user asks for new behavior, an option, an integration or a visual change
- product_question: a question about how the product works, pricing, limits or roadmap
- irrelevant: greetings, thanks, chit-chat, scheduling, anything without product content

## Rules

- is_relevant is false only for irrelevant messages.
- short_title reads like a ticket title: "CSV export fails with 500", not "User says export is broken".
- signals are 1-8 lowercase keywords: the feature or object involved, error codes, platforms, endpoints.
- inferred_assignees lists only people or teams the message explicitly asks or names as owner. Usually empty.
- confidence reflects how clearly the message fits the category.`
