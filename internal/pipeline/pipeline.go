// Package pipeline runs one incoming chat message through normalization, filtering,
// classification and grouping, and announces the resulting ticket change.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nixo.app/triage/common/logger"
	"nixo.app/triage/internal/filter"
	"nixo.app/triage/internal/grouping"
	"nixo.app/triage/internal/model"
	"nixo.app/triage/internal/normalize"
	"nixo.app/triage/internal/notify"
	"nixo.app/triage/internal/sequencer"
)

type Outcome string

const (
	OutcomeFiltered   Outcome = "filtered"   // chatter, never classified
	OutcomeIrrelevant Outcome = "irrelevant" // top-level message the classifier rejected
	OutcomeGrouped    Outcome = "grouped"
	OutcomeDropped    Outcome = "dropped" // context-only message that matched no ticket
)

type Classifier interface {
	Classify(ctx context.Context, rawText, normalizedText string) model.Classification
}

type Grouper interface {
	Group(ctx context.Context, in grouping.Input) (grouping.Decision, error)
}

type Sequencer interface {
	Do(ctx context.Context, name string, fn sequencer.Unit) error
}

type Result struct {
	Outcome        Outcome
	Classification model.Classification
	Decision       grouping.Decision
}

type Deps struct {
	Classifier Classifier
	Grouper    Grouper
	Sequencer  Sequencer
	Notifier   notify.Notifier
	Now        func() time.Time
}

type Pipeline struct {
	classifier Classifier
	grouper    Grouper
	seq        Sequencer
	notifier   notify.Notifier
	now        func() time.Time
}

func New(deps Deps) *Pipeline {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		classifier: deps.Classifier,
		grouper:    deps.Grouper,
		seq:        deps.Sequencer,
		notifier:   deps.Notifier,
		now:        now,
	}
}

// Process handles one message. Classification and notification failures are absorbed;
// a grouping failure is returned together with whatever decision was reached.
func (p *Pipeline) Process(ctx context.Context, msg model.IncomingMessage) (Result, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ChannelID:     logger.Ptr(msg.ChannelID),
		MessageTS:     logger.Ptr(msg.TS),
		SourceEventID: msg.SourceEventID,
		WorkspaceID:   msg.WorkspaceID,
		Component:     "triage.pipeline",
	})

	normalized := normalize.Normalize(msg.Text)
	if !filter.ShouldProcess(normalized.Text) {
		slog.DebugContext(ctx, "message filtered as chatter")
		return Result{Outcome: OutcomeFiltered}, nil
	}

	cls := p.classifier.Classify(ctx, msg.Text, normalized.Text)
	res := Result{Classification: cls}

	contextOnly := msg.ContextOnly
	if !cls.IsRelevant {
		if !msg.IsThreadReply() {
			slog.InfoContext(ctx, "irrelevant top-level message dropped", "category", cls.Category)
			res.Outcome = OutcomeIrrelevant
			return res, nil
		}
		// Replies add context to an existing ticket even when they say little on their own.
		contextOnly = true
	}

	in := grouping.Input{
		Message:        msg,
		Classification: cls,
		Normalized:     normalized,
		ContextOnly:    contextOnly,
	}

	var decision grouping.Decision
	err := p.seq.Do(ctx, "group_message", func(ctx context.Context) error {
		var gerr error
		decision, gerr = p.grouper.Group(ctx, in)
		return gerr
	})
	res.Decision = decision

	if decision.Matched() {
		res.Outcome = OutcomeGrouped
		// The unit may have outlived the caller's context; the change still gets announced.
		p.notify(context.WithoutCancel(ctx), decision)
	} else if err == nil {
		res.Outcome = OutcomeDropped
	}

	if err != nil {
		return res, fmt.Errorf("grouping message: %w", err)
	}

	slog.InfoContext(ctx, "message processed",
		"outcome", res.Outcome,
		"ticket_id", decision.TicketID,
		"step", decision.Step,
		"created", decision.Created,
		"category", cls.Category)
	return res, nil
}

func (p *Pipeline) notify(ctx context.Context, d grouping.Decision) {
	if p.notifier == nil {
		return
	}
	err := p.notifier.Notify(ctx, notify.Event{
		TicketID: d.TicketID,
		Step:     string(d.Step),
		Created:  d.Created,
		At:       p.now().UTC(),
	})
	if err != nil {
		slog.WarnContext(ctx, "ticket notification failed", "ticket_id", d.TicketID, "error", err)
	}
}
