// Package grouping decides which ticket an incoming message belongs to.
//
// A message is matched in strict order: thread, canonical key, semantic similarity,
// then a scored recent-channel fallback. If none matches a new ticket is created, unless
// the author may only add context, in which case the message is dropped.
package grouping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"nixo.app/triage/common/id"
	"nixo.app/triage/common/llm"
	"nixo.app/triage/common/logger"
	"nixo.app/triage/common/vector"
	"nixo.app/triage/core/config"
	"nixo.app/triage/internal/model"
	"nixo.app/triage/internal/normalize"
	"nixo.app/triage/internal/store"
	"nixo.app/triage/internal/summary"
)

// promotionConfidence is the classification confidence at which a bug report attached
// to a support question turns the ticket into a bug report.
const promotionConfidence = 0.8

type Step string

const (
	StepThread        Step = "thread"
	StepCanonicalKey  Step = "canonical_key"
	StepSemantic      Step = "semantic"
	StepRecentChannel Step = "recent_channel"
	StepCreated       Step = "created"
	StepDropped       Step = "dropped"
)

// Decision is the outcome of grouping one message. TicketID is zero when the message
// was dropped.
type Decision struct {
	TicketID   int64
	Step       Step
	Created    bool
	Score      *model.MatchScoreBreakdown
	Embeddings int // message embeddings computed during the run
}

func (d Decision) Matched() bool {
	return d.TicketID != 0
}

type Summarizer interface {
	SummarizeNew(ctx context.Context, text string, cls model.Classification, reporter string, assignees []string) model.TicketSummary
	SummarizeConversation(ctx context.Context, in summary.ConversationInput) model.TicketSummary
}

// Input is one message ready for grouping.
type Input struct {
	Message        model.IncomingMessage
	Classification model.Classification
	Normalized     normalize.NormalizedMessage
	// ContextOnly forbids creating a ticket; Message.ContextOnly is honoured as well.
	ContextOnly bool
	// Embedding is an optional precomputed embedding of EmbeddingText.
	Embedding []float32
}

type Deps struct {
	Stores     store.Provider
	Tx         store.TxRunner
	Embedder   llm.Embedder
	Summarizer Summarizer
	Arbiter    Arbiter
	Now        func() time.Time
}

type Grouper struct {
	stores     store.Provider
	tx         store.TxRunner
	embedder   llm.Embedder
	summarizer Summarizer
	arbiter    Arbiter
	cfg        config.GroupingConfig
	now        func() time.Time
}

func New(deps Deps, cfg config.GroupingConfig) *Grouper {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Grouper{
		stores:     deps.Stores,
		tx:         deps.Tx,
		embedder:   deps.Embedder,
		summarizer: deps.Summarizer,
		arbiter:    deps.Arbiter,
		cfg:        cfg,
		now:        now,
	}
}

// EmbeddingText is the text embedded for a message, truncated to limit runes.
func EmbeddingText(msg model.IncomingMessage, cls model.Classification, limit int) string {
	text := fmt.Sprintf("%s: %s\nSignals: %s\nMessage: %s",
		cls.Category, cls.ShortTitle, strings.Join(cls.Signals, ", "), msg.Text)
	if r := []rune(text); limit > 0 && len(r) > limit {
		return string(r[:limit])
	}
	return text
}

// run carries per-message state across the steps.
type run struct {
	in          Input
	key         *string
	embedding   []float32
	embedTried  bool
	embedCalls  int
	contextOnly bool
	now         time.Time
}

// Group assigns the message to a ticket. External-service failures degrade to the
// documented fallbacks; store failures are returned. When the message was attached but
// a later store write failed, the returned Decision still names the ticket.
func (g *Grouper) Group(ctx context.Context, in Input) (Decision, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "triage.grouping"})

	r := &run{
		in:          in,
		key:         normalize.CanonicalKey(in.Normalized.Signals, in.Normalized.Text),
		embedding:   in.Embedding,
		contextOnly: in.ContextOnly || in.Message.ContextOnly,
		now:         g.now(),
	}

	steps := []struct {
		step Step
		fn   func(context.Context, *run) (Decision, bool, error)
	}{
		{StepThread, g.matchThread},
		{StepCanonicalKey, g.matchCanonicalKey},
		{StepSemantic, g.matchSemantic},
		{StepRecentChannel, g.matchRecentChannel},
	}

	for _, s := range steps {
		d, ok, err := s.fn(ctx, r)
		if err != nil {
			return d, fmt.Errorf("%s step: %w", s.step, err)
		}
		if ok {
			d.Embeddings = r.embedCalls
			return d, nil
		}
	}

	if r.contextOnly {
		slog.InfoContext(ctx, "context-only message matched no ticket, dropping")
		return Decision{Step: StepDropped, Embeddings: r.embedCalls}, nil
	}

	d, err := g.create(ctx, r)
	d.Embeddings = r.embedCalls
	return d, err
}

func (g *Grouper) matchThread(ctx context.Context, r *run) (Decision, bool, error) {
	msg := r.in.Message
	ticket, err := g.stores.Tickets().FindOpenByThread(ctx, msg.ChannelID, msg.RootThread())
	if errors.Is(err, store.ErrNotFound) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, err
	}
	d, err := g.attach(ctx, r, ticket, StepThread, nil)
	return d, true, err
}

func (g *Grouper) matchCanonicalKey(ctx context.Context, r *run) (Decision, bool, error) {
	if r.key == nil {
		return Decision{}, false, nil
	}
	ticket, err := g.stores.Tickets().FindOpenByCanonicalKey(ctx, *r.key)
	if errors.Is(err, store.ErrNotFound) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, err
	}
	d, err := g.attach(ctx, r, ticket, StepCanonicalKey, nil)
	return d, true, err
}

func (g *Grouper) matchSemantic(ctx context.Context, r *run) (Decision, bool, error) {
	emb := g.embed(ctx, r)
	if emb == nil {
		return Decision{}, false, nil
	}

	q := store.EmbeddingQuery{
		Vector:      emb,
		Since:       r.now.AddDate(0, 0, -g.cfg.LookbackDays),
		MaxDistance: g.cfg.SemanticThreshold,
	}

	byTicket, err := g.stores.Tickets().FindNearestOpenByEmbedding(ctx, q)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Decision{}, false, err
	}
	byMessage, err := g.stores.Messages().FindNearestOpenTicketByEmbedding(ctx, q)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Decision{}, false, err
	}

	best := closer(byTicket, byMessage)
	if best == nil || best.Distance > g.cfg.SemanticThreshold {
		return Decision{}, false, nil
	}

	ticket, err := g.stores.Tickets().GetByID(ctx, best.TicketID)
	if err != nil {
		return Decision{}, false, fmt.Errorf("loading semantic match %d: %w", best.TicketID, err)
	}

	slog.DebugContext(ctx, "semantic match", "ticket_id", ticket.ID, "distance", best.Distance)
	d, err := g.attach(ctx, r, ticket, StepSemantic, nil)
	return d, true, err
}

func (g *Grouper) matchRecentChannel(ctx context.Context, r *run) (Decision, bool, error) {
	msg := r.in.Message
	cls := r.in.Classification

	ticket, err := g.stores.Tickets().FindMostRecentOpenInChannel(ctx, msg.ChannelID, r.now.Add(-g.cfg.RecentChannelWindow))
	if errors.Is(err, store.ErrNotFound) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, err
	}

	// Tickets created before embeddings existed have nothing to score against.
	if len(ticket.Embedding) == 0 {
		slog.InfoContext(ctx, "recent ticket has no embedding, attaching", "ticket_id", ticket.ID)
		d, err := g.attach(ctx, r, ticket, StepRecentChannel, nil)
		return d, true, err
	}

	emb := g.embed(ctx, r)
	if emb == nil {
		return Decision{}, false, nil
	}
	distance, ok := vector.CosineDistance(emb, ticket.Embedding)
	if !ok {
		slog.WarnContext(ctx, "embedding dimensions differ, skipping recent ticket",
			"ticket_id", ticket.ID,
			"ticket_dims", len(ticket.Embedding),
			"message_dims", len(emb))
		return Decision{}, false, nil
	}

	recent, err := g.stores.Messages().ListByTicket(ctx, ticket.ID, max(g.cfg.OverlapMessages, g.cfg.ArbitrationMessages))
	if err != nil {
		return Decision{}, false, fmt.Errorf("listing recent messages: %w", err)
	}

	var ticketSignals []string
	for _, m := range lastN(recent, g.cfg.OverlapMessages) {
		ticketSignals = append(ticketSignals, normalize.Normalize(m.Text).Signals...)
	}

	in := ScoreInput{
		Distance:           distance,
		SameCategory:       cls.Category == ticket.Category,
		SameChannel:        true,
		MinutesSinceUpdate: r.now.Sub(ticket.UpdatedAt).Minutes(),
		SignalOverlap:      SignalOverlap(cls.Signals, ticketSignals),
	}

	if Blocked(in, g.cfg) {
		slog.InfoContext(ctx, "guardrail blocked recent-channel merge",
			"ticket_id", ticket.ID,
			"distance", distance,
			"ticket_category", ticket.Category,
			"message_category", cls.Category)
		return Decision{}, false, nil
	}

	score := Score(in, g.cfg)
	attrs := []any{"ticket_id", ticket.ID, "score", score.Total, "distance", distance, "overlap", in.SignalOverlap}

	if score.Total >= g.cfg.ScoreThreshold {
		slog.InfoContext(ctx, "recent-channel score accepted", attrs...)
		d, err := g.attach(ctx, r, ticket, StepRecentChannel, &score)
		return d, true, err
	}

	if !InGrayZone(score.Total, distance, g.cfg) || g.arbiter == nil {
		slog.DebugContext(ctx, "recent-channel score rejected", attrs...)
		return Decision{}, false, nil
	}

	verdict, err := g.arbiter.Arbitrate(ctx, ArbitrationInput{
		Ticket:         *ticket,
		RecentMessages: lastN(recent, g.cfg.ArbitrationMessages),
		Message:        msg,
		Classification: cls,
		Score:          score,
	})
	if err != nil {
		slog.WarnContext(ctx, "arbitration failed, not merging", append(attrs, "error", err)...)
		return Decision{}, false, nil
	}

	attrs = append(attrs, "should_merge", verdict.ShouldMerge, "confidence", verdict.Confidence, "reason", verdict.Reason)
	if !verdict.ShouldMerge || verdict.Confidence < g.cfg.ArbitrationMinConfidence {
		slog.InfoContext(ctx, "arbitration declined merge", attrs...)
		return Decision{}, false, nil
	}

	slog.InfoContext(ctx, "arbitration approved merge", attrs...)
	d, err := g.attach(ctx, r, ticket, StepRecentChannel, &score)
	return d, true, err
}

func (g *Grouper) create(ctx context.Context, r *run) (Decision, error) {
	msg := r.in.Message
	cls := r.in.Classification

	category := cls.Category
	if category == model.CategoryIrrelevant || !category.Valid() {
		category = model.CategorySupportQuestion
	}

	reporter := msg.UserID
	if msg.UserName != nil && *msg.UserName != "" {
		reporter = *msg.UserName
	}
	assignees := summary.MergeAssignees(nil, cls.InferredAssignees)
	sum := g.summarizer.SummarizeNew(ctx, msg.Text, cls, reporter, assignees)

	emb := g.embed(ctx, r)

	title := strings.TrimSpace(cls.ShortTitle)
	if title == "" {
		title = clipRunes(strings.TrimSpace(msg.Text), 100)
	}

	ticket := &model.Ticket{
		ID:               id.New(),
		Title:            title,
		Category:         category,
		Status:           model.TicketStatusOpen,
		CanonicalKey:     r.key,
		Embedding:        emb,
		SummaryEmbedding: g.summaryEmbedding(ctx, sum),
		Assignees:        assignees,
		ReporterID:       &msg.UserID,
		ReporterName:     msg.UserName,
		Summary:          sum,
		CreatedAt:        r.now,
		UpdatedAt:        r.now,
	}

	var created *model.Ticket
	err := g.tx.WithTx(ctx, func(s store.Provider) error {
		t, err := s.Tickets().Create(ctx, ticket)
		if err != nil {
			return fmt.Errorf("creating ticket: %w", err)
		}
		if _, err := s.Messages().Attach(ctx, g.message(r, t.ID)); err != nil {
			return fmt.Errorf("attaching message: %w", err)
		}
		created = t
		return nil
	})

	if errors.Is(err, store.ErrConflict) && r.key != nil {
		existing, ferr := g.stores.Tickets().FindOpenByCanonicalKey(ctx, *r.key)
		if ferr != nil {
			return Decision{}, fmt.Errorf("re-fetching ticket after key conflict: %w", ferr)
		}
		slog.InfoContext(ctx, "canonical key taken by a concurrent creator, attaching",
			"ticket_id", existing.ID,
			"canonical_key", *r.key)
		return g.attach(ctx, r, existing, StepCanonicalKey, nil)
	}
	if err != nil {
		return Decision{}, err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{TicketID: logger.Ptr(created.ID)})
	attrs := []any{
		"category", created.Category,
		"canonical_key", r.key,
		"priority", created.Summary.Priority,
		"has_embedding", len(emb) > 0,
	}
	// Lets operators see which intent opened a ticket when later near-duplicates miss it.
	if intent := normalize.ComputeIntentFingerprint(r.in.Normalized.Text, r.in.Normalized.Signals); intent.Key != nil {
		attrs = append(attrs, "intent_key", *intent.Key)
	}
	slog.InfoContext(ctx, "ticket created", attrs...)

	return Decision{TicketID: created.ID, Step: StepCreated, Created: true}, nil
}

// attach stores the message on ticket, bumps the ticket and refreshes its summary.
func (g *Grouper) attach(ctx context.Context, r *run, ticket *model.Ticket, step Step, score *model.MatchScoreBreakdown) (Decision, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{TicketID: logger.Ptr(ticket.ID)})
	cls := r.in.Classification

	promote := ticket.Category == model.CategorySupportQuestion &&
		cls.IsRelevant &&
		cls.Category == model.CategoryBugReport &&
		cls.Confidence >= promotionConfidence

	err := g.tx.WithTx(ctx, func(s store.Provider) error {
		if _, err := s.Messages().Attach(ctx, g.message(r, ticket.ID)); err != nil {
			return fmt.Errorf("attaching message: %w", err)
		}
		if err := s.Tickets().Touch(ctx, ticket.ID, r.now); err != nil {
			return fmt.Errorf("touching ticket: %w", err)
		}
		if promote {
			if err := s.Tickets().UpdateCategory(ctx, ticket.ID, model.CategoryBugReport); err != nil {
				return fmt.Errorf("promoting ticket category: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Decision{}, err
	}

	ticket.UpdatedAt = r.now
	if promote {
		slog.InfoContext(ctx, "ticket promoted to bug report")
		ticket.Category = model.CategoryBugReport
	}

	slog.InfoContext(ctx, "message attached", "step", step, "context_only", r.contextOnly)

	d := Decision{TicketID: ticket.ID, Step: step, Score: score}
	if err := g.refreshSummary(ctx, ticket, cls); err != nil {
		return d, fmt.Errorf("refreshing summary: %w", err)
	}
	return d, nil
}

func (g *Grouper) refreshSummary(ctx context.Context, ticket *model.Ticket, cls model.Classification) error {
	messages, err := g.stores.Messages().ListByTicket(ctx, ticket.ID, 0)
	if err != nil {
		return err
	}

	reporter := ""
	if ticket.ReporterName != nil {
		reporter = *ticket.ReporterName
	} else if ticket.ReporterID != nil {
		reporter = *ticket.ReporterID
	}

	sum := g.summarizer.SummarizeConversation(ctx, summary.ConversationInput{
		Title:           ticket.Title,
		Category:        ticket.Category,
		Messages:        messages,
		Assignees:       ticket.Assignees,
		Reporter:        reporter,
		CurrentPriority: ticket.Summary.Priority,
	})
	if sum.Fallback && ticket.Summary.Description != "" {
		slog.DebugContext(ctx, "keeping stored summary over fallback")
		sum = ticket.Summary
	}

	var summaryEmbedding []float32
	if sum.Description != ticket.Summary.Description {
		summaryEmbedding = g.summaryEmbedding(ctx, sum)
	}

	assignees := summary.MergeAssignees(ticket.Assignees, cls.InferredAssignees)
	if err := g.stores.Tickets().UpdateSummary(ctx, ticket.ID, sum, assignees, summaryEmbedding); err != nil {
		return err
	}

	ticket.Summary = sum
	ticket.Assignees = assignees
	if summaryEmbedding != nil {
		ticket.SummaryEmbedding = summaryEmbedding
	}
	return nil
}

// embed returns the message embedding, computing it at most once per run when
// ReuseEmbedding is set. A failed call yields nil, which every step treats as "no
// usable signal".
func (g *Grouper) embed(ctx context.Context, r *run) []float32 {
	if g.cfg.ReuseEmbedding && (r.embedding != nil || r.embedTried) {
		return r.embedding
	}
	if g.embedder == nil {
		return r.embedding
	}

	r.embedTried = true
	r.embedCalls++

	text := EmbeddingText(r.in.Message, r.in.Classification, g.cfg.EmbeddingTextLimit)
	emb, err := g.embedder.Embed(ctx, text)
	if err != nil || len(emb) == 0 {
		slog.WarnContext(ctx, "embedding failed, continuing without one", "error", err)
		if !g.cfg.ReuseEmbedding {
			return nil
		}
		return r.embedding
	}
	r.embedding = emb
	return emb
}

func (g *Grouper) summaryEmbedding(ctx context.Context, sum model.TicketSummary) []float32 {
	if !g.cfg.EmbedSummaries || sum.Fallback || g.embedder == nil || sum.Description == "" {
		return nil
	}
	emb, err := g.embedder.Embed(ctx, clipRunes(sum.Description, g.cfg.EmbeddingTextLimit))
	if err != nil {
		slog.WarnContext(ctx, "summary embedding failed", "error", err)
		return nil
	}
	return emb
}

func (g *Grouper) message(r *run, ticketID int64) *model.Message {
	m := r.in.Message
	cls := r.in.Classification
	return &model.Message{
		ID:            id.New(),
		TicketID:      ticketID,
		ChannelID:     m.ChannelID,
		TS:            m.TS,
		ThreadTS:      m.RootThread(),
		UserID:        m.UserID,
		UserName:      m.UserName,
		WorkspaceID:   m.WorkspaceID,
		SourceEventID: m.SourceEventID,
		Text:          m.Text,
		Permalink:     m.Permalink,
		ContextOnly:   r.contextOnly,
		IsRelevant:    cls.IsRelevant,
		Category:      cls.Category,
		Confidence:    cls.Confidence,
		Signals:       r.in.Normalized.Signals,
		CanonicalKey:  r.key,
		Embedding:     r.embedding,
		CreatedAt:     r.now,
	}
}

func closer(a, b *model.TicketCandidate) *model.TicketCandidate {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Distance < a.Distance:
		return b
	default:
		return a
	}
}

func lastN(msgs []model.Message, n int) []model.Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
