package model

import "time"

type (
	TicketStatus string
	Priority     string
)

const (
	TicketStatusOpen     TicketStatus = "open"
	TicketStatusResolved TicketStatus = "resolved"
	TicketStatusClosed   TicketStatus = "closed"
)

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      1,
	PriorityMedium:   2,
	PriorityHigh:     3,
	PriorityCritical: 4,
}

// Rank orders priorities; unknown values rank below low.
func (p Priority) Rank() int {
	return priorityRank[p]
}

func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// MaxPriority returns the most urgent of the given priorities, or medium if none are valid.
func MaxPriority(ps ...Priority) Priority {
	best := Priority("")
	for _, p := range ps {
		if p.Rank() > best.Rank() {
			best = p
		}
	}
	if best == "" {
		return PriorityMedium
	}
	return best
}

type TicketSummary struct {
	Description      string   `json:"description"`
	ActionItems      []string `json:"action_items"`
	TechnicalDetails *string  `json:"technical_details,omitempty"`
	Priority         Priority `json:"priority"`

	// Fallback marks a summary built without the generation service. It is never stored
	// over an existing summary.
	Fallback bool `json:"-"`
}

type Ticket struct {
	ID               int64         `json:"id"`
	Title            string        `json:"title"`
	Category         Category      `json:"category"`
	Status           TicketStatus  `json:"status"`
	CanonicalKey     *string       `json:"canonical_key,omitempty"`
	Embedding        []float32     `json:"-"`
	SummaryEmbedding []float32     `json:"-"`
	Assignees        []string      `json:"assignees"`
	ReporterID       *string       `json:"reporter_id,omitempty"`
	ReporterName     *string       `json:"reporter_name,omitempty"`
	Summary          TicketSummary `json:"summary"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// TicketCandidate is one row of a similarity query.
type TicketCandidate struct {
	TicketID     int64
	Distance     float64
	Category     Category
	UpdatedAt    time.Time
	CanonicalKey *string
	ChannelID    *string
}

// MatchScoreBreakdown explains a recent-channel scoring decision. It is logged and fed
// to arbitration, never persisted.
type MatchScoreBreakdown struct {
	Semantic           float64 `json:"semantic"`
	Distance           float64 `json:"distance"`
	SameCategory       bool    `json:"same_category"`
	SameChannel        bool    `json:"same_channel"`
	RecentUpdate       bool    `json:"recent_update"`
	MinutesSinceUpdate float64 `json:"minutes_since_update"`
	SignalOverlap      int     `json:"signal_overlap"`
	Total              float64 `json:"total"`
}
