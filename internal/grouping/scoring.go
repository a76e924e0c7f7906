package grouping

import (
	"math"
	"strings"

	"nixo.app/triage/core/config"
	"nixo.app/triage/internal/model"
	"nixo.app/triage/internal/normalize"
)

// epsilon absorbs float rounding at band edges (0.65 - 0.05 is not exactly 0.60).
const epsilon = 1e-9

// minOverlapToken keeps one- and two-letter fragments from matching everything.
const minOverlapToken = 3

// ScoreInput is what the recent-channel step knows about a message/ticket pair.
type ScoreInput struct {
	Distance           float64
	SameCategory       bool
	SameChannel        bool
	MinutesSinceUpdate float64
	SignalOverlap      int
}

// Score computes the weighted match score, capped at 1.
func Score(in ScoreInput, cfg config.GroupingConfig) model.MatchScoreBreakdown {
	w := cfg.Weights
	semantic := math.Max(0, math.Min(1, 1-in.Distance/2))
	recent := in.MinutesSinceUpdate <= cfg.RecentUpdateMinutes

	total := w.Semantic * semantic
	if in.SameCategory {
		total += w.SameCategory
	}
	if in.SameChannel {
		total += w.SameChannel
	}
	if recent {
		total += w.Recency
	}
	if in.SignalOverlap >= 1 {
		total += w.Overlap
	}

	return model.MatchScoreBreakdown{
		Semantic:           semantic,
		Distance:           in.Distance,
		SameCategory:       in.SameCategory,
		SameChannel:        in.SameChannel,
		RecentUpdate:       recent,
		MinutesSinceUpdate: in.MinutesSinceUpdate,
		SignalOverlap:      in.SignalOverlap,
		Total:              math.Min(1, total),
	}
}

// Blocked reports whether the guardrail forbids merging: the categories differ and the
// pair is semantically far apart. A shared signal in the same channel within the
// escape-hatch window lifts the block.
func Blocked(in ScoreInput, cfg config.GroupingConfig) bool {
	if in.SameCategory || in.Distance <= cfg.GuardrailDistance {
		return false
	}
	escape := in.SignalOverlap >= 1 && in.SameChannel && in.MinutesSinceUpdate <= cfg.EscapeHatchMinutes
	return !escape
}

// InGrayZone reports whether a score is close enough to the threshold that a second
// opinion is worth asking for: within the narrow band, or within the wide band when the
// distance sits between the semantic threshold and the guardrail distance.
func InGrayZone(score, distance float64, cfg config.GroupingConfig) bool {
	diff := math.Abs(score - cfg.ScoreThreshold)
	if diff <= cfg.GrayZoneBand+epsilon {
		return true
	}
	inBand := distance >= cfg.SemanticThreshold-epsilon && distance <= cfg.GuardrailDistance+epsilon
	return inBand && diff <= cfg.WideGrayZoneBand+epsilon
}

// SignalOverlap counts incoming signals that share a token with the ticket's signals.
// Both sides are normalized (synonyms, prefixes) and a pair matches when either token
// contains the other.
func SignalOverlap(incoming, ticket []string) int {
	ticketTokens := overlapTokens(ticket)
	if len(ticketTokens) == 0 {
		return 0
	}

	count := 0
	for _, a := range overlapTokens(incoming) {
		for _, b := range ticketTokens {
			if strings.Contains(a, b) || strings.Contains(b, a) {
				count++
				break
			}
		}
	}
	return count
}

func overlapTokens(signals []string) []string {
	seen := make(map[string]struct{}, len(signals))
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		t := normalize.NormalizeSignal(s)
		if len(t) < minOverlapToken {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
