package summary

import (
	"regexp"
	"strings"

	"nixo.app/triage/internal/model"
)

var (
	criticalCues = regexp.MustCompile(`\b(?:outage|prod(?:uction)? (?:is )?down|site (?:is )?down|sev ?1|p0|data loss|security (?:issue|breach|hole)|all (?:customers|users) (?:are )?(?:affected|blocked)|nobody can (?:log ?in|sign ?in|pay))\b`)
	highCues     = regexp.MustCompile(`\b(?:asap|urgent(?:ly)?|tonight|right now|immediately|blocking|blocker|blocked|critical|deadline|by (?:today|tomorrow|eod)|end of day|sev ?2|p1)\b`)
)

// UrgencyFloor returns the minimum priority implied by explicit urgency language in
// any of the texts, or "" when none of them signals urgency.
func UrgencyFloor(texts ...string) model.Priority {
	floor := model.Priority("")
	for _, t := range texts {
		lowered := strings.ToLower(t)
		switch {
		case criticalCues.MatchString(lowered):
			return model.PriorityCritical
		case highCues.MatchString(lowered):
			floor = model.PriorityHigh
		}
	}
	return floor
}
