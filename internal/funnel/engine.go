package funnel

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// RuleSet holds the transition rules of a workspace's funnels, grouped by
// funnel and ordered by priority ascending. Rule sets are read once per
// batch and never mutated mid-flight.
type RuleSet struct {
	byFunnel map[uuid.UUID][]Rule
}

// NewRuleSet groups and priority-sorts rules.
func NewRuleSet(rules []Rule) *RuleSet {
	byFunnel := make(map[uuid.UUID][]Rule)
	for _, r := range rules {
		byFunnel[r.FunnelID] = append(byFunnel[r.FunnelID], r)
	}
	for id := range byFunnel {
		sort.SliceStable(byFunnel[id], func(i, j int) bool {
			return byFunnel[id][i].Priority < byFunnel[id][j].Priority
		})
	}
	return &RuleSet{byFunnel: byFunnel}
}

// Select returns the applicable rule for an event against a lead's current
// stage in one funnel. Rules are scanned in priority order; the first rule
// whose from-stage is nil or equals the current stage wins and the rest are
// ignored. A lead not yet in the funnel (currentStage nil) only matches
// nil-from rules.
func (rs *RuleSet) Select(funnelID uuid.UUID, eventName string, currentStage *uuid.UUID) (Rule, bool) {
	for _, r := range rs.byFunnel[funnelID] {
		if r.EventName != eventName {
			continue
		}
		if r.FromStageID == nil {
			return r, true
		}
		if currentStage != nil && *r.FromStageID == *currentStage {
			return r, true
		}
	}
	return Rule{}, false
}

// EntryFunnels returns the funnels that define a first-entry (nil-from)
// rule for the event, sorted for deterministic evaluation order.
func (rs *RuleSet) EntryFunnels(eventName string) []uuid.UUID {
	var ids []uuid.UUID
	for funnelID, rules := range rs.byFunnel {
		for _, r := range rules {
			if r.EventName == eventName && r.FromStageID == nil {
				ids = append(ids, funnelID)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Funnels returns every funnel ID the rule set covers.
func (rs *RuleSet) Funnels() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rs.byFunnel))
	for id := range rs.byFunnel {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Apply evaluates an event against a lead's current positions and returns
// the resulting position changes, at most one per funnel. Candidate funnels
// are the funnels the lead is already positioned in plus every funnel with
// a first-entry rule for this event. Funnels where no rule matches produce
// no change; that is not an error.
func (rs *RuleSet) Apply(leadID uuid.UUID, positions map[uuid.UUID]Position, eventName, movedBy, source string, now time.Time) []Position {
	candidates := make(map[uuid.UUID]bool)
	for funnelID := range positions {
		candidates[funnelID] = true
	}
	for _, funnelID := range rs.EntryFunnels(eventName) {
		candidates[funnelID] = true
	}

	ordered := make([]uuid.UUID, 0, len(candidates))
	for id := range candidates {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

	var changes []Position
	for _, funnelID := range ordered {
		var currentStage *uuid.UUID
		if pos, ok := positions[funnelID]; ok {
			stage := pos.StageID
			currentStage = &stage
		}

		rule, ok := rs.Select(funnelID, eventName, currentStage)
		if !ok {
			continue
		}

		changes = append(changes, Position{
			LeadID:          leadID,
			FunnelID:        funnelID,
			StageID:         rule.ToStageID,
			PreviousStageID: currentStage,
			EnteredAt:       now,
			MovedBy:         movedBy,
			Source:          source,
		})
	}
	return changes
}
