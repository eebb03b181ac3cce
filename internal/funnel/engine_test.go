package funnel

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSelectFirstEntryRuleMatchesUnpositionedLead(t *testing.T) {
	funnelID := uuid.New()
	stageOne := uuid.New()
	rs := NewRuleSet([]Rule{
		{ID: uuid.New(), FunnelID: funnelID, EventName: "a", FromStageID: nil, ToStageID: stageOne, Priority: 0},
	})

	rule, ok := rs.Select(funnelID, "a", nil)
	if !ok {
		t.Fatal("expected first-entry rule to match")
	}
	if rule.ToStageID != stageOne {
		t.Fatalf("expected to-stage %s, got %s", stageOne, rule.ToStageID)
	}
}

func TestSelectStageBoundRuleRequiresCurrentStage(t *testing.T) {
	funnelID := uuid.New()
	stageOne := uuid.New()
	stageTwo := uuid.New()
	rs := NewRuleSet([]Rule{
		{ID: uuid.New(), FunnelID: funnelID, EventName: "b", FromStageID: &stageOne, ToStageID: stageTwo, Priority: 0},
	})

	if _, ok := rs.Select(funnelID, "b", nil); ok {
		t.Fatal("expected no match for an unpositioned lead")
	}

	rule, ok := rs.Select(funnelID, "b", &stageOne)
	if !ok || rule.ToStageID != stageTwo {
		t.Fatalf("expected stage-bound rule to fire from the matching stage, ok=%v", ok)
	}
}

func TestSelectPriorityOrderFirstMatchWins(t *testing.T) {
	funnelID := uuid.New()
	highTarget := uuid.New()
	lowTarget := uuid.New()
	rs := NewRuleSet([]Rule{
		{ID: uuid.New(), FunnelID: funnelID, EventName: "x", ToStageID: lowTarget, Priority: 10},
		{ID: uuid.New(), FunnelID: funnelID, EventName: "x", ToStageID: highTarget, Priority: 1},
	})

	rule, ok := rs.Select(funnelID, "x", nil)
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.ToStageID != highTarget {
		t.Fatal("expected the lower-priority-number rule to win")
	}
}

func TestApplySequentialEventsWalkTheFunnel(t *testing.T) {
	funnelID := uuid.New()
	stageOne := uuid.New()
	stageTwo := uuid.New()
	leadID := uuid.New()
	rs := NewRuleSet([]Rule{
		{ID: uuid.New(), FunnelID: funnelID, EventName: "a", FromStageID: nil, ToStageID: stageOne, Priority: 0},
		{ID: uuid.New(), FunnelID: funnelID, EventName: "b", FromStageID: &stageOne, ToStageID: stageTwo, Priority: 0},
	})
	now := time.Now()

	// "a" enters the funnel at stage one.
	changes := rs.Apply(leadID, nil, "a", MovedByWebhook, "webhook", now)
	if len(changes) != 1 {
		t.Fatalf("expected one position change, got %d", len(changes))
	}
	if changes[0].StageID != stageOne {
		t.Fatalf("expected entry into stage %s, got %s", stageOne, changes[0].StageID)
	}
	if changes[0].PreviousStageID != nil {
		t.Fatal("expected no previous stage on first entry")
	}

	// "b" then moves the lead to stage two.
	positions := map[uuid.UUID]Position{funnelID: changes[0]}
	changes = rs.Apply(leadID, positions, "b", MovedByWebhook, "webhook", now)
	if len(changes) != 1 {
		t.Fatalf("expected one position change, got %d", len(changes))
	}
	if changes[0].StageID != stageTwo {
		t.Fatalf("expected move to stage %s, got %s", stageTwo, changes[0].StageID)
	}
	if changes[0].PreviousStageID == nil || *changes[0].PreviousStageID != stageOne {
		t.Fatal("expected previous stage to be stage one")
	}
}

func TestApplyStageBoundEventBeforeEntryDoesNothing(t *testing.T) {
	funnelID := uuid.New()
	stageOne := uuid.New()
	stageTwo := uuid.New()
	rs := NewRuleSet([]Rule{
		{ID: uuid.New(), FunnelID: funnelID, EventName: "a", FromStageID: nil, ToStageID: stageOne, Priority: 0},
		{ID: uuid.New(), FunnelID: funnelID, EventName: "b", FromStageID: &stageOne, ToStageID: stageTwo, Priority: 0},
	})

	changes := rs.Apply(uuid.New(), nil, "b", MovedByWebhook, "webhook", time.Now())
	if len(changes) != 0 {
		t.Fatalf("expected no changes for a lead not yet in the funnel, got %d", len(changes))
	}
}

func TestEntryFunnelsOnlyListsFirstEntryRules(t *testing.T) {
	entryFunnel := uuid.New()
	boundFunnel := uuid.New()
	stage := uuid.New()
	rs := NewRuleSet([]Rule{
		{ID: uuid.New(), FunnelID: entryFunnel, EventName: "signup", FromStageID: nil, ToStageID: stage},
		{ID: uuid.New(), FunnelID: boundFunnel, EventName: "signup", FromStageID: &stage, ToStageID: stage},
	})

	ids := rs.EntryFunnels("signup")
	if len(ids) != 1 || ids[0] != entryFunnel {
		t.Fatalf("expected only the first-entry funnel, got %v", ids)
	}
	if ids := rs.EntryFunnels("unknown"); len(ids) != 0 {
		t.Fatalf("expected no entry funnels for an unknown event, got %v", ids)
	}
}

func TestApplyEvaluatesFunnelsDeterministically(t *testing.T) {
	stage := uuid.New()
	var rules []Rule
	for i := 0; i < 5; i++ {
		rules = append(rules, Rule{ID: uuid.New(), FunnelID: uuid.New(), EventName: "e", ToStageID: stage})
	}
	rs := NewRuleSet(rules)
	leadID := uuid.New()
	now := time.Now()

	first := rs.Apply(leadID, nil, "e", MovedBySystem, "api", now)
	second := rs.Apply(leadID, nil, "e", MovedBySystem, "api", now)
	if len(first) != 5 || len(second) != 5 {
		t.Fatalf("expected 5 changes each run, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].FunnelID != second[i].FunnelID {
			t.Fatal("expected identical funnel evaluation order across runs")
		}
	}
}
