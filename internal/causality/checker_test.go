package causality

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"testing"

	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
)

func link(id, cause, effect string, deps ...string) domain.CausalLink {
	return domain.CausalLink{ID: id, CauseDescription: cause, EffectDescription: effect, DependsOn: deps}
}

func TestValidateConsistentChain(t *testing.T) {
	checker := NewChecker()

	result := checker.Validate([]domain.CausalLink{
		link("e1", "storm", "flood"),
		link("e2", "flood", "rescue", "e1"),
	})

	if !result.IsConsistent {
		t.Errorf("IsConsistent = false, issues = %v", result.Issues)
	}
	if result.ConfidenceScore != 1.0 {
		t.Errorf("ConfidenceScore = %v, want 1.0", result.ConfidenceScore)
	}
	if result.Issues == nil || len(result.Issues) != 0 {
		t.Errorf("Issues = %#v, want empty slice", result.Issues)
	}
	if len(result.Suggestions) != 0 {
		t.Errorf("Suggestions = %v, want none", result.Suggestions)
	}
}

func TestValidateIssues(t *testing.T) {
	tests := []struct {
		name       string
		chains     []domain.CausalLink
		wantIssues []string
	}{
		{
			name:       "empty chain",
			chains:     nil,
			wantIssues: []string{},
		},
		{
			name: "two link cycle",
			chains: []domain.CausalLink{
				link("a", "x", "y", "b"),
				link("b", "y", "z", "a"),
			},
			wantIssues: []string{"Circular causal dependencies detected"},
		},
		{
			name: "cycle reported once",
			chains: []domain.CausalLink{
				link("a", "", "", "c"),
				link("b", "", "", "a"),
				link("c", "", "", "b"),
				link("d", "", "", "e"),
				link("e", "", "", "d"),
			},
			wantIssues: []string{"Circular causal dependencies detected"},
		},
		{
			name:       "self dependency",
			chains:     []domain.CausalLink{link("a", "", "", "a")},
			wantIssues: []string{"Circular causal dependencies detected"},
		},
		{
			name: "dangling dependencies",
			chains: []domain.CausalLink{
				link("a", "", "", "ghost"),
				link("b", "", "", "a", "phantom"),
			},
			wantIssues: []string{
				"Inconsistent causality: ghost -> a",
				"Inconsistent causality: phantom -> b",
			},
		},
		{
			name: "duplicate ids",
			chains: []domain.CausalLink{
				link("a", "", ""),
				link("a", "", ""),
				link("a", "", ""),
				link("b", "", "", "a"),
			},
			wantIssues: []string{"Duplicate causal link id: a"},
		},
	}

	checker := NewChecker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := checker.Validate(tt.chains)

			if !reflect.DeepEqual(result.Issues, tt.wantIssues) {
				t.Errorf("Issues = %q, want %q", result.Issues, tt.wantIssues)
			}
			if result.IsConsistent != (len(tt.wantIssues) == 0) {
				t.Errorf("IsConsistent = %v with %d issues", result.IsConsistent, len(tt.wantIssues))
			}
			if want := Confidence(len(tt.wantIssues)); result.ConfidenceScore != want {
				t.Errorf("ConfidenceScore = %v, want %v", result.ConfidenceScore, want)
			}
		})
	}
}

func TestValidateDanglingCount(t *testing.T) {
	var chains []domain.CausalLink
	for i := range 4 {
		chains = append(chains, link(fmt.Sprintf("l%d", i), "", "", fmt.Sprintf("missing%d", i)))
	}

	result := NewChecker().Validate(chains)
	if len(result.Issues) != 4 {
		t.Fatalf("len(Issues) = %d, want 4: %v", len(result.Issues), result.Issues)
	}
	if result.ConfidenceScore < 0.6-1e-9 || result.ConfidenceScore > 0.6+1e-9 {
		t.Errorf("ConfidenceScore = %v, want 0.6", result.ConfidenceScore)
	}
}

func TestConfidenceBounded(t *testing.T) {
	prev := Confidence(0)
	if prev != 1 {
		t.Fatalf("Confidence(0) = %v", prev)
	}
	for n := 1; n <= 25; n++ {
		got := Confidence(n)
		if got > prev {
			t.Errorf("Confidence(%d) = %v rose above %v", n, got, prev)
		}
		if got < 0 || got > 1 {
			t.Errorf("Confidence(%d) = %v out of [0, 1]", n, got)
		}
		prev = got
	}
	if Confidence(12) != 0 {
		t.Errorf("Confidence(12) = %v, want 0", Confidence(12))
	}
}

func TestValidateSuggestsMissingLinks(t *testing.T) {
	result := NewChecker().Validate([]domain.CausalLink{
		link("storm", "the sea rises", "The Harbor Floods"),
		link("exodus", "after the harbor floods, villagers leave", "empty village"),
		link("return", "years pass", "the harbor floods", "exodus"),
	})

	if !result.IsConsistent {
		t.Errorf("suggestions must not be issues: %v", result.Issues)
	}
	want := "Consider adding causal link: storm -> exodus (The Harbor Floods)"
	if !slices.Contains(result.Suggestions, want) {
		t.Errorf("Suggestions = %q, want %q", result.Suggestions, want)
	}
	for _, s := range result.Suggestions {
		if s == "Consider adding causal link: return -> exodus (the harbor floods)" {
			t.Error("suggested a link that would reverse an existing dependency")
		}
	}
}

func TestValidateBatch(t *testing.T) {
	checker := NewChecker(WithWorkers(2))

	results := checker.ValidateBatch(context.Background(), map[string][]domain.CausalLink{
		"story_ok":     {link("e1", "", ""), link("e2", "", "", "e1")},
		"story_cycle":  {link("a", "", "", "b"), link("b", "", "", "a")},
		"story_empty":  nil,
		"story_broken": {link("x", "", "", "nowhere")},
	})

	if len(results) != 4 {
		t.Fatalf("len(results) = %d, want 4", len(results))
	}
	if !results["story_ok"].IsConsistent || !results["story_empty"].IsConsistent {
		t.Error("consistent stories reported inconsistent")
	}
	if results["story_cycle"].IsConsistent || results["story_broken"].IsConsistent {
		t.Error("inconsistent stories reported consistent")
	}
	if results["story_cycle"].ConfidenceScore != 0.9 {
		t.Errorf("cycle confidence = %v", results["story_cycle"].ConfidenceScore)
	}
}

func TestValidateBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewChecker().ValidateBatch(ctx, map[string][]domain.CausalLink{
		"a": {link("e1", "", "")},
		"b": {link("e1", "", "")},
	})

	for id, r := range results {
		if !reflect.DeepEqual(r, FailedResult()) {
			t.Errorf("results[%s] = %+v, want FailedResult", id, r)
		}
	}
}

func TestFailedResult(t *testing.T) {
	r := FailedResult()
	if r.IsConsistent || r.ConfidenceScore != 0 {
		t.Errorf("FailedResult() = %+v", r)
	}
	if !reflect.DeepEqual(r.Issues, []string{"Validation failed"}) {
		t.Errorf("Issues = %v", r.Issues)
	}
}
