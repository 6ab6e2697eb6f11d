package fiction

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/dotcommander/storyweaver/internal/agent"
	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
	"github.com/dotcommander/storyweaver/internal/phase"
)

// DraftReviser rewrites drafts scene by scene using the editor role.
type DraftReviser struct {
	phase.BasePhase
	agent *agent.Agent
}

func NewDraftReviser(editor *agent.Agent, opts ...phase.BasePhaseOption) *DraftReviser {
	return &DraftReviser{
		BasePhase: phase.NewBasePhase("draft_reviser", opts...),
		agent:     editor,
	}
}

// Revise returns a new draft addressing metrics. If any scene cannot be
// revised the original draft is returned unchanged.
func (r *DraftReviser) Revise(ctx context.Context, draft domain.Draft, metrics domain.QualityMetrics) domain.Draft {
	return r.ReviseWithFeedback(ctx, draft, Feedback(metrics))
}

// ReviseWithFeedback applies free-form feedback to every scene of draft
// with the same all-or-nothing semantics as Revise.
func (r *DraftReviser) ReviseWithFeedback(ctx context.Context, draft domain.Draft, feedback string) domain.Draft {
	if len(draft.Scenes) == 0 || strings.TrimSpace(feedback) == "" {
		return draft
	}

	startTime := time.Now()
	texts := make([]string, len(draft.Scenes))
	for i, scene := range draft.Scenes {
		if err := r.ValidateContext(ctx); err != nil {
			r.Logger().WarnContext(ctx, "revision interrupted, keeping draft",
				"scene_index", i,
				"error", err)
			return draft
		}

		text, err := reviseScene(ctx, r.agent, sceneRevision{
			Style:    draft.WritingStyle,
			Tone:     draft.Tone,
			Text:     scene.Text,
			Feedback: feedback,
		})
		if err != nil {
			r.Logger().WarnContext(ctx, "scene revision failed, keeping draft",
				"scene_index", i,
				"error", err)
			return draft
		}
		texts[i] = text
	}

	revised := draft.WithTexts(texts)
	r.LogComplete(ctx, "revision", time.Since(startTime),
		"scene_count", len(revised.Scenes),
		"word_count", revised.WordCount)
	return revised
}

// Diff returns a unified diff of the full texts of two drafts.
func (r *DraftReviser) Diff(before, after domain.Draft) string {
	return DiffDrafts(before, after)
}

func DiffDrafts(before, after domain.Draft) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before.FullText),
		B:        difflib.SplitLines(after.FullText),
		FromFile: "draft",
		ToFile:   "revision",
		Context:  1,
	})
	if err != nil {
		slog.Default().Warn("diffing drafts failed", "error", err)
		return ""
	}
	return diff
}

// Feedback renders evaluation metrics as revision instructions.
func Feedback(m domain.QualityMetrics) string {
	var b strings.Builder

	if weakest := weakestAreas(m, 2); len(weakest) > 0 {
		b.WriteString("Focus on the weakest areas: ")
		b.WriteString(strings.Join(weakest, ", "))
		b.WriteString("\n")
	}
	if len(m.IssuesFound) > 0 {
		b.WriteString("\nQuality Issues Identified:\n")
		for _, issue := range m.IssuesFound {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	if len(m.Suggestions) > 0 {
		b.WriteString("\nSuggested Improvements:\n")
		for _, s := range m.Suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if b.Len() == 0 {
		return "Improve prose quality, pacing, and emotional impact."
	}
	return strings.TrimSpace(b.String())
}

// weakestAreas names up to n sub-scores below 0.85, lowest first.
func weakestAreas(m domain.QualityMetrics, n int) []string {
	type area struct {
		name  string
		score float64
	}
	areas := []area{
		{"coherence", m.Coherence},
		{"engagement", m.Engagement},
		{"character consistency", m.CharacterConsistency},
		{"pacing", m.Pacing},
		{"language quality", m.LanguageQuality},
		{"causal integrity", m.CausalIntegrity},
	}
	slices.SortStableFunc(areas, func(a, b area) int { return cmp.Compare(a.score, b.score) })

	var out []string
	for _, a := range areas {
		if len(out) == n || a.score >= 0.85 {
			break
		}
		out = append(out, fmt.Sprintf("%s (%.2f)", a.name, a.score))
	}
	return out
}
