package story

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/dotcommander/storyweaver/internal/agent"
	"github.com/dotcommander/storyweaver/internal/bible"
	"github.com/dotcommander/storyweaver/internal/causality"
	"github.com/dotcommander/storyweaver/internal/core"
	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
	"github.com/dotcommander/storyweaver/internal/phase/fiction"
	"github.com/dotcommander/storyweaver/internal/storage"
)

func newDeps(t *testing.T, mock *agent.MockClient, repo storage.Repository) Dependencies {
	t.Helper()

	factory := agent.NewAgentFactory(mock, nil, nil)
	evaluator := fiction.NewQualityEvaluator(factory.Agent(agent.RoleEditor))
	reviser := fiction.NewDraftReviser(factory.Agent(agent.RoleEditor))
	loop, err := core.NewImprovementLoop(evaluator, reviser, core.DefaultImprovementConfig())
	if err != nil {
		t.Fatalf("NewImprovementLoop() error = %v", err)
	}

	writer := fiction.NewDraftWriter(factory.Agent(agent.RoleScribe))
	return Dependencies{
		Outliner:   fiction.NewOutlineBuilder(factory.Agent(agent.RoleArchitect)),
		Drafter:    writer,
		Improver:   loop,
		Checker:    causality.NewChecker(),
		Editor:     reviser,
		Scenes:     writer,
		Impact:     causality.NewImpactAnalyzer(factory.Agent(agent.RoleArchitect)),
		Repository: repo,
	}
}

func newRepo(t *testing.T) *storage.FileRepository {
	return storage.NewFileRepository(storage.NewFileSystem(t.TempDir()))
}

// blockingDrafter waits for release or the context to end
type blockingDrafter struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDrafter) WriteDraft(ctx context.Context, outline domain.Outline, length domain.Length) (domain.Draft, error) {
	if d.started != nil {
		close(d.started)
	}
	select {
	case <-ctx.Done():
		return domain.Draft{}, ctx.Err()
	case <-d.release:
		return domain.NewDraft(outline.Title, "", "", []string{"Released."}), nil
	}
}

var storyIDPattern = regexp.MustCompile(`^story_\d{8}_\d{6}_[0-9a-f]{8}$`)

func TestGenerate(t *testing.T) {
	mock := agent.NewMockClient()
	repo := newRepo(t)
	svc := New(newDeps(t, mock, repo))
	ctx := context.Background()

	result, err := svc.Generate(ctx, Request{Prompt: "a girl afraid of the sea", Genre: "literary"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if !storyIDPattern.MatchString(result.StoryID) {
		t.Errorf("StoryID = %q", result.StoryID)
	}
	if result.Title != "The Lighthouse Keeper's Daughter" {
		t.Errorf("Title = %q", result.Title)
	}
	if len(result.Draft.Scenes) != 3 || result.Content != result.Draft.FullText {
		t.Errorf("draft has %d scenes", len(result.Draft.Scenes))
	}
	if result.State != core.SessionAccepted || result.Iterations != 0 {
		t.Errorf("State = %s, Iterations = %d", result.State, result.Iterations)
	}
	if !result.CausalReport.IsConsistent || result.CausalReport.ConfidenceScore != 1 {
		t.Errorf("CausalReport = %+v", result.CausalReport)
	}

	m := result.QualityMetrics
	if m.CausalIntegrity != 1 {
		t.Errorf("CausalIntegrity = %v, want causal confidence 1", m.CausalIntegrity)
	}
	if want := fiction.DefaultWeights.Score(m); math.Abs(m.OverallScore-want) > 1e-9 {
		t.Errorf("OverallScore = %v, want %v", m.OverallScore, want)
	}
	if !result.Compliance.IsCompliant {
		t.Errorf("Compliance = %+v", result.Compliance)
	}
	if len(result.Events) != 3 {
		t.Errorf("len(Events) = %d, want one per causal link", len(result.Events))
	}

	stored, err := svc.Get(ctx, result.StoryID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Content != result.Content || stored.Status != string(core.SessionAccepted) {
		t.Errorf("stored record = %+v", stored.Summary())
	}
	events, err := repo.Events(ctx, result.StoryID)
	if err != nil || len(events) != 3 {
		t.Errorf("stored events = %d, %v", len(events), err)
	}

	list, err := svc.List(ctx)
	if err != nil || len(list) != 1 || list[0].ID != result.StoryID {
		t.Errorf("List() = %+v, %v", list, err)
	}
}

func TestGenerateValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"blank prompt", Request{Prompt: "   "}, "prompt"},
		{"unknown length", Request{Prompt: "a story", Length: "epic"}, "length"},
		{"prompt too long", Request{Prompt: strings.Repeat("x", 101)}, "prompt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := agent.NewMockClient()
			svc := New(newDeps(t, mock, nil), WithMaxPromptSize(100))

			_, err := svc.Generate(context.Background(), tt.req)
			var valErr *core.ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			if valErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", valErr.Field, tt.field)
			}
			if len(mock.Calls()) != 0 {
				t.Error("generator called for invalid request")
			}
		})
	}
}

func TestGenerateFailuresPersistNothing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*agent.MockClient)
		check func(error) bool
	}{
		{
			name:  "malformed outline",
			setup: func(m *agent.MockClient) { m.Respond(agent.TaskOutlinePlan, "I would rather not.") },
			check: func(err error) bool { return errors.Is(err, core.ErrMalformedOutline) },
		},
		{
			name:  "scene failure",
			setup: func(m *agent.MockClient) { m.Fail(agent.TaskSceneWrite, errors.New("provider down")) },
			check: core.IsGenerationError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := agent.NewMockClient()
			tt.setup(mock)
			repo := newRepo(t)
			svc := New(newDeps(t, mock, repo))

			_, err := svc.Generate(context.Background(), Request{Prompt: "a story"})
			if !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if list, _ := repo.ListStories(context.Background()); len(list) != 0 {
				t.Errorf("persisted %d stories after failure", len(list))
			}
		})
	}
}

func TestGenerateTimeout(t *testing.T) {
	repo := newRepo(t)
	deps := newDeps(t, agent.NewMockClient(), repo)
	deps.Drafter = &blockingDrafter{release: make(chan struct{})}
	svc := New(deps, WithRequestTimeout(30*time.Millisecond))

	_, err := svc.Generate(context.Background(), Request{Prompt: "a story"})
	if !core.IsTimeout(err) {
		t.Fatalf("error = %v, want GenerationTimeoutError", err)
	}
	if !core.IsRetryable(err) {
		t.Error("timeout should be retryable")
	}
	if list, _ := repo.ListStories(context.Background()); len(list) != 0 {
		t.Error("timed out story was persisted")
	}
}

func TestGenerateConcurrencyLimit(t *testing.T) {
	blocker := &blockingDrafter{started: make(chan struct{}), release: make(chan struct{})}
	deps := newDeps(t, agent.NewMockClient(), nil)
	deps.Drafter = blocker
	svc := New(deps, WithMaxConcurrentStories(1))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(context.Background(), Request{Prompt: "first"})
		done <- err
	}()
	<-blocker.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := svc.Generate(ctx, Request{Prompt: "second"}); !core.IsTimeout(err) {
		t.Errorf("second request error = %v, want timeout waiting for a slot", err)
	}

	close(blocker.release)
	if err := <-done; err != nil {
		t.Errorf("first request error = %v", err)
	}
}

func TestGenerateWithChoices(t *testing.T) {
	svc := New(newDeps(t, agent.NewMockClient(), nil))

	result, err := svc.Generate(context.Background(), Request{
		Prompt:  "a girl afraid of the sea",
		Choices: []bible.Choice{{Description: "Mara takes the boat", Consequence: "Mara reaches the island"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	chains := result.Outline.CausalChains
	if len(chains) != 4 {
		t.Fatalf("len(CausalChains) = %d, want 4", len(chains))
	}
	last := chains[3]
	if last.ID != "event_4" || len(last.DependsOn) != 1 || last.DependsOn[0] != "e3" {
		t.Errorf("choice link = %+v", last)
	}
	if !result.CausalReport.IsConsistent {
		t.Errorf("CausalReport = %+v", result.CausalReport)
	}
	if len(result.Events) != 4 || result.Events[3].Kind != bible.KindChoice {
		t.Errorf("Events = %+v", result.Events)
	}
}

func TestGenerateChoicesKeepLinkIDsUnique(t *testing.T) {
	mock := agent.NewMockClient().SetFixture(agent.TaskOutlinePlan, `{
		"title": "The Harbor Light",
		"genre": "literary",
		"characters": [{"name": "Mara", "role": "protagonist", "traits": ["brave"]}],
		"plot_summary": "Mara keeps the light burning through a storm.",
		"scenes": [
			{"index": 0, "description": "The storm arrives.", "purpose": "Inciting"},
			{"index": 1, "description": "The lamp fails.", "purpose": "Crisis"}
		],
		"causal_chains": [
			{"id": "event_2", "cause": "A storm rolls in", "effect": "The lamp fails", "depends_on": []},
			{"id": "event_3", "cause": "The lamp fails", "effect": "A ship drifts toward the rocks", "depends_on": ["event_2"]}
		],
		"themes": ["hope"],
		"estimated_length": "short_story"
	}`)
	svc := New(newDeps(t, mock, nil))

	result, err := svc.Generate(context.Background(), Request{
		Prompt: "a lighthouse in a storm",
		Choices: []bible.Choice{
			{Description: "Mara climbs the tower", Consequence: "The lamp is relit"},
			{Description: "Mara signals the ship", Consequence: "The ship turns away from the rocks"},
		},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if !result.CausalReport.IsConsistent || result.CausalReport.ConfidenceScore != 1 {
		t.Errorf("CausalReport = %+v, want a consistent chain", result.CausalReport)
	}
	var ids []string
	for _, l := range result.Outline.CausalChains {
		ids = append(ids, l.ID)
	}
	if got := strings.Join(ids, ","); got != "event_2,event_3,choice_3,event_4" {
		t.Errorf("link ids = %s", got)
	}
}

func TestMergeMetrics(t *testing.T) {
	base := domain.QualityMetrics{
		Coherence: 0.8, Engagement: 0.8, CharacterConsistency: 0.8,
		Pacing: 0.8, LanguageQuality: 0.8, CausalIntegrity: 0.8,
		OverallScore: 0.8,
		IssuesFound:  []string{"slow start"},
		Suggestions:  []string{"tighten scene 1"},
	}
	report := domain.CausalReport{
		Issues:          []string{"Inconsistent causality: e9 -> e2"},
		Suggestions:     []string{"Consider adding causal link: e1 -> e3 (flood)"},
		ConfidenceScore: 0.9,
	}
	compliance := fiction.ComplianceReport{Issues: []string{"Potentially harmful content detected: x"}}

	merged := MergeMetrics(fiction.DefaultWeights, base, report, compliance)

	if merged.CausalIntegrity != 0.9 {
		t.Errorf("CausalIntegrity = %v", merged.CausalIntegrity)
	}
	wantIssues := []string{"slow start", "Inconsistent causality: e9 -> e2"}
	if strings.Join(merged.IssuesFound, "|") != strings.Join(wantIssues, "|") {
		t.Errorf("IssuesFound = %q", merged.IssuesFound)
	}
	if len(merged.Suggestions) != 3 || merged.Suggestions[2] != compliance.Issues[0] {
		t.Errorf("Suggestions = %q", merged.Suggestions)
	}
	if want := 0.8 + 0.15*0.1; math.Abs(merged.OverallScore-want) > 1e-9 {
		t.Errorf("OverallScore = %v, want %v", merged.OverallScore, want)
	}
	if len(base.IssuesFound) != 1 {
		t.Error("input metrics were mutated")
	}

	for name, m := range map[string]domain.QualityMetrics{
		"nil lists":   {},
		"empty lists": {IssuesFound: []string{}, Suggestions: []string{}},
	} {
		clean := MergeMetrics(fiction.DefaultWeights, m,
			domain.CausalReport{IsConsistent: true, Issues: []string{}, Suggestions: []string{}, ConfidenceScore: 1},
			fiction.CheckCompliance("a quiet story"))
		if clean.IssuesFound == nil || clean.Suggestions == nil {
			t.Errorf("%s: merged lists should never be nil", name)
		}
		data, err := json.Marshal(clean)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `"issues_found":[]`) || !strings.Contains(string(data), `"suggestions":[]`) {
			t.Errorf("%s: clean metrics encode as %s", name, data)
		}
	}
}

func TestOutline(t *testing.T) {
	mock := agent.NewMockClient()
	svc := New(newDeps(t, mock, nil))

	result, err := svc.Outline(context.Background(), OutlineRequest{Prompt: "a girl afraid of the sea"})
	if err != nil {
		t.Fatalf("Outline() error = %v", err)
	}
	if !result.CausalAnalysis.IsConsistent || len(result.Outline.Scenes) != 3 {
		t.Errorf("result = %+v", result)
	}
	if mock.CallCount(agent.TaskSceneWrite) != 0 {
		t.Error("outline request should not draft scenes")
	}

	refined, err := svc.Outline(context.Background(), OutlineRequest{Prompt: "a girl afraid of the sea", Feedback: "make the ending darker"})
	if err != nil {
		t.Fatalf("Outline() with feedback error = %v", err)
	}
	if !strings.HasSuffix(refined.Outline.Title, "(Revised)") {
		t.Errorf("Title = %q, want refined outline", refined.Outline.Title)
	}
	if len(refined.Outline.CausalChains) != 3 || refined.Outline.CausalChains[0].ID != "e1" {
		t.Errorf("non-causal feedback should keep the chain: %+v", refined.Outline.CausalChains)
	}

	if _, err := svc.Outline(context.Background(), OutlineRequest{}); !core.IsValidationError(err) {
		t.Errorf("blank prompt error = %v", err)
	}
}

func TestRevise(t *testing.T) {
	ctx := context.Background()

	t.Run("free-standing content", func(t *testing.T) {
		svc := New(newDeps(t, agent.NewMockClient(), nil))

		result, err := svc.Revise(ctx, RevisionRequest{Content: "Mara stood on the cliff.", Feedback: "More tension"})
		if err != nil {
			t.Fatalf("Revise() error = %v", err)
		}
		if !result.Revised || !strings.HasPrefix(result.Content, "Salt wind") {
			t.Errorf("result = %+v", result)
		}
		if !strings.Contains(result.Diff, "+Salt wind") {
			t.Errorf("Diff = %q", result.Diff)
		}
	})

	t.Run("stored story", func(t *testing.T) {
		repo := newRepo(t)
		svc := New(newDeps(t, agent.NewMockClient(), repo))
		story, err := svc.Generate(ctx, Request{Prompt: "a story"})
		if err != nil {
			t.Fatal(err)
		}

		result, err := svc.Revise(ctx, RevisionRequest{StoryID: story.StoryID, Feedback: "Shorter sentences"})
		if err != nil {
			t.Fatalf("Revise() error = %v", err)
		}
		stored, err := svc.Get(ctx, story.StoryID)
		if err != nil {
			t.Fatal(err)
		}
		if result.Revised && (stored.Status != "revised" || stored.Content != result.Content) {
			t.Errorf("stored record not updated: status %q", stored.Status)
		}
	})

	t.Run("editor failure keeps text", func(t *testing.T) {
		mock := agent.NewMockClient().Fail(agent.TaskSceneRevise, errors.New("provider down"))
		svc := New(newDeps(t, mock, nil))

		result, err := svc.Revise(ctx, RevisionRequest{Content: "Original.", Feedback: "x"})
		if err != nil {
			t.Fatalf("Revise() error = %v", err)
		}
		if result.Revised || result.Content != "Original." || result.Diff != "" {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("invalid requests", func(t *testing.T) {
		svc := New(newDeps(t, agent.NewMockClient(), newRepo(t)))

		if _, err := svc.Revise(ctx, RevisionRequest{Feedback: "x"}); !core.IsValidationError(err) {
			t.Errorf("missing content error = %v", err)
		}
		if _, err := svc.Revise(ctx, RevisionRequest{Content: "x"}); !core.IsValidationError(err) {
			t.Errorf("missing feedback error = %v", err)
		}
		if _, err := svc.Revise(ctx, RevisionRequest{StoryID: "story_missing", Feedback: "x"}); !IsNotFound(err) {
			t.Errorf("missing story error = %v", err)
		}
	})
}

func TestReviseScene(t *testing.T) {
	ctx := context.Background()
	index := func(n int) *int { return &n }

	t.Run("only the chosen scene changes", func(t *testing.T) {
		mock := agent.NewMockClient()
		svc := New(newDeps(t, mock, newRepo(t)))
		story, err := svc.Generate(ctx, Request{Prompt: "a story"})
		if err != nil {
			t.Fatal(err)
		}
		before := mock.CallCount(agent.TaskSceneRevise)

		result, err := svc.Revise(ctx, RevisionRequest{StoryID: story.StoryID, SceneIndex: index(1), Feedback: "Sharper imagery"})
		if err != nil {
			t.Fatalf("Revise() error = %v", err)
		}
		if !result.Revised || result.Diff == "" {
			t.Errorf("result = %+v", result)
		}
		if n := mock.CallCount(agent.TaskSceneRevise) - before; n != 1 {
			t.Errorf("scene revisions = %d, want 1", n)
		}

		stored, err := svc.Get(ctx, story.StoryID)
		if err != nil {
			t.Fatal(err)
		}
		for i, scene := range stored.Draft.Scenes {
			revised := strings.HasPrefix(scene.Text, "Salt wind")
			if revised != (i == 1) {
				t.Errorf("scene %d revised = %v", i, revised)
			}
			if scene.Index != i {
				t.Errorf("scene %d has index %d", i, scene.Index)
			}
		}
		if stored.Content != result.Content || stored.Draft.FullText != result.Content {
			t.Error("stored draft does not match the revision")
		}
	})

	t.Run("rejected requests", func(t *testing.T) {
		mock := agent.NewMockClient()
		svc := New(newDeps(t, mock, newRepo(t)))
		story, err := svc.Generate(ctx, Request{Prompt: "a story"})
		if err != nil {
			t.Fatal(err)
		}
		before := mock.CallCount(agent.TaskSceneRevise)

		var rangeErr *core.SceneIndexOutOfRangeError
		for _, i := range []int{-1, 3} {
			_, err := svc.Revise(ctx, RevisionRequest{StoryID: story.StoryID, SceneIndex: index(i), Feedback: "x"})
			if !errors.As(err, &rangeErr) || rangeErr.Count != 3 {
				t.Errorf("scene %d error = %v, want SceneIndexOutOfRangeError", i, err)
			}
		}
		if _, err := svc.Revise(ctx, RevisionRequest{Content: "x", SceneIndex: index(0), Feedback: "x"}); !core.IsValidationError(err) {
			t.Errorf("scene revision without story error = %v", err)
		}

		deps := newDeps(t, mock, newRepo(t))
		deps.Scenes = nil
		bare := New(deps)
		stored, err := bare.Generate(ctx, Request{Prompt: "a story"})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := bare.Revise(ctx, RevisionRequest{StoryID: stored.StoryID, SceneIndex: index(0), Feedback: "x"}); !core.IsValidationError(err) {
			t.Errorf("unconfigured scene revision error = %v", err)
		}
		if n := mock.CallCount(agent.TaskSceneRevise) - before; n != 0 {
			t.Errorf("rejected requests made %d scene revisions", n)
		}
	})

	t.Run("provider failure", func(t *testing.T) {
		mock := agent.NewMockClient()
		svc := New(newDeps(t, mock, newRepo(t)))
		story, err := svc.Generate(ctx, Request{Prompt: "a story"})
		if err != nil {
			t.Fatal(err)
		}
		mock.Fail(agent.TaskSceneRevise, errors.New("provider down"))

		if _, err := svc.Revise(ctx, RevisionRequest{StoryID: story.StoryID, SceneIndex: index(0), Feedback: "x"}); !core.IsGenerationError(err) {
			t.Errorf("Revise() error = %v, want GenerationError", err)
		}
		stored, err := svc.Get(ctx, story.StoryID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.Content != story.Content {
			t.Error("failed scene revision changed the stored story")
		}
	})
}

func TestHorizon(t *testing.T) {
	ctx := context.Background()
	mock := agent.NewMockClient()
	repo := newRepo(t)
	svc := New(newDeps(t, mock, repo))

	story, err := svc.Generate(ctx, Request{Prompt: "a girl afraid of the sea"})
	if err != nil {
		t.Fatal(err)
	}

	projection, err := svc.Horizon(ctx, HorizonRequest{StoryID: story.StoryID, ChoicePoint: " Mara dives in "})
	if err != nil {
		t.Fatalf("Horizon() error = %v", err)
	}
	if projection.ChoicePoint != "Mara dives in" || projection.Horizon != fiction.DefaultSceneHorizon {
		t.Errorf("projection = %+v", projection)
	}
	if len(projection.Consequences) != 2 || projection.Consequences[1].SceneOffset != 6 {
		t.Errorf("Consequences = %+v", projection.Consequences)
	}

	events, err := repo.Events(ctx, story.StoryID)
	if err != nil || len(events) != 3 {
		t.Errorf("Horizon() recorded events: %d, %v", len(events), err)
	}

	if _, err := svc.Horizon(ctx, HorizonRequest{StoryID: story.StoryID}); !core.IsValidationError(err) {
		t.Errorf("missing choice point error = %v", err)
	}
	if _, err := svc.Horizon(ctx, HorizonRequest{StoryID: "story_missing", ChoicePoint: "x"}); !IsNotFound(err) {
		t.Errorf("missing story error = %v", err)
	}
	if _, err := New(newDeps(t, mock, nil)).Horizon(ctx, HorizonRequest{StoryID: story.StoryID, ChoicePoint: "x"}); !errors.Is(err, ErrPersistenceDisabled) {
		t.Errorf("no repository error = %v", err)
	}

	mock.Fail(agent.TaskCausalHorizon, errors.New("provider down"))
	if _, err := svc.Horizon(ctx, HorizonRequest{StoryID: story.StoryID, ChoicePoint: "x"}); !core.IsGenerationError(err) {
		t.Errorf("provider failure error = %v", err)
	}
}

func TestRecordChoice(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	svc := New(newDeps(t, agent.NewMockClient(), repo))

	story, err := svc.Generate(ctx, Request{Prompt: "a girl afraid of the sea"})
	if err != nil {
		t.Fatal(err)
	}

	result, err := svc.RecordChoice(ctx, ChoiceRequest{
		StoryID: story.StoryID,
		Choice:  bible.Choice{Description: "Mara dives into the storm", Characters: []string{"Mara"}},
	})
	if err != nil {
		t.Fatalf("RecordChoice() error = %v", err)
	}

	if result.Impact.Confidence != 0.75 {
		t.Errorf("Impact = %+v", result.Impact)
	}
	if result.Event.ID != "event_4" || result.Event.CausalLink == nil {
		t.Fatalf("Event = %+v", result.Event)
	}
	if got := result.Event.CausalLink.EffectDescription; got != "Mara reaches her brother" {
		t.Errorf("consequence = %q, want the projected immediate consequence", got)
	}
	if !result.CausalReport.IsConsistent {
		t.Errorf("CausalReport = %+v", result.CausalReport)
	}

	events, err := repo.Events(ctx, story.StoryID)
	if err != nil || len(events) != 4 {
		t.Errorf("stored events = %d, %v", len(events), err)
	}
	stored, _ := svc.Get(ctx, story.StoryID)
	if len(stored.Outline.CausalChains) != 4 {
		t.Errorf("stored chain length = %d, want 4", len(stored.Outline.CausalChains))
	}

	if _, err := svc.RecordChoice(ctx, ChoiceRequest{StoryID: story.StoryID}); !core.IsValidationError(err) {
		t.Errorf("blank choice error = %v", err)
	}
}

// faultyRepo fails saves or appends once armed
type faultyRepo struct {
	storage.Repository
	saveErr   error
	appendErr error
	saves     int
}

func (r *faultyRepo) SaveStory(ctx context.Context, record storage.StoryRecord) error {
	r.saves++
	if r.saveErr != nil && r.saves == 1 {
		return r.saveErr
	}
	return r.Repository.SaveStory(ctx, record)
}

func (r *faultyRepo) AppendEvent(ctx context.Context, storyID string, event bible.Event) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	return r.Repository.AppendEvent(ctx, storyID, event)
}

func TestRecordChoicePersistenceFailure(t *testing.T) {
	tests := []struct {
		name string
		repo func(storage.Repository) *faultyRepo
	}{
		{"save fails", func(r storage.Repository) *faultyRepo {
			return &faultyRepo{Repository: r, saveErr: errors.New("disk full")}
		}},
		{"append fails", func(r storage.Repository) *faultyRepo {
			return &faultyRepo{Repository: r, appendErr: errors.New("disk full")}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t)
			story, err := New(newDeps(t, agent.NewMockClient(), repo)).Generate(ctx, Request{Prompt: "a girl afraid of the sea"})
			if err != nil {
				t.Fatal(err)
			}

			svc := New(newDeps(t, agent.NewMockClient(), tt.repo(repo)))
			_, err = svc.RecordChoice(ctx, ChoiceRequest{
				StoryID: story.StoryID,
				Choice:  bible.Choice{Description: "Mara dives into the storm", Consequence: "Mara reaches her brother"},
			})
			if err == nil {
				t.Fatal("RecordChoice() should fail")
			}

			events, _ := repo.Events(ctx, story.StoryID)
			stored, _ := repo.LoadStory(ctx, story.StoryID)
			if len(events) != 3 || len(stored.Outline.CausalChains) != 3 {
				t.Errorf("after failure: %d events, %d links; want 3 and 3", len(events), len(stored.Outline.CausalChains))
			}
		})
	}
}

func TestWithoutRepository(t *testing.T) {
	svc := New(newDeps(t, agent.NewMockClient(), nil))

	if _, err := svc.Get(context.Background(), "story_x"); !IsNotFound(err) {
		t.Errorf("Get() error = %v, want not found", err)
	}
	list, err := svc.List(context.Background())
	if err != nil || list == nil || len(list) != 0 {
		t.Errorf("List() = %v, %v", list, err)
	}
	if svc.Persistent() {
		t.Error("Persistent() = true without a repository")
	}
}

func TestNewStoryID(t *testing.T) {
	now := time.Date(2025, 7, 16, 15, 30, 5, 0, time.UTC)
	a, b := NewStoryID(now), NewStoryID(now)
	if !strings.HasPrefix(a, "story_20250716_153005_") || !storyIDPattern.MatchString(a) {
		t.Errorf("NewStoryID() = %q", a)
	}
	if a == b {
		t.Error("story ids should be unique")
	}
}
