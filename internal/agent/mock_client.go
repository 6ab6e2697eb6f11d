package agent

import (
	"context"
	"regexp"
	"sync"
)

// MockCall records one Generate invocation
type MockCall struct {
	Task              string
	SystemInstruction string
	UserInstruction   string
	Options           GenerateOptions
}

type mockReply struct {
	text string
	err  error
}

// MockClient provides deterministic responses for tests and offline runs.
// Scripted replies are consumed per task in order; once a task's script is
// exhausted its default fixture is returned.
type MockClient struct {
	mu       sync.Mutex
	scripts  map[string][]mockReply
	fixtures map[string]string
	calls    []MockCall
	handler  GeneratorFunc
	failAll  error
}

// NewMockClient creates a mock generator with fixtures for every task
func NewMockClient() *MockClient {
	return &MockClient{
		scripts: make(map[string][]mockReply),
		fixtures: map[string]string{
			TaskOutlinePlan.Name:   mockOutline,
			TaskOutlineRefine.Name: mockRefinedOutline,
			TaskCausalHorizon.Name: mockHorizon,
			TaskChoiceImpact.Name:  mockChoiceImpact,
			TaskSceneWrite.Name:    mockScene,
			TaskSceneRevise.Name:   mockRevisedScene,
			TaskDraftEvaluate.Name: mockEvaluation,
		},
	}
}

// Respond queues replies for a task
func (m *MockClient) Respond(task Task, responses ...string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range responses {
		m.scripts[task.Name] = append(m.scripts[task.Name], mockReply{text: r})
	}
	return m
}

// Fail queues an error for the next call of a task
func (m *MockClient) Fail(task Task, err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[task.Name] = append(m.scripts[task.Name], mockReply{err: err})
	return m
}

// FailAll makes every call fail with err
func (m *MockClient) FailAll(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
	return m
}

// SetFixture replaces the default reply of a task
func (m *MockClient) SetFixture(task Task, response string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixtures[task.Name] = response
	return m
}

// HandleWith routes every call through fn instead of scripts and fixtures
func (m *MockClient) HandleWith(fn GeneratorFunc) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
	return m
}

// Calls returns a copy of the recorded calls
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of calls recorded for a task
func (m *MockClient) CallCount(task Task) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Task == task.Name {
			n++
		}
	}
	return n
}

// Generate returns the next scripted reply for the detected task
func (m *MockClient) Generate(ctx context.Context, systemInstruction, userInstruction string, opts GenerateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	task := detectTask(systemInstruction)

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{
		Task:              task,
		SystemInstruction: systemInstruction,
		UserInstruction:   userInstruction,
		Options:           opts,
	})
	handler := m.handler
	failAll := m.failAll
	var reply *mockReply
	if queue := m.scripts[task]; len(queue) > 0 {
		reply = &queue[0]
		m.scripts[task] = queue[1:]
	}
	fixture, hasFixture := m.fixtures[task]
	m.mu.Unlock()

	switch {
	case failAll != nil:
		return "", failAll
	case handler != nil:
		return handler(ctx, systemInstruction, userInstruction, opts)
	case reply != nil:
		return reply.text, reply.err
	case hasFixture:
		return fixture, nil
	default:
		return `{"message": "Mock response"}`, nil
	}
}

var taskPattern = regexp.MustCompile(`(?m)^Task: ([a-z_]+)\s*$`)

// detectTask extracts the task name every prompt template declares
func detectTask(systemInstruction string) string {
	if m := taskPattern.FindStringSubmatch(systemInstruction); m != nil {
		return m[1]
	}
	return "unknown"
}

const mockOutline = `{
  "title": "The Lighthouse Keeper's Daughter",
  "genre": "literary",
  "characters": [
    {"name": "Mara", "role": "protagonist", "traits": ["curious", "stubborn"]},
    {"name": "Tobias", "role": "mentor", "traits": ["patient", "weathered"]}
  ],
  "plot_summary": "Mara learns that the sea she fears is also the sea that feeds her village.",
  "scenes": [
    {"index": 0, "description": "Mara refuses to go near the water during the festival.", "purpose": "Establish fear"},
    {"index": 1, "description": "Tobias offers to teach her to swim at dawn.", "purpose": "Call to change"},
    {"index": 2, "description": "A storm forces Mara to swim to save her brother.", "purpose": "Climax and growth"}
  ],
  "causal_chains": [
    {"id": "e1", "cause": "Mara's mother drowned years ago", "effect": "Mara fears the water", "depends_on": []},
    {"id": "e2", "cause": "Mara fears the water", "effect": "Tobias offers lessons", "depends_on": ["e1"]},
    {"id": "e3", "cause": "Tobias offers lessons", "effect": "Mara can swim when the storm comes", "depends_on": ["e2"]}
  ],
  "themes": ["courage", "grief", "hope"],
  "estimated_length": "short_story"
}`

const mockRefinedOutline = `{
  "title": "The Lighthouse Keeper's Daughter (Revised)",
  "genre": "literary",
  "characters": [
    {"name": "Mara", "role": "protagonist", "traits": ["curious", "stubborn", "brave"]},
    {"name": "Tobias", "role": "mentor", "traits": ["patient"]}
  ],
  "plot_summary": "Mara confronts her grief and learns to swim before the winter storm.",
  "scenes": [
    {"index": 0, "description": "Mara watches the festival from the cliffs.", "purpose": "Establish fear"},
    {"index": 1, "description": "Dawn lessons with Tobias.", "purpose": "Growth"},
    {"index": 2, "description": "The storm and the rescue.", "purpose": "Climax"}
  ],
  "causal_chains": [
    {"id": "r1", "cause": "A new cause", "effect": "A new effect", "depends_on": []}
  ],
  "themes": ["courage", "hope"],
  "estimated_length": "short_story"
}`

const mockHorizon = `{
  "consequences": [
    {"description": "The village learns Mara can swim", "likelihood": 0.8, "scene_offset": 1},
    {"description": "Mara joins the fishing crews", "likelihood": 0.5, "scene_offset": 6}
  ]
}`

const mockChoiceImpact = `{
  "immediate_consequences": ["Mara reaches her brother"],
  "long_term_effects": ["Mara overcomes her fear of the sea"],
  "alternative_paths": ["Tobias swims instead and is injured"],
  "butterfly_effects": ["The festival is renamed in Mara's honor"]
}`

const mockScene = `The wind came off the water in long salt breaths, and Mara stood where the grass gave way to stone. Below her the festival lanterns bobbed on the harbor like tethered stars. She could hear the laughter, the splash of children daring each other into the shallows, and she kept her hands in her pockets so no one would see them shake.`

const mockRevisedScene = `Salt wind rolled up the cliff in slow breaths, and Mara planted her feet where the grass surrendered to stone. Lanterns drifted on the harbor below, tethered stars that rose and fell with the swell. Children shrieked in the shallows, daring one another deeper, and she buried her trembling hands in her pockets before anyone could notice.`

const mockEvaluation = `{
  "coherence_score": 0.9,
  "engagement_score": 0.88,
  "character_consistency": 0.9,
  "pacing_score": 0.86,
  "language_quality": 0.92,
  "causal_integrity": 0.9,
  "issues_found": [],
  "suggestions": ["Consider deepening Tobias's backstory"]
}`
