// Package causality checks the causal graph of an outline and analyzes the
// impact of story choices.
package causality

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
	"github.com/dotcommander/storyweaver/internal/phase"
)

// Result is the outcome of one consistency check.
type Result = domain.CausalReport

const (
	issueCycle        = "Circular causal dependencies detected"
	issueValidation   = "Validation failed"
	confidencePenalty = 0.1
)

// FailedResult is returned when a check cannot complete.
func FailedResult() Result {
	return Result{
		IsConsistent:    false,
		Issues:          []string{issueValidation},
		Suggestions:     []string{},
		ConfidenceScore: 0,
	}
}

// Checker validates causal chains. The zero value is not usable; use NewChecker.
type Checker struct {
	workers int
	logger  *slog.Logger
}

type Option func(*Checker)

// WithWorkers sets the concurrency of ValidateBatch
func WithWorkers(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger.With("component", "causal_checker")
		}
	}
}

func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		workers: 4,
		logger:  slog.Default().With("component", "causal_checker"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate checks chains for duplicate ids, dangling dependencies and
// cycles, and suggests links the descriptions imply but the chain lacks.
// Malformed input is reported in the result, never returned as an error.
func (c *Checker) Validate(chains []domain.CausalLink) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("causal validation panicked", "panic", r)
			result = FailedResult()
		}
	}()

	issues := []string{}
	suggestions := []string{}

	ids := make(map[string]bool, len(chains))
	for _, link := range chains {
		if ids[link.ID] {
			if !slices.Contains(issues, duplicateIssue(link.ID)) {
				issues = append(issues, duplicateIssue(link.ID))
			}
			continue
		}
		ids[link.ID] = true
	}

	for _, link := range chains {
		for _, dep := range link.DependsOn {
			if !ids[dep] {
				issues = append(issues, fmt.Sprintf("Inconsistent causality: %s -> %s", dep, link.ID))
			}
		}
	}

	if hasCycle(chains, ids) {
		issues = append(issues, issueCycle)
	}

	suggestions = append(suggestions, missingLinks(chains)...)

	result = Result{
		IsConsistent:    len(issues) == 0,
		Issues:          issues,
		Suggestions:     suggestions,
		ConfidenceScore: Confidence(len(issues)),
	}

	c.logger.Debug("validated causal chains",
		"links", len(chains),
		"issues", len(issues),
		"confidence", result.ConfidenceScore)

	return result
}

// Confidence maps an issue count to a score in [0, 1].
func Confidence(issueCount int) float64 {
	return max(0, 1-confidencePenalty*float64(issueCount))
}

func duplicateIssue(id string) string {
	return "Duplicate causal link id: " + id
}

// hasCycle runs a depth-first search over edges dep -> link. Dependencies
// that name no link are ignored here; they are reported as dangling.
func hasCycle(chains []domain.CausalLink, ids map[string]bool) bool {
	// Outgoing edges: from a dependency to every link that depends on it
	edges := make(map[string][]string, len(ids))
	order := make([]string, 0, len(ids))
	for _, link := range chains {
		if !slices.Contains(order, link.ID) {
			order = append(order, link.ID)
		}
		for _, dep := range link.DependsOn {
			if ids[dep] {
				edges[dep] = append(edges[dep], link.ID)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(ids))

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		for _, next := range edges[id] {
			switch state[next] {
			case visiting:
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		state[id] = visited
		return false
	}

	for _, id := range order {
		if state[id] == unvisited && visit(id) {
			return true
		}
	}
	return false
}

// missingLinks suggests A -> B when B's cause mentions A's effect but B does
// not depend on A.
func missingLinks(chains []domain.CausalLink) []string {
	var out []string
	for _, b := range chains {
		cause := strings.ToLower(b.CauseDescription)
		if cause == "" {
			continue
		}
		for _, a := range chains {
			effect := strings.ToLower(strings.TrimSpace(a.EffectDescription))
			if a.ID == b.ID || effect == "" {
				continue
			}
			if slices.Contains(b.DependsOn, a.ID) || slices.Contains(a.DependsOn, b.ID) {
				continue
			}
			if strings.Contains(cause, effect) {
				out = append(out, fmt.Sprintf("Consider adding causal link: %s -> %s (%s)", a.ID, b.ID, a.EffectDescription))
			}
		}
	}
	return out
}

type batchItem = phase.SimpleWorkItem[[]domain.CausalLink]

// ValidateBatch validates several stories concurrently. A story whose check
// cannot run gets FailedResult; the others are unaffected.
func (c *Checker) ValidateBatch(ctx context.Context, batches map[string][]domain.CausalLink) map[string]Result {
	storyIDs := make([]string, 0, len(batches))
	for id := range batches {
		storyIDs = append(storyIDs, id)
	}
	slices.Sort(storyIDs)

	items := make([]batchItem, len(storyIDs))
	for i, id := range storyIDs {
		items[i] = phase.NewSimpleWorkItem(id, 0, batches[id])
	}

	startTime := time.Now()
	pool := phase.NewWorkerPool[batchItem, Result](
		phase.WithWorkers(c.workers),
		phase.WithPoolLogger(c.logger),
	)
	results, errs := pool.ProcessWithSemaphore(ctx, items, func(ctx context.Context, item batchItem) (Result, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		return c.Validate(item.Data()), nil
	})

	out := make(map[string]Result, len(items))
	for i, item := range items {
		if errs[i] != nil {
			c.logger.Warn("causal validation skipped", "story_id", item.ID(), "error", errs[i])
			out[item.ID()] = FailedResult()
			continue
		}
		out[item.ID()] = results[i]
	}

	c.logger.Info("validated causal batch",
		"stories", len(items),
		"duration_ms", time.Since(startTime).Milliseconds())

	return out
}
