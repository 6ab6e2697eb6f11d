// Package bible records story-bible changes as an append-only event log.
// Character states, relationships and causal links are derived from the
// events on read and never stored separately.
package bible

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
)

// Kind categorizes an event
type Kind string

const (
	KindEvent          Kind = "event"
	KindChoice         Kind = "choice"
	KindCharacterState Kind = "character_state"
	KindRelationship   Kind = "relationship"
)

type Relationship struct {
	From        string `json:"from" yaml:"from"`
	To          string `json:"to" yaml:"to"`
	Kind        string `json:"kind" yaml:"kind"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Event is one immutable entry in the log. ID and Sequence are assigned on
// Append.
type Event struct {
	ID             string             `json:"id"`
	Sequence       int                `json:"sequence"`
	Kind           Kind               `json:"kind"`
	Description    string             `json:"description"`
	Characters     []string           `json:"characters,omitempty"`
	Relationship   *Relationship      `json:"relationship,omitempty"`
	CausalLink     *domain.CausalLink `json:"causal_link,omitempty"`
	CharacterState map[string]string  `json:"character_state,omitempty"`
	RecordedAt     time.Time          `json:"recorded_at"`
}

func (e Event) clone() Event {
	c := e
	c.Characters = slices.Clone(e.Characters)
	if e.Relationship != nil {
		r := *e.Relationship
		c.Relationship = &r
	}
	if e.CausalLink != nil {
		l := domain.CloneLinks([]domain.CausalLink{*e.CausalLink})[0]
		c.CausalLink = &l
	}
	c.CharacterState = maps.Clone(e.CharacterState)
	return c
}

// Log is safe for concurrent use.
type Log struct {
	mu     sync.RWMutex
	events []Event
	now    func() time.Time
	logger *slog.Logger
}

// NewLog creates a log, optionally replaying previously persisted events.
// Replayed events must carry contiguous sequences starting at 1.
func NewLog(events ...Event) (*Log, error) {
	l := &Log{
		now:    time.Now,
		logger: slog.Default().With("component", "story_bible"),
	}
	for i, e := range events {
		if e.Sequence != i+1 {
			return nil, fmt.Errorf("replaying event %s: sequence %d, want %d", e.ID, e.Sequence, i+1)
		}
		l.events = append(l.events, e.clone())
	}
	return l, nil
}

// Append records e and returns the stored copy with its ID and timestamp set.
func (l *Log) Append(e Event) Event {
	stored := l.appendWith(e, func(*Event) {})

	l.logger.Debug("event appended",
		"event_id", stored.ID,
		"kind", stored.Kind)

	return stored
}

func eventID(sequence int) string {
	return fmt.Sprintf("event_%d", sequence)
}

// Events returns a copy of every event in append order
func (l *Log) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, len(l.events))
	for i, e := range l.events {
		out[i] = e.clone()
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// CharacterStates folds character state events into the latest attribute
// values per character.
func (l *Log) CharacterStates() map[string]map[string]string {
	states := make(map[string]map[string]string)
	for _, e := range l.Events() {
		if len(e.CharacterState) == 0 {
			continue
		}
		for _, name := range e.Characters {
			if states[name] == nil {
				states[name] = make(map[string]string)
			}
			maps.Copy(states[name], e.CharacterState)
		}
	}
	return states
}

// Relationships returns the latest relationship per unordered character
// pair, ordered by first appearance.
func (l *Log) Relationships() []Relationship {
	var order []string
	latest := make(map[string]Relationship)
	for _, e := range l.Events() {
		if e.Relationship == nil {
			continue
		}
		key := pairKey(e.Relationship.From, e.Relationship.To)
		if _, ok := latest[key]; !ok {
			order = append(order, key)
		}
		latest[key] = *e.Relationship
	}

	out := make([]Relationship, 0, len(order))
	for _, key := range order {
		out = append(out, latest[key])
	}
	return out
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

// CausalLinks returns the links recorded by events in append order
func (l *Log) CausalLinks() []domain.CausalLink {
	var links []domain.CausalLink
	for _, e := range l.Events() {
		if e.CausalLink != nil {
			links = append(links, *e.CausalLink)
		}
	}
	return links
}
