package bible

import (
	"fmt"
	"strings"

	domain "github.com/dotcommander/storyweaver/internal/domain/fiction"
)

// Choice is a reader or author decision to fold into the story bible.
type Choice struct {
	Description string   `json:"description" yaml:"description"`
	Consequence string   `json:"consequence" yaml:"consequence"`
	Characters  []string `json:"characters,omitempty" yaml:"characters,omitempty"`
}

// PropagateChoice records choice as an event whose causal link depends on the
// last link of the outline's chain. It returns the stored event and a new
// outline whose chain ends with that link; the input outline is unchanged.
// The link takes the event id unless the outline or log already uses it.
func PropagateChoice(log *Log, outline domain.Outline, choice Choice) (Event, domain.Outline) {
	taken := make(map[string]bool)
	for _, l := range outline.CausalChains {
		taken[l.ID] = true
	}
	for _, l := range log.CausalLinks() {
		taken[l.ID] = true
	}

	link := domain.CausalLink{
		CauseDescription:  strings.TrimSpace(choice.Description),
		EffectDescription: strings.TrimSpace(choice.Consequence),
	}
	if n := len(outline.CausalChains); n > 0 {
		link.DependsOn = []string{outline.CausalChains[n-1].ID}
	}

	// The event id is only known once appended.
	stored := log.appendWith(Event{
		Kind:        KindChoice,
		Description: choice.Description,
		Characters:  choice.Characters,
	}, func(e *Event) {
		link.ID = choiceLinkID(e.ID, e.Sequence, taken)
		e.CausalLink = &link
	})

	updated := outline.Clone()
	updated.CausalChains = append(updated.CausalChains, domain.CloneLinks([]domain.CausalLink{link})...)

	log.logger.Info("propagated choice",
		"event_id", stored.ID,
		"depends_on", link.DependsOn)

	return stored, updated
}

// choiceLinkID returns eventID, or choice_<seq> when eventID is taken.
func choiceLinkID(eventID string, sequence int, taken map[string]bool) string {
	if !taken[eventID] {
		return eventID
	}
	id := fmt.Sprintf("choice_%d", sequence)
	for n := 2; taken[id]; n++ {
		id = fmt.Sprintf("choice_%d_%d", sequence, n)
	}
	return id
}

// appendWith appends e after letting fill adjust it with its assigned id.
func (l *Log) appendWith(e Event, fill func(*Event)) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored := e.clone()
	stored.Sequence = len(l.events) + 1
	stored.ID = eventID(stored.Sequence)
	if stored.Kind == "" {
		stored.Kind = KindEvent
	}
	if stored.RecordedAt.IsZero() {
		stored.RecordedAt = l.now()
	}
	fill(&stored)
	stored = stored.clone()
	l.events = append(l.events, stored)
	return stored.clone()
}
