// Package fiction holds the narrative data model shared by every pipeline stage.
package fiction

import (
	"fmt"
	"slices"
	"strings"
)

// Outline is the structured plan of a story. Components treat an Outline as
// immutable; refinement produces a new value.
type Outline struct {
	Title           string       `json:"title" validate:"required"`
	Genre           string       `json:"genre"`
	Characters      []Character  `json:"characters" validate:"dive"`
	PlotSummary     string       `json:"plot_summary"`
	Scenes          []SceneSpec  `json:"scenes" validate:"required,min=1,dive"`
	CausalChains    []CausalLink `json:"causal_chains" validate:"dive"`
	Themes          []string     `json:"themes"`
	EstimatedLength string       `json:"estimated_length,omitempty"`
}

type Character struct {
	Name   string   `json:"name" validate:"required"`
	Role   string   `json:"role"`
	Traits []string `json:"traits"`
}

// SceneSpec describes one planned scene.
type SceneSpec struct {
	Index       int    `json:"index"`
	Description string `json:"description" validate:"required"`
	Purpose     string `json:"purpose"`
}

// CausalLink is one edge in the story's causal graph. DependsOn lists the ids
// of links that must precede this one.
type CausalLink struct {
	ID                string   `json:"id" validate:"required"`
	CauseDescription  string   `json:"cause"`
	EffectDescription string   `json:"effect"`
	DependsOn         []string `json:"depends_on"`
}

// SceneCount returns the number of planned scenes
func (o Outline) SceneCount() int {
	return len(o.Scenes)
}

// Clone returns a deep copy so callers can derive a new Outline without
// touching the original.
func (o Outline) Clone() Outline {
	c := o
	c.Characters = make([]Character, len(o.Characters))
	for i, ch := range o.Characters {
		ch.Traits = slices.Clone(ch.Traits)
		c.Characters[i] = ch
	}
	c.Scenes = slices.Clone(o.Scenes)
	c.CausalChains = CloneLinks(o.CausalChains)
	c.Themes = slices.Clone(o.Themes)
	return c
}

// Normalize renumbers scenes 0..n-1 in declared order and deduplicates
// character traits and themes while keeping first-seen order.
func (o Outline) Normalize() Outline {
	c := o.Clone()
	for i := range c.Scenes {
		c.Scenes[i].Index = i
	}
	for i := range c.Characters {
		c.Characters[i].Traits = dedupe(c.Characters[i].Traits, strings.ToLower)
	}
	c.Themes = dedupe(c.Themes, strings.ToLower)
	for i := range c.CausalChains {
		c.CausalChains[i].DependsOn = dedupe(c.CausalChains[i].DependsOn, nil)
	}
	return c
}

// CloneLinks deep-copies a causal chain list.
func CloneLinks(links []CausalLink) []CausalLink {
	if links == nil {
		return nil
	}
	out := make([]CausalLink, len(links))
	for i, l := range links {
		l.DependsOn = slices.Clone(l.DependsOn)
		out[i] = l
	}
	return out
}

// dedupe drops blanks and repeats. fold, when set, maps values to the key
// used for equality.
func dedupe(values []string, fold func(string) string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.TrimSpace(v)
		if fold != nil {
			key = fold(key)
		}
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

// SceneText is one written scene.
type SceneText struct {
	Index     int    `json:"index"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
}

// Draft is prose organised into ordered scenes. A revision produces a new Draft.
type Draft struct {
	Title        string      `json:"title"`
	WritingStyle string      `json:"writing_style"`
	Tone         string      `json:"tone"`
	Scenes       []SceneText `json:"scenes"`
	FullText     string      `json:"full_text"`
	WordCount    int         `json:"word_count"`
}

// NewDraft builds a Draft from ordered scene texts, numbering scenes from zero
// and deriving word counts and the joined full text.
func NewDraft(title, style, tone string, texts []string) Draft {
	scenes := make([]SceneText, len(texts))
	total := 0
	for i, text := range texts {
		words := CountWords(text)
		scenes[i] = SceneText{Index: i, Text: text, WordCount: words}
		total += words
	}
	return Draft{
		Title:        title,
		WritingStyle: style,
		Tone:         tone,
		Scenes:       scenes,
		FullText:     strings.Join(texts, "\n\n"),
		WordCount:    total,
	}
}

// Texts returns the scene texts in index order
func (d Draft) Texts() []string {
	texts := make([]string, len(d.Scenes))
	for i, s := range d.Scenes {
		texts[i] = s.Text
	}
	return texts
}

// WithTexts returns a new Draft sharing metadata with d but carrying texts.
func (d Draft) WithTexts(texts []string) Draft {
	return NewDraft(d.Title, d.WritingStyle, d.Tone, texts)
}

// CountWords counts whitespace-separated words
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// QualityMetrics is one evaluation of a draft. Degraded is set when the
// evaluator could not score the draft and returned its neutral fallback.
type QualityMetrics struct {
	Coherence            float64  `json:"coherence"`
	Engagement           float64  `json:"engagement"`
	CharacterConsistency float64  `json:"character_consistency"`
	Pacing               float64  `json:"pacing"`
	LanguageQuality      float64  `json:"language_quality"`
	CausalIntegrity      float64  `json:"causal_integrity"`
	OverallScore         float64  `json:"overall_score"`
	IssuesFound          []string `json:"issues_found"`
	Suggestions          []string `json:"suggestions"`
	Degraded             bool     `json:"degraded,omitempty"`
}

// Length is the requested story length.
type Length string

const (
	LengthShortStory Length = "short_story"
	LengthNovella    Length = "novella"
	LengthNovel      Length = "novel"
)

// ParseLength maps a string to a Length. An empty string selects short_story.
func ParseLength(s string) (Length, error) {
	switch Length(strings.ToLower(strings.TrimSpace(s))) {
	case "", LengthShortStory:
		return LengthShortStory, nil
	case LengthNovella:
		return LengthNovella, nil
	case LengthNovel:
		return LengthNovel, nil
	default:
		return "", fmt.Errorf("unknown target length %q", s)
	}
}

// TargetScenes returns the scene count for the length, or 0 if unknown.
func (l Length) TargetScenes() int {
	switch l {
	case LengthShortStory:
		return 15
	case LengthNovella:
		return 30
	case LengthNovel:
		return 60
	default:
		return 0
	}
}

// Valid reports whether l is a known length
func (l Length) Valid() bool {
	return l.TargetScenes() > 0
}

// CausalReport is the outcome of a causal consistency check.
type CausalReport struct {
	IsConsistent    bool     `json:"is_consistent"`
	Issues          []string `json:"issues"`
	Suggestions     []string `json:"suggestions"`
	ConfidenceScore float64  `json:"confidence_score"`
}
