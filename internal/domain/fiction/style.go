package fiction

import "strings"

// StyleForGenre returns the writing style used for a genre.
func StyleForGenre(genre string) string {
	g := strings.ToLower(strings.TrimSpace(genre))
	switch {
	case strings.Contains(g, "fantasy"):
		return "Epic and descriptive"
	case strings.Contains(g, "mystery"):
		return "Suspenseful and atmospheric"
	case strings.Contains(g, "romance"):
		return "Intimate and emotional"
	case strings.Contains(g, "sci-fi"), strings.Contains(g, "science fiction"), strings.Contains(g, "scifi"):
		return "Technical and imaginative"
	default:
		return "Engaging and narrative"
	}
}

var toneRules = []struct {
	keywords []string
	tone     string
}{
	{[]string{"dark", "horror", "tragedy"}, "Dark and serious"},
	{[]string{"hope", "love", "redemption"}, "Hopeful and uplifting"},
	{[]string{"adventure", "exploration"}, "Exciting and adventurous"},
}

// ToneForThemes returns the narrative tone implied by a theme list. Rules are
// checked in order; the first rule with a matching theme wins.
func ToneForThemes(themes []string) string {
	for _, rule := range toneRules {
		for _, theme := range themes {
			t := strings.ToLower(theme)
			for _, kw := range rule.keywords {
				if strings.Contains(t, kw) {
					return rule.tone
				}
			}
		}
	}
	return "Balanced and engaging"
}
