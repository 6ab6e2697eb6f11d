package fiction

import "regexp"

type harmfulPattern struct {
	source string
	re     *regexp.Regexp
}

var harmfulPatterns = compilePatterns(
	`\b(kill|murder|death)\b.*\b(child|kid|children)\b`,
	`\b(rape|sexual assault)\b`,
	`\b(self-harm|suicide)\b.*\b(method|how)\b`,
)

// compilePatterns matches case-insensitively; reports show the bare source.
func compilePatterns(sources ...string) []harmfulPattern {
	out := make([]harmfulPattern, len(sources))
	for i, src := range sources {
		out[i] = harmfulPattern{source: src, re: regexp.MustCompile(`(?i)` + src)}
	}
	return out
}

// ComplianceReport is the outcome of a content review. It is informational
// and never blocks a story.
type ComplianceReport struct {
	IsCompliant     bool     `json:"is_compliant"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// CheckCompliance scans text for potentially harmful content.
func CheckCompliance(text string) ComplianceReport {
	report := ComplianceReport{
		Issues:          []string{},
		Recommendations: []string{},
	}
	for _, p := range harmfulPatterns {
		if p.re.MatchString(text) {
			report.Issues = append(report.Issues, "Potentially harmful content detected: "+p.source)
		}
	}

	report.IsCompliant = len(report.Issues) == 0
	if !report.IsCompliant {
		report.Recommendations = append(report.Recommendations, "Review content for sensitive themes")
	}
	return report
}
