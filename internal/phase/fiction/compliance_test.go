package fiction

import (
	"strings"
	"testing"
)

func TestCheckCompliance(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantIssues int
		wantIn     string
	}{
		{"clean", "Mara learned to swim before the winter storm.", 0, ""},
		{"violence against children", "The villain planned to MURDER the children of the village.", 1, "kill|murder|death"},
		{"sexual violence", "The scene alludes to rape.", 1, "rape|sexual assault"},
		{"self harm instructions", "He described suicide and how to do it.", 1, "self-harm|suicide"},
		{"word boundaries", "The skilled kidnapper escaped.", 0, ""},
		{"several patterns", "Death came for the kid. Later, a sexual assault.", 2, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := CheckCompliance(tt.text)

			if len(report.Issues) != tt.wantIssues {
				t.Fatalf("Issues = %v, want %d", report.Issues, tt.wantIssues)
			}
			if report.IsCompliant != (tt.wantIssues == 0) {
				t.Errorf("IsCompliant = %v", report.IsCompliant)
			}
			if tt.wantIssues == 0 && len(report.Recommendations) != 0 {
				t.Errorf("Recommendations = %v, want none", report.Recommendations)
			}
			if tt.wantIssues > 0 && (len(report.Recommendations) != 1 || report.Recommendations[0] != "Review content for sensitive themes") {
				t.Errorf("Recommendations = %v", report.Recommendations)
			}
			if tt.wantIn != "" && !strings.Contains(report.Issues[0], tt.wantIn) {
				t.Errorf("issue %q does not name pattern %q", report.Issues[0], tt.wantIn)
			}
			for _, issue := range report.Issues {
				if !strings.HasPrefix(issue, "Potentially harmful content detected: ") || strings.Contains(issue, "(?i)") {
					t.Errorf("issue = %q", issue)
				}
			}
		})
	}
}
