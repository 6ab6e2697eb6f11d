package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// NamingStrategy defines how exported story directories are named
type NamingStrategy int

const (
	// NameByID uses the story id (default)
	NameByID NamingStrategy = iota
	// NameByTimestamp uses export time + story id suffix
	NameByTimestamp
	// NameDescriptive uses export time + sanitized prompt snippet + story id suffix
	NameDescriptive
)

// ParseNamingStrategy maps a config value to a NamingStrategy
func ParseNamingStrategy(s string) NamingStrategy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "timestamp":
		return NameByTimestamp
	case "descriptive":
		return NameDescriptive
	default:
		return NameByID
	}
}

// StoryPath returns the export directory for a story under baseDir.
func StoryPath(baseDir, storyID, prompt string, strategy NamingStrategy) string {
	return storyPathAt(baseDir, storyID, prompt, strategy, time.Now())
}

func storyPathAt(baseDir, storyID, prompt string, strategy NamingStrategy, now time.Time) string {
	switch strategy {
	case NameByTimestamp:
		// Format: 2025-07-16_1530_82f06b15
		return filepath.Join(baseDir, "stories", fmt.Sprintf("%s_%s", now.Format("2006-01-02_1504"), shortID(storyID)))

	case NameDescriptive:
		// Format: 2025-07-16_1530_lighthouse-keepers-daughter_82f06b15
		sanitized := sanitizeForFilename(prompt, 30)
		return filepath.Join(baseDir, "stories", fmt.Sprintf("%s_%s_%s", now.Format("2006-01-02_1504"), sanitized, shortID(storyID)))

	default:
		return filepath.Join(baseDir, "stories", sanitizeForFilename(storyID, 64))
	}
}

// shortID returns the trailing random component of a story id
func shortID(storyID string) string {
	if i := strings.LastIndex(storyID, "_"); i >= 0 && i < len(storyID)-1 {
		return storyID[i+1:]
	}
	if len(storyID) > 8 {
		return storyID[:8]
	}
	return storyID
}

// sanitizeForFilename converts a string to a safe filename component
func sanitizeForFilename(s string, maxLen int) string {
	s = strings.ToLower(s)

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '/', r == '\\', r == ':', r == '.':
			b.WriteRune('-')
		}
	}
	s = b.String()

	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")

	if len(s) > maxLen {
		s = strings.TrimRight(s[:maxLen], "-")
	}

	if s == "" {
		s = "story"
	}

	return s
}
