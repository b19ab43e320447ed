package ingest

import (
	"regexp"
	"strings"
)

// Tier 1 covers medical, financial, and secret material; tier 2 covers
// personal details like preferences and contact info. Everything else
// defaults to tier 3 (shared).
var (
	tier1Keywords = []string{
		"medical", "doctor", "hospital", "health", "diagnosis", "prescription",
		"financial", "salary", "bank", "debt", "loan", "tax", "income",
		"private", "secret", "confidential", "password", "ssn", "social security",
	}
	tier2Keywords = []string{
		"grade", "score", "test result", "preference", "favorite",
		"phone number", "email", "address", "birthday", "age",
	}
)

// ClassifyVisibility picks a visibility tier for fact content by keyword.
func ClassifyVisibility(content string) int {
	lower := strings.ToLower(content)
	for _, kw := range tier1Keywords {
		if strings.Contains(lower, kw) {
			return 1
		}
	}
	for _, kw := range tier2Keywords {
		if strings.Contains(lower, kw) {
			return 2
		}
	}
	return 3
}

var (
	criticalKeywords  = []string{"urgent", "emergency", "critical", "asap", "immediately"}
	importantKeywords = []string{"important", "deadline", "due", "must", "required"}

	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}\b`),
	}
)

// AssignImportance scores fact content 1-5 by keyword. Dated content and
// everything unmatched land on the default of 3.
func AssignImportance(content string) int {
	lower := strings.ToLower(content)
	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			return 5
		}
	}
	for _, kw := range importantKeywords {
		if strings.Contains(lower, kw) {
			return 4
		}
	}
	for _, re := range datePatterns {
		if re.MatchString(lower) {
			return 3
		}
	}
	return 3
}

var tagKeywords = []struct {
	tag      string
	keywords []string
}{
	{"domain/work", []string{"work", "office", "meeting", "project", "colleague", "boss", "client"}},
	{"domain/family", []string{"family", "mom", "dad", "sister", "brother", "child", "parent", "spouse", "wife", "husband"}},
	{"domain/personal", []string{"hobby", "favorite", "like", "enjoy", "personal", "i am", "i'm"}},
	{"temporal/anniversary", []string{"birthday", "anniversary"}},
	{"temporal/deadline", []string{"deadline", "due"}},
}

// SuggestTags proposes hierarchical tag paths for fact content. Content
// matching nothing gets domain/personal.
func SuggestTags(content string) []string {
	lower := strings.ToLower(content)
	var tags []string
	for _, tk := range tagKeywords {
		for _, kw := range tk.keywords {
			if strings.Contains(lower, kw) {
				tags = append(tags, tk.tag)
				break
			}
		}
	}
	if len(tags) == 0 {
		tags = append(tags, "domain/personal")
	}
	return tags
}
