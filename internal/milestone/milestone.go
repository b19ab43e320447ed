// Package milestone detects annual milestones (birthdays, memorials, wedding
// anniversaries) in fact content so the ingestion pipeline can create
// recurring calendar events for them.
package milestone

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the category of an annual milestone.
type Kind string

const (
	Birthday    Kind = "birthday"
	Memorial    Kind = "memorial"
	Anniversary Kind = "anniversary"
)

// Milestone is a detected annual occasion anchored to a month and day.
type Milestone struct {
	Kind        Kind
	EntityName  string // empty for generic anniversaries with no names
	Title       string
	Description string
	Month       int
	Day         int
	Year        int // 0 when the source text gave no year
}

// Pattern order matters: more specific phrasings come before looser ones, and
// reformulated forms ("Tom is my brother, born on December 25") have their own
// entries because the leading patterns anchor on the name.
var birthdayPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(\w+)\s+(?:was\s+)?born\s+(?:on\s+)?(.+)`),
	regexp.MustCompile(`(?i)^(\w+\s+\w+)\s+was\s+born\s+(?:on\s+)?(.+)`),
	regexp.MustCompile(`(?i)(\w+(?:\s+\w+)?)'s\s+birthday\s+is\s+(.+)`),
	regexp.MustCompile(`(?i)birthday[:\s]+(\w+(?:\s+\w+)?)\s+(?:on\s+)?(.+)`),
	regexp.MustCompile(`(?i)^(\w+)\s+is\s+(?:my|the|a)\s+\w+,?\s*born\s+(?:on\s+)?(.+)`),
	regexp.MustCompile(`(?i)^(\w+),\s*born\s+(?:on\s+)?(.+)`),
}

var memorialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\w+(?:\s+\w+)?)\s+(?:passed away|died)\s+(?:on\s+)?(.+)`),
	regexp.MustCompile(`(?i)(\w+(?:\s+\w+)?)\s+(?:passed away|died)\s+(?:in\s+)?(\d{4})`),
}

// The name groups are lazy so "Alice and Bob got married" splits on the
// "and" instead of the first group swallowing it.
var anniversaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\w+(?:\s+\w+)??)\s+and\s+(\w+(?:\s+\w+)??)\s+(?:got\s+)?married\s+(?:on\s+)?(.+)`),
	regexp.MustCompile(`(?i)(?:wedding|marriage)\s+anniversary[:\s]+(.+)`),
	regexp.MustCompile(`(?i)(\w+(?:\s+\w+)??)\s+and\s+(\w+(?:\s+\w+)??)'s\s+anniversary\s+is\s+(.+)`),
}

// months is ordered full-name-first so abbreviations never shadow the longer
// form when scanning date text.
var months = []struct {
	name string
	num  int
}{
	{"january", 1}, {"jan", 1},
	{"february", 2}, {"feb", 2},
	{"march", 3}, {"mar", 3},
	{"april", 4}, {"apr", 4},
	{"may", 5},
	{"june", 6}, {"jun", 6},
	{"july", 7}, {"jul", 7},
	{"august", 8}, {"aug", 8},
	{"september", 9}, {"sept", 9}, {"sep", 9},
	{"october", 10}, {"oct", 10},
	{"november", 11}, {"nov", 11},
	{"december", 12}, {"dec", 12},
}

var (
	slashDateRE = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4})\b`)
	isoDateRE   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)

	monthDateREs = func() []*regexp.Regexp {
		res := make([]*regexp.Regexp, len(months))
		for i, m := range months {
			res[i] = regexp.MustCompile(`\b` + m.name + `\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s*(\d{4}))?`)
		}
		return res
	}()
)

// parseDate extracts (month, day, year) from free text. Any component may be
// zero when absent; a bare year yields nothing usable for an annual event.
func parseDate(text string) (month, day, year int) {
	text = strings.ToLower(strings.TrimSpace(text))

	for i, m := range months {
		if match := monthDateREs[i].FindStringSubmatch(text); match != nil {
			day, _ = strconv.Atoi(match[1])
			if match[2] != "" {
				year, _ = strconv.Atoi(match[2])
			}
			return m.num, day, year
		}
	}

	if match := slashDateRE.FindStringSubmatch(text); match != nil {
		month, _ = strconv.Atoi(match[1])
		day, _ = strconv.Atoi(match[2])
		year, _ = strconv.Atoi(match[3])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			return month, day, year
		}
		return 0, 0, 0
	}

	if match := isoDateRE.FindStringSubmatch(text); match != nil {
		year, _ = strconv.Atoi(match[1])
		month, _ = strconv.Atoi(match[2])
		day, _ = strconv.Atoi(match[3])
		return month, day, year
	}

	return 0, 0, 0
}

// Detect reports whether content describes an annual milestone. Keyword
// gates keep the regex scans off ordinary facts.
func Detect(content string) (Milestone, bool) {
	lower := strings.ToLower(content)

	if strings.Contains(lower, "born") || strings.Contains(lower, "birthday") {
		for _, pat := range birthdayPatterns {
			match := pat.FindStringSubmatch(content)
			if match == nil {
				continue
			}
			name := strings.TrimSpace(match[1])
			month, day, year := parseDate(match[2])
			if month == 0 || day == 0 {
				continue
			}
			return Milestone{
				Kind:        Birthday,
				EntityName:  name,
				Title:       fmt.Sprintf("%s's Birthday", name),
				Description: fmt.Sprintf("Annual birthday celebration for %s", name),
				Month:       month,
				Day:         day,
				Year:        year,
			}, true
		}
	}

	if strings.Contains(lower, "passed away") || strings.Contains(lower, "died") || strings.Contains(lower, "death") {
		for _, pat := range memorialPatterns {
			match := pat.FindStringSubmatch(content)
			if match == nil {
				continue
			}
			name := strings.TrimSpace(match[1])
			month, day, year := parseDate(match[2])
			// A bare year is not enough to anchor an annual memorial.
			if month == 0 || day == 0 {
				continue
			}
			return Milestone{
				Kind:        Memorial,
				EntityName:  name,
				Title:       fmt.Sprintf("Remembering %s", name),
				Description: fmt.Sprintf("Memorial anniversary for %s", name),
				Month:       month,
				Day:         day,
				Year:        year,
			}, true
		}
	}

	if strings.Contains(lower, "married") || strings.Contains(lower, "wedding") || strings.Contains(lower, "anniversary") {
		for _, pat := range anniversaryPatterns {
			match := pat.FindStringSubmatch(content)
			if match == nil {
				continue
			}
			var title, dateText string
			if len(match) >= 4 {
				title = fmt.Sprintf("%s & %s's Anniversary", strings.TrimSpace(match[1]), strings.TrimSpace(match[2]))
				dateText = match[3]
			} else {
				title = "Wedding Anniversary"
				dateText = match[1]
			}
			month, day, year := parseDate(dateText)
			if month == 0 || day == 0 {
				continue
			}
			return Milestone{
				Kind:        Anniversary,
				Title:       title,
				Description: "Annual wedding anniversary celebration",
				Month:       month,
				Day:         day,
				Year:        year,
			}, true
		}
	}

	return Milestone{}, false
}

// RRule renders the annual recurrence rule for calendar storage.
func (m Milestone) RRule() string {
	return fmt.Sprintf("FREQ=YEARLY;BYMONTH=%d;BYMONTHDAY=%d", m.Month, m.Day)
}

// NextOccurrence returns the next calendar date of the milestone on or after
// today. A date that already passed this year rolls to next year; today
// itself counts as upcoming.
func (m Milestone) NextOccurrence(today time.Time) time.Time {
	y, mo, d := today.Date()
	ref := time.Date(y, mo, d, 0, 0, 0, 0, today.Location())
	this := time.Date(y, time.Month(m.Month), m.Day, 0, 0, 0, 0, today.Location())
	if this.Before(ref) {
		return time.Date(y+1, time.Month(m.Month), m.Day, 0, 0, 0, 0, today.Location())
	}
	return this
}
