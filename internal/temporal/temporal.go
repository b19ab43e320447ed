// Package temporal resolves relative date phrases against a reference date.
//
// It turns expressions like "this weekend", "next Friday", "January 18-19"
// into concrete date ranges. Everything here is pure, with no I/O or clock reads,
// so callers always supply the reference date.
package temporal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Resolution is the outcome of resolving temporal phrases in a piece of text.
// ValidFrom/ValidTo are nil when no dated phrase was found. Ongoing marks
// open-ended states ("is away", "until further notice") that carry no end date.
type Resolution struct {
	ValidFrom     *time.Time
	ValidTo       *time.Time
	MatchedPhrase string
	Ongoing       bool
}

// dayNames maps day-name spellings to ISO weekday numbers (Monday=0..Sunday=6).
var dayNames = map[string]int{
	"monday": 0, "mon": 0,
	"tuesday": 1, "tue": 1, "tues": 1,
	"wednesday": 2, "wed": 2,
	"thursday": 3, "thu": 3, "thurs": 3,
	"friday": 4, "fri": 4,
	"saturday": 5, "sat": 5,
	"sunday": 6, "sun": 6,
}

var monthNames = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var (
	todayRE     = regexp.MustCompile(`\btoday\b`)
	tomorrowRE  = regexp.MustCompile(`\btomorrow\b`)
	yesterdayRE = regexp.MustCompile(`\byesterday\b`)

	inUnitsRE  = regexp.MustCompile(`in\s+(\d+)\s+(day|days|week|weeks|month|months)`)
	agoUnitsRE = regexp.MustCompile(`(\d+)\s+(day|days|week|weeks)\s+ago`)

	ongoingREs = []*regexp.Regexp{
		regexp.MustCompile(`\bis\s+away\b`),
		regexp.MustCompile(`\bis\s+on\s+vacation\b`),
		regexp.MustCompile(`\bis\s+traveling\b`),
		regexp.MustCompile(`\bis\s+visiting\b`),
		regexp.MustCompile(`\buntil\b`),
	}
)

var (
	monthAlt = monthAlternation()

	// "January 18-19" or "January 18 - 19", optional year
	rangeDashRE = regexp.MustCompile(`(` + monthAlt + `)\s+(\d{1,2})\s*[-–]\s*(\d{1,2})(?:,?\s*(\d{4}))?`)
	// "Jan 18 to Jan 19" or "January 18 to 19", optional year
	rangeToRE = regexp.MustCompile(`(` + monthAlt + `)\s+(\d{1,2})\s+to\s+(?:(` + monthAlt + `)\s+)?(\d{1,2})(?:,?\s*(\d{4}))?`)
	// "from January 18 to 19", optional year
	rangeFromRE = regexp.MustCompile(`from\s+(` + monthAlt + `)\s+(\d{1,2})\s+to\s+(\d{1,2})(?:,?\s*(\d{4}))?`)
	// "May 6", "May 6th, 2017"
	singleDateRE = regexp.MustCompile(`\b(` + monthAlt + `)\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s*(\d{4}))?\b`)
)

func monthAlternation() string {
	names := make([]string, 0, len(monthNames))
	for name := range monthNames {
		names = append(names, name)
	}
	return strings.Join(names, "|")
}

// isoWeekday returns the ISO weekday index for t (Monday=0..Sunday=6).
func isoWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// midnight truncates t to its date at 00:00 UTC.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Resolve scans text for the highest-priority temporal phrase and resolves it
// against reference. Priority order matters: "this weekend" must win over the
// bare weekday match inside it, and explicit ranges over single dates.
//
// Conventions (documented, deliberately consistent):
//   - "this weekend" on a Saturday or Sunday is the current weekend; on any
//     other day it is the coming Saturday/Sunday.
//   - "next <weekday>" and "next weekend" name the day within the ISO week
//     (Monday-based) after the reference week, never the reference week.
func Resolve(text string, reference time.Time) Resolution {
	ref := midnight(reference)
	lower := strings.ToLower(text)

	if strings.Contains(lower, "this weekend") {
		sat := thisSaturday(ref)
		sun := sat.AddDate(0, 0, 1)
		return span(sat, sun, "this weekend")
	}

	if strings.Contains(lower, "next weekend") {
		sat := nextMonday(ref).AddDate(0, 0, 5)
		sun := sat.AddDate(0, 0, 1)
		return span(sat, sun, "next weekend")
	}

	if todayRE.MatchString(lower) {
		return span(ref, ref, "today")
	}
	if tomorrowRE.MatchString(lower) {
		d := ref.AddDate(0, 0, 1)
		return span(d, d, "tomorrow")
	}
	if yesterdayRE.MatchString(lower) {
		d := ref.AddDate(0, 0, -1)
		return span(d, d, "yesterday")
	}

	if strings.Contains(lower, "this week") {
		monday := ref.AddDate(0, 0, -isoWeekday(ref))
		return span(monday, monday.AddDate(0, 0, 6), "this week")
	}
	if strings.Contains(lower, "next week") {
		monday := nextMonday(ref)
		return span(monday, monday.AddDate(0, 0, 6), "next week")
	}

	if res, ok := resolveWeekday(lower, ref); ok {
		return res
	}

	if res, ok := resolveDateRange(lower, ref); ok {
		return res
	}

	if m := singleDateRE.FindStringSubmatch(lower); m != nil {
		month := monthNames[m[1]]
		day, _ := strconv.Atoi(m[2])
		year := ref.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		if d, ok := makeDate(year, month, day); ok {
			return span(d, d, m[0])
		}
	}

	if m := inUnitsRE.FindStringSubmatch(lower); m != nil {
		amount, _ := strconv.Atoi(m[1])
		var d time.Time
		switch {
		case strings.HasPrefix(m[2], "day"):
			d = ref.AddDate(0, 0, amount)
		case strings.HasPrefix(m[2], "week"):
			d = ref.AddDate(0, 0, amount*7)
		default:
			// months approximated as 30 days
			d = ref.AddDate(0, 0, amount*30)
		}
		return span(d, d, m[0])
	}

	if m := agoUnitsRE.FindStringSubmatch(lower); m != nil {
		amount, _ := strconv.Atoi(m[1])
		var d time.Time
		if strings.HasPrefix(m[2], "day") {
			d = ref.AddDate(0, 0, -amount)
		} else {
			d = ref.AddDate(0, 0, -amount*7)
		}
		return span(d, d, m[0])
	}

	for _, re := range ongoingREs {
		if re.MatchString(lower) {
			return Resolution{Ongoing: true}
		}
	}

	return Resolution{}
}

// thisSaturday returns the Saturday of the weekend "this weekend" refers to.
func thisSaturday(ref time.Time) time.Time {
	switch isoWeekday(ref) {
	case 5: // Saturday
		return ref
	case 6: // Sunday, the weekend already started yesterday
		return ref.AddDate(0, 0, -1)
	default:
		return ref.AddDate(0, 0, 5-isoWeekday(ref))
	}
}

// nextMonday returns the Monday of the ISO week after ref's week.
func nextMonday(ref time.Time) time.Time {
	return ref.AddDate(0, 0, 7-isoWeekday(ref))
}

var weekdayPhraseRE = regexp.MustCompile(
	`\b(this|next|on)\s+(monday|mon|tuesday|tues|tue|wednesday|wed|thursday|thurs|thu|friday|fri|saturday|sat|sunday|sun)\b`)

func resolveWeekday(lower string, ref time.Time) (Resolution, bool) {
	m := weekdayPhraseRE.FindStringSubmatch(lower)
	if m == nil {
		return Resolution{}, false
	}
	target := dayNames[m[2]]

	var d time.Time
	switch m[1] {
	case "this":
		d = ref.AddDate(0, 0, (target-isoWeekday(ref)+7)%7)
	case "next":
		d = nextMonday(ref).AddDate(0, 0, target)
	default: // "on <weekday>": the next occurrence, never today
		ahead := (target - isoWeekday(ref) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		d = ref.AddDate(0, 0, ahead)
	}
	return span(d, d, m[0]), true
}

func resolveDateRange(lower string, ref time.Time) (Resolution, bool) {
	if m := rangeToRE.FindStringSubmatch(lower); m != nil {
		startMonth := monthNames[m[1]]
		startDay, _ := strconv.Atoi(m[2])
		endMonth := startMonth
		if m[3] != "" {
			endMonth = monthNames[m[3]]
		}
		endDay, _ := strconv.Atoi(m[4])
		year := ref.Year()
		if m[5] != "" {
			year, _ = strconv.Atoi(m[5])
		}
		from, ok1 := makeDate(year, startMonth, startDay)
		to, ok2 := makeDate(year, endMonth, endDay)
		if ok1 && ok2 {
			return span(from, to, m[0]), true
		}
	}

	for _, re := range []*regexp.Regexp{rangeDashRE, rangeFromRE} {
		if m := re.FindStringSubmatch(lower); m != nil {
			month := monthNames[m[1]]
			startDay, _ := strconv.Atoi(m[2])
			endDay, _ := strconv.Atoi(m[3])
			year := ref.Year()
			if m[4] != "" {
				year, _ = strconv.Atoi(m[4])
			}
			from, ok1 := makeDate(year, month, startDay)
			to, ok2 := makeDate(year, month, endDay)
			if ok1 && ok2 {
				return span(from, to, m[0]), true
			}
		}
	}
	return Resolution{}, false
}

// makeDate builds a date and rejects impossible combinations like February 30,
// which time.Date would silently normalize into March.
func makeDate(year int, month time.Month, day int) (time.Time, bool) {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if d.Month() != month || d.Day() != day {
		return time.Time{}, false
	}
	return d, true
}

func span(from, to time.Time, phrase string) Resolution {
	return Resolution{ValidFrom: &from, ValidTo: &to, MatchedPhrase: phrase}
}

// alreadyDatedRE detects an existing "(Month D" style annotation in content.
var alreadyDatedRE = regexp.MustCompile(`\(\w+\s+\d+`)

// Annotate resolves temporal phrases in content and, when a range was found,
// appends the concrete dates for clarity:
//
//	"Erin is away this weekend" -> "Erin is away this weekend (Jan 17-18, 2026)"
//
// Returns the (possibly annotated) content and the resolution.
func Annotate(content string, reference time.Time) (string, Resolution) {
	res := Resolve(content, reference)
	if res.ValidFrom == nil {
		return content, res
	}

	from, to := *res.ValidFrom, *res.ValidTo
	var dateStr string
	switch {
	case from.Equal(to):
		dateStr = from.Format("Jan 2, 2006")
	case from.Month() == to.Month() && from.Year() == to.Year():
		dateStr = fmt.Sprintf("%s-%d, %d", from.Format("Jan 2"), to.Day(), from.Year())
	default:
		dateStr = fmt.Sprintf("%s - %s", from.Format("Jan 2"), to.Format("Jan 2, 2006"))
	}

	if res.MatchedPhrase != "" && !alreadyDatedRE.MatchString(content) {
		content = strings.TrimRight(content, ".") + " (" + dateStr + ")"
	}
	return content, res
}
