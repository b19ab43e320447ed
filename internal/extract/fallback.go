package extract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// relationshipPattern binds a phrasing to the relationship it implies.
// possessiveGuard rejects matches preceded by "'s " so "my daughter's
// daughter" is claimed by the compound patterns, not the direct ones.
type relationshipPattern struct {
	re              *regexp.Regexp
	relationship    string
	entityType      string
	possessiveGuard bool
}

// relationshipPatterns is ordered most-specific-first: compound possessive
// forms ("my daughter's daughter is Isla" means granddaughter) must win
// before the direct forms get a chance at the inner word.
var relationshipPatterns = []relationshipPattern{
	{re: regexp.MustCompile(`(?i)\bmy\s+(?:daughter|son)'s\s+daughter\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "granddaughter", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\bmy\s+(?:daughter|son)'s\s+son\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "grandson", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\bmy\s+(?:daughter|son)'s\s+(?:child|kid)\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "grandchild", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\bmy\s+(?:mother|father)'s\s+(?:mother|mom)\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "great-grandmother", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\bmy\s+(?:mother|father)'s\s+(?:father|dad)\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "great-grandfather", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\bmy\s+brother's\s+(?:wife|spouse)\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "sister-in-law", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\bmy\s+sister's\s+(?:husband|spouse)\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "brother-in-law", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\bmy\s+(?:brother|sister)'s\s+daughter\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "niece", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\bmy\s+(?:brother|sister)'s\s+son\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "nephew", entityType: "person"},

	{re: regexp.MustCompile(`(?i)(?:my\s+)?(?:father|dad|daddy)\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "father", entityType: "person", possessiveGuard: true},
	{re: regexp.MustCompile(`(?i)(?:my\s+)?(?:mother|mom|mommy|mum)\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "mother", entityType: "person", possessiveGuard: true},
	{re: regexp.MustCompile(`(?i)(?:my\s+)?brother\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "brother", entityType: "person", possessiveGuard: true},
	{re: regexp.MustCompile(`(?i)(?:my\s+)?sister\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "sister", entityType: "person", possessiveGuard: true},
	{re: regexp.MustCompile(`(?i)(?:my\s+)?son\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "son", entityType: "person", possessiveGuard: true},
	{re: regexp.MustCompile(`(?i)(?:my\s+)?daughter\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "daughter", entityType: "person", possessiveGuard: true},
	{re: regexp.MustCompile(`(?i)(?:my\s+)?(?:wife|spouse)\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "wife", entityType: "person", possessiveGuard: true},
	{re: regexp.MustCompile(`(?i)(?:my\s+)?husband\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "husband", entityType: "person", possessiveGuard: true},

	{re: regexp.MustCompile(`(?i)\b(?:my\s+)?granddaughter\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "granddaughter", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\b(?:my\s+)?grandson\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "grandson", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\b(?:my\s+)?grandchild\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "grandchild", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\b(?:my\s+)?(?:grandfather|grandpa)\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "grandfather", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\b(?:my\s+)?(?:grandmother|grandma)\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "grandmother", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\b(?:my\s+)?uncle\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "uncle", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\b(?:my\s+)?aunt\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "aunt", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\b(?:my\s+)?cousin\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "cousin", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\b(?:my\s+)?niece\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "niece", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\b(?:my\s+)?nephew\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "nephew", entityType: "person"},

	{re: regexp.MustCompile(`(?i)\b(?:my\s+)?friend\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "friend", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\b(?:my\s+)?(?:boss|manager)\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "boss", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\b(?:my\s+)?(?:colleague|coworker)\s+(?:is\s+|named\s+)?([A-Z][a-z]+)`), relationship: "colleague", entityType: "person"},

	// "I had a father Lindsay" phrasing.
	{re: regexp.MustCompile(`(?i)\ba\s+(?:father|dad)\s+(?:named\s+)?([A-Z][a-z]+)`), relationship: "father", entityType: "person"},
	{re: regexp.MustCompile(`(?i)\ba\s+(?:mother|mom)\s+(?:named\s+)?([A-Z][a-z]+)`), relationship: "mother", entityType: "person"},
}

// eventPattern recognizes things that happened to a named person.
// The "that" connector catches phrases like "father Lindsay that died in 2012".
type eventPattern struct {
	re        *regexp.Regexp
	eventType string
}

var eventPatterns = []eventPattern{
	{re: regexp.MustCompile(`(?i)([A-Z][a-z]+)\s+(?:that\s+)?(?:who\s+)?(?:died|passed away|passed)\s+(?:in\s+)?(\d{4})`), eventType: "death"},
	{re: regexp.MustCompile(`(?i)([A-Z][a-z]+)\s+was\s+born\s+(?:in\s+)?(\d{4})`), eventType: "birth"},
	{re: regexp.MustCompile(`(?i)([A-Z][a-z]+)\s+(?:married|got married)\s*(?:in\s+(\d{4}))?`), eventType: "marriage"},
	{re: regexp.MustCompile(`(?i)([A-Z][a-z]+)\s+retired\s*(?:in\s+(\d{4}))?`), eventType: "retirement"},
	{re: regexp.MustCompile(`(?i)([A-Z][a-z]+)\s+(?:started|began)\s+(?:working|work)\s+at\s+([A-Z]\w+(?:\s+[A-Z]\w+)*)(?:\s+in\s+(\d{4}))?`), eventType: "career"},
	{re: regexp.MustCompile(`(?i)([A-Z][a-z]+)\s+graduated(?:\s+from\s+([A-Z]\w+(?:\s+[A-Z]\w+)*))?(?:\s+in\s+(\d{4}))?`), eventType: "education"},
}

var capitalizedNameRE = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)\b`)

var commonWords = map[string]struct{}{
	"The": {}, "This": {}, "That": {}, "What": {}, "When": {},
	"Where": {}, "How": {}, "Why": {}, "I": {}, "My": {},
}

// startsUpper reports whether a captured name is actually capitalized.
// The patterns run case-insensitively, so the capture alone does not
// guarantee it.
func startsUpper(name string) bool {
	for _, r := range name {
		return unicode.IsUpper(r)
	}
	return false
}

// precededByPossessive reports whether the text just before offset ends with
// a possessive marker. Stands in for a lookbehind, which RE2 lacks.
func precededByPossessive(content string, offset int) bool {
	return strings.HasSuffix(strings.ToLower(content[:offset]), "'s ")
}

// SplitFallback breaks a message into atomic facts using the pattern tables.
// It always returns at least one fact: when nothing structured matches, the
// whole message becomes a single general fact.
func SplitFallback(content string) []Fact {
	var facts []Fact
	seen := map[string]struct{}{}

	add := func(f Fact) {
		if _, dup := seen[f.Content]; dup {
			return
		}
		seen[f.Content] = struct{}{}
		facts = append(facts, f)
	}

	for _, p := range relationshipPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(content, -1) {
			if p.possessiveGuard && precededByPossessive(content, loc[0]) {
				continue
			}
			name := content[loc[2]:loc[3]]
			if !startsUpper(name) {
				continue
			}
			add(Fact{
				Content:      fmt.Sprintf("%s is my %s", name, p.relationship),
				Type:         "relationship",
				EntityName:   name,
				EntityType:   p.entityType,
				Relationship: p.relationship,
			})
		}
	}

	for _, p := range eventPatterns {
		for _, match := range p.re.FindAllStringSubmatch(content, -1) {
			name := match[1]
			if !startsUpper(name) {
				continue
			}
			year := ""
			if len(match) > 2 {
				year = match[len(match)-1]
			}
			var text string
			switch p.eventType {
			case "death":
				text = fmt.Sprintf("%s passed away in %s", name, year)
			case "birth":
				text = fmt.Sprintf("%s was born in %s", name, year)
			case "marriage":
				text = fmt.Sprintf("%s got married", name)
				if year != "" {
					text += " in " + year
				}
			case "retirement":
				text = fmt.Sprintf("%s retired", name)
				if year != "" {
					text += " in " + year
				}
			case "career":
				text = fmt.Sprintf("%s started working at %s", name, match[2])
				if year != "" {
					text += " in " + year
				}
			case "education":
				text = fmt.Sprintf("%s graduated", name)
				if match[2] != "" {
					text += " from " + match[2]
				}
				if year != "" {
					text += " in " + year
				}
			}
			add(Fact{
				Content:    text,
				Type:       "event",
				EntityName: name,
				EventType:  p.eventType,
			})
		}
	}

	if len(facts) == 0 {
		facts = append(facts, Fact{Content: content, Type: "general"})
	}

	return facts
}

// Entities extracts people and things mentioned in a message, keeping the
// first relationship found for each name. Pattern hits come first; bare
// capitalized names are the last resort.
func Entities(content string) []Entity {
	var entities []Entity
	seen := map[string]struct{}{}

	for _, p := range relationshipPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(content, -1) {
			if p.possessiveGuard && precededByPossessive(content, loc[0]) {
				continue
			}
			name := content[loc[2]:loc[3]]
			if !startsUpper(name) {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			entities = append(entities, Entity{Name: name, Type: p.entityType, Relationship: p.relationship})
		}
	}

	for _, p := range eventPatterns {
		for _, match := range p.re.FindAllStringSubmatch(content, -1) {
			name := match[1]
			if !startsUpper(name) {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			entities = append(entities, Entity{Name: name, Type: "person"})
		}
	}
	for _, match := range capitalizedNameRE.FindAllStringSubmatch(content, -1) {
		name := match[1]
		if _, dup := seen[name]; dup {
			continue
		}
		if _, common := commonWords[name]; common {
			continue
		}
		seen[name] = struct{}{}
		entities = append(entities, Entity{Name: name, Type: "person"})
	}

	return entities
}
