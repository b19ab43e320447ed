package ingest

import (
	"fmt"
	"strings"
)

var tierNames = map[int]string{
	1: "private",
	2: "personal",
	3: "shared",
	4: "public",
}

const factPreviewLimit = 3

// renderConfirmation builds the human-readable summary of an ingestion.
// Single-fact saves read as one sentence; multi-fact saves list up to
// three previews. Entity and calendar mentions follow, then the dominant
// visibility tier.
func renderConfirmation(stored []storedFact, entities []EntityRef, eventTitles []string) string {
	var parts []string

	if len(stored) == 1 {
		parts = append(parts, "Got it! I've saved that.")
	} else {
		parts = append(parts, fmt.Sprintf("Got it! I've saved %d facts:", len(stored)))
		for i, sf := range stored {
			if i == factPreviewLimit {
				break
			}
			parts = append(parts, fmt.Sprintf("  %d. %s", i+1, previewContent(sf.fact.Content)))
		}
		if len(stored) > factPreviewLimit {
			parts = append(parts, fmt.Sprintf("  ...and %d more.", len(stored)-factPreviewLimit))
		}
	}

	if len(entities) > 0 {
		names := make([]string, len(entities))
		for i, e := range entities {
			names[i] = e.Name
		}
		parts = append(parts, fmt.Sprintf("Created entries for: %s.", strings.Join(names, ", ")))
	}

	if len(eventTitles) > 0 {
		parts = append(parts, fmt.Sprintf("Added to calendar: %s (annual).", strings.Join(eventTitles, ", ")))
	}

	name, ok := tierNames[stored[0].tier]
	if !ok {
		name = "shared"
	}
	parts = append(parts, fmt.Sprintf("Visibility: %s.", name))

	if len(stored) == 1 {
		return strings.Join(parts, " ")
	}
	return strings.Join(parts, "\n")
}

func previewContent(content string) string {
	// Truncate on rune boundaries so multi-byte text is never split.
	runes := []rune(content)
	if len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return content
}
