// Package relation maps relationship labels to their reciprocals.
//
// "Sharon is my cousin" implies "I am Sharon's cousin"; "Lindsay is my father"
// implies "I am Lindsay's child". The tables here drive that inference. They
// are static; idiosyncratic labels with no defined inverse simply return
// nothing.
package relation

import "strings"

// symmetric holds relationships whose inverse is the relationship itself.
var symmetric = map[string]struct{}{
	"cousin":    {},
	"friend":    {},
	"sibling":   {},
	"neighbor":  {},
	"colleague": {},
	"coworker":  {},
	"spouse":    {},
	"partner":   {},
	"roommate":  {},
	"classmate": {},
}

// inverses maps asymmetric relationships to their reciprocal label.
var inverses = map[string]string{
	// Parent / child
	"father":   "child",
	"mother":   "child",
	"parent":   "child",
	"dad":      "child",
	"mom":      "child",
	"child":    "parent",
	"son":      "parent",
	"daughter": "parent",
	// Grandparent / grandchild
	"grandfather":   "grandchild",
	"grandmother":   "grandchild",
	"grandpa":       "grandchild",
	"grandma":       "grandchild",
	"grandparent":   "grandchild",
	"grandson":      "grandparent",
	"granddaughter": "grandparent",
	"grandchild":    "grandparent",
	// Great-grandparents
	"great-grandfather": "great-grandchild",
	"great-grandmother": "great-grandchild",
	"great-grandchild":  "great-grandparent",
	// Aunt/uncle and niece/nephew
	"uncle":  "niece/nephew",
	"aunt":   "niece/nephew",
	"niece":  "aunt/uncle",
	"nephew": "aunt/uncle",
	// In-laws
	"father-in-law":   "child-in-law",
	"mother-in-law":   "child-in-law",
	"son-in-law":      "parent-in-law",
	"daughter-in-law": "parent-in-law",
	"brother-in-law":  "sibling-in-law",
	"sister-in-law":   "sibling-in-law",
	// Spouses
	"wife":    "husband",
	"husband": "wife",
	// Work
	"boss":          "employee",
	"manager":       "direct report",
	"employee":      "boss",
	"direct report": "manager",
}

// Inverse returns the reciprocal of a relationship label, or false when no
// inverse is defined. Symmetric relationships invert to themselves (the
// original casing is preserved for those).
func Inverse(relationship string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(relationship))
	if _, ok := symmetric[lower]; ok {
		return relationship, true
	}
	if inv, ok := inverses[lower]; ok {
		return inv, true
	}
	return "", false
}

// IsSymmetric reports whether the label's inverse is itself.
func IsSymmetric(relationship string) bool {
	_, ok := symmetric[strings.ToLower(strings.TrimSpace(relationship))]
	return ok
}
