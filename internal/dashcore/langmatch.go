package dashcore

import (
	"strings"

	"golang.org/x/text/language"
)

// langCandidate is the minimal view of a StreamSet the language matcher
// ranks: its language tag, main flag, and an opaque index the caller maps
// back to the original slice.
type langCandidate struct {
	Index int
	Lang  string
	Main  bool
}

// MatchLanguage implements the fuzz ladder of spec.md §4.8 / C8: exact tag
// equality, then primary+region equality ignoring variants, then primary
// subtag only, then the set flagged main. Deterministic: the first
// candidate matching at the lowest fuzz level wins; ties keep input order.
// Returns -1 if candidates is empty.
func MatchLanguage(candidates []langCandidate, preferred string) int {
	if len(candidates) == 0 {
		return -1
	}

	want, wantErr := language.Parse(preferred)

	// Level 0: exact tag equality (case-insensitive).
	if preferred != "" {
		for _, c := range candidates {
			if strings.EqualFold(c.Lang, preferred) {
				return c.Index
			}
		}
	}

	// Level 1: primary + region equality, ignoring variants.
	if wantErr == nil {
		wantBase, wantConf := want.Base()
		wantRegion, _ := want.Region()
		if wantConf != language.No {
			for _, c := range candidates {
				got, err := language.Parse(c.Lang)
				if err != nil {
					continue
				}
				gotBase, _ := got.Base()
				gotRegion, _ := got.Region()
				if gotBase == wantBase && gotRegion == wantRegion {
					return c.Index
				}
			}
		}

		// Level 2: primary subtag only.
		for _, c := range candidates {
			got, err := language.Parse(c.Lang)
			if err != nil {
				continue
			}
			gotBase, _ := got.Base()
			if gotBase == wantBase {
				return c.Index
			}
		}
	}

	// Level 3: the set flagged main.
	for _, c := range candidates {
		if c.Main {
			return c.Index
		}
	}

	return -1
}
