package catalog

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// MaxSuggestions caps the number of alternatives offered for a bad codename.
const MaxSuggestions = 5

type candidate struct {
	codename string
	score    int
}

// rank orders the universe by closeness to input. Device-name substring hits
// come first, then codenames within the edit distance threshold.
func rank(input string, universe []string, names map[string]string) []string {
	threshold := max(3, len(input)/2)

	var byName, byDistance []candidate
	for _, codename := range universe {
		if name := names[codename]; len(input) >= 3 && strings.Contains(strings.ToLower(name), input) {
			byName = append(byName, candidate{codename, len(name)})
			continue
		}
		if d := levenshtein.ComputeDistance(input, codename); d <= threshold {
			byDistance = append(byDistance, candidate{codename, d})
		}
	}

	less := func(list []candidate) func(i, j int) bool {
		return func(i, j int) bool {
			if list[i].score != list[j].score {
				return list[i].score < list[j].score
			}
			return list[i].codename < list[j].codename
		}
	}
	sort.SliceStable(byName, less(byName))
	sort.SliceStable(byDistance, less(byDistance))

	out := make([]string, 0, MaxSuggestions)
	for _, list := range [][]candidate{byName, byDistance} {
		for _, c := range list {
			if len(out) == MaxSuggestions {
				return out
			}
			out = append(out, c.codename)
		}
	}
	return out
}
