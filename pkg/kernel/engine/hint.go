package engine

import (
	"fmt"

	"github.com/agnivade/levenshtein"
)

// closest returns the candidate nearest to name, or "" when nothing is
// within a third of the name's length (minimum 2 edits).
func closest(name string, candidates []string) string {
	limit := max(len(name)/3, 2)
	best, bestDist := "", limit+1
	for _, c := range candidates {
		if c == name {
			continue
		}
		if d := levenshtein.ComputeDistance(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func notFoundMessage(what, name string, candidates []string) string {
	msg := fmt.Sprintf("%s %q not found", what, name)
	if c := closest(name, candidates); c != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", c)
	}
	return msg
}
