// Package tokenutil holds the rough token arithmetic used to keep prompts
// inside a model's context budget.
package tokenutil

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// EstimateTokens returns max(words*1.33, bytes/4). The byte floor covers
// code and scripts without spaces.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	words := len(strings.Fields(content))
	wordEstimate := int(float64(words) * 1.33)
	charEstimate := len(content) / 4
	if wordEstimate > charEstimate {
		return wordEstimate
	}
	return charEstimate
}

// Truncate returns the longest whole-word prefix of content whose estimate
// is within maxTokens, and whether anything was cut. A single word larger
// than the budget is cut at a rune boundary.
func Truncate(content string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return "", content != ""
	}
	if EstimateTokens(content) <= maxTokens {
		return content, false
	}

	var ends []int
	inWord := false
	for i, r := range content {
		space := unicode.IsSpace(r)
		if inWord && space {
			ends = append(ends, i)
		}
		inWord = !space
	}

	// Estimates grow with prefix length, so the fitting prefixes form a
	// leading run of ends.
	n := sort.Search(len(ends), func(i int) bool {
		return EstimateTokens(content[:ends[i]]) > maxTokens
	})
	if n > 0 {
		return content[:ends[n-1]], true
	}

	cut := maxTokens * 4
	if cut > len(content) {
		cut = len(content)
	}
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut], true
}
