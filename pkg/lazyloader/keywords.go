package lazyloader

import (
	"sort"
	"strings"
)

// DefaultKeywordTable maps task-type keywords to the units able to serve
// them. Deployments override it from configuration.
func DefaultKeywordTable() map[string][]string {
	return map[string][]string{
		"code":     {"code-agent"},
		"research": {"research-agent", "browser-agent"},
		"browse":   {"browser-agent"},
		"data":     {"data-agent"},
		"chat":     {"chat-agent"},
	}
}

// MapTaskToUnits returns the candidate units for a coarse task type. A
// keyword matches when it occurs in the task type, case-insensitively.
// Keywords are scanned in sorted order so the result is deterministic;
// duplicates across keywords are dropped.
func MapTaskToUnits(taskType string, table map[string][]string) []string {
	needle := strings.ToLower(taskType)

	keywords := make([]string, 0, len(table))
	for keyword := range table {
		keywords = append(keywords, keyword)
	}
	sort.Strings(keywords)

	seen := make(map[string]bool)
	var candidates []string
	for _, keyword := range keywords {
		if !strings.Contains(needle, strings.ToLower(keyword)) {
			continue
		}
		for _, unit := range table[keyword] {
			if seen[unit] {
				continue
			}
			seen[unit] = true
			candidates = append(candidates, unit)
		}
	}
	return candidates
}
