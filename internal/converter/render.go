package converter

import (
	"fmt"
	"strings"
)

func renderRule(kind RuleKind, value, policy string) string {
	return kind.String() + "," + value + "," + policy
}

// RenderQuantumultX joins converted rules into a filter list without a trailing newline.
func RenderQuantumultX(rules []string) string {
	return strings.Join(rules, "\n")
}

// RenderStats formats stats as a single human-readable line.
func RenderStats(stats Stats) string {
	return fmt.Sprintf("total=%d processed=%d skipped=%d errors=%d",
		stats.TotalLines, stats.ProcessedLines, stats.SkippedLines, stats.ErrorLines)
}
