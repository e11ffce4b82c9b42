package review

import (
	"regexp"
	"strings"
)

// Severity section markers the reviewer is prompted to emit.
const (
	markerCritical = "🔴 Critical Issues"
	markerHigh     = "🟠 High Priority"
	markerMedium   = "🟡 Medium Priority"
	markerLow      = "🟢 Low Priority"
	markerSummary  = "📌 Overall Summary"
)

// parseReviewText buckets the reviewer's narrative into severity counts and a
// trailing summary paragraph. Bullets are lines starting with -, * or •.
// Unstructured text yields zero counts, which downstream treats as clean.
func parseReviewText(text string) (SeverityCounts, string) {
	var counts SeverityCounts
	var summary []string

	section := ""
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.Contains(trimmed, markerCritical):
			section = "critical"
			continue
		case strings.Contains(trimmed, markerHigh):
			section = "high"
			continue
		case strings.Contains(trimmed, markerMedium):
			section = "medium"
			continue
		case strings.Contains(trimmed, markerLow):
			section = "low"
			continue
		case strings.Contains(trimmed, markerSummary):
			section = "summary"
			continue
		}

		if section == "summary" {
			if trimmed != "" {
				summary = append(summary, trimmed)
			}
			continue
		}

		if !isBullet(trimmed) {
			continue
		}
		switch section {
		case "critical":
			counts.Critical++
		case "high":
			counts.High++
		case "medium":
			counts.Medium++
		case "low":
			counts.Low++
		}
	}

	return counts, strings.Join(summary, "\n")
}

func isBullet(line string) bool {
	return strings.HasPrefix(line, "-") ||
		strings.HasPrefix(line, "*") ||
		strings.HasPrefix(line, "•")
}

var fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z0-9+-]*\n(.*?)```")

// extractCodeBlock pulls the first fenced code block out of a rewrite
// response. Models sometimes answer with bare code; the whole response is the
// fallback, with stray fence markers trimmed.
func extractCodeBlock(text string) string {
	if m := fencedBlockRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
