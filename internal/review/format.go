package review

import (
	"fmt"
	"strings"

	"patchwork-bot/internal/domain"
)

// FormatReviewComment renders the aggregated review as one PR-level Markdown
// comment: a header with PR metadata, then a collapsible block per file with
// its severity counts and narrative.
func FormatReviewComment(snap *domain.PullRequestSnapshot, outcomes []*Outcome) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## 🤖 AI Code Review\n\n")
	fmt.Fprintf(&sb, "**PR:** #%d - %s\n", snap.Number, snap.Title)
	fmt.Fprintf(&sb, "**Author:** @%s\n", snap.Author)
	fmt.Fprintf(&sb, "**Files:** %d\n\n***\n\n", len(outcomes))

	for _, o := range outcomes {
		fmt.Fprintf(&sb, "<details>\n<summary><strong>📄 %s</strong></summary>\n\n", o.Filename)
		fmt.Fprintf(&sb, "**Issues:** 🔴 %d | 🟠 %d | 🟡 %d | 🟢 %d\n\n",
			o.Counts.Critical, o.Counts.High, o.Counts.Medium, o.Counts.Low)
		if o.Summary != "" {
			fmt.Fprintf(&sb, "**Summary:** %s\n\n", o.Summary)
		}
		sb.WriteString(o.RawText)
		sb.WriteString("\n\n</details>\n\n")
	}

	sb.WriteString("---\n*Powered by Patchwork AI*")
	return sb.String()
}

// FormatAutofixComment renders the post-commit summary: fixed files, resolved
// issue count, and the short commit identifier.
func FormatAutofixComment(fixedFiles []string, issuesResolved int, commitSHA string) string {
	var sb strings.Builder

	sb.WriteString("## 🛠️ Patchwork Auto-Fix\n\n")
	fmt.Fprintf(&sb, "✅ Fixed %d file(s)\n", len(fixedFiles))
	fmt.Fprintf(&sb, "🔒 Resolved %d issue(s)\n", issuesResolved)
	fmt.Fprintf(&sb, "📝 Commit: `%s`\n\nFiles:\n", ShortSHA(commitSHA))
	for _, f := range fixedFiles {
		fmt.Fprintf(&sb, "- `%s`\n", f)
	}

	return sb.String()
}

// ShortSHA returns the conventional 7-character commit abbreviation.
func ShortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
