package local

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxSummaryLength is the maximum length of a summary in characters
	MaxSummaryLength = 240
	// maxSentences keeps the summary to the 1-2 sentences a model would write
	maxSentences = 2
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	urlPattern        = regexp.MustCompile(`https?://[^\s]+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	sentencePattern   = regexp.MustCompile(`[.!?]+\s+`)
	// replyHeaderPattern matches "On <date>, <name> wrote:" quote headers
	replyHeaderPattern = regexp.MustCompile(`(?m)^On .+ wrote:\s*$`)
)

// Summarize builds an extractive summary from the first sentences of the body.
// The subject is used when the body has no text.
func Summarize(subject, body string) string {
	content := normalizeForSummary(stripQuoted(body))
	if content == "" {
		return truncateContent(normalizeForSummary(subject), MaxSummaryLength)
	}

	if utf8.RuneCountInString(content) <= MaxSummaryLength {
		return content
	}

	sentences := extractSentences(content)
	if len(sentences) == 0 {
		return truncateContent(content, MaxSummaryLength)
	}

	var summary strings.Builder
	for i, sentence := range sentences {
		if i >= maxSentences {
			break
		}
		if summary.Len() == 0 {
			summary.WriteString(sentence)
		} else if utf8.RuneCountInString(summary.String())+utf8.RuneCountInString(sentence)+1 <= MaxSummaryLength {
			summary.WriteString(" ")
			summary.WriteString(sentence)
		} else {
			break
		}
	}

	return truncateContent(summary.String(), MaxSummaryLength)
}

// stripQuoted drops quoted reply history and the signature block
func stripQuoted(body string) string {
	if loc := replyHeaderPattern.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
	}

	var kept []string
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimRight(line, "\r ")
		if trimmed == "--" {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, "\n")
}

// normalizeForSummary removes markup and links and collapses whitespace
func normalizeForSummary(content string) string {
	content = htmlTagPattern.ReplaceAllString(content, " ")

	content = strings.ReplaceAll(content, "&nbsp;", " ")
	content = strings.ReplaceAll(content, "&amp;", "&")
	content = strings.ReplaceAll(content, "&lt;", "<")
	content = strings.ReplaceAll(content, "&gt;", ">")
	content = strings.ReplaceAll(content, "&quot;", "\"")
	content = strings.ReplaceAll(content, "&#39;", "'")

	content = urlPattern.ReplaceAllString(content, "")
	content = whitespacePattern.ReplaceAllString(content, " ")

	return strings.TrimSpace(content)
}

// extractSentences splits content after sentence-ending punctuation, keeping it
func extractSentences(content string) []string {
	var sentences []string
	start := 0
	for _, loc := range sentencePattern.FindAllStringIndex(content, -1) {
		sentence := strings.TrimSpace(content[start:loc[1]])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = loc[1]
	}
	if rest := strings.TrimSpace(content[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// truncateContent truncates content to maxLength characters at a word boundary
func truncateContent(content string, maxLength int) string {
	runes := []rune(content)
	if len(runes) <= maxLength {
		return content
	}

	truncated := string(runes[:maxLength])
	lastSpace := strings.LastIndex(truncated, " ")
	if lastSpace > len(truncated)/2 {
		truncated = truncated[:lastSpace]
	}

	return strings.TrimSpace(truncated) + "..."
}
