package local

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/nalgeon/be"
)

// Property: a local summary never exceeds the length bound
func TestProperty_SummaryLengthBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	sentenceGen := gen.SliceOfN(30, gen.AlphaChar()).Map(func(chars []rune) string {
		return string(chars) + "."
	})

	properties.Property("summary_within_bound", prop.ForAll(
		func(sentences []string) bool {
			summary := Summarize("subject", strings.Join(sentences, " "))
			// the ellipsis is appended after truncation
			return utf8.RuneCountInString(summary) <= MaxSummaryLength+3
		},
		gen.SliceOf(sentenceGen),
	))

	properties.Property("short_body_kept_verbatim", prop.ForAll(
		func(word string) bool {
			if word == "" {
				return true
			}
			return Summarize("subject", "  "+word+"\n") == word
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestSummarizeFallsBackToSubject(t *testing.T) {
	be.Equal(t, Summarize("Re: Permit Form", ""), "Re: Permit Form")
	be.Equal(t, Summarize("Re: Permit Form", "> quoted only\n"), "Re: Permit Form")
}

func TestSummarizeDropsQuotedReply(t *testing.T) {
	body := "Please fill out the attached form.\n\nOn Mon, Jan 1, 2024 at 9:00 AM Bob <bob@example.com> wrote:\n> earlier text\n"
	be.Equal(t, Summarize("Re: Permit Form", body), "Please fill out the attached form.")
}

func TestSummarizeKeepsFirstSentences(t *testing.T) {
	body := strings.Repeat("Filler words here. ", 2) + strings.Repeat("x", 300)
	be.Equal(t, Summarize("s", body), "Filler words here. Filler words here.")
}
