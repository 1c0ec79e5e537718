package service

import (
	"regexp"
	"strings"
)

// ResumeIntent is the outcome of scanning an utterance for a request to
// return to an earlier conversation.
type ResumeIntent struct {
	WantsResume bool
	RawPhrase   string
	SearchTerms []string
}

// Patterns are tried in order; the first match wins. All matching runs on
// the lowercased utterance.
var resumePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:let'?s|let us) (?:go|get) back to (.+)`),
	regexp.MustCompile(`(?:let'?s )?(?:continue|keep going) (?:with|on) (.+)`),
	regexp.MustCompile(`(?:continue|carry on) with (.+)`),
	regexp.MustCompile(`(?:open|load|bring up|resume) the (?:conversation|chat) (?:about|on|with) (.+)`),
	regexp.MustCompile(`(?:where|when) we (?:were talking|left off) about (.+)`),
	regexp.MustCompile(`(?:that|the) (?:conversation|chat|discussion) about (.+)`),
}

// Filler words stripped from the captured phrase before it becomes search
// terms.
var resumeStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "on": true,
	"to": true, "with": true, "about": true, "that": true, "for": true,
	"and": true, "conversation": true, "chat": true, "topic": true,
}

// DetectResumeIntent scans an utterance for a resume request and extracts
// the search terms identifying the target conversation.
func DetectResumeIntent(utterance string) ResumeIntent {
	lowered := strings.ToLower(strings.TrimSpace(utterance))
	if lowered == "" {
		return ResumeIntent{}
	}

	for _, pattern := range resumePatterns {
		match := pattern.FindStringSubmatch(lowered)
		if match == nil {
			continue
		}

		phrase := strings.TrimRight(strings.TrimSpace(match[1]), ".!?")
		var terms []string
		for _, word := range strings.Fields(phrase) {
			word = strings.Trim(word, ".,;!?\"'")
			if len(word) < 3 || resumeStopwords[word] {
				continue
			}
			terms = append(terms, word)
		}

		return ResumeIntent{
			WantsResume: true,
			RawPhrase:   phrase,
			SearchTerms: terms,
		}
	}

	return ResumeIntent{}
}
