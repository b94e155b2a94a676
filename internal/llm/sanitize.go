package llm

import (
	"regexp"
	"strings"
)

var (
	htmlTagRe     = regexp.MustCompile(`(?is)<[^>]+>`)
	zeroWidthRe   = regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{2060}]`)
	urlRe         = regexp.MustCompile(`(?i)\bhttps?://\S+`)
	fencedCodeRe  = regexp.MustCompile("(?s)```.*?```")
)

// injectionPatterns lists instruction-override phrasings to redact
// before external text is embedded into a prompt (§4.7). Matching is
// case-insensitive and intentionally broad: false positives just cost a
// few redacted words, false negatives are a prompt-injection vector.
var injectionPatterns = []*regexp.Regexp{
	reIC(`ignore (all |the )?previous instructions`),
	reIC(`ignore (all |the )?prior instructions`),
	reIC(`disregard (all |the )?(previous|prior|above) instructions`),
	reIC(`forget (all |the )?(previous|prior|above) instructions`),
	reIC(`system\s*:`),
	reIC(`assistant\s*:`),
	reIC(`you are now`),
	reIC(`you are no longer`),
	reIC(`act as (if )?you (are|were)`),
	reIC(`pretend (to be|you are)`),
	reIC(`new instructions?:`),
	reIC(`override (your |the )?(system )?prompt`),
	reIC(`show (me )?your (system )?prompt`),
	reIC(`reveal your (system )?prompt`),
	reIC(`print your (system )?prompt`),
	reIC(`what (is|are) your instructions`),
	reIC(`repeat (the|your) (text|words|instructions) above`),
	reIC(`do anything now`),
	reIC(`jailbreak`),
	reIC(`developer mode`),
	reIC(`\bDAN\b`),
	reIC(`end of (system )?prompt`),
	reIC(`begin new (conversation|session)`),
	reIC(`this is (a|an) (override|admin) (command|message)`),
	reIC(`execute the following (command|code)`),
	reIC(`<\s*/?\s*system\s*>`),
	reIC(`\[\s*system\s*\]`),
	reIC(`from now on[, ]+you`),
}

func reIC(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + pattern)
}

// Sanitize hardens a block of external text (scraped HTML, LLM
// web-search output, user free text) before it is embedded into a
// prompt. Rules, in order, per §4.7:
//  1. strip HTML/script tags and zero-width characters
//  2. replace URLs with [URL_REMOVED] and fenced code with [CODE_REMOVED]
//  3. redact instruction-override patterns with [REDACTED]
//  4. wrap the result in <EXTERNAL_DATA> delimiters
func Sanitize(text string) string {
	s := htmlTagRe.ReplaceAllString(text, "")
	s = zeroWidthRe.ReplaceAllString(s, "")
	s = fencedCodeRe.ReplaceAllString(s, "[CODE_REMOVED]")
	s = urlRe.ReplaceAllString(s, "[URL_REMOVED]")

	for _, pattern := range injectionPatterns {
		s = pattern.ReplaceAllString(s, "[REDACTED]")
	}

	return "<EXTERNAL_DATA>\n" + strings.TrimSpace(s) + "\n</EXTERNAL_DATA>"
}

// SanitizeAll sanitizes and wraps every value in a map of named external
// data blocks (e.g. {"enrichment_notes": "...", "user_challenge": "..."}),
// each still individually delimited so the system prompt can refer to
// them unambiguously.
func SanitizeAll(blocks map[string]string) map[string]string {
	out := make(map[string]string, len(blocks))
	for name, text := range blocks {
		out[name] = Sanitize(text)
	}
	return out
}
