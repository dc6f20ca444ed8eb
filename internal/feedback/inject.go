package feedback

import (
	"fmt"
	"regexp"
	"strings"
)

// maxInjected is how many of the most recent corrections are replayed
// into a new conversation.
const maxInjected = 10

// Context block delimiters. The closing marker matters: the sanitizer
// keys off both to strip echoes of the block from answers.
const (
	guidanceBegin = "--- operator corrections (guidance from earlier sessions, not part of the question) ---"
	guidanceEnd   = "--- end operator corrections ---"
)

// Injector renders stored corrections into a context block for the first
// turn of a new conversation, and strips echoes of that block from
// assistant answers.
type Injector struct {
	store *Store
}

// NewInjector creates an Injector over the given store.
func NewInjector(store *Store) *Injector {
	return &Injector{store: store}
}

// ContextBlock renders up to the 10 most recent corrections as numbered
// directive lines, oldest first, inside the guidance delimiters. Returns
// "" when the store is empty, in which case no injection should occur.
func (i *Injector) ContextBlock() string {
	entries := i.store.LoadAll()
	if len(entries) == 0 {
		return ""
	}
	if len(entries) > maxInjected {
		entries = entries[len(entries)-maxInjected:]
	}

	var sb strings.Builder
	sb.WriteString("\n\n")
	sb.WriteString(guidanceBegin)
	sb.WriteString("\n")
	for idx, e := range entries {
		fmt.Fprintf(&sb, "%d. %s\n", idx+1, e.Correction)
	}
	sb.WriteString(guidanceEnd)
	sb.WriteString("\n")
	return sb.String()
}

// Patterns for stripping echoed guidance. The service sometimes quotes
// the injected block back verbatim, or paraphrases its header; this is a
// best-effort text mitigation, not a guarantee.
var (
	echoBlockRe = regexp.MustCompile(`(?s)-{2,}\s*operator corrections[^\n]*-{2,}.*?-{2,}\s*end operator corrections\s*-{2,}`)
	echoBeginRe = regexp.MustCompile(`-{2,}\s*operator corrections[^\n]*-{2,}`)
	echoEndRe   = regexp.MustCompile(`-{2,}\s*end operator corrections\s*-{2,}`)

	// Known variant phrasings seen in echoed answers.
	echoVariantRe   = regexp.MustCompile(`(?m)^.*IMPORTANT: Learn from these previous corrections:?.*$`)
	echoDirectiveRe = regexp.MustCompile(`(?m)^\s*\d+\.\s*When asked ['"].*['"], remember:.*$`)

	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// Sanitize removes any echoed guidance markers and directive lines from
// text, collapses runs of blank lines, and trims. Idempotent; safe to run
// on every assistant turn.
func (i *Injector) Sanitize(text string) string {
	return Sanitize(text)
}

// Sanitize is the package-level form of Injector.Sanitize.
func Sanitize(text string) string {
	out := echoBlockRe.ReplaceAllString(text, "")
	out = echoBeginRe.ReplaceAllString(out, "")
	out = echoEndRe.ReplaceAllString(out, "")
	out = echoVariantRe.ReplaceAllString(out, "")
	out = echoDirectiveRe.ReplaceAllString(out, "")
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
