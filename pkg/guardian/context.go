package guardian

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hephaestus-ai/hephaestus/pkg/models"
)

// Deterministic regex-style rules for distilling an agent's log history into
// the accumulated context spec §4.6 step 3 and the glossary describe: goal,
// evolved goals, active vs. lifted constraints, standing instructions,
// resolved this/that references, and discovered blockers. Design notes §9
// calls this out explicitly as a pluggable text-analysis step, swappable for
// an LLM structured-output call if these prove brittle — kept as regexes for
// now since the same shape (compiled-pattern + code-based extraction) is how
// pkg/redact already scrubs terminal output.
var (
	goalRe       = regexp.MustCompile(`(?i)\b(new goal|now the goal is|instead,? let's|instead,? we should|switch(?:ing)? (?:focus|goal) to|focus(?:ing)? on)\b.*`)
	liftedRe     = regexp.MustCompile(`(?i)\byou can now\b.*`)
	constraintRe = regexp.MustCompile(`(?i)\b(must not|never|don't|do not|cannot|avoid|shouldn't|should not)\b.*`)
	standingRe   = regexp.MustCompile(`(?i)\b(always|from now on|going forward|remember to)\b.*`)
	blockerRe    = regexp.MustCompile(`(?i)\b(blocked by|blocker:|cannot proceed because|waiting on|stuck because)\b.*`)
	thisThatRe   = regexp.MustCompile(`(?i)\b(this|that)\b`)
	backtickRe   = regexp.MustCompile("`[^`]+`")
	capWordRe    = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]{2,}$`)
)

var stopwords = map[string]bool{
	"the": true, "and": true, "that": true, "this": true, "with": true,
	"from": true, "have": true, "will": true, "should": true, "must": true,
	"never": true, "always": true, "cannot": true, "avoid": true,
}

// extractedContext is the structured distillation extracted from an agent's
// AgentLog history (spec §4.6 step 3, glossary "Accumulated context").
type extractedContext struct {
	OverallGoal          string
	EvolvedGoals         []string
	ActiveConstraints    []string
	LiftedConstraints    []string
	StandingInstructions []string
	ResolvedReferences   []string
	DiscoveredBlockers   []string
	CurrentFocus         string
	SessionDuration      time.Duration
	EntryCount           int
}

// maxExtracted caps each extracted list so one long-running agent doesn't
// balloon the prompt forever; the most recent entries matter most for
// steering decisions.
const maxExtracted = 12

// extractAccumulatedContext walks an agent's chronologically ordered logs
// (input/output/message/steering/intervention, already filtered to
// non-discarded) and pulls out the fields spec §4.6 step 3 names.
func extractAccumulatedContext(logs []*models.AgentLog) extractedContext {
	var ec extractedContext
	if len(logs) == 0 {
		return ec
	}
	ec.SessionDuration = logs[len(logs)-1].Timestamp.Sub(logs[0].Timestamp)
	ec.EntryCount = len(logs)

	var lastNoun string
	liftedSentences := make([]string, 0, 4)

	addUnique := func(list []string, s string) []string {
		for _, existing := range list {
			if existing == s {
				return list
			}
		}
		if len(list) >= maxExtracted {
			list = list[1:]
		}
		return append(list, s)
	}

	for _, l := range logs {
		if l.Type == models.AgentLogTypeSteering && l.Discarded {
			continue
		}
		if ec.OverallGoal == "" && l.Type == models.AgentLogTypeInput {
			ec.OverallGoal = firstSentence(l.Content)
		}

		for _, sentence := range splitSentences(l.Content) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				continue
			}

			switch {
			case liftedRe.MatchString(sentence):
				liftedSentences = append(liftedSentences, sentence)
				ec.LiftedConstraints = addUnique(ec.LiftedConstraints, sentence)
			case goalRe.MatchString(sentence):
				ec.EvolvedGoals = addUnique(ec.EvolvedGoals, sentence)
			case constraintRe.MatchString(sentence):
				ec.ActiveConstraints = addUnique(ec.ActiveConstraints, sentence)
			case standingRe.MatchString(sentence):
				ec.StandingInstructions = addUnique(ec.StandingInstructions, sentence)
			case blockerRe.MatchString(sentence):
				ec.DiscoveredBlockers = addUnique(ec.DiscoveredBlockers, sentence)
			}

			if thisThatRe.MatchString(sentence) && lastNoun != "" {
				ec.ResolvedReferences = addUnique(ec.ResolvedReferences,
					fmt.Sprintf("%q refers to %s", sentence, lastNoun))
			}
			if noun := extractNoun(sentence); noun != "" {
				lastNoun = noun
			}
			ec.CurrentFocus = sentence
		}
	}

	ec.ActiveConstraints = dropLifted(ec.ActiveConstraints, liftedSentences)
	return ec
}

// dropLifted removes any active constraint that shares a significant
// (non-stopword, length > 3) keyword with a "you can now…" sentence — the
// spec's "constraints later lifted" rule.
func dropLifted(active, lifted []string) []string {
	if len(lifted) == 0 {
		return active
	}
	kept := active[:0:0]
	for _, c := range active {
		liftedAway := false
		for _, l := range lifted {
			if sharesKeyword(c, l) {
				liftedAway = true
				break
			}
		}
		if !liftedAway {
			kept = append(kept, c)
		}
	}
	return kept
}

func sharesKeyword(a, b string) bool {
	bWords := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(b)) {
		w = strings.Trim(w, ".,!?;:\"'`")
		if len(w) > 3 && !stopwords[w] {
			bWords[w] = true
		}
	}
	for _, w := range strings.Fields(strings.ToLower(a)) {
		w = strings.Trim(w, ".,!?;:\"'`")
		if len(w) > 3 && !stopwords[w] && bWords[w] {
			return true
		}
	}
	return false
}

// extractNoun finds the noun a later "this"/"that" is most likely to bind
// to: a backticked code token takes priority over a merely-capitalized word,
// and the sentence's own first word is skipped since sentence-initial
// capitalization is grammar, not a proper noun signal.
func extractNoun(sentence string) string {
	if m := backtickRe.FindString(sentence); m != "" {
		return strings.Trim(m, "`")
	}
	words := strings.Fields(sentence)
	for i, w := range words {
		if i == 0 {
			continue
		}
		trimmed := strings.Trim(w, ".,!?;:\"'`")
		if capWordRe.MatchString(trimmed) {
			return trimmed
		}
	}
	return ""
}

// splitSentences is a cheap sentence splitter: logs are CLI transcript
// fragments, not prose, so splitting on sentence punctuation and newlines is
// enough to localize pattern matches without needing an NLP dependency.
func splitSentences(content string) []string {
	repl := strings.NewReplacer("\r\n", "\n", ". ", ".\n", "! ", "!\n", "? ", "?\n")
	return strings.Split(repl.Replace(content), "\n")
}

func firstSentence(content string) string {
	sentences := splitSentences(content)
	for _, s := range sentences {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// renderAccumulatedContext formats the distillation into the text blob
// submitted as TrajectoryRequest.AccumulatedContext — the "full distilled
// understanding" the glossary describes, not a raw log dump (the current
// screen goes separately as TmuxOutput).
func renderAccumulatedContext(ec extractedContext) string {
	if ec.EntryCount == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "session duration: %s\n", ec.SessionDuration.Round(time.Second))
	fmt.Fprintf(&sb, "log entries: %d\n", ec.EntryCount)
	if ec.OverallGoal != "" {
		fmt.Fprintf(&sb, "overall goal: %s\n", ec.OverallGoal)
	}
	writeSection(&sb, "evolved goals", ec.EvolvedGoals)
	writeSection(&sb, "active constraints", ec.ActiveConstraints)
	writeSection(&sb, "lifted constraints", ec.LiftedConstraints)
	writeSection(&sb, "standing instructions", ec.StandingInstructions)
	writeSection(&sb, "resolved references", ec.ResolvedReferences)
	writeSection(&sb, "discovered blockers", ec.DiscoveredBlockers)
	if ec.CurrentFocus != "" {
		fmt.Fprintf(&sb, "current focus: %s\n", ec.CurrentFocus)
	}
	return sb.String()
}

func writeSection(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(sb, "- %s\n", it)
	}
}

// buildAccumulatedContext folds an agent's AgentLog history into the
// distilled text submitted as accumulated_context (spec §4.6 step 3).
func buildAccumulatedContext(logs []*models.AgentLog) string {
	return renderAccumulatedContext(extractAccumulatedContext(logs))
}
