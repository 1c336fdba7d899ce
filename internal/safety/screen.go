// Package safety screens untrusted text before it reaches a model and
// scans model-written text for secrets.
package safety

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Verdict is the recommended handling for screened text.
type Verdict int

const (
	VerdictAllow Verdict = iota
	// VerdictFlag lets the text through but should be logged.
	VerdictFlag
	VerdictReject
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictFlag:
		return "flag"
	case VerdictReject:
		return "reject"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// ErrRejected is returned by Finding.Err for rejected text.
var ErrRejected = errors.New("transcript rejected")

// Finding is the outcome of screening one piece of text. Rule names the
// matching rule and is empty when nothing matched.
type Finding struct {
	Verdict Verdict
	Rule    string
	Reason  string
}

// Err returns a wrapped ErrRejected when the finding rejects the text.
func (f Finding) Err() error {
	if f.Verdict != VerdictReject {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRejected, f.Reason)
}

type rule struct {
	name    string
	re      *regexp.Regexp
	verdict Verdict
	reason  string
}

// Transcripts are spoken language, so rules target phrasing aimed at the
// model rather than the meeting.
var transcriptRules = []rule{
	{
		name:    "ignore-instructions",
		re:      regexp.MustCompile(`(?i)\b(ignore|disregard)\s+(all\s+)?(the\s+)?(previous|above|prior|earlier)\s+(instructions?|prompts?|rules?)\b`),
		verdict: VerdictReject,
		reason:  "asks the model to ignore its instructions",
	},
	{
		name:    "identity-override",
		re:      regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|the)\s+\w+`),
		verdict: VerdictReject,
		reason:  "attempts to replace the model's role",
	},
	{
		name:    "prompt-override",
		re:      regexp.MustCompile(`(?i)\b(override\s+(the\s+)?(system\s+)?prompt|system\s+prompt\s+override|new\s+system\s+instructions?)\b`),
		verdict: VerdictReject,
		reason:  "attempts to override the system prompt",
	},
	{
		name:    "prompt-extraction",
		re:      regexp.MustCompile(`(?i)\b(reveal|print|repeat|output)\s+(\w+\s+)?(your\s+)?system\s+(prompt|instructions?)\b`),
		verdict: VerdictReject,
		reason:  "asks the model to disclose its system prompt",
	},
	{
		name:    "template-marker",
		re:      regexp.MustCompile(`(?i)(<\s*\|?\s*(system|im_start|im_end)\s*\|?\s*>|\[\s*SYSTEM\s*\])`),
		verdict: VerdictFlag,
		reason:  "contains a chat template marker",
	},
	{
		name:    "tool-call-literal",
		re:      regexp.MustCompile(`(?i)\b(call|invoke|run)\s+(the\s+)?(create|update|delete|list)_tasks?\b`),
		verdict: VerdictFlag,
		reason:  "names a tool directly",
	},
	{
		name:    "encoded-ignore",
		re:      regexp.MustCompile(`(aWdub3Jl|SWdub3Jl)`),
		verdict: VerdictFlag,
		reason:  "contains base64 of \"ignore\"",
	},
}

// Screen applies the transcript rules.
type Screen struct {
	rules []rule
}

func NewScreen() *Screen {
	return &Screen{rules: transcriptRules}
}

// Inspect returns the most severe finding for text. Ties go to the first
// rule in table order.
func (s *Screen) Inspect(text string) Finding {
	if strings.TrimSpace(text) == "" {
		return Finding{Verdict: VerdictAllow}
	}
	worst := Finding{Verdict: VerdictAllow}
	for _, r := range s.rules {
		if r.verdict <= worst.Verdict {
			continue
		}
		if r.re.MatchString(text) {
			worst = Finding{Verdict: r.verdict, Rule: r.name, Reason: r.reason}
			if worst.Verdict == VerdictReject {
				break
			}
		}
	}
	return worst
}
