// Package redact scrubs secret-shaped substrings out of agent terminal
// capture before it is persisted to AgentLog rows or handed to Guardian /
// Conductor prompts (SPEC_FULL §C.7). ANSI stripping happens earlier, in
// pkg/tmux.Host; this package only concerns itself with credential shapes,
// adapted from the teacher's pkg/masking concern.
package redact

import "regexp"

// Pattern is one compiled secret shape and its replacement token.
type Pattern struct {
	Name        string
	Description string
	regex       *regexp.Regexp
	replacement string
}

// builtinPatterns covers the credential shapes most likely to appear in a
// coding agent's terminal output: cloud provider keys, bearer tokens,
// private key blocks, and generic key=value secret assignments.
var builtinPatterns = []Pattern{
	{
		Name:        "aws_access_key_id",
		Description: "AWS access key ID",
		regex:       regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		replacement: "[REDACTED:aws_access_key_id]",
	},
	{
		Name:        "aws_secret_access_key",
		Description: "AWS secret access key assignment",
		regex:       regexp.MustCompile(`(?i)(aws_secret_access_key\s*[:=]\s*)[A-Za-z0-9/+=]{40}`),
		replacement: "${1}[REDACTED:aws_secret_access_key]",
	},
	{
		Name:        "anthropic_api_key",
		Description: "Anthropic API key",
		regex:       regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}\b`),
		replacement: "[REDACTED:anthropic_api_key]",
	},
	{
		Name:        "openai_api_key",
		Description: "OpenAI-style API key",
		regex:       regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
		replacement: "[REDACTED:openai_api_key]",
	},
	{
		Name:        "github_token",
		Description: "GitHub personal access or app token",
		regex:       regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
		replacement: "[REDACTED:github_token]",
	},
	{
		Name:        "slack_token",
		Description: "Slack bot/user/app token",
		regex:       regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`),
		replacement: "[REDACTED:slack_token]",
	},
	{
		Name:        "bearer_token",
		Description: "HTTP Authorization bearer token",
		regex:       regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9._-]{16,}`),
		replacement: "${1}[REDACTED:bearer_token]",
	},
	{
		Name:        "basic_auth_url",
		Description: "userinfo credentials embedded in a URL",
		regex:       regexp.MustCompile(`(://)[^/\s:@]+:[^/\s:@]+(@)`),
		replacement: "${1}[REDACTED:basic_auth]${2}",
	},
	{
		Name:        "jwt",
		Description: "JSON Web Token",
		regex:       regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
		replacement: "[REDACTED:jwt]",
	},
	{
		Name:        "private_key_block",
		Description: "PEM private key block",
		regex:       regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
		replacement: "[REDACTED:private_key]",
	},
	{
		Name:        "generic_secret_assignment",
		Description: "key=value or key: value assignment where key looks secret-shaped",
		regex:       regexp.MustCompile(`(?i)((?:api[_-]?key|secret|token|password|passwd)\s*[:=]\s*)["']?[A-Za-z0-9/+=_.-]{8,}["']?`),
		replacement: "${1}[REDACTED]",
	},
}

// Redactor applies a fixed set of secret patterns to plain text.
type Redactor struct {
	patterns []Pattern
}

// New builds a Redactor with the builtin pattern set.
func New() *Redactor {
	return &Redactor{patterns: builtinPatterns}
}

// Redact returns data with every matched secret shape replaced. Patterns
// apply in a fixed order; a later pattern can still match within an earlier
// pattern's replacement token only if crafted adversarially, which is out
// of scope here (this guards against accidental leakage, not exfiltration
// attempts by the agent itself).
func (r *Redactor) Redact(data string) string {
	out := data
	for _, p := range r.patterns {
		out = p.regex.ReplaceAllString(out, p.replacement)
	}
	return out
}

// Patterns returns the active pattern set, for diagnostics/tests.
func (r *Redactor) Patterns() []Pattern {
	return r.patterns
}
