package anonymize

import "regexp"

// Placeholders substituted for identifying content. These are fixed strings
// so that scrubbed patterns remain readable and diffable.
const (
	PlaceholderPath   = "<PATH>"
	PlaceholderUser   = "<USER>"
	PlaceholderEmail  = "<EMAIL>"
	PlaceholderIP     = "<IP>"
	PlaceholderURL    = "<URL>"
	PlaceholderAPIKey = "<API_KEY>"
	PlaceholderSecret = "<SECRET>"
)

// Rule is one PII detection/replacement rule. Rules are applied in order;
// earlier rules win when matches would overlap (e.g. the email inside a
// credentialed URL is consumed by the URL rule).
type Rule struct {
	// ID names the rule in reports and audit issues.
	ID string

	// Pattern matches the identifying content.
	Pattern *regexp.Regexp

	// Replacement is the placeholder substituted for each match.
	Replacement string
}

// Detection rules, ordered so that composite shapes (remotes, URLs) are
// consumed before their components (emails, hostnames).
var defaultRules = []Rule{
	{
		ID:          "git-ssh-remote",
		Pattern:     regexp.MustCompile(`(?:ssh://)?git@[\w.-]+[:/][\w./~-]+(?:\.git)?`),
		Replacement: PlaceholderURL,
	},
	{
		ID:          "credentialed-url",
		Pattern:     regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^/\s:@]+:[^@\s]+@[^\s'"]+`),
		Replacement: PlaceholderURL,
	},
	{
		ID:          "email",
		Pattern:     regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		Replacement: PlaceholderEmail,
	},
	// Well-known secret token prefixes are self-identifying.
	{
		ID:          "known-secret-prefix",
		Pattern:     regexp.MustCompile(`(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{22,}|glpat-[A-Za-z0-9-]{20,}|xox[baprs]-[A-Za-z0-9-]{10,}|sk-ant-[A-Za-z0-9_-]{20,}|sk-[A-Za-z0-9]{32,}|npm_[A-Za-z0-9]{36}|AKIA[A-Z0-9]{16}|SG\.[A-Za-z0-9_-]{22,}\.[A-Za-z0-9_-]{43,}`),
		Replacement: PlaceholderSecret,
	},
	{
		ID:          "api-key-assignment",
		Pattern:     regexp.MustCompile(`(?i)((?:api[_-]?key|apikey|auth[_-]?token|access[_-]?token|secret|password)["']?\s*[:=]\s*["']?)[^\s'"]{8,}`),
		Replacement: "${1}" + PlaceholderAPIKey,
	},
	{
		ID:          "ipv4",
		Pattern:     regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		Replacement: PlaceholderIP,
	},
}

// homeDirPattern matches the username segment of a home directory path
// (after backslash normalization, so Windows paths match too).
var homeDirPattern = regexp.MustCompile(`(?i)((?:/home/|/Users/|[A-Za-z]:/Users/))([^/\s'"]+)`)

// absolutePathPattern matches unix-style absolute paths with at least two
// segments. Single-segment paths like /tmp carry no identifying detail.
// The leading boundary group anchors the path to the string start or a
// separator, so the slash inside a relative path or a URL never qualifies:
// only strings that begin with "/" (or a drive prefix) are paths here.
var absolutePathPattern = regexp.MustCompile("(^|[\\s\"'`=:(,])((?:[A-Za-z]:)?/(?:[\\w.<>~@-]+/)+[\\w.<>~@-]+)")

// piiProbes are the detection-only patterns behind ContainsPII. They cover
// the same categories as the scrub rules plus bare absolute paths, and are
// deliberately independent of the replacement pipeline so a scrub bug cannot
// hide from the audit.
var piiProbes = []Rule{
	{ID: "email", Pattern: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{ID: "git-ssh-remote", Pattern: regexp.MustCompile(`git@[\w.-]+[:/]`)},
	{ID: "credentialed-url", Pattern: regexp.MustCompile(`://[^/\s:@]+:[^@\s]+@`)},
	{ID: "home-directory", Pattern: regexp.MustCompile(`(?i)(?:/home/|/Users/|[A-Za-z]:[/\\]Users[/\\])[^/\s'"<]`)},
	{ID: "known-secret-prefix", Pattern: regexp.MustCompile(`(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{22,}|glpat-[A-Za-z0-9-]{20,}|xox[baprs]-[A-Za-z0-9-]{10,}|sk-ant-[A-Za-z0-9_-]{20,}|sk-[A-Za-z0-9]{32,}|npm_[A-Za-z0-9]{36}|AKIA[A-Z0-9]{16}`)},
	{ID: "api-key-assignment", Pattern: regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|auth[_-]?token|access[_-]?token|password)["']?\s*[:=]\s*["']?[A-Za-z0-9_/+-]{16,}`)},
	{ID: "ipv4", Pattern: regexp.MustCompile(`\b(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)(?:\.(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)){3}\b`)},
}
