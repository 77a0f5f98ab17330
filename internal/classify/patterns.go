package classify

import "regexp"

// PatternSet holds compiled regex patterns for a sensitive-data family.
type PatternSet struct {
	Name     string
	Severity string
	Patterns []*regexp.Regexp
}

// compile compiles a list of regex strings into a PatternSet.
// Panics on invalid patterns (they are compile-time constants).
func compile(name, severity string, patterns []string) PatternSet {
	ps := PatternSet{Name: name, Severity: severity, Patterns: make([]*regexp.Regexp, len(patterns))}
	for i, p := range patterns {
		ps.Patterns[i] = regexp.MustCompile(p)
	}
	return ps
}

// MatchAny returns true if any pattern in the set matches the text.
func (ps *PatternSet) MatchAny(text string) bool {
	for _, p := range ps.Patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// CountMatches returns the total number of matches across all patterns.
func (ps *PatternSet) CountMatches(text string) int {
	n := 0
	for _, p := range ps.Patterns {
		n += len(p.FindAllStringIndex(text, -1))
	}
	return n
}

// --- Payment card numbers ---

var CardPatterns = compile("payment_card", "critical", []string{
	// 16-digit PANs, optionally space/dash grouped
	`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`,
	// Amex 15-digit
	`\b3[47]\d{2}[\s-]?\d{6}[\s-]?\d{5}\b`,
})

// --- Government identifiers ---

var GovernmentIDPatterns = compile("government_id", "high", []string{
	// US SSN
	`\b\d{3}-\d{2}-\d{4}\b`,
	// Passport-style declarations
	`(?i)\bpassport\s*(number|no\.?|#)\s*[:=]?\s*[A-Z0-9]{6,9}\b`,
})

// --- Contact PII ---

var ContactPatterns = compile("contact_pii", "medium", []string{
	// Email addresses
	`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`,
	// US phone numbers
	`\b\(?\d{3}\)?[\s\-.]?\d{3}[\s\-.]?\d{4}\b`,
})

// --- Credentials and secrets ---

var CredentialPatterns = compile("credentials", "critical", []string{
	// Generic API keys (sk-, pk- prefixed)
	`(?i)\b(sk|pk)-[a-zA-Z0-9]{20,}\b`,
	// api_key=... or api-key=...
	`(?i)(api[_-]?key|apikey)\s*[=:]\s*["']?[a-zA-Z0-9_\-]{20,}`,
	// Bearer tokens
	`(?i)bearer\s+[a-zA-Z0-9_\-\.]{20,}`,
	// Password assignments
	`(?i)(password|passwd|pwd)\s*[=:]\s*["']?\S{4,}`,
	// AWS keys
	`\bAKIA[0-9A-Z]{16}\b`,
	`(?i)(aws_secret_access_key|aws_secret)\s*[=:]\s*["']?\S+`,
	// GitHub tokens
	`\bghp_[a-zA-Z0-9]{36}\b`,
	`\bgithub_pat_[a-zA-Z0-9_]{22,}\b`,
	// JWTs
	`\beyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\b`,
	// Generic secret assignments
	`(?i)(secret|secret_key|client_secret)\s*[=:]\s*["']?\S{8,}`,
})

// --- Private key material ---

var PrivateKeyPatterns = compile("private_key", "critical", []string{
	`-----BEGIN\s+(RSA|EC|OPENSSH|DSA|PGP)?\s*PRIVATE\s+KEY-----`,
})

// --- Health information ---

var HealthPatterns = compile("health_info", "high", []string{
	`(?i)\b(medical\s+record|patient\s+(id|number|record)|diagnosis\s+code|ICD-10)\b`,
	`(?i)\bmrn\s*[:=#]?\s*\d{5,}\b`,
})

// AllPatternSets lists every family the classifier checks, in precedence
// order for severity aggregation.
var AllPatternSets = []*PatternSet{
	&CardPatterns,
	&PrivateKeyPatterns,
	&CredentialPatterns,
	&GovernmentIDPatterns,
	&HealthPatterns,
	&ContactPatterns,
}
