package domain

// Verdict is the outcome of the safety filter.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
)

// SafetyDecision records why a command was allowed or refused.
type SafetyDecision struct {
	Verdict Verdict `json:"verdict"`
	Program string  `json:"program,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	Rule    string  `json:"rule,omitempty"`
}

// Allowed reports whether the command may be executed.
func (d SafetyDecision) Allowed() bool {
	return d.Verdict == VerdictAllow
}
