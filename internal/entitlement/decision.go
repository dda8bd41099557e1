// SPDX-License-Identifier: Apache-2.0

// Package entitlement decides whether an actor may start a workflow run.
package entitlement

type Decision string

const (
	Allowed     Decision = "allowed"
	SoftWarn    Decision = "soft_warn"
	HardBlocked Decision = "hard_blocked"
)

type Reason string

const (
	ReasonNone         Reason = ""
	ReasonSignUpSoft   Reason = "SIGN_UP_SOFT"
	ReasonSignUpHard   Reason = "SIGN_UP_HARD"
	ReasonUpgradeToPro Reason = "UPGRADE_TO_PRO"
)

func (r Reason) Message() string {
	switch r {
	case ReasonSignUpSoft:
		return "You're getting a lot out of workflows. Sign up free to keep your runs and presets."
	case ReasonSignUpHard:
		return "You've used all free runs for visitors. Sign up free to keep going."
	case ReasonUpgradeToPro:
		return "You've used all free runs this month. Upgrade to Pro for unlimited runs."
	default:
		return ""
	}
}

type Limits struct {
	HardLimit     int
	SoftThreshold int
}

func DefaultLimits() Limits {
	return Limits{HardLimit: 5, SoftThreshold: 3}
}

// Input carries everything a decision depends on. Nothing is read from
// ambient state.
type Input struct {
	Authenticated bool
	Entitling     bool
	Count         int
	Overridden    bool
}

type Result struct {
	Decision   Decision `json:"decision"`
	Reason     Reason   `json:"reason,omitempty"`
	Message    string   `json:"message,omitempty"`
	Count      int      `json:"count"`
	Limit      int      `json:"limit"`
	Overridden bool     `json:"overridden,omitempty"`
	FailedOpen bool     `json:"failed_open,omitempty"`
}

// Blocked reports whether the run must not start.
func (r Result) Blocked() bool {
	return r.Decision == HardBlocked
}

func (l Limits) Evaluate(in Input) Result {
	res := Result{Decision: Allowed, Count: in.Count, Limit: l.HardLimit}

	switch {
	case in.Overridden:
		res.Overridden = true
	case in.Authenticated && in.Entitling:
		res.Limit = 0
	case in.Authenticated:
		if in.Count >= l.HardLimit {
			res.Decision, res.Reason = HardBlocked, ReasonUpgradeToPro
		}
	case in.Count >= l.HardLimit:
		res.Decision, res.Reason = HardBlocked, ReasonSignUpHard
	case in.Count >= l.SoftThreshold:
		res.Decision, res.Reason = SoftWarn, ReasonSignUpSoft
	}

	res.Message = res.Reason.Message()
	return res
}
