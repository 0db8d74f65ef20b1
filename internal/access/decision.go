package access

import "encoding/json"

// Outcome is the result class of an evaluation.
type Outcome int

// Outcomes. The zero value is pending so an unset decision never allows.
const (
	OutcomePending Outcome = iota
	OutcomeAllow
	OutcomeDeny
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeDeny:
		return "deny"
	default:
		return "pending"
	}
}

// Reason explains a non-allow decision.
type Reason string

// Decision reasons.
const (
	ReasonNone               Reason = ""
	ReasonLoading            Reason = "loading"
	ReasonModuleDisabled     Reason = "module_disabled"
	ReasonInsufficientAccess Reason = "insufficient_access"
)

// Failed names the part of a requirement that caused a denial.
const (
	FailedModule     = "module"
	FailedRole       = "role"
	FailedPermission = "permission"
)

// Decision is the result of evaluating a Requirement against a Snapshot.
type Decision struct {
	Outcome Outcome
	Reason  Reason
	// Module is set when the decision was denied by a disabled module.
	Module Module
	// Failed is one of FailedModule, FailedRole or FailedPermission on denial.
	Failed string
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Outcome: OutcomeAllow}
}

// Pending returns the indeterminate decision used while loading.
func Pending() Decision {
	return Decision{Outcome: OutcomePending, Reason: ReasonLoading}
}

// DenyModule returns a module-disabled denial.
func DenyModule(m Module) Decision {
	return Decision{Outcome: OutcomeDeny, Reason: ReasonModuleDisabled, Module: m, Failed: FailedModule}
}

// DenyAccess returns an insufficient-access denial.
func DenyAccess(failed string) Decision {
	return Decision{Outcome: OutcomeDeny, Reason: ReasonInsufficientAccess, Failed: failed}
}

// Allowed reports whether access is granted.
func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllow }

// Denied reports whether access was refused.
func (d Decision) Denied() bool { return d.Outcome == OutcomeDeny }

// Pending reports whether the decision is indeterminate.
func (d Decision) Pending() bool { return d.Outcome == OutcomePending }

type decisionJSON struct {
	Outcome string `json:"outcome"`
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
	Module  Module `json:"module,omitempty"`
	Failed  string `json:"failed,omitempty"`
}

// MarshalJSON renders the decision for API consumers.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(decisionJSON{
		Outcome: d.Outcome.String(),
		Allowed: d.Allowed(),
		Reason:  d.Reason,
		Module:  d.Module,
		Failed:  d.Failed,
	})
}
