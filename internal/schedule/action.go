package schedule

type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionFirstReport
	ActionFirstCredential
	ActionChange
	ActionPrewarn
	ActionReport
)

func (k ActionKind) String() string {
	switch k {
	case ActionFirstReport:
		return "first_report"
	case ActionFirstCredential:
		return "first_credential"
	case ActionChange:
		return "change"
	case ActionPrewarn:
		return "prewarn"
	case ActionReport:
		return "report"
	default:
		return "none"
	}
}

// Action is the single action chosen for a tick.
type Action struct {
	Kind ActionKind
	// Now is the evaluation time in Unix seconds.
	Now int64
}

// priority is evaluated top to bottom; the first guard that holds wins.
// Each guard may assume every guard above it failed.
var priority = []struct {
	kind ActionKind
	due  func(s State, now int64) bool
}{
	{ActionFirstReport, func(s State, now int64) bool { return s.ReportEpoch == 0 }},
	{ActionFirstCredential, func(s State, now int64) bool { return s.PasswordChangeEpoch == 0 }},
	{ActionChange, func(s State, now int64) bool { return now >= s.PasswordChangeEpoch }},
	{ActionPrewarn, func(s State, now int64) bool { return now >= s.PasswordPrewarnEpoch && !s.HasWarned }},
	{ActionReport, func(s State, now int64) bool { return now >= s.ReportEpoch }},
}

// NextAction returns the highest priority action due at now, or ActionNone.
func NextAction(s State, now int64) Action {
	for _, p := range priority {
		if p.due(s, now) {
			return Action{Kind: p.kind, Now: now}
		}
	}
	return Action{Kind: ActionNone, Now: now}
}
