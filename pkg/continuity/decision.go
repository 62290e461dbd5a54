package continuity

import "fmt"

// Outcome is the single action a client takes on startup.
type Outcome int

const (
	StartClean Outcome = iota
	AutoRejoin
	JoinFromInvitation
	PromptRecovery
)

func (o Outcome) String() string {
	switch o {
	case StartClean:
		return "StartClean"
	case AutoRejoin:
		return "AutoRejoin"
	case JoinFromInvitation:
		return "JoinFromInvitation"
	case PromptRecovery:
		return "PromptRecovery"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Decision is the result of a startup decision.
type Decision struct {
	Outcome Outcome
	// SessionID is the session to enter for AutoRejoin and
	// JoinFromInvitation, and the stored session offered by PromptRecovery.
	SessionID string
	// IsHost is the role recorded in the pointer offered by PromptRecovery.
	IsHost bool
}

func (d Decision) String() string {
	switch d.Outcome {
	case AutoRejoin, JoinFromInvitation:
		return fmt.Sprintf("%s(%s)", d.Outcome, d.SessionID)
	case PromptRecovery:
		return fmt.Sprintf("%s(isHost=%t)", d.Outcome, d.IsHost)
	default:
		return d.Outcome.String()
	}
}

// Inputs are the facts known at startup besides the stored pointer.
type Inputs struct {
	// InvitationSessionID is the session named by the invitation link, or
	// empty when the client was not opened from one.
	InvitationSessionID string
	// IsHost is the role the client intends to take this run.
	IsHost bool
}

// Choice is the user's answer to a recovery prompt.
type Choice int

const (
	ChoiceRejoin Choice = iota
	ChoiceStartNew
)

// ParseChoice accepts "rejoin" and "start new" in the forms the
// presentation layer sends them.
func ParseChoice(s string) (Choice, error) {
	switch s {
	case "rejoin", "Rejoin":
		return ChoiceRejoin, nil
	case "start new", "startNew", "StartNew", "new":
		return ChoiceStartNew, nil
	default:
		return 0, fmt.Errorf("unknown recovery choice: %q", s)
	}
}
