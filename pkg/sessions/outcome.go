package sessions

// CreateOutcome is the result of a session creation attempt.
type CreateOutcome int

const (
	Created CreateOutcome = iota
	Collision
)

func (o CreateOutcome) String() string {
	switch o {
	case Created:
		return "Created"
	case Collision:
		return "Collision"
	default:
		return "unknown"
	}
}

// RosterOutcome is the result of a roster mutation.
type RosterOutcome int

const (
	Applied RosterOutcome = iota
	// NotFound means the player was not on the roster.
	NotFound
	SessionNotFound
)

func (o RosterOutcome) String() string {
	switch o {
	case Applied:
		return "Applied"
	case NotFound:
		return "NotFound"
	case SessionNotFound:
		return "SessionNotFound"
	default:
		return "unknown"
	}
}
