package domain

import "fmt"

// State is the lifecycle state of a share.
//
//	Active -> Exhausted | Expired -> Deleted
//
// Active may also move straight to Deleted when revoked. Deleted is terminal.
type State uint8

const (
	StateActive State = iota + 1
	StateExhausted
	StateExpired
	StateDeleted
)

var stateNames = map[State]string{
	StateActive:    "active",
	StateExhausted: "exhausted",
	StateExpired:   "expired",
	StateDeleted:   "deleted",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal reports whether no transition can leave s.
func (s State) Terminal() bool { return s == StateDeleted }

// CanTransition reports whether from -> to is a legal lifecycle edge.
// Active -> Active is the non-final download and is legal.
func CanTransition(from, to State) bool {
	switch from {
	case StateActive:
		return to == StateActive || to == StateExhausted || to == StateExpired || to == StateDeleted
	case StateExhausted, StateExpired:
		return to == StateDeleted
	default:
		return false
	}
}
