package domain

import "fmt"

type FollowState string

const (
	FollowPending  FollowState = "PENDING"
	FollowActive   FollowState = "ACTIVE"
	FollowRejected FollowState = "REJECTED"
)

func (s FollowState) Valid() bool {
	switch s {
	case FollowPending, FollowActive, FollowRejected:
		return true
	}
	return false
}

func ParseFollowState(s string) (FollowState, error) {
	state := FollowState(s)
	if !state.Valid() {
		return "", fmt.Errorf("%w: unknown follow state %q", ErrInvalid, s)
	}
	return state, nil
}

// Follow is a directed edge. At most one exists per (Follower, Followed).
type Follow struct {
	Follower int64
	Followed int64
	State    FollowState
}

// FollowFilter narrows follow queries; zero fields match everything.
type FollowFilter struct {
	Follower int64
	Followed int64
	State    FollowState
}
