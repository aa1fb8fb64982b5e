package domain

import (
	"time"

	"github.com/google/uuid"
)

// Activity is the log record kept for every inbound ActivityPub message.
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Create, Like, Announce, Undo, etc.
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Result       string
	CreatedAt    time.Time
}
