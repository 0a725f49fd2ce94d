package registry

import (
	"context"
	"errors"
	"time"
)

// Recipient kinds.
const (
	KindUser  = "user"
	KindGroup = "group"
)

// Target filters for listing recipients.
const (
	FilterAll    = "all"
	FilterUsers  = "usersOnly"
	FilterGroups = "groupsOnly"
)

// ErrNotFound is returned when a recipient id is unknown.
var ErrNotFound = errors.New("registry: recipient not found")

// Recipient is one known chat the bot can reach.
type Recipient struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Title      string    `json:"title,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
	LastActive time.Time `json:"last_active"`
}

// Stats summarizes the registry for the owner stats command.
type Stats struct {
	Users  int
	Groups int
}

// Registry is the recipient-registry collaborator: the bot registers every
// chat it sees, broadcasts snapshot the list, and permanently unreachable
// recipients get removed.
type Registry interface {
	Upsert(ctx context.Context, r Recipient) error
	ListRecipients(ctx context.Context, filter string) ([]Recipient, error)
	Remove(ctx context.Context, id string) error
	RecordActivity(ctx context.Context, id string) error
	Stats(ctx context.Context) (Stats, error)
}

// matchesFilter reports whether a recipient kind passes the target filter.
func matchesFilter(kind, filter string) bool {
	switch filter {
	case FilterUsers:
		return kind == KindUser
	case FilterGroups:
		return kind == KindGroup
	default:
		return true
	}
}
