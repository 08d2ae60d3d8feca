// Package store abstracts the durable feed storage. The pipeline consumes
// it through narrow interfaces: timestamp-windowed change queries, a native
// change-notification feed, and the lookups needed to enrich events.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("entity not found")
	ErrWatchUnsupported = errors.New("change notifications unsupported by this store")
)

type EntityKind string

const (
	EntityPost    EntityKind = "post"
	EntityVote    EntityKind = "vote"
	EntityComment EntityKind = "comment"
	EntityGeneric EntityKind = "generic"
)

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
)

// Post is the stored feed post projection the pipeline needs.
type Post struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Content       string
	PostType      string
	MediaURLs     []string
	PollOptions   []string
	LikesCount    int
	CommentsCount int
	SharesCount   int
	LikedBy       []uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PollVote is a single vote on a poll post.
type PollVote struct {
	ID             uuid.UUID
	PostID         uuid.UUID
	UserID         uuid.UUID
	SelectedOption string
	OptionIndex    int
	CreatedAt      time.Time
}

// ChangeEvent describes one observed mutation. Exactly one of the entity
// references is set, matching Entity.
type ChangeEvent struct {
	Entity     EntityKind
	Op         Operation
	EntityID   uuid.UUID
	OccurredAt time.Time
	Post       *Post
	Vote       *PollVote
}

// EntityStore is the durable storage collaborator.
type EntityStore interface {
	// Ping checks connectivity; the supervisor uses it to pick push vs poll.
	Ping(ctx context.Context) error

	// FindPostsSince returns posts created in (since, until], ascending.
	FindPostsSince(ctx context.Context, since, until time.Time) ([]*Post, error)

	// FindVotesSince returns votes created in (since, until], ascending.
	FindVotesSince(ctx context.Context, since, until time.Time) ([]*PollVote, error)

	// WatchChanges opens a native change subscription for one entity kind.
	// It must fail fast and synchronously when the mechanism is unavailable
	// so the caller can fall back to polling. The returned channel closes
	// when the subscription dies or ctx is cancelled.
	WatchChanges(ctx context.Context, kind EntityKind) (<-chan ChangeEvent, error)

	PostByID(ctx context.Context, id uuid.UUID) (*Post, error)
	VotesForPost(ctx context.Context, postID uuid.UUID) ([]*PollVote, error)
}

// SocialGraph resolves recipient sets for fan-out.
type SocialGraph interface {
	FollowersOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}
