// Package event defines the closed set of realtime events delivered to
// clients. Each kind carries its own payload type; the wire shape stays a
// string discriminator plus a structured data object.
package event

import (
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/feedwire/feedwire/internal/profile"
)

type Kind string

const (
	KindNewPost           Kind = "new_post"
	KindPostUpdated       Kind = "post_updated"
	KindPostLiked         Kind = "post_liked"
	KindPostCommented     Kind = "post_commented"
	KindPollVoted         Kind = "poll_voted"
	KindUserFollowed      Kind = "user_followed"
	KindFeedUpdate        Kind = "feed_update"
	KindTrendingUpdate    Kind = "trending_update"
	KindSystemMaintenance Kind = "system_maintenance"
	KindProfileRefreshed  Kind = "user_cache_refreshed"
)

// Payload is implemented by every event body.
type Payload interface {
	Kind() Kind
}

// Envelope is the outward-facing wire shape. Data must never reference
// internal handles (connections, cursors).
type Envelope struct {
	EventID      string     `json:"eventId"`
	EventType    Kind       `json:"eventType"`
	Timestamp    time.Time  `json:"timestamp"`
	Data         Payload    `json:"data"`
	TargetUserID *uuid.UUID `json:"targetUserId,omitempty"`
}

// New wraps a payload in a fresh envelope.
func New(p Payload) *Envelope {
	return &Envelope{
		EventID:   uuid.New().String(),
		EventType: p.Kind(),
		Timestamp: time.Now().UTC(),
		Data:      p,
	}
}

// NewFor wraps a payload addressed to a single user.
func NewFor(p Payload, target uuid.UUID) *Envelope {
	e := New(p)
	e.TargetUserID = &target
	return e
}

func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

type NewPost struct {
	PostID   uuid.UUID         `json:"postId"`
	AuthorID uuid.UUID         `json:"authorId"`
	PostType string            `json:"postType"`
	Content  string            `json:"content"`
	HasMedia bool              `json:"hasMedia"`
	IsPoll   bool              `json:"isPoll"`
	Author   *profile.Snapshot `json:"authorProfile,omitempty"`
}

func (NewPost) Kind() Kind { return KindNewPost }

type PostUpdated struct {
	PostID        uuid.UUID `json:"postId"`
	LikesCount    int       `json:"likesCount"`
	CommentsCount int       `json:"commentsCount"`
	SharesCount   int       `json:"sharesCount"`
}

func (PostUpdated) Kind() Kind { return KindPostUpdated }

type PostLiked struct {
	PostID  uuid.UUID         `json:"postId"`
	LikedBy uuid.UUID         `json:"likedBy"`
	Actor   *profile.Snapshot `json:"userProfile,omitempty"`
}

func (PostLiked) Kind() Kind { return KindPostLiked }

type PostCommented struct {
	PostID      uuid.UUID         `json:"postId"`
	CommentedBy uuid.UUID         `json:"commentedBy"`
	Actor       *profile.Snapshot `json:"userProfile,omitempty"`
}

func (PostCommented) Kind() Kind { return KindPostCommented }

type PollVoted struct {
	PostID         uuid.UUID         `json:"postId"`
	VoterID        uuid.UUID         `json:"voterId"`
	SelectedOption string            `json:"selectedOption"`
	OptionIndex    int               `json:"optionIndex"`
	NewVoteCount   int               `json:"newVoteCount"`
	TotalVotes     int               `json:"totalVotes"`
	NewPercentage  float64           `json:"newPercentage"`
	Voter          *profile.Snapshot `json:"voterProfile,omitempty"`
}

func (PollVoted) Kind() Kind { return KindPollVoted }

type UserFollowed struct {
	FollowerID uuid.UUID         `json:"followerId"`
	FollowedID uuid.UUID         `json:"followedId"`
	Follower   *profile.Snapshot `json:"followerProfile,omitempty"`
}

func (UserFollowed) Kind() Kind { return KindUserFollowed }

type FeedUpdate struct {
	UpdateType string `json:"updateType"`
	Payload    any    `json:"data,omitempty"`
}

func (FeedUpdate) Kind() Kind { return KindFeedUpdate }

type TrendingUpdate struct {
	Message string `json:"message"`
}

func (TrendingUpdate) Kind() Kind { return KindTrendingUpdate }

type SystemMaintenance struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (SystemMaintenance) Kind() Kind { return KindSystemMaintenance }

type ProfileRefreshed struct {
	UserID  uuid.UUID `json:"userId"`
	Message string    `json:"message"`
}

func (ProfileRefreshed) Kind() Kind { return KindProfileRefreshed }

// TruncateContent shortens post bodies for event payloads. The cut lands
// on a rune boundary so previews stay valid UTF-8.
func TruncateContent(content string, max int) string {
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}
