package profile

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is a cached, display-ready projection of a user identity. Once
// CacheExpiry has passed the snapshot is stale and must be revalidated before
// being served from the slow layers.
type Snapshot struct {
	UserID      uuid.UUID `json:"userId"`
	DisplayName string    `json:"displayName"`
	Username    string    `json:"username"`
	AvatarURL   string    `json:"avatarUrl"`
	IsVerified  bool      `json:"isVerified"`
	IsActive    bool      `json:"isActive"`
	LastUpdated time.Time `json:"lastUpdated"`
	CacheExpiry time.Time `json:"cacheExpiry"`
}

// Expired reports whether the snapshot is past its expiry.
func (s *Snapshot) Expired(now time.Time) bool {
	return now.After(s.CacheExpiry)
}

// Placeholder returns a degraded snapshot used when enrichment fails. Events
// still carry the user ID so clients can resolve the profile themselves.
func Placeholder(userID uuid.UUID) *Snapshot {
	return &Snapshot{
		UserID:      userID,
		DisplayName: "Unknown User",
		Username:    "unknown",
		LastUpdated: time.Now().UTC(),
	}
}
