package pipeline

import (
	"context"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/event"
	"github.com/feedwire/feedwire/internal/profile"
	"github.com/feedwire/feedwire/internal/registry"
	"github.com/feedwire/feedwire/internal/store"
)

const contentPreviewLen = 100

// Transport pushes an event to one connection. Implemented by the
// websocket hub; delivery failure comes back as an error, never a panic.
type Transport interface {
	Push(connectionID string, env *event.Envelope) error
}

// ProfileResolver is the slice of the profile cache the dispatcher needs.
type ProfileResolver interface {
	Get(ctx context.Context, id uuid.UUID) (*profile.Snapshot, error)
}

// Dispatcher turns detected changes into enriched realtime events and fans
// them out to every live connection of every eligible recipient. All
// steady-state failures are absorbed here: an event is delivered with
// degraded metadata rather than dropped, and one bad connection never
// blocks the rest.
type Dispatcher struct {
	profiles  ProfileResolver
	graph     store.SocialGraph
	entities  store.EntityStore
	reg       *registry.Registry
	transport Transport
	logger    *zap.Logger
}

func NewDispatcher(
	profiles ProfileResolver,
	graph store.SocialGraph,
	entities store.EntityStore,
	reg *registry.Registry,
	transport Transport,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		profiles:  profiles,
		graph:     graph,
		entities:  entities,
		reg:       reg,
		transport: transport,
		logger:    logger,
	}
}

// Dispatch handles one change event end to end.
func (d *Dispatcher) Dispatch(ctx context.Context, change store.ChangeEvent) {
	switch {
	case change.Entity == store.EntityPost && change.Op == store.OpInsert:
		d.handleNewPost(ctx, change.Post)
	case change.Entity == store.EntityPost && change.Op == store.OpUpdate:
		d.handlePostUpdate(ctx, change.Post)
	case change.Entity == store.EntityVote && change.Op == store.OpInsert:
		d.handlePollVote(ctx, change.Vote)
	default:
		d.logger.Debug("ignoring change",
			zap.String("entity", string(change.Entity)),
			zap.String("op", string(change.Op)),
		)
	}
}

func (d *Dispatcher) handleNewPost(ctx context.Context, post *store.Post) {
	if post == nil {
		return
	}

	author := d.resolveProfile(ctx, post.UserID)

	env := event.New(event.NewPost{
		PostID:   post.ID,
		AuthorID: post.UserID,
		PostType: post.PostType,
		Content:  event.TruncateContent(post.Content, contentPreviewLen),
		HasMedia: len(post.MediaURLs) > 0,
		IsPoll:   len(post.PollOptions) > 0,
		Author:   author,
	})

	followers, err := d.graph.FollowersOf(ctx, post.UserID)
	if err != nil {
		// The author still gets their own event; followers are lost for
		// this one only.
		d.logger.Warn("follower lookup failed",
			zap.String("authorID", post.UserID.String()),
			zap.Error(err),
		)
	}

	recipients := append(followers, post.UserID)
	d.deliver(env, recipients)
}

func (d *Dispatcher) handlePostUpdate(ctx context.Context, post *store.Post) {
	if post == nil {
		return
	}

	env := event.New(event.PostUpdated{
		PostID:        post.ID,
		LikesCount:    post.LikesCount,
		CommentsCount: post.CommentsCount,
		SharesCount:   post.SharesCount,
	})

	// Counter changes matter to people who engaged with the post.
	d.deliver(env, post.LikedBy)
}

func (d *Dispatcher) handlePollVote(ctx context.Context, vote *store.PollVote) {
	if vote == nil {
		return
	}

	post, err := d.entities.PostByID(ctx, vote.PostID)
	if err != nil {
		d.logger.Warn("poll vote for unknown post",
			zap.String("postID", vote.PostID.String()),
			zap.Error(err),
		)
		return
	}
	if len(post.PollOptions) == 0 {
		return
	}

	votes, err := d.entities.VotesForPost(ctx, vote.PostID)
	if err != nil {
		d.logger.Warn("vote tally lookup failed",
			zap.String("postID", vote.PostID.String()),
			zap.Error(err),
		)
		votes = []*store.PollVote{vote}
	}

	optionVotes := 0
	for _, v := range votes {
		if v.OptionIndex == vote.OptionIndex {
			optionVotes++
		}
	}
	percentage := 0.0
	if len(votes) > 0 {
		percentage = math.Round(float64(optionVotes)/float64(len(votes))*1000) / 10
	}

	env := event.New(event.PollVoted{
		PostID:         vote.PostID,
		VoterID:        vote.UserID,
		SelectedOption: vote.SelectedOption,
		OptionIndex:    vote.OptionIndex,
		NewVoteCount:   optionVotes,
		TotalVotes:     len(votes),
		NewPercentage:  percentage,
		Voter:          d.resolveProfile(ctx, vote.UserID),
	})

	// Everyone who voted plus the poll author sees the updated tally.
	recipients := make([]uuid.UUID, 0, len(votes)+1)
	for _, v := range votes {
		recipients = append(recipients, v.UserID)
	}
	recipients = append(recipients, post.UserID)

	d.deliver(env, recipients)
}

// NotifyPollVote is called by the domain service when a vote lands, for
// lower latency than waiting on change discovery. It goes through the same
// tally recomputation as a discovered vote.
func (d *Dispatcher) NotifyPollVote(ctx context.Context, postID, voterID uuid.UUID, selectedOption string, optionIndex int) {
	d.handlePollVote(ctx, &store.PollVote{
		PostID:         postID,
		UserID:         voterID,
		SelectedOption: selectedOption,
		OptionIndex:    optionIndex,
	})
}

// NotifyPostLiked is called by the domain service when a like lands, for
// lower latency than waiting on change discovery.
func (d *Dispatcher) NotifyPostLiked(ctx context.Context, postID, likedBy, authorID uuid.UUID) {
	env := event.NewFor(event.PostLiked{
		PostID:  postID,
		LikedBy: likedBy,
		Actor:   d.resolveProfile(ctx, likedBy),
	}, authorID)

	d.deliver(env, []uuid.UUID{authorID})
}

func (d *Dispatcher) NotifyPostCommented(ctx context.Context, postID, commentedBy, authorID uuid.UUID) {
	env := event.NewFor(event.PostCommented{
		PostID:      postID,
		CommentedBy: commentedBy,
		Actor:       d.resolveProfile(ctx, commentedBy),
	}, authorID)

	d.deliver(env, []uuid.UUID{authorID})
}

func (d *Dispatcher) NotifyUserFollowed(ctx context.Context, followerID, followedID uuid.UUID) {
	env := event.NewFor(event.UserFollowed{
		FollowerID: followerID,
		FollowedID: followedID,
		Follower:   d.resolveProfile(ctx, followerID),
	}, followedID)

	d.deliver(env, []uuid.UUID{followedID})
}

func (d *Dispatcher) NotifyFeedUpdate(userIDs []uuid.UUID, updateType string, payload any) {
	env := event.New(event.FeedUpdate{UpdateType: updateType, Payload: payload})
	d.deliver(env, userIDs)
}

func (d *Dispatcher) NotifyTrending(message string) {
	env := event.New(event.TrendingUpdate{Message: message})
	d.deliver(env, d.reg.ConnectedUsers())
}

func (d *Dispatcher) NotifySystemMaintenance(message string) {
	env := event.New(event.SystemMaintenance{Message: message, Severity: "warning"})
	d.deliver(env, d.reg.ConnectedUsers())
}

func (d *Dispatcher) NotifyProfileRefreshed(userID uuid.UUID) {
	env := event.NewFor(event.ProfileRefreshed{
		UserID:  userID,
		Message: "User profile cache has been refreshed",
	}, userID)

	d.deliver(env, []uuid.UUID{userID})
}

// resolveProfile never fails dispatch: an unknown or unreachable profile
// degrades to a placeholder.
func (d *Dispatcher) resolveProfile(ctx context.Context, userID uuid.UUID) *profile.Snapshot {
	snapshot, err := d.profiles.Get(ctx, userID)
	if err != nil {
		d.logger.Debug("profile enrichment degraded to placeholder",
			zap.String("userID", userID.String()),
			zap.Error(err),
		)
		return profile.Placeholder(userID)
	}
	return snapshot
}

// deliver fans an event out to every connection of every recipient with a
// live channel. Recipients without connections are skipped; a failed push
// is isolated to its connection.
func (d *Dispatcher) deliver(env *event.Envelope, recipients []uuid.UUID) {
	eventsDispatched.WithLabelValues(string(env.EventType)).Inc()

	seen := make(map[uuid.UUID]struct{}, len(recipients))
	delivered := 0

	for _, userID := range recipients {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		for _, connID := range d.reg.ConnectionsFor(userID) {
			if err := d.transport.Push(connID, env); err != nil {
				deliveries.WithLabelValues("dropped").Inc()
				d.logger.Debug("delivery failed for connection",
					zap.String("connectionID", connID),
					zap.String("eventType", string(env.EventType)),
					zap.Error(err),
				)
				continue
			}
			deliveries.WithLabelValues("delivered").Inc()
			delivered++
		}
	}

	d.logger.Debug("event fanned out",
		zap.String("eventType", string(env.EventType)),
		zap.Int("recipients", len(seen)),
		zap.Int("deliveries", delivered),
	)
}
