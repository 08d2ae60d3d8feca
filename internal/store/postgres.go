package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// notification channels; the corresponding triggers NOTIFY these with a
// JSON payload of {id, op, at}.
const (
	postsChannel = "feedwire_posts"
	votesChannel = "feedwire_votes"
)

type notifyPayload struct {
	ID string    `json:"id"`
	Op Operation `json:"op"`
	At time.Time `json:"at"`
}

// Postgres implements EntityStore and SocialGraph on a pgx pool. Change
// notifications use LISTEN/NOTIFY on a dedicated connection per watched
// entity kind.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

const postColumns = `
	id::text, user_id::text, content, post_type,
	coalesce(media_urls, '{}'), coalesce(poll_options, '{}'),
	likes_count, comments_count, shares_count,
	coalesce(liked_by::text[], '{}'), created_at, updated_at`

func (p *Postgres) FindPostsSince(ctx context.Context, since, until time.Time) ([]*Post, error) {
	// Strict lower bound: the boundary element was processed last cycle.
	query := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE created_at > $1 AND created_at <= $2 AND NOT is_deleted
		ORDER BY created_at ASC`

	rows, err := p.pool.Query(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("querying changed posts: %w", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (p *Postgres) FindVotesSince(ctx context.Context, since, until time.Time) ([]*PollVote, error) {
	query := `
		SELECT id::text, post_id::text, user_id::text, selected_option, option_index, created_at
		FROM poll_votes
		WHERE created_at > $1 AND created_at <= $2 AND NOT is_deleted
		ORDER BY created_at ASC`

	rows, err := p.pool.Query(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("querying changed votes: %w", err)
	}
	defer rows.Close()

	var votes []*PollVote
	for rows.Next() {
		vote, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		votes = append(votes, vote)
	}
	return votes, rows.Err()
}

func (p *Postgres) PostByID(ctx context.Context, id uuid.UUID) (*Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1 AND NOT is_deleted`

	rows, err := p.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("querying post %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanPost(rows)
}

func (p *Postgres) VotesForPost(ctx context.Context, postID uuid.UUID) ([]*PollVote, error) {
	query := `
		SELECT id::text, post_id::text, user_id::text, selected_option, option_index, created_at
		FROM poll_votes
		WHERE post_id = $1 AND NOT is_deleted
		ORDER BY created_at ASC`

	rows, err := p.pool.Query(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("querying votes for post %s: %w", postID, err)
	}
	defer rows.Close()

	var votes []*PollVote
	for rows.Next() {
		vote, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		votes = append(votes, vote)
	}
	return votes, rows.Err()
}

// FollowersOf implements SocialGraph.
func (p *Postgres) FollowersOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT follower_id::text FROM follows WHERE following_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying followers of %s: %w", userID, err)
	}
	defer rows.Close()

	var followers []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning follower id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing follower id: %w", err)
		}
		followers = append(followers, id)
	}
	return followers, rows.Err()
}

// WatchChanges LISTENs on the notification channel for the given kind and
// emits a ChangeEvent per notification, looking up the full entity state
// for each. The LISTEN itself happens synchronously so an unavailable
// notify mechanism surfaces before any goroutine starts.
func (p *Postgres) WatchChanges(ctx context.Context, kind EntityKind) (<-chan ChangeEvent, error) {
	var channel string
	switch kind {
	case EntityPost:
		channel = postsChannel
	case EntityVote:
		channel = votesChannel
	default:
		return nil, fmt.Errorf("%w: %s", ErrWatchUnsupported, kind)
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring listen connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("%w: LISTEN %s: %v", ErrWatchUnsupported, channel, err)
	}

	events := make(chan ChangeEvent)

	go func() {
		defer close(events)
		defer conn.Release()

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.logger.Warn("change subscription lost",
						zap.String("channel", channel),
						zap.Error(err),
					)
				}
				return
			}

			change, err := p.resolveNotification(ctx, kind, notification.Payload)
			if err != nil {
				p.logger.Debug("skipping unresolvable notification",
					zap.String("channel", channel),
					zap.Error(err),
				)
				continue
			}

			select {
			case events <- *change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

func (p *Postgres) resolveNotification(ctx context.Context, kind EntityKind, payload string) (*ChangeEvent, error) {
	var np notifyPayload
	if err := json.Unmarshal([]byte(payload), &np); err != nil {
		return nil, fmt.Errorf("decoding notify payload: %w", err)
	}

	id, err := uuid.Parse(np.ID)
	if err != nil {
		return nil, fmt.Errorf("parsing entity id: %w", err)
	}

	change := &ChangeEvent{
		Entity:     kind,
		Op:         np.Op,
		EntityID:   id,
		OccurredAt: np.At,
	}

	// Look up the full current state; the notification only carries the key.
	switch kind {
	case EntityPost:
		post, err := p.PostByID(ctx, id)
		if err != nil {
			return nil, err
		}
		change.Post = post
	case EntityVote:
		vote, err := p.voteByID(ctx, id)
		if err != nil {
			return nil, err
		}
		change.Vote = vote
	}

	return change, nil
}

func (p *Postgres) voteByID(ctx context.Context, id uuid.UUID) (*PollVote, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, post_id::text, user_id::text, selected_option, option_index, created_at
		FROM poll_votes WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("querying vote %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanVote(rows)
}

func scanPost(rows pgx.Rows) (*Post, error) {
	var (
		post           Post
		rawID, rawUser string
		mediaURLs      []string
		pollOptions    []string
		rawLikedBy     []string
	)

	err := rows.Scan(
		&rawID, &rawUser, &post.Content, &post.PostType,
		&mediaURLs, &pollOptions,
		&post.LikesCount, &post.CommentsCount, &post.SharesCount,
		&rawLikedBy, &post.CreatedAt, &post.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning post: %w", err)
	}

	if post.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("parsing post id: %w", err)
	}
	if post.UserID, err = uuid.Parse(rawUser); err != nil {
		return nil, fmt.Errorf("parsing post author id: %w", err)
	}
	post.MediaURLs = mediaURLs
	post.PollOptions = pollOptions

	for _, raw := range rawLikedBy {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue // tolerate junk rows rather than dropping the post
		}
		post.LikedBy = append(post.LikedBy, id)
	}

	return &post, nil
}

func scanVote(rows pgx.Rows) (*PollVote, error) {
	var (
		vote                    PollVote
		rawID, rawPost, rawUser string
	)

	err := rows.Scan(&rawID, &rawPost, &rawUser, &vote.SelectedOption, &vote.OptionIndex, &vote.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning vote: %w", err)
	}

	if vote.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("parsing vote id: %w", err)
	}
	if vote.PostID, err = uuid.Parse(rawPost); err != nil {
		return nil, fmt.Errorf("parsing vote post id: %w", err)
	}
	if vote.UserID, err = uuid.Parse(rawUser); err != nil {
		return nil, fmt.Errorf("parsing vote user id: %w", err)
	}

	return &vote, nil
}
