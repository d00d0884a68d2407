// Package meme implements the meme store and the vote ledger. Like/dislike counters on a
// meme are derived totals that must always equal the count of vote rows of each kind;
// every mutation here runs inside a single transaction to keep that invariant under
// concurrent casts.
package meme

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexus-console/backend/telemetry"
)

var (
	// ErrNotFound indicates an unknown meme id.
	ErrNotFound = errors.New("meme: not found")
	// ErrNotOwner indicates a delete attempt by someone other than the uploader.
	ErrNotOwner = errors.New("meme: not owned by user")
	// ErrInvalidVoteKind indicates a vote type outside like/dislike.
	ErrInvalidVoteKind = errors.New("meme: invalid vote kind")
)

// Vote kinds.
const (
	VoteLike    = "like"
	VoteDislike = "dislike"
)

// Meme is one uploaded meme with its derived counters and, when a viewer id was
// supplied to the query, that viewer's own vote ("" when none).
type Meme struct {
	ID           int64      `json:"id"`
	ImagePath    string     `json:"image_path"`
	Caption      string     `json:"caption"`
	UserID       string     `json:"user_id"`
	LikeCount    int        `json:"like_count"`
	DislikeCount int        `json:"dislike_count"`
	LeaderSince  *time.Time `json:"leader_since,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UserVote     string     `json:"user_vote,omitempty"`
}

// ValidKind reports whether kind is an accepted vote type.
func ValidKind(kind string) bool { return kind == VoteLike || kind == VoteDislike }

// CastVote applies one vote action for (memeID, userID) and returns the refreshed
// counter pair. Semantics:
//   - no existing vote: insert and bump the matching counter;
//   - same kind again: toggle off (delete the row, drop the counter);
//   - different kind: flip the row, moving one count from the old kind to the new.
//
// The whole mutation is one transaction; on any failure no partial counter change is
// observable.
func CastVote(ctx context.Context, db *sql.DB, memeID int64, userID, kind string) (likes, dislikes int, err error) {
	if !ValidKind(kind) {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidVoteKind, kind)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin vote tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Locking the meme row serializes concurrent casts on the same meme and doubles
	// as the existence check.
	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM memes WHERE id=$1 FOR UPDATE`, memeID).Scan(&id)
	if err == sql.ErrNoRows {
		err = ErrNotFound
		return 0, 0, err
	}
	if err != nil {
		return 0, 0, fmt.Errorf("lock meme: %w", err)
	}

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT vote_type FROM votes WHERE meme_id=$1 AND user_id=$2`, memeID, userID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		// New vote.
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO votes (meme_id, user_id, vote_type) VALUES ($1,$2,$3)`, memeID, userID, kind); err != nil {
			return 0, 0, fmt.Errorf("insert vote: %w", err)
		}
		if err = adjustCounter(ctx, tx, memeID, kind, +1); err != nil {
			return 0, 0, err
		}
	case err != nil:
		return 0, 0, fmt.Errorf("read vote: %w", err)
	case existing == kind:
		// Toggle off.
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM votes WHERE meme_id=$1 AND user_id=$2`, memeID, userID); err != nil {
			return 0, 0, fmt.Errorf("delete vote: %w", err)
		}
		if err = adjustCounter(ctx, tx, memeID, kind, -1); err != nil {
			return 0, 0, err
		}
	default:
		// Switch kind: both counters move in the same transaction.
		if _, err = tx.ExecContext(ctx,
			`UPDATE votes SET vote_type=$1 WHERE meme_id=$2 AND user_id=$3`, kind, memeID, userID); err != nil {
			return 0, 0, fmt.Errorf("update vote: %w", err)
		}
		if err = adjustCounter(ctx, tx, memeID, existing, -1); err != nil {
			return 0, 0, err
		}
		if err = adjustCounter(ctx, tx, memeID, kind, +1); err != nil {
			return 0, 0, err
		}
	}

	err = tx.QueryRowContext(ctx,
		`SELECT like_count, dislike_count FROM memes WHERE id=$1`, memeID).Scan(&likes, &dislikes)
	if err != nil {
		return 0, 0, fmt.Errorf("read counters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit vote: %w", err)
	}
	telemetry.VotesCast.Inc()
	return likes, dislikes, nil
}

func adjustCounter(ctx context.Context, tx *sql.Tx, memeID int64, kind string, delta int) error {
	col := "like_count"
	if kind == VoteDislike {
		col = "dislike_count"
	}
	q := fmt.Sprintf(`UPDATE memes SET %s = %s + $1 WHERE id=$2`, col, col)
	if _, err := tx.ExecContext(ctx, q, delta, memeID); err != nil {
		return fmt.Errorf("adjust %s: %w", col, err)
	}
	return nil
}

const listColumns = `m.id, m.image_path, COALESCE(m.caption, ''), m.user_id,
	m.like_count, m.dislike_count, m.leader_since, m.created_at,
	COALESCE((SELECT vote_type FROM votes WHERE meme_id = m.id AND user_id = $1), '')`

func scanMeme(scan func(...any) error) (Meme, error) {
	var m Meme
	err := scan(&m.ID, &m.ImagePath, &m.Caption, &m.UserID,
		&m.LikeCount, &m.DislikeCount, &m.LeaderSince, &m.CreatedAt, &m.UserVote)
	return m, err
}

// List returns all memes with the viewer's own vote attached. sort "popular" orders by
// like count; anything else is newest first.
func List(ctx context.Context, db *sql.DB, viewerID, sort string) ([]Meme, error) {
	order := `m.created_at DESC`
	if sort == "popular" {
		order = `m.like_count DESC, m.created_at DESC`
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+listColumns+` FROM memes m ORDER BY `+order, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list memes: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	out := make([]Meme, 0)
	for rows.Next() {
		m, err := scanMeme(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan meme: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Get returns one meme by id with the viewer's vote attached.
func Get(ctx context.Context, db *sql.DB, memeID int64, viewerID string) (Meme, error) {
	m, err := scanMeme(db.QueryRowContext(ctx,
		`SELECT `+listColumns+` FROM memes m WHERE m.id=$2`, viewerID, memeID).Scan)
	if err == sql.ErrNoRows {
		return Meme{}, ErrNotFound
	}
	if err != nil {
		return Meme{}, fmt.Errorf("get meme: %w", err)
	}
	return m, nil
}

// Create inserts a new meme and returns the stored row.
func Create(ctx context.Context, db *sql.DB, imagePath, caption, userID string) (Meme, error) {
	var id int64
	err := db.QueryRowContext(ctx,
		`INSERT INTO memes (image_path, caption, user_id) VALUES ($1,$2,$3) RETURNING id`,
		imagePath, caption, userID).Scan(&id)
	if err != nil {
		return Meme{}, fmt.Errorf("insert meme: %w", err)
	}
	return Get(ctx, db, id, userID)
}

// Delete removes a meme owned by userID and returns the image path so the caller can
// unlink the file. ErrNotOwner is returned when the meme exists but belongs to someone
// else.
func Delete(ctx context.Context, db *sql.DB, memeID int64, userID string) (imagePath string, err error) {
	err = db.QueryRowContext(ctx, `SELECT image_path FROM memes WHERE id=$1`, memeID).Scan(&imagePath)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup meme: %w", err)
	}
	res, err := db.ExecContext(ctx, `DELETE FROM memes WHERE id=$1 AND user_id=$2`, memeID, userID)
	if err != nil {
		return "", fmt.Errorf("delete meme: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("delete meme: %w", err)
	}
	if n == 0 {
		return "", ErrNotOwner
	}
	return imagePath, nil
}

// MemeOfDay returns the current leader: the most-liked meme, earliest leader first on
// ties. sql.ErrNoRows maps to ErrNotFound when no meme has likes yet.
func MemeOfDay(ctx context.Context, db *sql.DB, viewerID string) (Meme, error) {
	m, err := scanMeme(db.QueryRowContext(ctx,
		`SELECT `+listColumns+` FROM memes m
		 WHERE m.like_count > 0
		 ORDER BY m.like_count DESC, m.leader_since ASC NULLS LAST, m.created_at ASC
		 LIMIT 1`, viewerID).Scan)
	if err == sql.ErrNoRows {
		return Meme{}, ErrNotFound
	}
	if err != nil {
		return Meme{}, fmt.Errorf("meme of day: %w", err)
	}
	return m, nil
}

// Top returns up to limit memes with at least one like, most liked first.
func Top(ctx context.Context, db *sql.DB, viewerID string, limit int) ([]Meme, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+listColumns+` FROM memes m
		 WHERE m.like_count > 0
		 ORDER BY m.like_count DESC, m.created_at DESC
		 LIMIT $2`, viewerID, limit)
	if err != nil {
		return nil, fmt.Errorf("top memes: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	out := make([]Meme, 0, limit)
	for rows.Next() {
		m, err := scanMeme(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan meme: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RefreshLeader stamps leader_since on the current leader when it just took the lead
// and clears the stamp everywhere else. Returns the leader, or ErrNotFound when there
// is none.
func RefreshLeader(ctx context.Context, db *sql.DB) (Meme, error) {
	leader, err := MemeOfDay(ctx, db, "")
	if err != nil {
		return Meme{}, err
	}
	if leader.LeaderSince == nil {
		if _, err := db.ExecContext(ctx,
			`UPDATE memes SET leader_since = NOW() WHERE id=$1`, leader.ID); err != nil {
			return Meme{}, fmt.Errorf("stamp leader: %w", err)
		}
		if _, err := db.ExecContext(ctx,
			`UPDATE memes SET leader_since = NULL WHERE id != $1`, leader.ID); err != nil {
			return Meme{}, fmt.Errorf("clear old leaders: %w", err)
		}
		now := time.Now().UTC()
		leader.LeaderSince = &now
	}
	return leader, nil
}
