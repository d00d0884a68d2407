package meme

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nexus-console/backend/testutil"
)

func voteRowCounts(t *testing.T, db *sql.DB, memeID int64) (likes, dislikes int) {
	t.Helper()
	err := db.QueryRow(`
		SELECT
			COUNT(*) FILTER (WHERE vote_type = 'like'),
			COUNT(*) FILTER (WHERE vote_type = 'dislike')
		FROM votes WHERE meme_id = $1`, memeID).Scan(&likes, &dislikes)
	if err != nil {
		t.Fatalf("count vote rows: %v", err)
	}
	return likes, dislikes
}

// checkInvariant asserts that the derived counters match the true vote-row counts.
func checkInvariant(t *testing.T, db *sql.DB, memeID int64) {
	t.Helper()
	m, err := Get(context.Background(), db, memeID, "")
	if err != nil {
		t.Fatalf("get meme: %v", err)
	}
	likes, dislikes := voteRowCounts(t, db, memeID)
	if m.LikeCount != likes || m.DislikeCount != dislikes {
		t.Errorf("counters (%d,%d) diverge from vote rows (%d,%d)",
			m.LikeCount, m.DislikeCount, likes, dislikes)
	}
}

func TestCastVoteScenario(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(t, db, "memes")
	ctx := context.Background()

	m, err := Create(ctx, db, "/memes/7.png", "", "uploader")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	steps := []struct {
		voter        string
		kind         string
		wantLikes    int
		wantDislikes int
	}{
		{"A", VoteLike, 1, 0},
		{"A", VoteLike, 0, 0}, // toggle off
		{"A", VoteDislike, 0, 1},
		{"B", VoteLike, 1, 1},
	}
	for i, s := range steps {
		likes, dislikes, err := CastVote(ctx, db, m.ID, s.voter, s.kind)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if likes != s.wantLikes || dislikes != s.wantDislikes {
			t.Errorf("step %d: got (%d,%d), want (%d,%d)", i, likes, dislikes, s.wantLikes, s.wantDislikes)
		}
		checkInvariant(t, db, m.ID)
	}
}

func TestConcurrentVotesKeepCountersConsistent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(t, db, "memes")
	ctx := context.Background()

	m, err := Create(ctx, db, "/memes/rush.png", "", "uploader")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Distinct voters race on one meme: likes and dislikes interleaved, plus a
	// second like from each liker to toggle it back off. Whatever order the
	// transactions commit in, the counters must equal the surviving vote rows.
	const voters = 8
	var wg sync.WaitGroup
	errs := make(chan error, voters*2)
	for i := 0; i < voters; i++ {
		voter := fmt.Sprintf("voter-%d", i)
		kind := VoteLike
		if i%2 == 1 {
			kind = VoteDislike
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := CastVote(ctx, db, m.ID, voter, kind); err != nil {
				errs <- err
			}
		}()
		if kind == VoteLike {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := CastVote(ctx, db, m.ID, voter, VoteLike); err != nil {
					errs <- err
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent cast: %v", err)
	}

	checkInvariant(t, db, m.ID)

	// Dislikers never raced with themselves, so their rows must all survive.
	_, dislikes := voteRowCounts(t, db, m.ID)
	if dislikes != voters/2 {
		t.Errorf("dislike rows = %d, want %d", dislikes, voters/2)
	}
}

func TestDoubleVoteNetsToZero(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(t, db, "memes")
	ctx := context.Background()

	m, err := Create(ctx, db, "/memes/x.png", "cap", "uploader")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := CastVote(ctx, db, m.ID, "v", VoteDislike); err != nil {
		t.Fatalf("first cast: %v", err)
	}
	likes, dislikes, err := CastVote(ctx, db, m.ID, "v", VoteDislike)
	if err != nil {
		t.Fatalf("second cast: %v", err)
	}
	if likes != 0 || dislikes != 0 {
		t.Errorf("got (%d,%d), want (0,0)", likes, dislikes)
	}
	if l, d := voteRowCounts(t, db, m.ID); l != 0 || d != 0 {
		t.Errorf("vote rows remain after toggle off: (%d,%d)", l, d)
	}
}

func TestCastVoteUnknownMeme(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(t, db, "memes")
	_, _, err := CastVote(context.Background(), db, 999999, "v", VoteLike)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCastVoteRejectsBadKind(t *testing.T) {
	_, _, err := CastVote(context.Background(), nil, 1, "v", "meh")
	if !errors.Is(err, ErrInvalidVoteKind) {
		t.Fatalf("expected ErrInvalidVoteKind, got %v", err)
	}
}

func TestListSortAndUserVote(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(t, db, "memes")
	ctx := context.Background()

	old, err := Create(ctx, db, "/memes/old.png", "old", "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	newer, err := Create(ctx, db, "/memes/new.png", "new", "u2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := CastVote(ctx, db, old.ID, "viewer", VoteLike); err != nil {
		t.Fatalf("vote: %v", err)
	}

	list, err := List(ctx, db, "viewer", "popular")
	if err != nil {
		t.Fatalf("list popular: %v", err)
	}
	if len(list) != 2 || list[0].ID != old.ID {
		t.Fatalf("popular sort should lead with the liked meme, got %+v", list)
	}
	if list[0].UserVote != VoteLike {
		t.Errorf("UserVote = %q, want like", list[0].UserVote)
	}
	if list[1].UserVote != "" {
		t.Errorf("UserVote = %q, want empty", list[1].UserVote)
	}

	list, err = List(ctx, db, "viewer", "new")
	if err != nil {
		t.Fatalf("list new: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID {
		t.Fatalf("new sort should lead with the newest meme, got %+v", list)
	}
}

func TestDeleteOwnership(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(t, db, "memes")
	ctx := context.Background()

	m, err := Create(ctx, db, "/memes/own.png", "", "owner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := Delete(ctx, db, m.ID, "intruder"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	path, err := Delete(ctx, db, m.ID, "owner")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if path != "/memes/own.png" {
		t.Errorf("image path = %q", path)
	}
	if _, err := Delete(ctx, db, m.ID, "owner"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRefreshLeader(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.TruncateTables(t, db, "memes")
	ctx := context.Background()

	if _, err := RefreshLeader(ctx, db); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound with no liked memes, got %v", err)
	}

	a, _ := Create(ctx, db, "/memes/a.png", "", "u")
	b, _ := Create(ctx, db, "/memes/b.png", "", "u")
	if _, _, err := CastVote(ctx, db, a.ID, "v1", VoteLike); err != nil {
		t.Fatalf("vote: %v", err)
	}

	leader, err := RefreshLeader(ctx, db)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if leader.ID != a.ID || leader.LeaderSince == nil {
		t.Fatalf("leader = %+v", leader)
	}

	// b overtakes a; the stamp moves.
	for _, voter := range []string{"v1", "v2"} {
		if _, _, err := CastVote(ctx, db, b.ID, voter, VoteLike); err != nil {
			t.Fatalf("vote b: %v", err)
		}
	}
	leader, err = RefreshLeader(ctx, db)
	if err != nil {
		t.Fatalf("refresh 2: %v", err)
	}
	if leader.ID != b.ID {
		t.Errorf("leader = %d, want %d", leader.ID, b.ID)
	}
	got, err := Get(ctx, db, a.ID, "")
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	if got.LeaderSince != nil {
		t.Errorf("old leader should lose its stamp")
	}
}
