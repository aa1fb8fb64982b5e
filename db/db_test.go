package db

import (
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/rabble/domain"
)

// setupTestDB opens a migrated sqlite file in a per-test temp dir.
// A file is used instead of :memory: so pooled connections share state.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func createTestUser(t *testing.T, db *DB, handle, host string) *domain.User {
	t.Helper()
	u := &domain.User{Handle: handle, Host: host, DisplayName: handle}
	if _, err := db.CreateUser(u); err != nil {
		t.Fatalf("Failed to create user %s@%s: %v", handle, host, err)
	}
	return u
}

func createTestPost(t *testing.T, db *DB, authorId int64, title, apId string) *domain.Article {
	t.Helper()
	a := &domain.Article{AuthorId: authorId, Title: title, Body: "<p>" + title + "</p>", ApId: apId}
	if _, err := db.CreatePost(a); err != nil {
		t.Fatalf("Failed to create post %q: %v", title, err)
	}
	return a
}

func TestRunMigrationsIsRepeatable(t *testing.T) {
	db := setupTestDB(t)
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("Second migration run failed: %v", err)
	}
}

func TestCreateAndReadUser(t *testing.T) {
	db := setupTestDB(t)

	u := &domain.User{Handle: "alice", DisplayName: "Alice", Bio: "hi", Private: true}
	id, err := db.CreateUser(u)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if id == 0 || u.GlobalId != id {
		t.Fatalf("Expected global id to be assigned, got %d / %d", id, u.GlobalId)
	}

	err, got := db.ReadUserByHandle("alice", "")
	if err != nil {
		t.Fatalf("ReadUserByHandle failed: %v", err)
	}
	if got.GlobalId != id || got.DisplayName != "Alice" || !got.Private || !got.IsLocal() {
		t.Errorf("Unexpected user: %+v", got)
	}

	err, got = db.ReadUserById(id)
	if err != nil || got.Handle != "alice" {
		t.Errorf("ReadUserById returned %v, %+v", err, got)
	}

	err, _ = db.ReadUserByHandle("alice", "b.com")
	if err != sql.ErrNoRows {
		t.Errorf("Expected sql.ErrNoRows for foreign alice, got %v", err)
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	db := setupTestDB(t)
	createTestUser(t, db, "bob", "b.com")

	_, err := db.CreateUser(&domain.User{Handle: "bob", Host: "b.com"})
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}

	// Same handle on another host, and locally, are different users.
	createTestUser(t, db, "bob", "c.com")
	createTestUser(t, db, "bob", "")

	_, err = db.CreateUser(&domain.User{Handle: "bob"})
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for second local bob, got %v", err)
	}
}

func TestUpdateUser(t *testing.T) {
	db := setupTestDB(t)
	u := createTestUser(t, db, "alice", "")

	u.Bio = "new bio"
	u.Private = true
	if err := db.UpdateUser(u); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	_, got := db.ReadUserById(u.GlobalId)
	if got.Bio != "new bio" || !got.Private {
		t.Errorf("Update not applied: %+v", got)
	}

	err := db.UpdateUser(&domain.User{GlobalId: 999})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	db := setupTestDB(t)
	alice := createTestUser(t, db, "alice", "")
	bob := createTestUser(t, db, "bob", "b.com")
	post := createTestPost(t, db, alice.GlobalId, "hello", "")
	other := createTestPost(t, db, bob.GlobalId, "remote", "https://b.com/@bob/1")

	db.CreateFollow(&domain.Follow{Follower: bob.GlobalId, Followed: alice.GlobalId, State: domain.FollowActive})
	db.AddLike(bob.GlobalId, post.GlobalId)
	db.AddLike(alice.GlobalId, other.GlobalId)

	if err := db.DeleteUser(alice.GlobalId); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}

	if err, _ := db.ReadUserById(alice.GlobalId); err != sql.ErrNoRows {
		t.Errorf("Expected user to be gone, got %v", err)
	}
	if err, _ := db.ReadPostById(post.GlobalId); err != sql.ErrNoRows {
		t.Errorf("Expected authored post to be gone, got %v", err)
	}
	_, remaining := db.ReadFollows(domain.FollowFilter{})
	if len(*remaining) != 0 {
		t.Errorf("Expected no follows left, got %d", len(*remaining))
	}
	_, remote := db.ReadPostById(other.GlobalId)
	if remote.LikesCount != 0 {
		t.Errorf("Expected likes_count restored to 0, got %d", remote.LikesCount)
	}
}

func TestFollowLifecycle(t *testing.T) {
	db := setupTestDB(t)
	alice := createTestUser(t, db, "alice", "")
	bob := createTestUser(t, db, "bob", "b.com")

	f := &domain.Follow{Follower: bob.GlobalId, Followed: alice.GlobalId, State: domain.FollowPending}
	if err := db.CreateFollow(f); err != nil {
		t.Fatalf("CreateFollow failed: %v", err)
	}

	if err := db.CreateFollow(f); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for second edge, got %v", err)
	}

	changed, err := db.TransitionFollow(bob.GlobalId, alice.GlobalId, domain.FollowPending, domain.FollowActive)
	if err != nil || !changed {
		t.Fatalf("Expected PENDING -> ACTIVE, got changed=%v err=%v", changed, err)
	}

	changed, err = db.TransitionFollow(bob.GlobalId, alice.GlobalId, domain.FollowPending, domain.FollowActive)
	if err != nil || changed {
		t.Errorf("Second transition should be a no-op, got changed=%v err=%v", changed, err)
	}

	_, got := db.ReadFollow(bob.GlobalId, alice.GlobalId)
	if got.State != domain.FollowActive {
		t.Errorf("Expected ACTIVE, got %s", got.State)
	}

	deleted, err := db.DeleteFollow(bob.GlobalId, alice.GlobalId)
	if err != nil || !deleted {
		t.Errorf("Expected delete to remove the edge, got %v %v", deleted, err)
	}
	deleted, err = db.DeleteFollow(bob.GlobalId, alice.GlobalId)
	if err != nil || deleted {
		t.Errorf("Second delete should be a no-op, got %v %v", deleted, err)
	}
}

func TestReadActiveFollowersFiltersState(t *testing.T) {
	db := setupTestDB(t)
	alice := createTestUser(t, db, "alice", "")
	states := []domain.FollowState{domain.FollowActive, domain.FollowPending, domain.FollowRejected, domain.FollowActive}
	for i, s := range states {
		u := createTestUser(t, db, "f"+string(rune('a'+i)), "x.com")
		db.CreateFollow(&domain.Follow{Follower: u.GlobalId, Followed: alice.GlobalId, State: s})
	}

	err, followers := db.ReadActiveFollowers(alice.GlobalId)
	if err != nil {
		t.Fatalf("ReadActiveFollowers failed: %v", err)
	}
	if len(*followers) != 2 {
		t.Errorf("Expected 2 ACTIVE followers, got %d", len(*followers))
	}

	_, pending := db.ReadFollows(domain.FollowFilter{Followed: alice.GlobalId, State: domain.FollowPending})
	if len(*pending) != 1 {
		t.Errorf("Expected 1 PENDING edge, got %d", len(*pending))
	}
}

func TestUpdateFollowStateMissing(t *testing.T) {
	db := setupTestDB(t)
	err := db.UpdateFollowState(1, 2, domain.FollowActive)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPostApIdUnique(t *testing.T) {
	db := setupTestDB(t)
	bob := createTestUser(t, db, "bob", "b.com")
	createTestPost(t, db, bob.GlobalId, "one", "https://b.com/@bob/1")

	_, err := db.CreatePost(&domain.Article{AuthorId: bob.GlobalId, ApId: "https://b.com/@bob/1"})
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for repeated ap_id, got %v", err)
	}

	// Local posts without ap_id never clash with each other.
	createTestPost(t, db, bob.GlobalId, "two", "")
	createTestPost(t, db, bob.GlobalId, "three", "")

	err, got := db.ReadPostByApId("https://b.com/@bob/1")
	if err != nil || got.Title != "one" {
		t.Errorf("ReadPostByApId returned %v, %+v", err, got)
	}
}

func TestUpdateAndRemovePost(t *testing.T) {
	db := setupTestDB(t)
	alice := createTestUser(t, db, "alice", "")
	bob := createTestUser(t, db, "bob", "b.com")
	post := createTestPost(t, db, alice.GlobalId, "draft", "")

	if err := db.UpdatePostContent(post.GlobalId, "final", "<p>final</p>", "final", "sum"); err != nil {
		t.Fatalf("UpdatePostContent failed: %v", err)
	}
	_, got := db.ReadPostById(post.GlobalId)
	if got.Title != "final" || got.Summary != "sum" {
		t.Errorf("Update not applied: %+v", got)
	}

	db.AddLike(bob.GlobalId, post.GlobalId)
	db.AddShare(bob.GlobalId, post.GlobalId, time.Now())

	removed, err := db.SafeRemovePost(post.GlobalId)
	if err != nil || !removed {
		t.Fatalf("SafeRemovePost returned %v, %v", removed, err)
	}
	_, likes := db.ReadLikesByPost(post.GlobalId)
	_, shares := db.ReadSharesByPost(post.GlobalId)
	if len(*likes) != 0 || len(*shares) != 0 {
		t.Errorf("Expected cascaded likes/shares to be gone, got %d/%d", len(*likes), len(*shares))
	}

	removed, err = db.SafeRemovePost(post.GlobalId)
	if err != nil || removed {
		t.Errorf("Second removal should report false, got %v, %v", removed, err)
	}
}

func TestInstanceFeedAndSearch(t *testing.T) {
	db := setupTestDB(t)
	alice := createTestUser(t, db, "alice", "")
	bob := createTestUser(t, db, "bob", "b.com")
	createTestPost(t, db, alice.GlobalId, "Gardening notes", "")
	createTestPost(t, db, alice.GlobalId, "100% effort", "")
	createTestPost(t, db, bob.GlobalId, "Remote gardening", "https://b.com/@bob/1")

	_, feed := db.ReadInstanceFeed(10)
	if len(*feed) != 2 {
		t.Errorf("Expected 2 local posts in feed, got %d", len(*feed))
	}

	_, found := db.SearchPosts("gardening", 10)
	if len(*found) != 2 {
		t.Errorf("Expected 2 matches for 'gardening', got %d", len(*found))
	}

	_, found = db.SearchPosts("100%", 10)
	if len(*found) != 1 {
		t.Errorf("Expected literal %% match, got %d", len(*found))
	}
}

func TestReadPostsByAuthorPage(t *testing.T) {
	db := setupTestDB(t)
	alice := createTestUser(t, db, "alice", "")
	bob := createTestUser(t, db, "bob", "b.com")
	for _, title := range []string{"one", "two", "three"} {
		createTestPost(t, db, alice.GlobalId, title, "")
	}
	createTestPost(t, db, bob.GlobalId, "elsewhere", "https://b.com/@bob/1")

	err, n := db.CountPostsByAuthor(alice.GlobalId)
	if err != nil || n != 3 {
		t.Fatalf("Expected 3 posts by alice, got %d (%v)", n, err)
	}

	_, first := db.ReadPostsByAuthorPage(alice.GlobalId, 2, 0)
	_, second := db.ReadPostsByAuthorPage(alice.GlobalId, 2, 2)
	if len(*first) != 2 || len(*second) != 1 {
		t.Fatalf("Expected pages of 2 and 1, got %d and %d", len(*first), len(*second))
	}
	if (*second)[0].Title != "one" {
		t.Errorf("Oldest post should be last, got %q", (*second)[0].Title)
	}
	for _, a := range *first {
		if a.GlobalId == (*second)[0].GlobalId {
			t.Errorf("Post %d appears on both pages", a.GlobalId)
		}
	}
}

func TestAddLikeDuplicateDoesNotDoubleCount(t *testing.T) {
	db := setupTestDB(t)
	alice := createTestUser(t, db, "alice", "")
	post := createTestPost(t, db, alice.GlobalId, "post", "")

	added, err := db.AddLike(alice.GlobalId, post.GlobalId)
	if err != nil || !added {
		t.Fatalf("First like returned %v, %v", added, err)
	}
	added, err = db.AddLike(alice.GlobalId, post.GlobalId)
	if err != nil || added {
		t.Fatalf("Duplicate like returned %v, %v", added, err)
	}

	_, got := db.ReadPostById(post.GlobalId)
	if got.LikesCount != 1 {
		t.Errorf("Expected likes_count 1, got %d", got.LikesCount)
	}

	removed, _ := db.RemoveLike(alice.GlobalId, post.GlobalId)
	removedAgain, _ := db.RemoveLike(alice.GlobalId, post.GlobalId)
	if !removed || removedAgain {
		t.Errorf("Expected exactly one removal, got %v then %v", removed, removedAgain)
	}
	_, got = db.ReadPostById(post.GlobalId)
	if got.LikesCount != 0 {
		t.Errorf("Expected likes_count 0, got %d", got.LikesCount)
	}
}

func TestAddLikeMissingPost(t *testing.T) {
	db := setupTestDB(t)
	alice := createTestUser(t, db, "alice", "")

	_, err := db.AddLike(alice.GlobalId, 42)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	_, likes := db.ReadLikesByPost(42)
	if len(*likes) != 0 {
		t.Error("Like row should have been rolled back")
	}
}

func TestConcurrentLikesCount(t *testing.T) {
	db := setupTestDB(t)
	author := createTestUser(t, db, "author", "")
	post := createTestPost(t, db, author.GlobalId, "popular", "")

	const n = 20
	users := make([]*domain.User, n)
	for i := range users {
		users[i] = createTestUser(t, db, "liker"+string(rune('a'+i)), "x.com")
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, u := range users {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := db.AddLike(id, post.GlobalId); err != nil {
				errs <- err
			}
		}(u.GlobalId)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("AddLike failed: %v", err)
	}

	_, got := db.ReadPostById(post.GlobalId)
	if got.LikesCount != n {
		t.Errorf("Expected likes_count %d, got %d", n, got.LikesCount)
	}

	_, liked := db.ReadLikedByUser(users[0].GlobalId)
	if len(*liked) != 1 {
		t.Errorf("Expected user to have liked 1 post, got %d", len(*liked))
	}
}

func TestShares(t *testing.T) {
	db := setupTestDB(t)
	alice := createTestUser(t, db, "alice", "")
	bob := createTestUser(t, db, "bob", "b.com")
	post := createTestPost(t, db, alice.GlobalId, "post", "")

	added, err := db.AddShare(bob.GlobalId, post.GlobalId, time.Time{})
	if err != nil || !added {
		t.Fatalf("AddShare returned %v, %v", added, err)
	}
	added, _ = db.AddShare(bob.GlobalId, post.GlobalId, time.Time{})
	if added {
		t.Error("Duplicate share should not be added")
	}

	_, got := db.ReadPostById(post.GlobalId)
	if got.SharesCount != 1 {
		t.Errorf("Expected shares_count 1, got %d", got.SharesCount)
	}

	err, share := db.ReadShare(bob.GlobalId, post.GlobalId)
	if err != nil || share.AnnounceDatetime.IsZero() {
		t.Errorf("ReadShare returned %v, %+v", err, share)
	}

	_, shared := db.ReadSharedPosts(bob.GlobalId)
	if len(*shared) != 1 || (*shared)[0].GlobalId != post.GlobalId {
		t.Errorf("Unexpected shared posts: %+v", shared)
	}
}

func TestActivityLog(t *testing.T) {
	db := setupTestDB(t)

	a := &domain.Activity{ActivityType: "Like", ActorURI: "https://b.com/ap/@bob", ObjectURI: "https://a.com/@alice/1", RawJSON: `{}`}
	if err := db.CreateActivity(a); err != nil {
		t.Fatalf("CreateActivity failed: %v", err)
	}
	if err := db.UpdateActivityResult(a.Id, "OK"); err != nil {
		t.Fatalf("UpdateActivityResult failed: %v", err)
	}

	_, recent := db.ReadRecentActivities(10)
	if len(*recent) != 1 || (*recent)[0].Result != "OK" || (*recent)[0].Id != a.Id {
		t.Errorf("Unexpected activity log: %+v", recent)
	}
}
