package activitypub

import (
	"context"
	"testing"

	"github.com/deemkeen/rabble/domain"
)

func TestReceiveAnnounceUnknownPartiesStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	ann := Activity{
		Type:  "Announce",
		Actor: BuildActor("carol", "c.org"),
		Object: map[string]interface{}{
			"type": "Article", "id": "https://b.com/@bob/1", "attributedTo": BuildActor("bob", "b.com"),
			"name": "Shared", "content": "<p>x</p>",
		},
	}

	expectResult(t, env.svc.Receive(context.Background(), ann), domain.ResultError)

	for _, h := range [][2]string{{"bob", "b.com"}, {"carol", "c.org"}} {
		if err, _ := env.db.ReadUserByHandle(h[0], h[1]); err == nil {
			t.Errorf("%s@%s should not have been created", h[0], h[1])
		}
	}
	if err, _ := env.db.ReadPostByApId("https://b.com/@bob/1"); err == nil {
		t.Error("Article should not have been stored")
	}
}

func TestReceiveAnnounceMaterializesArticle(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice", "", false)
	carol := env.user(t, "carol", "c.org", false)
	env.follow(t, alice, carol, domain.FollowActive)

	ann := Activity{
		Type:  "Announce",
		Actor: BuildActor("carol", "c.org"),
		Object: map[string]interface{}{
			"type": "Article", "id": "https://b.com/@bob/1", "attributedTo": BuildActor("bob", "b.com"),
			"name": "Shared", "content": "<p>x</p>",
		},
	}
	expectResult(t, env.svc.Receive(context.Background(), ann), domain.ResultOK)

	err, bob := env.db.ReadUserByHandle("bob", "b.com")
	if err != nil {
		t.Fatalf("Author should have been created: %v", err)
	}
	err, a := env.db.ReadPostByApId("https://b.com/@bob/1")
	if err != nil {
		t.Fatalf("Article should have been materialized: %v", err)
	}
	if a.AuthorId != bob.GlobalId || a.Title != "Shared" {
		t.Errorf("Unexpected article %+v", a)
	}
	if a.SharesCount != 1 {
		t.Errorf("Expected shares_count 1, got %d", a.SharesCount)
	}
	if err, _ := env.db.ReadShare(carol.GlobalId, a.GlobalId); err != nil {
		t.Errorf("Share should be recorded: %v", err)
	}
}

func TestReceiveAnnounceWithoutContentIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "carol", "c.org", false)

	ann := Activity{Type: "Announce", Actor: BuildActor("carol", "c.org"), Object: "https://b.com/@bob/1"}
	expectResult(t, env.svc.Receive(context.Background(), ann), domain.ResultError)
	if err, _ := env.db.ReadPostByApId("https://b.com/@bob/1"); err == nil {
		t.Error("Article should not have been stored")
	}
}

func TestReceiveAnnounceOfLocalArticle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice", "", false)
	f := env.user(t, "f", "f.example", false)
	env.follow(t, f, alice, domain.FollowActive)
	a := env.article(t, alice, "Mine", "")

	ann := Activity{
		Type:   "Announce",
		Actor:  BuildActor("carol", "c.org"),
		Object: env.svc.Builder().ArticleURI(a, alice),
		Target: BuildActor("alice", testHost),
	}
	expectResult(t, env.svc.Receive(ctx, ann), domain.ResultOK)
	expectResult(t, env.svc.Receive(ctx, ann), domain.ResultOK)

	if got := env.reloadArticle(t, a.GlobalId).SharesCount; got != 1 {
		t.Errorf("Expected shares_count 1, got %d", got)
	}
	if n := len(env.client.Posts(inboxOf("f", "f.example"))); n != 1 {
		t.Errorf("Expected one relay to the author's follower, got %d", n)
	}
}

func TestReceiveAnnounceNotTargetedAtAuthor(t *testing.T) {
	env := newTestEnv(t)
	bob := env.user(t, "bob", "b.com", false)
	env.user(t, "carol", "c.org", false)
	a := env.article(t, bob, "Theirs", "https://b.com/@bob/2")

	ann := Activity{
		Type:   "Announce",
		Actor:  BuildActor("carol", "c.org"),
		Object: a.ApId,
		Target: BuildActor("carol", "c.org") + "/followers",
	}
	expectResult(t, env.svc.Receive(context.Background(), ann), domain.ResultOK)
	if got := env.reloadArticle(t, a.GlobalId).SharesCount; got != 0 {
		t.Errorf("A follower copy must not count as a share, got %d", got)
	}
}

func TestSendAnnounce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.user(t, "alice", "", false)
	bob := env.user(t, "bob", "b.com", false)
	f := env.user(t, "f", "f.example", false)
	env.follow(t, f, alice, domain.FollowActive)
	a := env.article(t, bob, "Theirs", "https://b.com/@bob/2")

	expectResult(t, env.svc.SendAnnounce(ctx, alice.GlobalId, a.GlobalId), domain.ResultOK)
	expectResult(t, env.svc.SendAnnounce(ctx, alice.GlobalId, a.GlobalId), domain.ResultOK)

	if got := env.reloadArticle(t, a.GlobalId).SharesCount; got != 1 {
		t.Errorf("Expected shares_count 1, got %d", got)
	}
	if n := len(env.client.Posts(inboxOf("f", "f.example"))); n != 1 {
		t.Errorf("Expected one copy for the announcer's follower, got %d", n)
	}
	toAuthor := env.client.Posts(inboxOf("bob", "b.com"))
	if len(toAuthor) != 1 {
		t.Fatalf("Expected one copy for the author, got %d", len(toAuthor))
	}
	posted := env.client.PostedActivities(t)
	var targets []interface{}
	for _, p := range posted {
		targets = append(targets, p["target"])
	}
	if len(targets) != 2 || targets[0] != BuildActor("alice", testHost)+"/followers" || targets[1] != BuildActor("bob", "b.com") {
		t.Errorf("Unexpected targets %v", targets)
	}
}
