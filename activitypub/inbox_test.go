package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deemkeen/rabble/domain"
)

func postInbox(t *testing.T, env *testEnv, handle string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/ap/@"+handle+"/inbox", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	w := httptest.NewRecorder()
	env.svc.HandleInbox(w, req, handle)
	return w
}

func TestHandleInboxStatuses(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "alice", "", false)
	aliceURI := BuildActor("alice", testHost)

	follow, _ := json.Marshal(map[string]interface{}{
		"id": "https://b.com/f/1", "type": "Follow", "actor": BuildActor("bob", "b.com"), "object": aliceURI,
	})
	if w := postInbox(t, env, "alice", follow); w.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}

	forged, _ := json.Marshal(map[string]interface{}{
		"type": "Undo", "actor": BuildActor("mallory", "m.example"),
		"object": map[string]interface{}{"type": "Follow", "actor": BuildActor("bob", "b.com"), "object": aliceURI},
	})
	w := postInbox(t, env, "alice", forged)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
	var res domain.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("Response is not a result: %v", err)
	}
	if res.Type != domain.ResultDenied {
		t.Errorf("Expected DENIED, got %s", res.Type)
	}

	if w := postInbox(t, env, "alice", []byte(`{"type":"Follow"`)); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d", w.Code)
	}
	if w := postInbox(t, env, "alice", []byte(`{"type":"Dance","actor":"https://b.com/ap/@bob"}`)); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unsupported type, got %d", w.Code)
	}
	if w := postInbox(t, env, "nobody", follow); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown inbox, got %d", w.Code)
	}
	if w := postInbox(t, env, "", follow); w.Code != http.StatusAccepted {
		t.Errorf("Expected 202 from the shared inbox, got %d", w.Code)
	}
}

func TestHandleInboxLogsActivities(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "alice", "", false)

	body, _ := json.Marshal(map[string]interface{}{
		"id": "https://b.com/f/9", "type": "Follow", "actor": BuildActor("bob", "b.com"), "object": BuildActor("alice", testHost),
	})
	postInbox(t, env, "alice", body)

	err, acts := env.db.ReadRecentActivities(10)
	if err != nil {
		t.Fatalf("ReadRecentActivities failed: %v", err)
	}
	if len(*acts) != 1 {
		t.Fatalf("Expected one logged activity, got %d", len(*acts))
	}
	got := (*acts)[0]
	if got.ActivityURI != "https://b.com/f/9" || got.ActivityType != "Follow" || got.Result != "OK" {
		t.Errorf("Unexpected log record %+v", got)
	}
}

func TestHandleInboxRequiresSignature(t *testing.T) {
	conf := testConfig()
	conf.Conf.VerifySignatures = true
	env := newTestEnvWithConfig(t, conf)
	env.user(t, "alice", "", false)

	body, _ := json.Marshal(map[string]interface{}{
		"type": "Follow", "actor": BuildActor("bob", "b.com"), "object": BuildActor("alice", testHost),
	})
	if w := postInbox(t, env, "alice", body); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for an unsigned request, got %d", w.Code)
	}
}

func TestHandleInboxAcceptsSignedRequest(t *testing.T) {
	conf := testConfig()
	conf.Conf.VerifySignatures = true
	env := newTestEnvWithConfig(t, conf)
	env.user(t, "alice", "", false)

	privateKey, publicKey, err := generateTestKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	bobURI := BuildActor("bob", "b.com")
	doc := ActorResponse{ID: bobURI, Type: "Person", PreferredUsername: "bob", Inbox: bobURI + "/inbox"}
	doc.PublicKey.ID = KeyID(bobURI)
	doc.PublicKey.Owner = bobURI
	publicPEM, err := publicKeyToPEM(publicKey)
	if err != nil {
		t.Fatalf("Failed to convert public key to PEM: %v", err)
	}
	doc.PublicKey.PublicKeyPem = publicPEM
	env.client.SetJSONResponse(bobURI, http.StatusOK, doc)

	body, _ := json.Marshal(map[string]interface{}{
		"type": "Follow", "actor": bobURI, "object": BuildActor("alice", testHost),
	})
	req := httptest.NewRequest("POST", "https://"+testHost+"/ap/@alice/inbox", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", "Mon, 02 Jan 2006 15:04:05 GMT")
	if err := SignRequest(req, privateKey, KeyID(bobURI), body); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	w := httptest.NewRecorder()
	env.svc.HandleInbox(w, req, "alice")
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202 for a signed request, got %d: %s", w.Code, w.Body.String())
	}
}

func TestReceiveUndoAnnounceUnsupported(t *testing.T) {
	env := newTestEnv(t)
	undo := Activity{Type: "Undo", Actor: BuildActor("bob", "b.com"), Object: Activity{Type: "Announce", Actor: BuildActor("bob", "b.com")}}
	expectResult(t, env.svc.Receive(context.Background(), undo), domain.ResultError)
}

func TestResultStatus(t *testing.T) {
	if ResultStatus(domain.OK()) != http.StatusAccepted {
		t.Error("OK should map to 202")
	}
	if ResultStatus(domain.Denied("no")) != http.StatusForbidden {
		t.Error("DENIED should map to 403")
	}
	if ResultStatus(domain.ResultFromError(domain.ErrInvalid)) != http.StatusBadRequest {
		t.Error("ERROR should map to 400")
	}
}
