package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"testing"

	"github.com/deemkeen/rabble/db"
	"github.com/deemkeen/rabble/domain"
	"github.com/deemkeen/rabble/util"
)

const testHost = "local.example"

// RecordedRequest is a request seen by MockHTTPClient, body included.
type RecordedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type cannedResponse struct {
	status int
	body   []byte
}

// MockHTTPClient answers from canned per-URL responses and records every
// request. Unknown URLs get DefaultStatus (202 unless set).
type MockHTTPClient struct {
	mu            sync.Mutex
	responses     map[string]cannedResponse
	errors        map[string]error
	requests      []RecordedRequest
	DefaultStatus int
}

func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		responses:     make(map[string]cannedResponse),
		errors:        make(map[string]error),
		DefaultStatus: http.StatusAccepted,
	}
}

func (c *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	url := req.URL.String()
	c.requests = append(c.requests, RecordedRequest{Method: req.Method, URL: url, Header: req.Header.Clone(), Body: body})

	if err, ok := c.errors[url]; ok {
		return nil, err
	}
	canned, ok := c.responses[url]
	if !ok {
		canned = cannedResponse{status: c.DefaultStatus}
	}
	return &http.Response{
		StatusCode: canned.status,
		Body:       io.NopCloser(bytes.NewReader(canned.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func (c *MockHTTPClient) SetResponse(url string, status int, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[url] = cannedResponse{status: status, body: body}
}

func (c *MockHTTPClient) SetJSONResponse(url string, status int, data any) {
	body, _ := json.Marshal(data)
	c.SetResponse(url, status, body)
}

func (c *MockHTTPClient) SetError(url string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[url] = err
}

func (c *MockHTTPClient) Requests() []RecordedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]RecordedRequest(nil), c.requests...)
}

// Posts returns the POSTs made, optionally only those to url.
func (c *MockHTTPClient) Posts(url string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range c.Requests() {
		if r.Method == "POST" && (url == "" || r.URL == url) {
			out = append(out, r)
		}
	}
	return out
}

// PostedActivities decodes the bodies of every POST made.
func (c *MockHTTPClient) PostedActivities(t *testing.T) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, r := range c.Posts("") {
		var m map[string]interface{}
		if err := json.Unmarshal(r.Body, &m); err != nil {
			t.Fatalf("Posted body is not JSON: %v", err)
		}
		out = append(out, m)
	}
	return out
}

var _ HTTPClient = (*MockHTTPClient)(nil)

// MemoryCache is an ActorCache backed by a map.
type MemoryCache struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{docs: make(map[string][]byte)}
}

func (c *MemoryCache) Get(_ context.Context, uri string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[uri]
	return doc, ok
}

func (c *MemoryCache) Set(_ context.Context, uri string, doc []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[uri] = doc
}

type recordingRecommender struct {
	mu    sync.Mutex
	likes [][2]int64
}

func (r *recordingRecommender) NotifyLike(_ context.Context, userID, articleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.likes = append(r.likes, [2]int64{userID, articleID})
	return nil
}

func (r *recordingRecommender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.likes)
}

type testEnv struct {
	svc    *Service
	db     *db.DB
	client *MockHTTPClient
	rec    *recordingRecommender
}

func testConfig() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.SslDomain = testHost
	conf.Conf.DeliveryTimeout = 2
	conf.Conf.LookupAttempts = 3
	return conf
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, testConfig())
}

func newTestEnvWithConfig(t *testing.T, conf *util.AppConfig) *testEnv {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	client := NewMockHTTPClient()
	rec := &recordingRecommender{}
	svc := NewService(conf, Deps{Database: database, HTTPClient: client, Recommender: rec})
	t.Cleanup(svc.Wait)
	return &testEnv{svc: svc, db: database, client: client, rec: rec}
}

func (e *testEnv) user(t *testing.T, handle, host string, private bool) *domain.User {
	t.Helper()
	u := &domain.User{Handle: handle, Host: host, DisplayName: handle, Private: private}
	if _, err := e.db.CreateUser(u); err != nil {
		t.Fatalf("Failed to create user %s@%s: %v", handle, host, err)
	}
	return u
}

func (e *testEnv) article(t *testing.T, author *domain.User, title, apId string) *domain.Article {
	t.Helper()
	a := &domain.Article{AuthorId: author.GlobalId, Title: title, Body: "<p>" + title + "</p>", ApId: apId}
	if _, err := e.db.CreatePost(a); err != nil {
		t.Fatalf("Failed to create article %q: %v", title, err)
	}
	return a
}

func (e *testEnv) follow(t *testing.T, follower, followed *domain.User, state domain.FollowState) {
	t.Helper()
	if err := e.db.CreateFollow(&domain.Follow{Follower: follower.GlobalId, Followed: followed.GlobalId, State: state}); err != nil {
		t.Fatalf("Failed to create follow: %v", err)
	}
}

func (e *testEnv) followState(t *testing.T, follower, followed *domain.User) domain.FollowState {
	t.Helper()
	err, f := e.db.ReadFollow(follower.GlobalId, followed.GlobalId)
	if err != nil {
		return ""
	}
	return f.State
}

func (e *testEnv) reloadArticle(t *testing.T, id int64) *domain.Article {
	t.Helper()
	err, a := e.db.ReadPostById(id)
	if err != nil {
		t.Fatalf("Failed to read article %d: %v", id, err)
	}
	return a
}

func inboxOf(handle, host string) string {
	return BuildInbox(handle, host)
}

func expectResult(t *testing.T, got domain.Result, want domain.ResultType) {
	t.Helper()
	if got.Type != want {
		t.Fatalf("Expected %s, got %s (%s)", want, got.Type, got.Error)
	}
}
