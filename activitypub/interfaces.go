package activitypub

import (
	"context"
	"net/http"
	"time"

	"github.com/deemkeen/rabble/db"
	"github.com/deemkeen/rabble/domain"
	"github.com/google/uuid"
)

// Database is the slice of the store the federation core needs.
type Database interface {
	CreateUser(u *domain.User) (int64, error)
	ReadUserById(id int64) (error, *domain.User)
	ReadUserByHandle(handle, host string) (error, *domain.User)
	UpdateUser(u *domain.User) error

	CreateFollow(f *domain.Follow) error
	ReadFollow(follower, followed int64) (error, *domain.Follow)
	ReadActiveFollowers(followed int64) (error, *[]domain.Follow)
	TransitionFollow(follower, followed int64, from, to domain.FollowState) (bool, error)
	DeleteFollow(follower, followed int64) (bool, error)

	CreatePost(a *domain.Article) (int64, error)
	ReadPostById(id int64) (error, *domain.Article)
	ReadPostByApId(apId string) (error, *domain.Article)
	UpdatePostContent(id int64, title, body, mdBody, summary string) error
	SafeRemovePost(id int64) (bool, error)

	AddLike(userId, articleId int64) (bool, error)
	RemoveLike(userId, articleId int64) (bool, error)
	AddShare(userId, articleId int64, at time.Time) (bool, error)
	ReadSharesByPost(articleId int64) (error, *[]domain.Share)

	CreateActivity(a *domain.Activity) error
	UpdateActivityResult(id uuid.UUID, result string) error
}

var _ Database = (*db.DB)(nil)

// HTTPClient is satisfied by *http.Client and by test doubles.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func NewDefaultHTTPClient(timeout time.Duration) HTTPClient {
	return &http.Client{Timeout: timeout}
}

// ActorCache stores raw actor documents by actor URI. cache.Store implements it.
type ActorCache interface {
	Get(ctx context.Context, uri string) ([]byte, bool)
	Set(ctx context.Context, uri string, doc []byte)
}
