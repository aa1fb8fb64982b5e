package activitypub

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/deemkeen/rabble/domain"
	"github.com/deemkeen/rabble/util"
)

const detachedTaskTimeout = 30 * time.Second

// Deps are the collaborators a Service talks to. Nil HTTPClient and
// Recommender get defaults; a nil Cache disables actor caching.
type Deps struct {
	Database    Database
	HTTPClient  HTTPClient
	Cache       ActorCache
	Recommender Recommender
}

// Service implements the follow state machine and the per-activity
// send and receive operations on top of the store.
type Service struct {
	conf        *util.AppConfig
	host        string
	db          Database
	client      HTTPClient
	cache       ActorCache
	recommender Recommender
	builder     *Builder
	deliverer   *Deliverer
	resolver    *Resolver
	avatarPath  func(id int64) string

	tasks sync.WaitGroup
}

func NewService(conf *util.AppConfig, deps Deps) *Service {
	timeout := time.Duration(conf.DeliveryTimeoutSeconds()) * time.Second
	if deps.HTTPClient == nil {
		deps.HTTPClient = NewDefaultHTTPClient(timeout)
	}
	if deps.Recommender == nil {
		deps.Recommender = LogRecommender{}
	}

	s := &Service{
		conf:        conf,
		host:        util.StripScheme(conf.Conf.SslDomain),
		db:          deps.Database,
		client:      deps.HTTPClient,
		cache:       deps.Cache,
		recommender: deps.Recommender,
		avatarPath:  defaultAvatarPath,
	}
	s.builder = NewBuilder(s.host)
	s.resolver = NewResolver(s.host, s.db, s.client, s.cache, conf.Conf.LookupAttempts)

	var keys KeyLookup
	if conf.Conf.SignRequests {
		keys = s.localKey
	}
	s.deliverer = NewDeliverer(s.client, keys, timeout)

	if conf.Conf.FetchAvatars {
		s.resolver.OnCreate = func(u *domain.User) {
			s.detach("profile fetch", func(ctx context.Context) error {
				return s.fetchProfile(ctx, u)
			})
		}
	}
	return s
}

func (s *Service) Host() string        { return s.host }
func (s *Service) Builder() *Builder   { return s.builder }
func (s *Service) Resolver() *Resolver { return s.resolver }

// Wait blocks until every detached task has finished.
func (s *Service) Wait() {
	s.tasks.Wait()
}

// detach runs f in its own goroutine. Its error is logged and counted,
// never returned to anyone.
func (s *Service) detach(name string, f func(ctx context.Context) error) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), detachedTaskTimeout)
		defer cancel()
		if err := f(ctx); err != nil {
			DetachedTaskFailures.WithLabelValues(name).Inc()
			log.Printf("Warning: %s failed: %v", name, err)
		}
	}()
}

func (s *Service) localKey(actorURI string) (*rsa.PrivateKey, error) {
	host, handle, err := ParseActor(actorURI)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", actorURI, ErrForeignActor)
	}
	if !s.resolver.IsLocalHost(host) {
		return nil, fmt.Errorf("%s: %w", actorURI, ErrForeignActor)
	}
	u, err := s.resolver.Lookup(handle, "")
	if err != nil {
		return nil, err
	}
	return ParsePrivateKey(u.PrivateKey)
}

// deliverTo sends act to the inbox of a single foreign user.
func (s *Service) deliverTo(ctx context.Context, act Activity, recipient *domain.User) error {
	inbox := s.builder.InboxURI(recipient)
	if _, err := s.deliverer.Deliver(ctx, act, inbox); err != nil {
		log.Printf("Warning: Delivery: %s to %s failed: %v", act.Type, inbox, err)
		return err
	}
	log.Printf("Delivery: %s delivered to %s", act.Type, inbox)
	return nil
}

func (s *Service) readUser(id int64) (*domain.User, error) {
	err, u := s.db.ReadUserById(id)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read user %d: %w", id, err)
	}
	return u, nil
}

func (s *Service) readArticle(id int64) (*domain.Article, error) {
	err, a := s.db.ReadPostById(id)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, fmt.Errorf("article %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read article %d: %w", id, err)
	}
	return a, nil
}

// findArticle resolves an article URI to a local row, first by ap_id and
// then, for URIs we minted ourselves, by the id in the path.
func (s *Service) findArticle(uri string) (*domain.Article, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: missing article uri", domain.ErrInvalid)
	}
	for _, candidate := range []string{uri, util.EnsureScheme(uri)} {
		err, a := s.db.ReadPostByApId(candidate)
		if err == nil {
			return a, nil
		}
		if !domain.IsNotFound(err) {
			return nil, fmt.Errorf("failed to read article %s: %w", uri, err)
		}
	}

	host, handle, id, err := ParseArticleURI(uri)
	if err != nil || !s.resolver.IsLocalHost(host) {
		return nil, fmt.Errorf("article %s: %w", uri, domain.ErrNotFound)
	}
	a, err := s.readArticle(id)
	if err != nil {
		return nil, err
	}
	if a.ApId != "" {
		// The row was minted elsewhere; the local path does not name it.
		return nil, fmt.Errorf("article %s: %w", uri, domain.ErrNotFound)
	}
	author, err := s.readUser(a.AuthorId)
	if err != nil {
		return nil, err
	}
	if !author.IsLocal() || author.Handle != handle {
		return nil, fmt.Errorf("article %s: %w", uri, domain.ErrNotFound)
	}
	return a, nil
}
