package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/deemkeen/rabble/domain"
	"github.com/deemkeen/rabble/util"
)

// BuildActor returns https://{host}/ap/@{handle}.
func BuildActor(handle, host string) string {
	return util.EnsureScheme(util.StripScheme(host) + "/ap/@" + handle)
}

func BuildInbox(handle, host string) string {
	return BuildActor(handle, host) + "/inbox"
}

// ParseActor splits an actor URI of the form [scheme://]host[/ap]/@handle.
func ParseActor(uri string) (host string, handle string, err error) {
	rest := util.StripScheme(uri)
	slash := strings.Index(rest, "/")
	if slash <= 0 {
		return "", "", fmt.Errorf("%w: unparseable actor uri %q", domain.ErrInvalid, uri)
	}
	host, path := rest[:slash], rest[slash+1:]
	path = strings.TrimPrefix(path, "ap/")
	if !strings.HasPrefix(path, "@") {
		return "", "", fmt.Errorf("%w: unparseable actor uri %q", domain.ErrInvalid, uri)
	}
	handle = path[1:]
	if handle == "" || strings.ContainsAny(handle, "/@?#") {
		return "", "", fmt.Errorf("%w: unparseable actor uri %q", domain.ErrInvalid, uri)
	}
	return host, handle, nil
}

// ParseArticleURI splits a self-generated article URI https://{host}/@{handle}/{id}.
func ParseArticleURI(uri string) (host string, handle string, id int64, err error) {
	rest := util.StripScheme(uri)
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || !strings.HasPrefix(parts[1], "@") || len(parts[1]) < 2 {
		return "", "", 0, fmt.Errorf("%w: not an article uri %q", domain.ErrInvalid, uri)
	}
	id, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return "", "", 0, fmt.Errorf("%w: bad article id in %q", domain.ErrInvalid, uri)
	}
	return parts[0], parts[1][1:], id, nil
}

// ParseRef accepts a bare local handle, handle@host, or an actor URI.
func ParseRef(ref string) (handle string, host string, err error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "@")
	switch {
	case ref == "":
		return "", "", fmt.Errorf("%w: empty actor reference", domain.ErrInvalid)
	case strings.Contains(ref, "/"):
		host, handle, err = ParseActor(ref)
		return handle, host, err
	case strings.Contains(ref, "@"):
		i := strings.LastIndex(ref, "@")
		handle, host = ref[:i], ref[i+1:]
		if handle == "" || host == "" || strings.Contains(handle, "@") {
			return "", "", fmt.Errorf("%w: bad actor reference %q", domain.ErrInvalid, ref)
		}
		return handle, host, nil
	default:
		return ref, "", nil
	}
}

// Resolver maps actor references to user rows, creating shadow rows for
// foreign actors on first contact.
type Resolver struct {
	host     string
	db       Database
	client   HTTPClient
	cache    ActorCache
	attempts int

	// OnCreate runs after a foreign shadow user is inserted.
	OnCreate func(u *domain.User)
}

func NewResolver(host string, database Database, client HTTPClient, cache ActorCache, attempts int) *Resolver {
	if attempts <= 0 {
		attempts = 3
	}
	return &Resolver{
		host:     util.StripScheme(host),
		db:       database,
		client:   client,
		cache:    cache,
		attempts: attempts,
	}
}

// IsLocalHost compares host against the configured hostname after
// stripping the scheme. An empty host is local.
func (r *Resolver) IsLocalHost(host string) bool {
	return host == "" || util.SameHost(host, r.host)
}

func (r *Resolver) normalizeHost(host string) string {
	if r.IsLocalHost(host) {
		return ""
	}
	return strings.ToLower(util.StripScheme(host))
}

// Lookup finds an existing user. Absence is reported as domain.ErrNotFound.
func (r *Resolver) Lookup(handle, host string) (*domain.User, error) {
	host = r.normalizeHost(host)
	err, u := r.db.ReadUserByHandle(handle, host)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, fmt.Errorf("user %s: %w", addr(handle, host), domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up user %s: %w", addr(handle, host), err)
	}
	return u, nil
}

// Resolve finds the user behind actorRef without creating anything.
func (r *Resolver) Resolve(ctx context.Context, actorRef string) (*domain.User, error) {
	handle, host, err := ParseRef(actorRef)
	if err != nil {
		if !strings.Contains(actorRef, "://") {
			return nil, err
		}
		return r.LookupActorURI(ctx, actorRef)
	}
	return r.Lookup(handle, host)
}

// ResolveRef is Resolve plus lazy creation of foreign users.
func (r *Resolver) ResolveRef(ctx context.Context, actorRef string) (*domain.User, error) {
	handle, host, err := ParseRef(actorRef)
	if err != nil {
		if !strings.Contains(actorRef, "://") {
			return nil, err
		}
		return r.ResolveActorURI(ctx, actorRef)
	}
	return r.ResolveOrCreate(ctx, handle, host)
}

func (r *Resolver) ResolveOrCreate(ctx context.Context, handle, host string) (*domain.User, error) {
	return r.resolveOrCreate(handle, host, nil)
}

// LookupActorURI resolves an inbound actor URI to an existing user. URIs not
// in our /ap/@handle shape are dereferenced to read preferredUsername.
func (r *Resolver) LookupActorURI(ctx context.Context, uri string) (*domain.User, error) {
	handle, host, _, err := r.identify(ctx, uri)
	if err != nil {
		return nil, err
	}
	return r.Lookup(handle, host)
}

// ResolveActorURI is LookupActorURI that creates the shadow user on a miss.
func (r *Resolver) ResolveActorURI(ctx context.Context, uri string) (*domain.User, error) {
	handle, host, doc, err := r.identify(ctx, uri)
	if err != nil {
		return nil, err
	}
	return r.resolveOrCreate(handle, host, doc)
}

// ActorURIMatches reports whether uri names u.
func (r *Resolver) ActorURIMatches(ctx context.Context, uri string, u *domain.User) bool {
	if uri == "" || u == nil {
		return false
	}
	handle, host, _, err := r.identify(ctx, uri)
	if err != nil {
		return false
	}
	return handle == u.Handle && r.normalizeHost(host) == u.Host
}

func (r *Resolver) identify(ctx context.Context, uri string) (handle, host string, doc *ActorResponse, err error) {
	if uri == "" {
		return "", "", nil, fmt.Errorf("%w: missing actor", domain.ErrInvalid)
	}
	if host, handle, err := ParseActor(uri); err == nil {
		return handle, host, nil, nil
	}

	doc, err = FetchActorDocument(ctx, r.client, r.cache, util.EnsureScheme(uri))
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: cannot dereference actor %s: %v", domain.ErrInvalid, uri, err)
	}
	host, err = extractDomain(doc.ID)
	if err != nil || host == "" || doc.PreferredUsername == "" {
		return "", "", nil, fmt.Errorf("%w: actor document for %s lacks id or preferredUsername", domain.ErrInvalid, uri)
	}
	return doc.PreferredUsername, host, doc, nil
}

// resolveOrCreate retries lookup-then-insert a bounded number of times.
// Losing an insert race to another request is followed by a re-query.
func (r *Resolver) resolveOrCreate(handle, host string, doc *ActorResponse) (*domain.User, error) {
	if handle == "" {
		return nil, fmt.Errorf("%w: missing handle", domain.ErrInvalid)
	}
	host = r.normalizeHost(host)

	for attempt := 1; attempt <= r.attempts; attempt++ {
		u, err := r.Lookup(handle, host)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if host == "" {
			// Local users only come from signup.
			return nil, err
		}

		u = &domain.User{Handle: handle, Host: host, DisplayName: handle}
		if doc != nil {
			if doc.Name != "" {
				u.DisplayName = doc.Name
			}
			u.Bio = doc.Summary
			u.Private = doc.ManuallyApprovesFollowers
			u.PublicKey = doc.PublicKey.PublicKeyPem
		}

		if _, err := r.db.CreateUser(u); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				log.Printf("Identity: lost insert race for %s (attempt %d/%d), re-querying", addr(handle, host), attempt, r.attempts)
				continue
			}
			return nil, err
		}

		log.Printf("Identity: created shadow user %s (id %d)", addr(handle, host), u.GlobalId)
		if r.OnCreate != nil {
			r.OnCreate(u)
		}
		return u, nil
	}

	return nil, fmt.Errorf("user %s after %d attempts: %w", addr(handle, host), r.attempts, domain.ErrLookupExhausted)
}

func addr(handle, host string) string {
	if host == "" {
		return handle
	}
	return handle + "@" + host
}
