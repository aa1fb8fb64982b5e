package activitypub

import (
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/rabble/domain"
	"github.com/deemkeen/rabble/util"
	"github.com/google/uuid"
)

const (
	activityStreamsContext = "https://www.w3.org/ns/activitystreams"
	publicAddress          = "https://www.w3.org/ns/activitystreams#Public"
)

// Activity is the JSON-LD envelope exchanged between servers. Object holds
// either a URI string or a nested object.
type Activity struct {
	Context   interface{} `json:"@context,omitempty"`
	ID        string      `json:"id,omitempty"`
	Type      string      `json:"type"`
	Actor     string      `json:"actor"`
	Object    interface{} `json:"object,omitempty"`
	Target    string      `json:"target,omitempty"`
	To        []string    `json:"to,omitempty"`
	Cc        []string    `json:"cc,omitempty"`
	Published string      `json:"published,omitempty"`
}

type ArticleObject struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	URL          string    `json:"url,omitempty"`
	AttributedTo string    `json:"attributedTo"`
	Name         string    `json:"name,omitempty"`
	Content      string    `json:"content"`
	Summary      string    `json:"summary,omitempty"`
	Published    string    `json:"published,omitempty"`
	Tag          []Hashtag `json:"tag,omitempty"`
	Source       *Source   `json:"source,omitempty"`
	To           []string  `json:"to,omitempty"`
}

type Hashtag struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type Source struct {
	Content   string `json:"content"`
	MediaType string `json:"mediaType"`
}

// Builder turns resolved domain objects into activities. It performs no I/O.
type Builder struct {
	host  string
	newID func() string
	now   func() time.Time
}

func NewBuilder(host string) *Builder {
	return &Builder{
		host:  util.StripScheme(host),
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
}

func (b *Builder) Host() string {
	return b.host
}

// ActorURI returns the canonical actor URI of u. Local users live on b.host.
func (b *Builder) ActorURI(u *domain.User) string {
	host := u.Host
	if host == "" {
		host = b.host
	}
	return BuildActor(u.Handle, host)
}

func (b *Builder) InboxURI(u *domain.User) string {
	return b.ActorURI(u) + "/inbox"
}

func (b *Builder) FollowersURI(u *domain.User) string {
	return b.ActorURI(u) + "/followers"
}

func (b *Builder) OutboxURI(u *domain.User) string {
	return b.ActorURI(u) + "/outbox"
}

// ArticleURI is the article's ap_id when it has one, otherwise the
// address derived from the author's host, handle and the article id.
func (b *Builder) ArticleURI(a *domain.Article, author *domain.User) string {
	if a.ApId != "" {
		return util.EnsureScheme(a.ApId)
	}
	host := author.Host
	if host == "" {
		host = b.host
	}
	return util.EnsureScheme(fmt.Sprintf("%s/@%s/%d", util.StripScheme(host), author.Handle, a.GlobalId))
}

func (b *Builder) ArticleObject(a *domain.Article, author *domain.User) ArticleObject {
	uri := b.ArticleURI(a, author)
	obj := ArticleObject{
		ID:           uri,
		Type:         "Article",
		URL:          uri,
		AttributedTo: b.ActorURI(author),
		Name:         a.Title,
		Content:      a.Body,
		Summary:      a.Summary,
		Tag:          tagsToHashtags(a.Tags),
		To:           []string{publicAddress},
	}
	if !a.CreationDatetime.IsZero() {
		obj.Published = a.CreationDatetime.UTC().Format(time.RFC3339)
	}
	if a.MdBody != "" {
		obj.Source = &Source{Content: a.MdBody, MediaType: "text/markdown"}
	}
	return obj
}

func (b *Builder) envelope(kind, actor string, object interface{}) Activity {
	return Activity{
		Context:   activityStreamsContext,
		ID:        fmt.Sprintf("https://%s/ap/activities/%s", b.host, b.newID()),
		Type:      kind,
		Actor:     actor,
		Object:    object,
		Published: b.now().UTC().Format(time.RFC3339),
	}
}

func (b *Builder) Follow(follower, followed *domain.User) Activity {
	followedURI := b.ActorURI(followed)
	act := b.envelope("Follow", b.ActorURI(follower), followedURI)
	act.To = []string{followedURI}
	return act
}

// Accept answers a follow request; the original Follow is nested as object.
func (b *Builder) Accept(follower, followed *domain.User) Activity {
	return b.followResponse("Accept", follower, followed)
}

func (b *Builder) Reject(follower, followed *domain.User) Activity {
	return b.followResponse("Reject", follower, followed)
}

func (b *Builder) followResponse(kind string, follower, followed *domain.User) Activity {
	follow := Activity{
		Type:   "Follow",
		Actor:  b.ActorURI(follower),
		Object: b.ActorURI(followed),
	}
	act := b.envelope(kind, b.ActorURI(followed), follow)
	act.To = []string{b.ActorURI(follower)}
	return act
}

// Undo wraps inner. The @context moves to the outer envelope.
func (b *Builder) Undo(inner Activity) Activity {
	inner.Context = nil
	act := b.envelope("Undo", inner.Actor, inner)
	act.To = inner.To
	return act
}

func (b *Builder) Like(liker *domain.User, a *domain.Article, author *domain.User) Activity {
	act := b.envelope("Like", b.ActorURI(liker), b.ArticleURI(a, author))
	act.To = []string{b.ActorURI(author)}
	return act
}

// Announce embeds the whole article so receivers can materialize it.
// target names the actor this copy is addressed to.
func (b *Builder) Announce(announcer *domain.User, a *domain.Article, author *domain.User, target string) Activity {
	act := b.envelope("Announce", b.ActorURI(announcer), b.ArticleObject(a, author))
	act.Target = target
	act.To = []string{publicAddress}
	act.Cc = []string{b.FollowersURI(announcer)}
	return act
}

func (b *Builder) Create(author *domain.User, a *domain.Article) Activity {
	act := b.envelope("Create", b.ActorURI(author), b.ArticleObject(a, author))
	act.To = []string{publicAddress}
	act.Cc = []string{b.FollowersURI(author)}
	return act
}

func (b *Builder) Update(author *domain.User, a *domain.Article) Activity {
	act := b.envelope("Update", b.ActorURI(author), b.ArticleObject(a, author))
	act.To = []string{publicAddress}
	act.Cc = []string{b.FollowersURI(author)}
	return act
}

func (b *Builder) Delete(author *domain.User, a *domain.Article) Activity {
	act := b.envelope("Delete", b.ActorURI(author), b.ArticleURI(a, author))
	act.To = []string{publicAddress}
	act.Cc = []string{b.FollowersURI(author)}
	return act
}

// tagsToHashtags splits a comma or whitespace separated tag list.
func tagsToHashtags(tags string) []Hashtag {
	fields := strings.FieldsFunc(tags, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil
	}
	out := make([]Hashtag, 0, len(fields))
	for _, f := range fields {
		out = append(out, Hashtag{Type: "Hashtag", Name: "#" + strings.TrimPrefix(f, "#")})
	}
	return out
}

func hashtagsToTags(tags []Hashtag) string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		if name := strings.TrimPrefix(t.Name, "#"); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ",")
}
