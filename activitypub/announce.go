package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/rabble/domain"
)

// SendAnnounce shares an article on behalf of a local user. The followers
// of the announcer always get a copy; a local author's followers get one
// too, and a foreign author gets a copy targeted at them.
func (s *Service) SendAnnounce(ctx context.Context, userID, articleID int64) domain.Result {
	announcer, err := s.localUser(userID)
	if err != nil {
		return domain.ResultFromError(err)
	}
	article, err := s.readArticle(articleID)
	if err != nil {
		return domain.ResultFromError(err)
	}
	author, err := s.readUser(article.AuthorId)
	if err != nil {
		return domain.ResultFromError(err)
	}

	added, err := s.db.AddShare(announcer.GlobalId, article.GlobalId, time.Now())
	if err != nil {
		return domain.ResultFromError(err)
	}
	if !added {
		return domain.OK()
	}
	log.Printf("Announce: %s shared article %d", announcer.Address(), article.GlobalId)

	s.relay(ctx, announcer.GlobalId, s.builder.Announce(announcer, article, author, s.builder.FollowersURI(announcer)))

	switch {
	case author.GlobalId == announcer.GlobalId:
	case author.IsLocal():
		s.relay(ctx, author.GlobalId, s.builder.Announce(announcer, article, author, s.builder.ActorURI(author)))
	default:
		s.deliverTo(ctx, s.builder.Announce(announcer, article, author, s.builder.ActorURI(author)), author)
	}
	return domain.OK()
}

// ReceiveAnnounce records a share made on another server.
//
// With neither the author nor the announcer known nothing is stored. An
// unknown author is created and the article materialized from the embedded
// object; so is a missing article. When the article is already here only a
// copy targeted at its author counts: that one records the share and, for
// a local author, is relayed to the author's followers.
func (s *Service) ReceiveAnnounce(ctx context.Context, act Activity) domain.Result {
	obj, ok := articleObject(act.Object)
	if !ok {
		uri := objectID(act.Object)
		if uri == "" {
			return domain.ResultFromError(fmt.Errorf("%w: Announce without an object", domain.ErrInvalid))
		}
		obj = &ArticleObject{ID: uri}
	}

	author, err := s.lookupOptional(ctx, obj.AttributedTo)
	if err != nil {
		return domain.ResultFromError(err)
	}
	announcer, err := s.lookupOptional(ctx, act.Actor)
	if err != nil {
		return domain.ResultFromError(err)
	}

	article, err := s.findArticle(obj.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.ResultFromError(err)
	}

	if article != nil {
		if author == nil {
			if author, err = s.readUser(article.AuthorId); err != nil {
				return domain.ResultFromError(err)
			}
		}
	} else if author == nil && announcer == nil {
		return domain.ResultFromError(fmt.Errorf("%w: neither author nor announcer of %s is known", domain.ErrNotFound, obj.ID))
	} else if obj.AttributedTo == "" || (obj.Content == "" && obj.Name == "") {
		return domain.ResultFromError(fmt.Errorf("%w: cannot materialize %s without its content", domain.ErrInvalid, obj.ID))
	}

	if announcer == nil {
		if announcer, err = s.resolver.ResolveActorURI(ctx, act.Actor); err != nil {
			return domain.ResultFromError(err)
		}
	}

	if article == nil {
		if author == nil {
			if author, err = s.resolver.ResolveActorURI(ctx, obj.AttributedTo); err != nil {
				return domain.ResultFromError(err)
			}
		}
		if article, err = s.materialize(obj, author); err != nil {
			return domain.ResultFromError(err)
		}
		_, err = s.recordShare(announcer, article, act)
		return domain.ResultFromError(err)
	}

	if !s.targetsAuthor(ctx, act.Target, author) {
		log.Printf("Inbox: Announce of %s by %s acknowledged", obj.ID, announcer.Address())
		return domain.OK()
	}
	added, err := s.recordShare(announcer, article, act)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if added && author.IsLocal() {
		s.relay(ctx, author.GlobalId, act)
	}
	return domain.OK()
}

// targetsAuthor decides whether an Announce copy is the one addressed to
// the author. Untargeted copies count as such only on the author's server.
func (s *Service) targetsAuthor(ctx context.Context, target string, author *domain.User) bool {
	if target == "" {
		return author.IsLocal()
	}
	return s.resolver.ActorURIMatches(ctx, target, author)
}

func (s *Service) recordShare(announcer *domain.User, article *domain.Article, act Activity) (bool, error) {
	at, err := time.Parse(time.RFC3339, act.Published)
	if err != nil {
		at = time.Now()
	}
	added, err := s.db.AddShare(announcer.GlobalId, article.GlobalId, at)
	if err != nil {
		return false, err
	}
	if added {
		log.Printf("Inbox: %s shared article %d", announcer.Address(), article.GlobalId)
	}
	return added, nil
}

// lookupOptional resolves an actor URI without creating it. Absence gives
// a nil user and no error.
func (s *Service) lookupOptional(ctx context.Context, uri string) (*domain.User, error) {
	if uri == "" {
		return nil, nil
	}
	u, err := s.resolver.LookupActorURI(ctx, uri)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return u, err
}
