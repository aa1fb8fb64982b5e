package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/deemkeen/rabble/domain"
)

// SendLike records a like by a local user. A repeated like changes nothing
// and sends nothing.
func (s *Service) SendLike(ctx context.Context, userID, articleID int64) domain.Result {
	return s.sendLike(ctx, userID, articleID, false)
}

func (s *Service) SendUnlike(ctx context.Context, userID, articleID int64) domain.Result {
	return s.sendLike(ctx, userID, articleID, true)
}

func (s *Service) sendLike(ctx context.Context, userID, articleID int64, undo bool) domain.Result {
	liker, err := s.localUser(userID)
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

	var changed bool
	if undo {
		changed, err = s.db.RemoveLike(liker.GlobalId, article.GlobalId)
	} else {
		changed, err = s.db.AddLike(liker.GlobalId, article.GlobalId)
	}
	if err != nil {
		return domain.ResultFromError(err)
	}
	if !changed {
		return domain.OK()
	}

	act := s.builder.Like(liker, article, author)
	if undo {
		act = s.builder.Undo(act)
	}
	log.Printf("Like: %s %s article %d", liker.Address(), act.Type, article.GlobalId)

	if author.IsLocal() {
		s.relay(ctx, author.GlobalId, act)
		if !undo {
			s.notifyLike(liker.GlobalId, article.GlobalId)
		}
		return domain.OK()
	}
	s.deliverTo(ctx, act, author)
	return domain.OK()
}

// ReceiveLike records a like from a foreign actor. The article must exist
// here. When its author is local the Like is relayed to the author's
// followers.
func (s *Service) ReceiveLike(ctx context.Context, act Activity) domain.Result {
	article, err := s.findArticle(objectID(act.Object))
	if err != nil {
		return domain.ResultFromError(err)
	}
	liker, err := s.resolver.ResolveActorURI(ctx, act.Actor)
	if err != nil {
		return domain.ResultFromError(err)
	}

	added, err := s.db.AddLike(liker.GlobalId, article.GlobalId)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if !added {
		log.Printf("Inbox: duplicate Like of article %d by %s", article.GlobalId, liker.Address())
		return domain.OK()
	}
	log.Printf("Inbox: %s liked article %d", liker.Address(), article.GlobalId)

	author, err := s.readUser(article.AuthorId)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if author.IsLocal() {
		s.relay(ctx, author.GlobalId, act)
		s.notifyLike(liker.GlobalId, article.GlobalId)
	}
	return domain.OK()
}

// ReceiveUnlike handles Undo(Like). Unknown likers and articles have no
// like to remove.
func (s *Service) ReceiveUnlike(ctx context.Context, act Activity, like Activity) domain.Result {
	if like.Actor != "" && like.Actor != act.Actor {
		return domain.Denied("%s cannot undo a like by %s", act.Actor, like.Actor)
	}
	article, err := s.findArticle(objectID(like.Object))
	if errors.Is(err, domain.ErrNotFound) {
		log.Printf("Inbox: Undo Like for unknown article %s", objectID(like.Object))
		return domain.OK()
	}
	if err != nil {
		return domain.ResultFromError(err)
	}
	liker, err := s.resolver.LookupActorURI(ctx, act.Actor)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.OK()
	}
	if err != nil {
		return domain.ResultFromError(err)
	}

	removed, err := s.db.RemoveLike(liker.GlobalId, article.GlobalId)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if !removed {
		return domain.OK()
	}
	log.Printf("Inbox: %s unliked article %d", liker.Address(), article.GlobalId)

	author, err := s.readUser(article.AuthorId)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if author.IsLocal() {
		s.relay(ctx, author.GlobalId, act)
	}
	return domain.OK()
}

// relay fans act out to the followers of a local user. The local change is
// already committed, so a failed fan-out is only logged.
func (s *Service) relay(ctx context.Context, userID int64, act Activity) {
	if err := s.ForwardToFollowers(ctx, userID, act); err != nil {
		log.Printf("Warning: Fanout: %s for user %d: %v", act.Type, userID, err)
	}
}

func (s *Service) notifyLike(userID, articleID int64) {
	s.detach("recommender notify", func(ctx context.Context) error {
		if err := s.recommender.NotifyLike(ctx, userID, articleID); err != nil {
			return fmt.Errorf("like %d/%d: %w", userID, articleID, err)
		}
		return nil
	})
}
