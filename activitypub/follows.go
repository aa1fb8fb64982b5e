package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/deemkeen/rabble/domain"
)

// SendFollow makes local user followerID follow followedRef. The edge starts
// PENDING when the followed account is private and ACTIVE otherwise. A
// foreign followed user is sent a Follow; a failed delivery does not undo
// the edge.
func (s *Service) SendFollow(ctx context.Context, followerID int64, followedRef string) domain.Result {
	follower, err := s.localUser(followerID)
	if err != nil {
		return domain.ResultFromError(err)
	}
	followed, err := s.resolver.ResolveRef(ctx, followedRef)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if followed.GlobalId == follower.GlobalId {
		return domain.ResultFromError(fmt.Errorf("%w: cannot follow yourself", domain.ErrInvalid))
	}

	state := domain.FollowActive
	if followed.Private {
		state = domain.FollowPending
	}
	err = s.db.CreateFollow(&domain.Follow{Follower: follower.GlobalId, Followed: followed.GlobalId, State: state})
	if errors.Is(err, domain.ErrDuplicate) {
		// A rejected request may be asked again; any other edge stays put.
		reopened, err := s.db.TransitionFollow(follower.GlobalId, followed.GlobalId, domain.FollowRejected, state)
		if err != nil {
			return domain.ResultFromError(fmt.Errorf("failed to update follow: %w", err))
		}
		if !reopened {
			return domain.ResultFromError(fmt.Errorf("%s already follows %s", follower.Address(), followed.Address()))
		}
	} else if err != nil {
		return domain.ResultFromError(err)
	}
	log.Printf("Follow: %s -> %s (%s)", follower.Address(), followed.Address(), state)

	if !followed.IsLocal() {
		s.deliverTo(ctx, s.builder.Follow(follower, followed), followed)
	}
	return domain.OK()
}

// SendUnfollow removes the edge whatever its state. Unfollowing twice is fine.
func (s *Service) SendUnfollow(ctx context.Context, followerID int64, followedRef string) domain.Result {
	follower, err := s.localUser(followerID)
	if err != nil {
		return domain.ResultFromError(err)
	}
	followed, err := s.resolver.Resolve(ctx, followedRef)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.OK()
	}
	if err != nil {
		return domain.ResultFromError(err)
	}

	deleted, err := s.db.DeleteFollow(follower.GlobalId, followed.GlobalId)
	if err != nil {
		return domain.ResultFromError(fmt.Errorf("failed to delete follow: %w", err))
	}
	if !deleted {
		return domain.OK()
	}
	log.Printf("Unfollow: %s -> %s", follower.Address(), followed.Address())

	if !followed.IsLocal() {
		s.deliverTo(ctx, s.builder.Undo(s.builder.Follow(follower, followed)), followed)
	}
	return domain.OK()
}

// AcceptFollow approves a PENDING request made to local user followedID.
// Without a PENDING row it does nothing and still reports OK.
func (s *Service) AcceptFollow(ctx context.Context, followedID int64, followerRef string) domain.Result {
	return s.answerFollow(ctx, followedID, followerRef, domain.FollowActive)
}

func (s *Service) RejectFollow(ctx context.Context, followedID int64, followerRef string) domain.Result {
	return s.answerFollow(ctx, followedID, followerRef, domain.FollowRejected)
}

func (s *Service) answerFollow(ctx context.Context, followedID int64, followerRef string, to domain.FollowState) domain.Result {
	followed, err := s.localUser(followedID)
	if err != nil {
		return domain.ResultFromError(err)
	}
	follower, err := s.resolver.Resolve(ctx, followerRef)
	if errors.Is(err, domain.ErrNotFound) {
		log.Printf("Follow: no request from %s to %s to answer", followerRef, followed.Address())
		return domain.OK()
	}
	if err != nil {
		return domain.ResultFromError(err)
	}

	changed, err := s.db.TransitionFollow(follower.GlobalId, followed.GlobalId, domain.FollowPending, to)
	if err != nil {
		return domain.ResultFromError(fmt.Errorf("failed to update follow: %w", err))
	}
	if !changed {
		log.Printf("Follow: no pending request %s -> %s, nothing to do", follower.Address(), followed.Address())
		return domain.OK()
	}
	log.Printf("Follow: %s -> %s is now %s", follower.Address(), followed.Address(), to)

	if !follower.IsLocal() {
		act := s.builder.Accept(follower, followed)
		if to == domain.FollowRejected {
			act = s.builder.Reject(follower, followed)
		}
		s.deliverTo(ctx, act, follower)
	}
	return domain.OK()
}

// ReceiveFollow records a follow request from a foreign actor to a local
// user. Public targets answer with an Accept right away; private targets
// keep the edge PENDING until AcceptFollow or RejectFollow.
func (s *Service) ReceiveFollow(ctx context.Context, act Activity) domain.Result {
	target, err := s.localTarget(ctx, objectID(act.Object))
	if err != nil {
		return domain.ResultFromError(err)
	}
	follower, err := s.resolver.ResolveActorURI(ctx, act.Actor)
	if err != nil {
		return domain.ResultFromError(err)
	}
	if follower.GlobalId == target.GlobalId {
		return domain.ResultFromError(fmt.Errorf("%w: cannot follow yourself", domain.ErrInvalid))
	}

	state := domain.FollowActive
	if target.Private {
		state = domain.FollowPending
	}
	err = s.db.CreateFollow(&domain.Follow{Follower: follower.GlobalId, Followed: target.GlobalId, State: state})
	if errors.Is(err, domain.ErrDuplicate) {
		err, existing := s.db.ReadFollow(follower.GlobalId, target.GlobalId)
		if err != nil {
			return domain.ResultFromError(fmt.Errorf("failed to read follow: %w", err))
		}
		if existing.State == domain.FollowRejected {
			reopened, err := s.db.TransitionFollow(follower.GlobalId, target.GlobalId, domain.FollowRejected, state)
			if err != nil {
				return domain.ResultFromError(fmt.Errorf("failed to update follow: %w", err))
			}
			if reopened {
				existing.State = state
			}
		}
		log.Printf("Inbox: duplicate Follow %s -> %s (%s)", follower.Address(), target.Address(), existing.State)
		state = existing.State
	} else if err != nil {
		return domain.ResultFromError(err)
	} else {
		log.Printf("Inbox: Follow %s -> %s (%s)", follower.Address(), target.Address(), state)
	}

	if state == domain.FollowActive && !follower.IsLocal() {
		s.deliverTo(ctx, s.builder.Accept(follower, target), follower)
	}
	return domain.OK()
}

// ReceiveUnfollow handles Undo(Follow). Unknown actors mean there is no
// edge to remove.
func (s *Service) ReceiveUnfollow(ctx context.Context, act Activity, follow Activity) domain.Result {
	if follow.Actor != "" && follow.Actor != act.Actor {
		return domain.Denied("%s cannot undo a follow by %s", act.Actor, follow.Actor)
	}
	follower, err := s.resolver.LookupActorURI(ctx, act.Actor)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.OK()
	}
	if err != nil {
		return domain.ResultFromError(err)
	}
	followed, err := s.resolver.LookupActorURI(ctx, objectID(follow.Object))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.OK()
	}
	if err != nil {
		return domain.ResultFromError(err)
	}

	deleted, err := s.db.DeleteFollow(follower.GlobalId, followed.GlobalId)
	if err != nil {
		return domain.ResultFromError(fmt.Errorf("failed to delete follow: %w", err))
	}
	if deleted {
		log.Printf("Inbox: Unfollow %s -> %s", follower.Address(), followed.Address())
	}
	return domain.OK()
}

// ReceiveAccept flips our user's PENDING follow of a foreign private account.
func (s *Service) ReceiveAccept(ctx context.Context, act Activity) domain.Result {
	return s.receiveFollowAnswer(ctx, act, domain.FollowActive)
}

// ReceiveReject marks our user's follow REJECTED. The remote side is
// authoritative, so an edge we optimistically stored as ACTIVE is rejected too.
func (s *Service) ReceiveReject(ctx context.Context, act Activity) domain.Result {
	return s.receiveFollowAnswer(ctx, act, domain.FollowRejected)
}

func (s *Service) receiveFollowAnswer(ctx context.Context, act Activity, to domain.FollowState) domain.Result {
	follow, ok := nestedActivity(act.Object)
	if !ok || follow.Actor == "" {
		return domain.ResultFromError(fmt.Errorf("%w: %s does not carry the original Follow", domain.ErrInvalid, act.Type))
	}
	if target := objectID(follow.Object); target != "" && target != act.Actor {
		return domain.Denied("%s cannot answer a follow of %s", act.Actor, target)
	}

	followed, err := s.resolver.LookupActorURI(ctx, act.Actor)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.OK()
	}
	if err != nil {
		return domain.ResultFromError(err)
	}
	follower, err := s.localTarget(ctx, follow.Actor)
	if err != nil {
		return domain.ResultFromError(err)
	}

	changed, err := s.db.TransitionFollow(follower.GlobalId, followed.GlobalId, domain.FollowPending, to)
	if err != nil {
		return domain.ResultFromError(fmt.Errorf("failed to update follow: %w", err))
	}
	if !changed && to == domain.FollowRejected {
		changed, err = s.db.TransitionFollow(follower.GlobalId, followed.GlobalId, domain.FollowActive, to)
		if err != nil {
			return domain.ResultFromError(fmt.Errorf("failed to update follow: %w", err))
		}
	}
	if changed {
		log.Printf("Inbox: %s %s -> %s is now %s", act.Type, follower.Address(), followed.Address(), to)
	}
	return domain.OK()
}

func (s *Service) localUser(id int64) (*domain.User, error) {
	u, err := s.readUser(id)
	if err != nil {
		return nil, err
	}
	if !u.IsLocal() {
		return nil, fmt.Errorf("%w: user %d is not local", domain.ErrInvalid, id)
	}
	return u, nil
}

// localTarget resolves an actor URI that must name one of our users.
func (s *Service) localTarget(ctx context.Context, uri string) (*domain.User, error) {
	host, handle, err := ParseActor(uri)
	if err != nil {
		return nil, err
	}
	if !s.resolver.IsLocalHost(host) {
		return nil, fmt.Errorf("%w: %s is not an actor on this server", domain.ErrInvalid, uri)
	}
	return s.resolver.Lookup(handle, "")
}
