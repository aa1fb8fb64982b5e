package activitypub

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/deemkeen/rabble/domain"
)

// ForwardToFollowers delivers activity once per distinct foreign host among
// the ACTIVE followers of originUserID. The first follower seen on a host
// represents it; that host is trusted to fan out internally.
//
// Only a failure to read the follow edges is returned. Missing follower
// rows and failed deliveries are logged and skipped.
func (s *Service) ForwardToFollowers(ctx context.Context, originUserID int64, activity Activity) error {
	targets, err := s.followerHosts(originUserID)
	if err != nil {
		return err
	}
	FanoutHosts.Observe(float64(len(targets)))

	// A relay outlives the inbound request that triggered it. Each delivery
	// is still bounded by the Deliverer's timeout.
	ctx = context.WithoutCancel(ctx)

	delivered := 0
	for _, u := range targets {
		if err := s.deliverTo(ctx, activity, u); err == nil {
			delivered++
		}
	}
	log.Printf("Fanout: %s for user %d reached %d/%d hosts", activity.Type, originUserID, delivered, len(targets))
	return nil
}

// followerHosts picks one foreign follower per host.
func (s *Service) followerHosts(originUserID int64) ([]*domain.User, error) {
	err, follows := s.db.ReadActiveFollowers(originUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to read followers of user %d: %w", originUserID, err)
	}

	seen := make(map[string]bool)
	var targets []*domain.User
	for _, f := range *follows {
		if f.State != domain.FollowActive {
			continue
		}
		err, u := s.db.ReadUserById(f.Follower)
		if err != nil {
			log.Printf("Warning: Fanout: follower %d of user %d unreadable: %v", f.Follower, originUserID, err)
			continue
		}
		if u.IsLocal() || s.resolver.IsLocalHost(u.Host) {
			continue
		}
		host := strings.ToLower(u.Host)
		if seen[host] {
			continue
		}
		seen[host] = true
		targets = append(targets, u)
	}
	return targets, nil
}
