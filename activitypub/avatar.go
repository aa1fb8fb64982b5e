package activitypub

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/deemkeen/rabble/domain"
	"github.com/deemkeen/rabble/util"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	avatarSize     = 96
	maxAvatarBytes = 5 << 20
)

func defaultAvatarPath(id int64) string {
	return util.ResolveFilePathWithSubdir("avatars", fmt.Sprintf("%d.png", id))
}

// fetchProfile refreshes a new shadow user from its actor document and
// stores a thumbnail of its icon. Runs detached.
func (s *Service) fetchProfile(ctx context.Context, shadow *domain.User) error {
	// The caller still holds shadow.
	u := *shadow
	doc, err := FetchActorDocument(ctx, s.client, s.cache, s.builder.ActorURI(&u))
	if err != nil {
		return fmt.Errorf("failed to fetch profile of %s: %w", u.Address(), err)
	}

	changed := false
	if doc.ManuallyApprovesFollowers != u.Private {
		u.Private = doc.ManuallyApprovesFollowers
		changed = true
	}
	if doc.Name != "" && doc.Name != u.DisplayName {
		u.DisplayName = doc.Name
		changed = true
	}
	if doc.Summary != u.Bio {
		u.Bio = doc.Summary
		changed = true
	}
	if doc.PublicKey.PublicKeyPem != "" && doc.PublicKey.PublicKeyPem != u.PublicKey {
		u.PublicKey = doc.PublicKey.PublicKeyPem
		changed = true
	}
	if changed {
		if err := s.db.UpdateUser(&u); err != nil {
			return fmt.Errorf("failed to update profile of %s: %w", u.Address(), err)
		}
	}

	if doc.Icon.URL == "" {
		return nil
	}
	if err := s.storeAvatar(ctx, doc.Icon.URL, s.avatarPath(u.GlobalId)); err != nil {
		return fmt.Errorf("avatar of %s: %w", u.Address(), err)
	}
	log.Printf("Identity: stored avatar for %s", u.Address())
	return nil
}

func (s *Service) storeAvatar(ctx context.Context, iconURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", iconURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	src, _, err := image.Decode(io.LimitReader(resp.Body, maxAvatarBytes))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, avatarSize, avatarSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, dst); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return f.Close()
}
