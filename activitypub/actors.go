package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/deemkeen/rabble/domain"
	"github.com/deemkeen/rabble/util"
)

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context                   interface{} `json:"@context"`
	ID                        string      `json:"id"`
	Type                      string      `json:"type"`
	PreferredUsername         string      `json:"preferredUsername"`
	Name                      string      `json:"name"`
	Summary                   string      `json:"summary"`
	Inbox                     string      `json:"inbox"`
	Outbox                    string      `json:"outbox,omitempty"`
	Followers                 string      `json:"followers,omitempty"`
	ManuallyApprovesFollowers bool        `json:"manuallyApprovesFollowers"`
	Icon                      struct {
		Type      string `json:"type,omitempty"`
		MediaType string `json:"mediaType,omitempty"`
		URL       string `json:"url,omitempty"`
	} `json:"icon"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
	Endpoints *struct {
		SharedInbox string `json:"sharedInbox,omitempty"`
	} `json:"endpoints,omitempty"`
}

// NewActorResponse renders the Person document for a local user.
func NewActorResponse(u *domain.User, host string) ActorResponse {
	actorURI := BuildActor(u.Handle, host)
	doc := ActorResponse{
		Context: []interface{}{
			activityStreamsContext,
			"https://w3id.org/security/v1",
		},
		ID:                        actorURI,
		Type:                      "Person",
		PreferredUsername:         u.Handle,
		Name:                      u.DisplayName,
		Summary:                   u.Bio,
		Inbox:                     actorURI + "/inbox",
		Outbox:                    actorURI + "/outbox",
		Followers:                 actorURI + "/followers",
		ManuallyApprovesFollowers: u.Private,
	}
	doc.PublicKey.ID = actorURI + "#main-key"
	doc.PublicKey.Owner = actorURI
	doc.PublicKey.PublicKeyPem = u.PublicKey
	doc.Endpoints = &struct {
		SharedInbox string `json:"sharedInbox,omitempty"`
	}{SharedInbox: util.EnsureScheme(util.StripScheme(host) + "/ap/inbox")}
	return doc
}

// FetchActorDocument dereferences an actor URI, consulting cache first.
// A nil cache is allowed.
func FetchActorDocument(ctx context.Context, client HTTPClient, cache ActorCache, actorURI string) (*ActorResponse, error) {
	if cache != nil {
		if raw, ok := cache.Get(ctx, actorURI); ok {
			var actor ActorResponse
			if err := json.Unmarshal(raw, &actor); err == nil && actor.ID != "" {
				return &actor, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("actor fetch failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var actor ActorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}
	if actor.ID == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}

	if cache != nil {
		cache.Set(ctx, actorURI, body)
	}
	return &actor, nil
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(util.EnsureScheme(actorURI))
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	return parsed.Host, nil
}
