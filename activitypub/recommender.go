package activitypub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/deemkeen/rabble/util"
)

// Recommender is told about likes so it can update its model. Calls are
// always made from a detached task.
type Recommender interface {
	NotifyLike(ctx context.Context, userID, articleID int64) error
}

// LogRecommender only records the event.
type LogRecommender struct{}

func (LogRecommender) NotifyLike(ctx context.Context, userID, articleID int64) error {
	log.Printf("Recommender: user %d liked article %d", userID, articleID)
	return nil
}

// HTTPRecommender POSTs like events to an external recommendation service.
type HTTPRecommender struct {
	url    string
	client HTTPClient
}

func NewHTTPRecommender(url string, client HTTPClient) *HTTPRecommender {
	return &HTTPRecommender{url: util.EnsureScheme(url), client: client}
}

type likeEvent struct {
	UserID    int64 `json:"user_id"`
	ArticleID int64 `json:"article_id"`
}

func (r *HTTPRecommender) NotifyLike(ctx context.Context, userID, articleID int64) error {
	body, err := json.Marshal(likeEvent{UserID: userID, ArticleID: articleID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("recommender request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("recommender returned status: %d", resp.StatusCode)
	}
	return nil
}
