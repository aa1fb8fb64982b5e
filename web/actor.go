package web

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/deemkeen/rabble/activitypub"
	"github.com/deemkeen/rabble/domain"
	"github.com/gin-gonic/gin"
)

const activityJSON = "application/activity+json; charset=utf-8"

// Store is the read side of the database the public routes need.
type Store interface {
	ReadUserByHandle(handle, host string) (error, *domain.User)
	ReadPostById(id int64) (error, *domain.Article)
	ReadPostsByAuthor(authorId int64, limit int) (error, *[]domain.Article)
	ReadPostsByAuthorPage(authorId int64, limit, offset int) (error, *[]domain.Article)
	CountPostsByAuthor(authorId int64) (error, int)
	ReadActiveFollowers(followed int64) (error, *[]domain.Follow)
}

// handleParam strips the leading "@" of an /@handle path segment. The
// second value is false when the segment is not a handle.
func handleParam(segment string) (string, bool) {
	if !strings.HasPrefix(segment, "@") || len(segment) < 2 {
		return "", false
	}
	return segment[1:], true
}

func (h *handlers) localUser(handle string) (*domain.User, int) {
	err, u := h.store.ReadUserByHandle(handle, "")
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, http.StatusNotFound
		}
		log.Printf("Web: Failed to read user %s: %v", handle, err)
		return nil, http.StatusInternalServerError
	}
	return u, http.StatusOK
}

// GetActor serves the Person document of a local user.
func (h *handlers) GetActor(c *gin.Context) {
	handle, ok := handleParam(c.Param("actor"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	u, status := h.localUser(handle)
	if u == nil {
		c.JSON(status, gin.H{"error": "Actor not found"})
		return
	}
	c.Header("Content-Type", activityJSON)
	c.Status(http.StatusOK)
	if err := encodeJSON(c.Writer, activitypub.NewActorResponse(u, h.svc.Host())); err != nil {
		log.Printf("Web: Failed to write actor %s: %v", handle, err)
	}
}

// GetArticle serves a local article as an Article object. Foreign
// articles live at their ap_id and are not served here.
func (h *handlers) GetArticle(c *gin.Context) {
	handle, ok := handleParam(c.Param("actor"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid article id"})
		return
	}

	author, status := h.localUser(handle)
	if author == nil {
		c.JSON(status, gin.H{"error": "Author not found"})
		return
	}
	err, article := h.store.ReadPostById(id)
	if err != nil || article.AuthorId != author.GlobalId {
		c.JSON(http.StatusNotFound, gin.H{"error": "Article not found"})
		return
	}

	c.Header("Content-Type", activityJSON)
	c.Status(http.StatusOK)
	if err := encodeJSON(c.Writer, h.svc.Builder().ArticleObject(article, author)); err != nil {
		log.Printf("Web: Failed to write article %d: %v", id, err)
	}
}

type followersCollection struct {
	Context    string `json:"@context"`
	ID         string `json:"id"`
	Type       string `json:"type"`
	TotalItems int    `json:"totalItems"`
}

// GetFollowers serves the followers collection of a local user. Only the
// count of ACTIVE followers is published.
func (h *handlers) GetFollowers(c *gin.Context) {
	handle, ok := handleParam(c.Param("actor"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		return
	}
	u, status := h.localUser(handle)
	if u == nil {
		c.JSON(status, gin.H{"error": "Actor not found"})
		return
	}
	err, follows := h.store.ReadActiveFollowers(u.GlobalId)
	if err != nil {
		log.Printf("Web: Failed to read followers of %s: %v", handle, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}
	total := 0
	if follows != nil {
		total = len(*follows)
	}

	c.Header("Content-Type", activityJSON)
	c.Status(http.StatusOK)
	encodeJSON(c.Writer, followersCollection{
		Context:    "https://www.w3.org/ns/activitystreams",
		ID:         h.svc.Builder().FollowersURI(u),
		Type:       "OrderedCollection",
		TotalItems: total,
	})
}
