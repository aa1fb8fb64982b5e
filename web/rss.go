package web

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/rabble/activitypub"
	"github.com/deemkeen/rabble/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"
)

const rssItemLimit = 50

// GetUserRSS renders the latest articles of author as RSS 2.0.
func GetUserRSS(b *activitypub.Builder, author *domain.User, articles []domain.Article, now time.Time) (string, error) {
	name := author.DisplayName
	if name == "" {
		name = author.Handle
	}
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s (@%s)", name, author.Handle),
		Link:        &feeds.Link{Href: b.ActorURI(author)},
		Description: author.Bio,
		Author:      &feeds.Author{Name: name},
		Created:     now,
	}

	for i := range articles {
		a := &articles[i]
		uri := b.ArticleURI(a, author)
		feed.Items = append(feed.Items, &feeds.Item{
			Id:          uri,
			Title:       a.Title,
			Link:        &feeds.Link{Href: uri},
			Description: a.Summary,
			Content:     a.Body,
			Author:      &feeds.Author{Name: name},
			Created:     a.CreationDatetime,
		})
	}
	return feed.ToRss()
}

func (h *handlers) GetRSS(c *gin.Context) {
	handle, ok := handleParam(c.Param("actor"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	author, status := h.localUser(handle)
	if author == nil {
		c.Status(status)
		return
	}
	err, articles := h.store.ReadPostsByAuthor(author.GlobalId, rssItemLimit)
	if err != nil {
		log.Printf("Web: Could not read articles of %s: %v", handle, err)
		c.Status(http.StatusInternalServerError)
		return
	}

	var list []domain.Article
	if articles != nil {
		list = *articles
	}
	rss, err := GetUserRSS(h.svc.Builder(), author, list, time.Now())
	if err != nil {
		log.Printf("Web: Could not render feed of %s: %v", handle, err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/rss+xml; charset=utf-8", []byte(rss))
}
