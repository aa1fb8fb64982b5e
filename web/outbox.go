package web

import (
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/deemkeen/rabble/activitypub"
	"github.com/gin-gonic/gin"
)

const outboxPageSize = 20

type outboxCollection struct {
	Context    string `json:"@context"`
	ID         string `json:"id"`
	Type       string `json:"type"`
	TotalItems int    `json:"totalItems"`
	First      string `json:"first,omitempty"`
}

type outboxPage struct {
	Context      string                 `json:"@context"`
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	PartOf       string                 `json:"partOf"`
	Next         string                 `json:"next,omitempty"`
	Prev         string                 `json:"prev,omitempty"`
	OrderedItems []activitypub.Activity `json:"orderedItems"`
}

// GetOutbox serves the articles of a local user as Create activities,
// newest first. Without ?page it returns the collection head.
func (h *handlers) GetOutbox(c *gin.Context) {
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
	b := h.svc.Builder()
	outboxURI := b.OutboxURI(u)

	var body interface{}
	if raw := c.Query("page"); raw == "" {
		err, total := h.store.CountPostsByAuthor(u.GlobalId)
		if err != nil {
			log.Printf("Web: Failed to count articles of %s: %v", handle, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			return
		}
		body = outboxCollection{
			Context:    "https://www.w3.org/ns/activitystreams",
			ID:         outboxURI,
			Type:       "OrderedCollection",
			TotalItems: total,
			First:      outboxURI + "?page=1",
		}
	} else {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
			return
		}
		// one extra row tells whether a next page exists
		err, articles := h.store.ReadPostsByAuthorPage(u.GlobalId, outboxPageSize+1, (page-1)*outboxPageSize)
		if err != nil {
			log.Printf("Web: Failed to read outbox page %d of %s: %v", page, handle, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			return
		}
		p := outboxPage{
			Context:      "https://www.w3.org/ns/activitystreams",
			ID:           fmt.Sprintf("%s?page=%d", outboxURI, page),
			Type:         "OrderedCollectionPage",
			PartOf:       outboxURI,
			OrderedItems: []activitypub.Activity{},
		}
		if articles != nil {
			list := *articles
			if len(list) > outboxPageSize {
				list = list[:outboxPageSize]
				p.Next = fmt.Sprintf("%s?page=%d", outboxURI, page+1)
			}
			for i := range list {
				act := b.Create(u, &list[i])
				act.Context = nil
				p.OrderedItems = append(p.OrderedItems, act)
			}
		}
		if page > 1 {
			p.Prev = fmt.Sprintf("%s?page=%d", outboxURI, page-1)
		}
		body = p
	}

	c.Header("Content-Type", activityJSON)
	c.Status(http.StatusOK)
	if err := encodeJSON(c.Writer, body); err != nil {
		log.Printf("Web: Failed to write outbox of %s: %v", handle, err)
	}
}
