package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/deemkeen/rabble/activitypub"
	"github.com/deemkeen/rabble/util"
	"github.com/gin-gonic/gin"
)

var errForeignResource = errors.New("resource is not hosted here")

type webfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

type webfingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []webfingerLink `json:"links"`
}

// parseAcct splits "acct:handle@host" (the acct: prefix and a leading @
// are optional) and checks that host is ours.
func parseAcct(resource, host string) (string, error) {
	resource = strings.TrimPrefix(strings.TrimSpace(resource), "acct:")
	resource = strings.TrimPrefix(resource, "@")
	handle, domainPart, found := strings.Cut(resource, "@")
	if !found || handle == "" {
		return "", errors.New("resource must look like acct:handle@host")
	}
	if !util.SameHost(domainPart, host) {
		return "", errForeignResource
	}
	return handle, nil
}

func newWebfingerResponse(handle, host string) webfingerResponse {
	actorURI := activitypub.BuildActor(handle, host)
	return webfingerResponse{
		Subject: "acct:" + handle + "@" + util.StripScheme(host),
		Aliases: []string{actorURI},
		Links: []webfingerLink{
			{Rel: "self", Type: "application/activity+json", Href: actorURI},
			{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: util.EnsureScheme(util.StripScheme(host) + "/@" + handle)},
		},
	}
}

// GetWebfinger answers /.well-known/webfinger for local users.
func (h *handlers) GetWebfinger(c *gin.Context) {
	handle, err := parseAcct(c.Query("resource"), h.svc.Host())
	if err != nil {
		if errors.Is(err, errForeignResource) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	u, status := h.localUser(handle)
	if u == nil {
		c.JSON(status, gin.H{"detail": "Not Found"})
		return
	}
	c.Header("Content-Type", "application/jrd+json; charset=utf-8")
	c.Status(http.StatusOK)
	encodeJSON(c.Writer, newWebfingerResponse(u.Handle, h.svc.Host()))
}
