package web

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/deemkeen/rabble/activitypub"
	"github.com/deemkeen/rabble/db"
	"github.com/deemkeen/rabble/rpc"
	"github.com/deemkeen/rabble/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const maxBodySize = 1 * 1024 * 1024

// Deps are what the router serves. RPC may be nil.
type Deps struct {
	Store   Store
	Service *activitypub.Service
	RPC     *rpc.Server
}

var _ Store = (*db.DB)(nil)

type handlers struct {
	store Store
	svc   *activitypub.Service
}

// Router is the public HTTP surface: ActivityPub documents and inboxes,
// WebFinger, RSS, metrics and the optional RPC endpoint.
type Router struct {
	engine   *gin.Engine
	limiters []*RateLimiter
}

func NewRouter(conf *util.AppConfig, deps Deps) *Router {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// 10 req/sec per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// stricter for inboxes and rpc
	writeLimiter := NewRateLimiter(rate.Limit(5), 10)
	limitWrites := RateLimitMiddleware(writeLimiter)
	limitBody := MaxBytesMiddleware(maxBodySize)

	h := &handlers{store: deps.Store, svc: deps.Service}

	g.GET("/.well-known/webfinger", h.GetWebfinger)

	g.GET("/ap/:actor", h.GetActor)
	g.GET("/ap/:actor/followers", h.GetFollowers)
	g.GET("/ap/:actor/outbox", h.GetOutbox)
	g.POST("/ap/:actor/inbox", limitWrites, limitBody, func(c *gin.Context) {
		handle, ok := handleParam(c.Param("actor"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown inbox"})
			return
		}
		deps.Service.HandleInbox(c.Writer, c.Request, handle)
	})
	g.POST("/ap/inbox", limitWrites, limitBody, func(c *gin.Context) {
		deps.Service.HandleInbox(c.Writer, c.Request, "")
	})

	g.GET("/:actor/rss", h.GetRSS)
	g.GET("/:actor/:id", h.GetArticle)

	if conf.Conf.WithMetrics {
		g.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	if conf.Conf.WithRpc && deps.RPC != nil {
		g.POST("/rpc", limitWrites, limitBody, deps.RPC.Handle)
		log.Println("Web: RPC endpoint enabled at /rpc")
	}

	return &Router{engine: g, limiters: []*RateLimiter{globalLimiter, writeLimiter}}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}

// SweepLimiters evicts idle rate limiter entries every interval until ctx
// is done.
func (r *Router) SweepLimiters(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range r.limiters {
				l.Sweep()
			}
		}
	}
}

func encodeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
