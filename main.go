package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/deemkeen/rabble/activitypub"
	"github.com/deemkeen/rabble/cache"
	"github.com/deemkeen/rabble/db"
	"github.com/deemkeen/rabble/rpc"
	"github.com/deemkeen/rabble/util"
	"github.com/deemkeen/rabble/web"
)

const (
	actorCacheTTL   = time.Hour
	shutdownTimeout = 30 * time.Second
	limiterSweep    = 5 * time.Minute
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}
	util.SetupLogging(conf)
	log.Printf("Starting %s", util.GetNameAndVersion())

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	dbPath := conf.Conf.DbPath
	if !filepath.IsAbs(dbPath) {
		dbPath = util.ResolveFilePath(dbPath)
	}
	database, err := db.Open(dbPath)
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	log.Println("Running database migrations...")
	if err := database.RunMigrations(); err != nil {
		log.Fatalf("Migrations failed: %v", err)
	}
	log.Println("Database migrations complete")

	actorCache := cache.NewStore(conf.Conf.RedisUrl, actorCacheTTL)
	defer actorCache.Close()

	deps := activitypub.Deps{Database: database, Cache: actorCache}
	if conf.Conf.RecommenderUrl != "" {
		timeout := time.Duration(conf.DeliveryTimeoutSeconds()) * time.Second
		deps.Recommender = activitypub.NewHTTPRecommender(conf.Conf.RecommenderUrl, activitypub.NewDefaultHTTPClient(timeout))
	}
	svc := activitypub.NewService(conf, deps)

	router := web.NewRouter(conf, web.Deps{
		Store:   database,
		Service: svc,
		RPC:     rpc.NewServer(database, svc),
	})

	startServing(conf, router, svc)
}

func startServing(conf *util.AppConfig, router *web.Router, svc *activitypub.Service) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go router.SweepLimiters(ctx, limiterSweep)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting HTTP server on %s (serving %s)", srv.Addr, util.StripScheme(conf.Conf.SslDomain))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalln(err)
		}
	}()

	<-ctx.Done()
	log.Println("Stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: HTTP shutdown: %v", err)
	}

	log.Println("Waiting for background tasks")
	svc.Wait()
}
