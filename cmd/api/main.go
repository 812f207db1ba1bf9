package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"inkshelf/api/internal/app"
	"inkshelf/api/internal/blobstore"
	"inkshelf/api/internal/config"
	"inkshelf/api/internal/contentapi"
	"inkshelf/api/internal/gitrepo"
	"inkshelf/api/internal/objectstore"
	"inkshelf/api/internal/search"
	"inkshelf/api/internal/session"
	"inkshelf/api/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx := context.Background()

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("%s backend failed: %v", cfg.Backend, err)
	}
	defer closeBackend()
	blobs := blobstore.Guard(backend, cfg.StoreTimeout)

	var sessions session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh sessions")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Printf("REDIS_URL not set, keeping refresh sessions in memory")
		sessions = session.NewMemoryStore()
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}

	service := app.New(cfg, blobs, sessions, meiliClient)
	go service.Bootstrap(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Inkshelf API listening on %s (backend %s)", cfg.Addr, cfg.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// openBackend builds the store selected by INKSHELF_BACKEND. The returned func
// releases whatever the backend holds open.
func openBackend(ctx context.Context, cfg config.Config) (blobstore.Store, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.BackendMemory:
		log.Printf("WARNING: memory backend, nothing is persisted across restarts")
		return blobstore.NewMemory(), noop, nil

	case config.BackendGit:
		if err := os.MkdirAll(cfg.RepoDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create repo dir: %w", err)
		}
		repo, err := gitrepo.Open(cfg.RepoDir, cfg.RepoAuthor)
		if err != nil {
			return nil, nil, err
		}
		return repo, noop, nil

	case config.BackendContentAPI:
		client, err := contentapi.New(contentapi.Config{
			BaseURL: cfg.ContentAPIURL,
			Token:   cfg.ContentAPIToken,
			Branch:  cfg.ContentAPIBranch,
			Timeout: cfg.StoreTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, noop, nil

	case config.BackendS3:
		objects, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := objects.EnsureBucket(bucketCtx); err != nil {
			return nil, nil, err
		}
		return objects, noop, nil

	case config.BackendPostgres:
		blobs, err := store.OpenBlobStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return blobs, func() { _ = blobs.DB().Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
