package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/modrunner/sourcefetch/internal/cache"
	"github.com/modrunner/sourcefetch/internal/config"
	"github.com/modrunner/sourcefetch/internal/fetcher"
	"github.com/modrunner/sourcefetch/internal/permissions"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: sourcefetch <module-url>")
		os.Exit(2)
	}

	cfg := config.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	specifier, err := url.Parse(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid module URL %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to create store", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}

	if err := store.Init(ctx); err != nil {
		slog.Error("failed to initialise store", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}

	f, err := fetcher.New(store, fetcher.Options{
		UseDiskCache:   cfg.UseDiskCache,
		NoRemote:       cfg.NoRemote,
		CachedOnly:     cfg.CachedOnly,
		CacheBlocklist: cfg.CacheBlocklist,
		CAFile:         cfg.CAFile,
	})
	if err != nil {
		slog.Error("failed to create fetcher", "error", err)
		os.Exit(1)
	}

	perms := &permissions.Permissions{
		AllowRead: true,
		ReadRoots: cfg.ReadAllowlist,
		AllowNet:  true,
		NetHosts:  cfg.NetAllowlist,
	}

	source, err := f.Fetch(ctx, specifier, nil, perms)
	if err != nil {
		slog.Error("fetch failed", "module", specifier.String(), "error", err)
		os.Exit(1)
	}

	slog.Info("fetched",
		"module", source.URL.String(),
		"media_type", source.MediaType.String(),
		"charset", source.Source.Charset(),
		"file", source.Filename,
	)
	if source.TypesHeader != "" {
		slog.Info("types header", "location", source.TypesHeader)
	}

	text, err := source.Source.Text()
	if err != nil {
		slog.Error("decode failed", "module", specifier.String(), "error", err)
		os.Exit(1)
	}
	fmt.Print(text)
}

func newStore(ctx context.Context, cfg config.Config) (cache.Store, error) {
	switch cfg.StorageBackend {
	case "s3":
		return cache.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3ForcePathStyle, cfg.S3LifecycleDays)
	case "fs":
		return cache.NewDiskStore(cfg.CacheDir), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.StorageBackend)
	}
}
