package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// AWS SDK environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY,
// AWS_REGION, AWS_ENDPOINT_URL) are read directly by the SDK's default
// credential chain and do not appear in this struct.

type Config struct {
	CacheDir         string
	StorageBackend   string
	S3Bucket         string
	S3Prefix         string
	S3ForcePathStyle bool
	S3LifecycleDays  int
	UseDiskCache     bool
	CachedOnly       bool
	NoRemote         bool
	CacheBlocklist   []string
	CAFile           string
	ReadAllowlist    []string
	NetAllowlist     []string
	LogLevel         slog.Level
}

func Load() Config {
	lifecycleDays, _ := strconv.Atoi(envOr("S3_LIFECYCLE_DAYS", "28"))

	return Config{
		CacheDir:         envOr("CACHE_DIR", defaultCacheDir()),
		StorageBackend:   envOr("STORAGE_BACKEND", "fs"),
		S3Bucket:         envOr("S3_BUCKET", "source-cache"),
		S3Prefix:         os.Getenv("S3_PREFIX"),
		S3ForcePathStyle: envOr("S3_FORCE_PATH_STYLE", "true") == "true",
		S3LifecycleDays:  lifecycleDays,
		UseDiskCache:     envOr("USE_DISK_CACHE", "true") == "true",
		CachedOnly:       envOr("CACHED_ONLY", "false") == "true",
		NoRemote:         envOr("NO_REMOTE", "false") == "true",
		CacheBlocklist:   splitList(os.Getenv("CACHE_BLOCKLIST")),
		CAFile:           os.Getenv("CA_FILE"),
		ReadAllowlist:    splitList(os.Getenv("READ_ALLOWLIST")),
		NetAllowlist:     splitList(os.Getenv("NET_ALLOWLIST")),
		LogLevel:         parseLogLevel(envOr("LOG_LEVEL", "info")),
	}
}

// defaultCacheDir places the deps cache under the user cache directory,
// falling back to a relative directory when none is known.
func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/sourcefetch/deps"
	}
	return ".sourcefetch/deps"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
