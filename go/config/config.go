// Package config holds the process-wide configuration for the VisionLens
// server. Every value is a command-line flag with a VISIONLENS_* environment
// fallback.
package config

import (
	"github.com/urfave/cli/v2"

	"github.com/visionlens/visionlens/go/skerr"
)

// Config is everything the server needs to boot. Populated by Flags.
type Config struct {
	// DatabaseURL is the connection string for the column store.
	DatabaseURL string

	// ThumbnailCacheDir is the directory that caches generated WebP
	// thumbnails, keyed {sample_id}_{px}.webp.
	ThumbnailCacheDir string

	// ThumbnailQuality is the WebP encode quality, 1-100.
	ThumbnailQuality int

	// VectorIndexDir is where per-dataset vector collections persist.
	VectorIndexDir string

	// PluginDir is scanned for ingestion plugins; empty disables discovery.
	PluginDir string

	// EmbedderURL is the vision-encoder capability endpoint; empty means
	// embedding tasks fail with CapabilityUnavailable.
	EmbedderURL string

	// VLMEndpoint is the vision-language capability endpoint for auto-tag.
	VLMEndpoint string

	// GCSCredentialsFile optionally points at a service-account JSON for
	// gs:// dataset paths.
	GCSCredentialsFile string

	// Port is the public HTTP service address, e.g. ":8000".
	Port string

	// InternalPort serves /metrics and /healthz, e.g. ":20000".
	InternalPort string

	// Local is true when running outside a container, which relaxes the
	// security headers.
	Local bool
}

// Flags returns the cli flag set bound to cfg. Each flag reads its default
// from the matching VISIONLENS_* environment variable.
func Flags(cfg *Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "database_url",
			Value:       "postgresql://root@localhost:26257/visionlens?sslmode=disable",
			Usage:       "Connection string for the column store.",
			EnvVars:     []string{"VISIONLENS_DATABASE_URL"},
			Destination: &cfg.DatabaseURL,
		},
		&cli.StringFlag{
			Name:        "thumbnail_cache_dir",
			Value:       "./cache/thumbnails",
			Usage:       "Directory for cached WebP thumbnails.",
			EnvVars:     []string{"VISIONLENS_THUMBNAIL_CACHE_DIR"},
			Destination: &cfg.ThumbnailCacheDir,
		},
		&cli.IntFlag{
			Name:        "thumbnail_webp_quality",
			Value:       80,
			Usage:       "WebP encode quality for thumbnails (1-100).",
			EnvVars:     []string{"VISIONLENS_THUMBNAIL_WEBP_QUALITY"},
			Destination: &cfg.ThumbnailQuality,
		},
		&cli.StringFlag{
			Name:        "vector_index_dir",
			Value:       "./cache/vectors",
			Usage:       "Directory for the on-disk vector index.",
			EnvVars:     []string{"VISIONLENS_VECTOR_INDEX_DIR"},
			Destination: &cfg.VectorIndexDir,
		},
		&cli.StringFlag{
			Name:        "plugin_dir",
			Value:       "",
			Usage:       "Directory scanned for ingestion plugins.",
			EnvVars:     []string{"VISIONLENS_PLUGIN_DIR"},
			Destination: &cfg.PluginDir,
		},
		&cli.StringFlag{
			Name:        "embedder_url",
			Value:       "",
			Usage:       "Vision-encoder capability endpoint.",
			EnvVars:     []string{"VISIONLENS_EMBEDDER_URL"},
			Destination: &cfg.EmbedderURL,
		},
		&cli.StringFlag{
			Name:        "vlm_url",
			Value:       "",
			Usage:       "Vision-language capability endpoint used by auto-tag.",
			EnvVars:     []string{"VISIONLENS_VLM_URL"},
			Destination: &cfg.VLMEndpoint,
		},
		&cli.StringFlag{
			Name:        "gcs_credentials_path",
			Value:       "",
			Usage:       "Service account JSON for gs:// dataset paths.",
			EnvVars:     []string{"VISIONLENS_GCS_CREDENTIALS_PATH"},
			Destination: &cfg.GCSCredentialsFile,
		},
		&cli.StringFlag{
			Name:        "port",
			Value:       ":8000",
			Usage:       "HTTP service address.",
			EnvVars:     []string{"VISIONLENS_PORT"},
			Destination: &cfg.Port,
		},
		&cli.StringFlag{
			Name:        "internal_port",
			Value:       ":20000",
			Usage:       "HTTP address for metrics and health checks.",
			EnvVars:     []string{"VISIONLENS_INTERNAL_PORT"},
			Destination: &cfg.InternalPort,
		},
		&cli.BoolFlag{
			Name:        "local",
			Value:       false,
			Usage:       "Running locally, as opposed to in production.",
			EnvVars:     []string{"VISIONLENS_LOCAL"},
			Destination: &cfg.Local,
		},
	}
}

// Validate rejects configurations the server cannot boot with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return skerr.Fmt("database_url is required")
	}
	if c.Port == "" {
		return skerr.Fmt("port is required")
	}
	if c.ThumbnailQuality < 1 || c.ThumbnailQuality > 100 {
		return skerr.Fmt("thumbnail_webp_quality must be in [1, 100], got %d", c.ThumbnailQuality)
	}
	if c.ThumbnailCacheDir == "" {
		return skerr.Fmt("thumbnail_cache_dir is required")
	}
	if c.VectorIndexDir == "" {
		return skerr.Fmt("vector_index_dir is required")
	}
	return nil
}
