package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func validConfig() Config {
	return Config{
		DatabaseURL:       "postgresql://root@localhost:26257/visionlens?sslmode=disable",
		ThumbnailCacheDir: "/tmp/thumbs",
		ThumbnailQuality:  80,
		VectorIndexDir:    "/tmp/vectors",
		Port:              ":8000",
		InternalPort:      ":20000",
	}
}

func TestValidate_ValidConfig_NoError(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_BadValues_ReturnsError(t *testing.T) {
	test := func(name string, mutate func(*Config)) {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	test("missing database URL", func(c *Config) { c.DatabaseURL = "" })
	test("missing port", func(c *Config) { c.Port = "" })
	test("quality too low", func(c *Config) { c.ThumbnailQuality = 0 })
	test("quality too high", func(c *Config) { c.ThumbnailQuality = 101 })
	test("missing thumbnail dir", func(c *Config) { c.ThumbnailCacheDir = "" })
	test("missing vector dir", func(c *Config) { c.VectorIndexDir = "" })
}

func TestFlags_DefaultsProduceValidConfig(t *testing.T) {
	var cfg Config
	app := &cli.App{
		Flags: Flags(&cfg),
		Action: func(*cli.Context) error {
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"visionlens"}))
	assert.Equal(t, 80, cfg.ThumbnailQuality)
	assert.Equal(t, ":8000", cfg.Port)
	require.NoError(t, cfg.Validate())
}

func TestFlags_OverridesAreApplied(t *testing.T) {
	var cfg Config
	app := &cli.App{
		Flags: Flags(&cfg),
		Action: func(*cli.Context) error {
			return nil
		},
	}
	require.NoError(t, app.Run([]string{
		"visionlens",
		"--port", ":9999",
		"--thumbnail_webp_quality", "55",
		"--embedder_url", "http://embedder:9901",
	}))
	assert.Equal(t, ":9999", cfg.Port)
	assert.Equal(t, 55, cfg.ThumbnailQuality)
	assert.Equal(t, "http://embedder:9901", cfg.EmbedderURL)
}
