package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnv = []string{
	"SLIDESHOW_ADDR", "SLIDESHOW_DB", "SLIDESHOW_IMG_DIR", "SLIDESHOW_HOSTNAME", "HOSTNAME",
	"SLIDESHOW_PORT", "PORT", "SLIDESHOW_REFRESH_INTERVAL", "SLIDESHOW_GALLERY_COUNT",
	"SLIDESHOW_SAMPLE_FILL", "SLIDESHOW_MAX_UPLOAD_BYTES", "SLIDESHOW_MAX_IMAGE_DIM",
	"SLIDESHOW_UPLOAD_LIMIT", "SLIDESHOW_UPLOAD_WINDOW", "SLIDESHOW_MQTT_BROKER",
	"SLIDESHOW_MQTT_TOPIC", "SLIDESHOW_MQTT_CLIENT_ID", "SLIDESHOW_MQTT_QOS",
	"SLIDESHOW_LOG_LEVEL", "SLIDESHOW_LOG_FORMAT", "SLIDESHOW_LOG_FILE",
}

// clearConfigEnv unsets every config variable for the duration of the test.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, "slideshow.sqlite", cfg.DBPath)
	assert.Equal(t, "wedding.local", cfg.Hostname)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.RefreshInterval)
	assert.Equal(t, 5, cfg.GalleryCount)
	assert.Equal(t, "repeat", cfg.SampleFill)
	assert.Equal(t, int64(32<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 10, cfg.UploadLimit)
	assert.Equal(t, time.Minute, cfg.UploadWindow)
	assert.Empty(t, cfg.MQTT.Broker)
	assert.Equal(t, "slideshow", cfg.MQTT.Topic)
	assert.True(t, strings.HasSuffix(cfg.ImageDir, filepath.Join("Pictures", "wedding")), cfg.ImageDir)
	assert.Equal(t, "http://wedding.local:8000/images/", cfg.ImageBaseURL())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("HOSTNAME", "party.lan")
	t.Setenv("PORT", "9000")
	t.Setenv("SLIDESHOW_REFRESH_INTERVAL", "5s")
	t.Setenv("SLIDESHOW_SAMPLE_FILL", "short")
	t.Setenv("SLIDESHOW_IMG_DIR", "/srv/photos")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "party.lan", cfg.Hostname)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.RefreshInterval)
	assert.Equal(t, "short", cfg.SampleFill)
	assert.Equal(t, "/srv/photos", cfg.ImageDir)

	t.Setenv("SLIDESHOW_HOSTNAME", "wall.lan")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "wall.lan", cfg.Hostname, "the prefixed variable wins over HOSTNAME")
}

func TestLoadYAMLFileWithEnvOverride(t *testing.T) {
	clearConfigEnv(t)
	path := filepath.Join(t.TempDir(), "slideshow.yaml")
	yaml := `addr: "127.0.0.1:8100"
db: /var/lib/slideshow/posts.sqlite
image_dir: /var/lib/slideshow/images
hostname: photos.local
port: 8100
refresh_interval: 30s
mqtt:
  broker: localhost:1883
  topic: wedding
log:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("SLIDESHOW_MQTT_TOPIC", "reception")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8100", cfg.Addr)
	assert.Equal(t, "/var/lib/slideshow/posts.sqlite", cfg.DBPath)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	assert.Equal(t, "localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "reception", cfg.MQTT.Topic)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://photos.local:8100/images/", cfg.ImageBaseURL())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SLIDESHOW_SAMPLE_FILL", "blank")
	t.Setenv("SLIDESHOW_GALLERY_COUNT", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample fill")
	assert.Contains(t, err.Error(), "gallery count")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestImageURL(t *testing.T) {
	cfg := Config{Hostname: "wedding.local", Port: 8000}
	assert.Equal(t,
		"http://wedding.local:8000/images/2024-06-01T18_30_05.123456-abcd1234.jpg",
		cfg.ImageURL("2024-06-01T18_30_05.123456-abcd1234.jpg"),
	)
	cfg = Config{Hostname: "::1", Port: 8000}
	assert.Equal(t, "http://[::1]:8000/images/a.png", cfg.ImageURL("a.png"))
}

func TestUsageListsVariables(t *testing.T) {
	var out strings.Builder
	Usage(&out)
	assert.Contains(t, out.String(), "SLIDESHOW_REFRESH_INTERVAL")
	assert.Contains(t, out.String(), "SLIDESHOW_MQTT_BROKER")
}

func TestNewLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "slideshow.log")
	logger, closer, err := NewLogger(LogConfig{Level: "warn", Format: "text", File: logPath}, os.Stderr)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("visible", "key", "value")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "key=value")

	_, _, err = NewLogger(LogConfig{Level: "loud"}, os.Stderr)
	assert.Error(t, err)
	_, _, err = NewLogger(LogConfig{Format: "xml"}, os.Stderr)
	assert.Error(t, err)
}
