package app

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	intrnl "slideshow/internal"
)

const defaultHostname = "wedding.local"

// Config is the server configuration. Values come from an optional YAML
// file and are overridden by environment variables.
type Config struct {
	Addr            string        `yaml:"addr" env:"SLIDESHOW_ADDR" env-default:":8000" env-description:"HTTP listen address"`
	DBPath          string        `yaml:"db" env:"SLIDESHOW_DB" env-default:"slideshow.sqlite" env-description:"SQLite database file"`
	ImageDir        string        `yaml:"image_dir" env:"SLIDESHOW_IMG_DIR" env-description:"directory holding uploaded photos (default $HOME/Pictures/wedding)"`
	Hostname        string        `yaml:"hostname" env:"SLIDESHOW_HOSTNAME,HOSTNAME" env-default:"wedding.local" env-description:"hostname used in image URLs"`
	Port            int           `yaml:"port" env:"SLIDESHOW_PORT,PORT" env-default:"8000" env-description:"port used in image URLs (0 = actual listen port)"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"SLIDESHOW_REFRESH_INTERVAL" env-default:"15s" env-description:"time between display refreshes"`
	GalleryCount    int           `yaml:"gallery_count" env:"SLIDESHOW_GALLERY_COUNT" env-default:"5" env-description:"photos sampled for the gallery page"`
	SampleFill      string        `yaml:"sample_fill" env:"SLIDESHOW_SAMPLE_FILL" env-default:"repeat" env-description:"repeat or short, when fewer photos exist than slots"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" env:"SLIDESHOW_MAX_UPLOAD_BYTES" env-default:"33554432" env-description:"largest accepted upload body"`
	MaxImageDim     int           `yaml:"max_image_dim" env:"SLIDESHOW_MAX_IMAGE_DIM" env-default:"0" env-description:"downscale stored photos to this edge length (0 = keep)"`
	UploadLimit     int           `yaml:"upload_limit" env:"SLIDESHOW_UPLOAD_LIMIT" env-default:"10" env-description:"uploads per client per window (0 = unlimited)"`
	UploadWindow    time.Duration `yaml:"upload_window" env:"SLIDESHOW_UPLOAD_WINDOW" env-default:"1m" env-description:"upload rate limit window"`
	MQTT            MQTTConfig    `yaml:"mqtt"`
	Log             LogConfig     `yaml:"log"`
}

// MQTTConfig enables the broker mirror when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"SLIDESHOW_MQTT_BROKER" env-description:"MQTT broker address, empty disables the mirror"`
	Topic    string `yaml:"topic" env:"SLIDESHOW_MQTT_TOPIC" env-default:"slideshow" env-description:"MQTT topic prefix"`
	ClientID string `yaml:"client_id" env:"SLIDESHOW_MQTT_CLIENT_ID" env-default:"slideshow" env-description:"MQTT client id"`
	QoS      int    `yaml:"qos" env:"SLIDESHOW_MQTT_QOS" env-default:"0" env-description:"MQTT publish QoS"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"SLIDESHOW_LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	Format string `yaml:"format" env:"SLIDESHOW_LOG_FORMAT" env-default:"json" env-description:"json or text"`
	File   string `yaml:"file" env:"SLIDESHOW_LOG_FILE" env-description:"log to this file instead of stderr"`
}

// Load reads path (when non-empty) and the environment, fills the derived
// defaults and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if cfg.ImageDir == "" {
		cfg.ImageDir = DefaultImageDir()
	}
	if cfg.Hostname == "" {
		cfg.Hostname = defaultHostname
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Usage writes the environment variable reference.
func Usage(w io.Writer) {
	var cfg Config
	header := "Environment variables:"
	cleanenv.FUsage(w, &cfg, &header)()
}

// DefaultImageDir is $HOME/Pictures/wedding, or a local directory when no
// home is known.
func DefaultImageDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Pictures", "wedding")
	}
	return filepath.Join(".", "images")
}

func (cfg Config) Validate() error {
	var problems []error
	if cfg.Addr == "" {
		problems = append(problems, errors.New("listen address is required"))
	}
	if cfg.DBPath == "" {
		problems = append(problems, errors.New("database path is required"))
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		problems = append(problems, fmt.Errorf("port %d out of range", cfg.Port))
	}
	if cfg.RefreshInterval <= 0 {
		problems = append(problems, errors.New("refresh interval must be positive"))
	}
	if cfg.GalleryCount <= 0 {
		problems = append(problems, errors.New("gallery count must be positive"))
	}
	if _, err := intrnl.ParseFillPolicy(cfg.SampleFill); err != nil {
		problems = append(problems, err)
	}
	if cfg.MaxUploadBytes <= 0 {
		problems = append(problems, errors.New("max upload bytes must be positive"))
	}
	if cfg.MaxImageDim < 0 {
		problems = append(problems, errors.New("max image dimension cannot be negative"))
	}
	if cfg.UploadLimit > 0 && cfg.UploadWindow <= 0 {
		problems = append(problems, errors.New("upload window must be positive when a limit is set"))
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		problems = append(problems, fmt.Errorf("mqtt qos %d must be 0, 1 or 2", cfg.MQTT.QoS))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(problems...))
	}
	return nil
}

// ImageBaseURL is the externally visible prefix of stored photos, e.g.
// http://wedding.local:8000/images/.
func (cfg Config) ImageBaseURL() string {
	return "http://" + net.JoinHostPort(cfg.Hostname, strconv.Itoa(cfg.Port)) + "/images/"
}

// ImageURL returns the public URL of one stored photo.
func (cfg Config) ImageURL(name string) string {
	return cfg.ImageBaseURL() + url.PathEscape(name)
}

// ViewerConfig defines the parameters the terminal viewer needs.
type ViewerConfig struct {
	ServerURL string
}
