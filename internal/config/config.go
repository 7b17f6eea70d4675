package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// EnvPrefix is prepended to every environment key: queue.capacity is read
// from LANE_QUEUE_CAPACITY.
const EnvPrefix = "LANE"

// ConfigFileEnv names an optional YAML/JSON/TOML file layered under the
// environment.
const ConfigFileEnv = "LANE_CONFIG_FILE"

type Config struct {
	Lane     LaneConfig     `mapstructure:"lane"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Hardware HardwareConfig `mapstructure:"hardware"`
	Gate     GateConfig     `mapstructure:"gate"`
	Images   ImagesConfig   `mapstructure:"images"`
	Status   StatusConfig   `mapstructure:"status"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Log      LogConfig      `mapstructure:"log"`

	DrainInterval  time.Duration `mapstructure:"drain_interval"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

type LaneConfig struct {
	Type string `mapstructure:"type"` // "entry" | "exit"
	ID   string `mapstructure:"id"`
}

func (l LaneConfig) Position() types.Position { return types.Position(strings.ToLower(l.Type)) }

type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	HealthPath     string        `mapstructure:"health_path"`
	Timeout        time.Duration `mapstructure:"timeout"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	ConnectBackoff time.Duration `mapstructure:"connect_backoff"`
	ErrorBackoff   time.Duration `mapstructure:"error_backoff"`
	QueueOnTimeout bool          `mapstructure:"queue_on_timeout"`
}

type QueueConfig struct {
	Backend    string `mapstructure:"backend"` // "file" | "sqlite"
	File       string `mapstructure:"file"`
	DBPath     string `mapstructure:"db_path"`
	Capacity   int    `mapstructure:"capacity"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type HardwareConfig struct {
	Mode          string        `mapstructure:"mode"` // "sim" | "real"
	CardDevice    string        `mapstructure:"card_device"`
	RecognizerURL string        `mapstructure:"recognizer_url"`
	MinConfidence float64       `mapstructure:"min_confidence"`
	GPIORoot      string        `mapstructure:"gpio_root"`
	PlatePattern  string        `mapstructure:"plate_pattern"`
	SimCard       string        `mapstructure:"sim_card"`
	SimPlate      string        `mapstructure:"sim_plate"`
	SimCardDelay  time.Duration `mapstructure:"sim_card_delay"`
}

func (h HardwareConfig) Real() bool { return strings.EqualFold(h.Mode, "real") }

type GateConfig struct {
	Dwell       time.Duration `mapstructure:"dwell"`
	CyclePause  time.Duration `mapstructure:"cycle_pause"`
	PanicPause  time.Duration `mapstructure:"panic_pause"`
	CardTimeout time.Duration `mapstructure:"card_timeout"` // 0 = block until a card; >0 = poll
}

type ImagesConfig struct {
	Dir           string        `mapstructure:"dir"`
	RetentionDays int           `mapstructure:"retention_days"` // 0 = keep forever
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

type StatusConfig struct {
	HTTPAddr    string   `mapstructure:"http_addr"` // empty disables
	GRPCAddr    string   `mapstructure:"grpc_addr"` // empty disables
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type MQTTConfig struct {
	Broker   string `mapstructure:"broker"` // empty disables
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      int    `mapstructure:"qos"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"` // empty keeps images local
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

var defaults = map[string]any{
	"lane.type": "entry",
	"lane.id":   "",

	"backend.base_url":         "http://localhost:3001/api/parking/logs",
	"backend.health_path":      "/api/health",
	"backend.timeout":          "10s",
	"backend.health_timeout":   "3s",
	"backend.max_attempts":     3,
	"backend.connect_backoff":  "2s",
	"backend.error_backoff":    "1s",
	"backend.queue_on_timeout": false,

	"queue.backend":     "file",
	"queue.file":        "./data/offline_queue.json",
	"queue.db_path":     "./data/lane_queue.db",
	"queue.capacity":    100,
	"queue.max_retries": 5,

	"hardware.mode":           "sim",
	"hardware.card_device":    "/dev/ttyUSB0",
	"hardware.recognizer_url": "http://localhost:5000/recognize",
	"hardware.min_confidence": 0.6,
	"hardware.gpio_root":      "/sys/class/gpio",
	"hardware.plate_pattern":  `^\d{2,3}[A-Z]\d{4,5}$`,
	"hardware.sim_card":       "1234567890",
	"hardware.sim_plate":      "29A12345",
	"hardware.sim_card_delay": "2s",

	"gate.dwell":        "5s",
	"gate.cycle_pause":  "1s",
	"gate.panic_pause":  "2s",
	"gate.card_timeout": "0s",

	"images.dir":            "./images",
	"images.retention_days": 30,
	"images.prune_interval": "6h",

	"status.http_addr":    ":8090",
	"status.grpc_addr":    "",
	"status.cors_origins": []string{},

	"mqtt.broker":    "",
	"mqtt.client_id": "",
	"mqtt.username":  "",
	"mqtt.password":  "",
	"mqtt.topic":     "parking/lanes",
	"mqtt.qos":       0,

	"minio.endpoint":   "",
	"minio.access_key": "",
	"minio.secret_key": "",
	"minio.use_ssl":    false,
	"minio.bucket":     "parking-images",
	"minio.prefix":     "",

	"log.level":  "info",
	"log.format": "console",
	"log.file":   "",

	"drain_interval":  "60s",
	"health_interval": "30s",
}

// Load layers defaults, the optional config file and LANE_* environment
// variables, then validates the result.
func Load() (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if path := strings.TrimSpace(os.Getenv(ConfigFileEnv)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Status.CORSOrigins = splitCSV(cfg.Status.CORSOrigins)

	if cfg.Lane.ID == "" {
		cfg.Lane.ID = strings.ToLower(cfg.Lane.Type) + "-1"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "lane-" + cfg.Lane.ID
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if !c.Lane.Position().Valid() {
		errs = append(errs, fmt.Errorf("lane.type must be entry or exit, got %q", c.Lane.Type))
	}

	if u, err := url.Parse(c.Backend.BaseURL); c.Backend.BaseURL == "" || err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.base_url is not an absolute URL: %q", c.Backend.BaseURL))
	}
	if c.Backend.MaxAttempts <= 0 {
		errs = append(errs, errors.New("backend.max_attempts must be positive"))
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, errors.New("backend.timeout must be positive"))
	}

	switch strings.ToLower(c.Queue.Backend) {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("queue.backend must be file or sqlite, got %q", c.Queue.Backend))
	}
	if c.Queue.Capacity <= 0 {
		errs = append(errs, errors.New("queue.capacity must be positive"))
	}
	if c.Queue.MaxRetries <= 0 {
		errs = append(errs, errors.New("queue.max_retries must be positive"))
	}

	switch strings.ToLower(c.Hardware.Mode) {
	case "sim", "real":
	default:
		errs = append(errs, fmt.Errorf("hardware.mode must be sim or real, got %q", c.Hardware.Mode))
	}

	if c.Gate.Dwell < 0 || c.Gate.CyclePause < 0 || c.Gate.PanicPause < 0 || c.Gate.CardTimeout < 0 {
		errs = append(errs, errors.New("gate durations must not be negative"))
	}
	if c.Images.RetentionDays < 0 {
		errs = append(errs, errors.New("images.retention_days must not be negative"))
	}
	for _, o := range c.Status.CORSOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			errs = append(errs, fmt.Errorf("status.cors_origins: bad origin %q", o))
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}

	return errors.Join(errs...)
}

// splitCSV flattens entries that arrived as one comma-separated env value.
func splitCSV(in []string) []string {
	var out []string
	for _, v := range in {
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
