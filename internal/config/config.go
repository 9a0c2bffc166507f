// Package config loads rtsphls configuration from YAML, JSON or TOML files,
// applies RTSPHLS_* environment overrides and validates the result against
// both Go rules and an embedded CUE schema.
package config

import (
	"encoding"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding a config file path
const EnvConfigPath = "RTSPHLS_CONFIG"

// DefaultConfigFile is looked up in the working directory when no path is given
const DefaultConfigFile = "rtsphls.yaml"

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server" toml:"server"`
	Stream   StreamConfig   `yaml:"stream" json:"stream" toml:"stream"`
	Worker   WorkerConfig   `yaml:"worker" json:"worker" toml:"worker"`
	Database DatabaseConfig `yaml:"database" json:"database" toml:"database"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging" toml:"logging"`
}

// ServerConfig holds HTTP and gRPC listener configuration
type ServerConfig struct {
	Host            string   `yaml:"host" json:"host" toml:"host" env:"RTSPHLS_HOST"`
	Port            int      `yaml:"port" json:"port" toml:"port" env:"RTSPHLS_PORT"`
	ReadTimeout     Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout" env:"RTSPHLS_READ_TIMEOUT"`
	WriteTimeout    Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout" env:"RTSPHLS_WRITE_TIMEOUT"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" toml:"shutdown_timeout" env:"RTSPHLS_SHUTDOWN_TIMEOUT"`
	EnableCORS      bool     `yaml:"enable_cors" json:"enable_cors" toml:"enable_cors" env:"RTSPHLS_ENABLE_CORS"`
	TrustedProxies  []string `yaml:"trusted_proxies" json:"trusted_proxies" toml:"trusted_proxies" env:"RTSPHLS_TRUSTED_PROXIES"`
	// StrictStatus makes /status/:id answer 404 for unknown ids instead of
	// running=false.
	StrictStatus bool `yaml:"strict_status" json:"strict_status" toml:"strict_status" env:"RTSPHLS_STRICT_STATUS"`
	GRPCPort     int  `yaml:"grpc_port" json:"grpc_port" toml:"grpc_port" env:"RTSPHLS_GRPC_PORT"`
}

// StreamConfig holds session supervisor configuration
type StreamConfig struct {
	OutputDir        string   `yaml:"output_dir" json:"output_dir" toml:"output_dir" env:"RTSPHLS_OUTPUT_DIR"`
	PublicPrefix     string   `yaml:"public_prefix" json:"public_prefix" toml:"public_prefix" env:"RTSPHLS_PUBLIC_PREFIX"`
	SourceScheme     string   `yaml:"source_scheme" json:"source_scheme" toml:"source_scheme" env:"RTSPHLS_SOURCE_SCHEME"`
	MaxSessions      int      `yaml:"max_sessions" json:"max_sessions" toml:"max_sessions" env:"RTSPHLS_MAX_SESSIONS"`
	ReadyTimeout     Duration `yaml:"ready_timeout" json:"ready_timeout" toml:"ready_timeout" env:"RTSPHLS_READY_TIMEOUT"`
	Preflight        bool     `yaml:"preflight" json:"preflight" toml:"preflight" env:"RTSPHLS_PREFLIGHT"`
	PreflightTimeout Duration `yaml:"preflight_timeout" json:"preflight_timeout" toml:"preflight_timeout" env:"RTSPHLS_PREFLIGHT_TIMEOUT"`
	Reconcile        bool     `yaml:"reconcile" json:"reconcile" toml:"reconcile" env:"RTSPHLS_RECONCILE"`
}

// WorkerConfig holds the fixed ffmpeg invocation template
type WorkerConfig struct {
	FFmpegPath        string   `yaml:"ffmpeg_path" json:"ffmpeg_path" toml:"ffmpeg_path" env:"RTSPHLS_FFMPEG_PATH"`
	RTSPTransport     string   `yaml:"rtsp_transport" json:"rtsp_transport" toml:"rtsp_transport" env:"RTSPHLS_RTSP_TRANSPORT"`
	ScaleWidth        int      `yaml:"scale_width" json:"scale_width" toml:"scale_width" env:"RTSPHLS_SCALE_WIDTH"`
	VideoCodec        string   `yaml:"video_codec" json:"video_codec" toml:"video_codec" env:"RTSPHLS_VIDEO_CODEC"`
	Preset            string   `yaml:"preset" json:"preset" toml:"preset" env:"RTSPHLS_PRESET"`
	Tune              string   `yaml:"tune" json:"tune" toml:"tune" env:"RTSPHLS_TUNE"`
	GOPSize           int      `yaml:"gop_size" json:"gop_size" toml:"gop_size" env:"RTSPHLS_GOP_SIZE"`
	SegmentSeconds    int      `yaml:"segment_seconds" json:"segment_seconds" toml:"segment_seconds" env:"RTSPHLS_SEGMENT_SECONDS"`
	ListSize          int      `yaml:"list_size" json:"list_size" toml:"list_size" env:"RTSPHLS_LIST_SIZE"`
	HLSFlags          string   `yaml:"hls_flags" json:"hls_flags" toml:"hls_flags" env:"RTSPHLS_HLS_FLAGS"`
	PlaylistName      string   `yaml:"playlist_name" json:"playlist_name" toml:"playlist_name" env:"RTSPHLS_PLAYLIST_NAME"`
	SnapshotInterval  Duration `yaml:"snapshot_interval" json:"snapshot_interval" toml:"snapshot_interval" env:"RTSPHLS_SNAPSHOT_INTERVAL"`
	CaptureStderr     bool     `yaml:"capture_stderr" json:"capture_stderr" toml:"capture_stderr" env:"RTSPHLS_CAPTURE_STDERR"`
	StderrBufferBytes int      `yaml:"stderr_buffer_bytes" json:"stderr_buffer_bytes" toml:"stderr_buffer_bytes" env:"RTSPHLS_STDERR_BUFFER_BYTES"`
	GracePeriod       Duration `yaml:"grace_period" json:"grace_period" toml:"grace_period" env:"RTSPHLS_GRACE_PERIOD"`
	KillTimeout       Duration `yaml:"kill_timeout" json:"kill_timeout" toml:"kill_timeout" env:"RTSPHLS_KILL_TIMEOUT"`
}

// DatabaseConfig holds session history storage configuration
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" toml:"type" env:"DATABASE_TYPE"`
	URL          string `yaml:"url" json:"url" toml:"url" env:"DATABASE_URL"`
	Host         string `yaml:"host" json:"host" toml:"host" env:"POSTGRES_HOST"`
	Port         int    `yaml:"port" json:"port" toml:"port" env:"POSTGRES_PORT"`
	Username     string `yaml:"username" json:"username" toml:"username" env:"POSTGRES_USER"`
	Password     string `yaml:"password" json:"-" toml:"password" env:"POSTGRES_PASSWORD"`
	Database     string `yaml:"database" json:"database" toml:"database" env:"POSTGRES_DB"`
	DatabasePath string `yaml:"database_path" json:"database_path" toml:"database_path" env:"RTSPHLS_DATABASE_PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" json:"level" toml:"level" env:"RTSPHLS_LOG_LEVEL"`
	Format       string `yaml:"format" json:"format" toml:"format" env:"RTSPHLS_LOG_FORMAT"`
	FilePath     string `yaml:"file_path" json:"file_path" toml:"file_path" env:"RTSPHLS_LOG_FILE"`
	MaxFileSize  int    `yaml:"max_file_size" json:"max_file_size" toml:"max_file_size" env:"RTSPHLS_LOG_MAX_SIZE"`
	MaxBackups   int    `yaml:"max_backups" json:"max_backups" toml:"max_backups" env:"RTSPHLS_LOG_MAX_BACKUPS"`
	MaxAge       int    `yaml:"max_age" json:"max_age" toml:"max_age" env:"RTSPHLS_LOG_MAX_AGE"`
	EnableColors bool   `yaml:"enable_colors" json:"enable_colors" toml:"enable_colors" env:"RTSPHLS_LOG_COLORS"`
}

// DefaultConfig returns the default application configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
			EnableCORS:      true,
		},
		Stream: StreamConfig{
			OutputDir:        "/tmp/rtsp_hls_demo",
			PublicPrefix:     "/hls",
			SourceScheme:     "rtsp://",
			MaxSessions:      16,
			PreflightTimeout: Duration(5 * time.Second),
			Reconcile:        true,
		},
		Worker: WorkerConfig{
			FFmpegPath:        "ffmpeg",
			RTSPTransport:     "udp",
			ScaleWidth:        640,
			VideoCodec:        "libx264",
			Preset:            "veryfast",
			Tune:              "zerolatency",
			GOPSize:           30,
			SegmentSeconds:    1,
			ListSize:          3,
			HLSFlags:          "delete_segments+append_list",
			PlaylistName:      "index.m3u8",
			CaptureStderr:     true,
			StderrBufferBytes: 64 * 1024,
			GracePeriod:       Duration(3 * time.Second),
			KillTimeout:       Duration(2 * time.Second),
		},
		Database: DatabaseConfig{
			Type:     "sqlite",
			Host:     "localhost",
			Port:     5432,
			Username: "rtsphls",
			Database: "rtsphls",
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "text",
			MaxFileSize:  100,
			MaxBackups:   3,
			MaxAge:       30,
			EnableColors: true,
		},
	}
}

// ConfigManager loads and holds the active configuration
type ConfigManager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
}

// NewConfigManager creates a manager holding the defaults
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: DefaultConfig(),
	}
}

// ResolvePath picks the config file: explicit path, then $RTSPHLS_CONFIG,
// then ./rtsphls.yaml if present. Returns "" when none applies.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if fileExists(DefaultConfigFile) {
		return DefaultConfigFile
	}
	return ""
}

// LoadConfig loads configuration from file and environment variables.
// A missing file is not an error; defaults and environment still apply.
func (cm *ConfigManager) LoadConfig(configPath string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	applyDerivedConfig(newConfig)

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := ValidateSchema(newConfig); err != nil {
		return fmt.Errorf("configuration schema check failed: %w", err)
	}

	cm.config = newConfig
	cm.configPath = configPath
	return nil
}

// GetConfig returns a copy of the current configuration
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	configCopy := *cm.config
	return &configCopy
}

// ConfigPath returns the file the configuration was loaded from
func (cm *ConfigManager) ConfigPath() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

// SaveConfig writes the current configuration to path, choosing the
// format from the file extension
func (cm *ConfigManager) SaveConfig(path string) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("no config path set")
	}
	return saveToFile(path, cm.config)
}

// Validate checks values Go code relies on
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ValidationError{Field: "server.port", Message: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}
	if c.Stream.OutputDir == "" {
		return &ValidationError{Field: "stream.output_dir", Message: "must not be empty"}
	}
	if !strings.HasSuffix(c.Stream.SourceScheme, "://") {
		return &ValidationError{Field: "stream.source_scheme", Message: "must end with ://"}
	}
	if c.Stream.MaxSessions < 0 {
		return &ValidationError{Field: "stream.max_sessions", Message: "must not be negative (0 means unlimited)"}
	}
	if c.Worker.SegmentSeconds < 1 {
		return &ValidationError{Field: "worker.segment_seconds", Message: "must be at least 1"}
	}
	if c.Worker.ListSize < 1 {
		return &ValidationError{Field: "worker.list_size", Message: "must be at least 1"}
	}
	if c.Worker.PlaylistName != filepath.Base(c.Worker.PlaylistName) {
		return &ValidationError{Field: "worker.playlist_name", Message: "must be a plain file name"}
	}

	switch c.Database.Type {
	case "sqlite", "postgres", "none":
	default:
		return &ValidationError{Field: "database.type", Message: fmt.Sprintf("unsupported database type %q", c.Database.Type)}
	}

	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error in field '" + e.Field + "': " + e.Message
}

func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	case ".toml":
		return toml.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func saveToFile(path string, config *Config) error {
	var (
		data []byte
		err  error
	)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	case ".toml":
		data, err = toml.Marshal(config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}

func applyDerivedConfig(config *Config) {
	if config.Database.Type == "sqlite" && config.Database.DatabasePath == "" {
		config.Database.DatabasePath = filepath.Join(config.Stream.OutputDir, "rtsphls.db")
	}
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue, ok := os.LookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if field.Addr().Type().Implements(textUnmarshalerType) {
		return field.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(value))
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intVal, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %v", field.Type())
		}
		values := strings.Split(value, ",")
		for i, v := range values {
			values[i] = strings.TrimSpace(v)
		}
		field.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
