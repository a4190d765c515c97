package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	DatabaseDriver string `json:"database_driver" yaml:"database_driver"`
	DatabaseDSN    string `json:"database_dsn" yaml:"database_dsn"` // sqlite file path or mysql DSN
	APIPort        string `json:"api_port" yaml:"api_port"`
	LogLevel       string `json:"log_level" yaml:"log_level"`
	DataDir        string `json:"data_dir" yaml:"data_dir"`
	CORSOrigins    string `json:"cors_origins" yaml:"cors_origins"` // comma separated, * for all

	Google        GoogleConfig        `json:"google" yaml:"google"`
	AI            AIConfig            `json:"ai" yaml:"ai"`
	ObjectStorage ObjectStorageConfig `json:"object_storage" yaml:"object_storage"`

	// ProcessAsync runs the action engine detached from the webhook response
	ProcessAsync bool `json:"process_async" yaml:"process_async"`
	// PollInterval enables polling the mailbox when > 0
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval"`
}

// Duration reads "90s" style strings in both file formats; bare numbers are
// seconds
type Duration time.Duration

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Std().String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Std().String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var v interface{}
	if err := value.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v interface{}) error {
	switch val := v.(type) {
	case nil:
		*d = 0
	case string:
		if val == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(val * float64(time.Second))
	case int:
		*d = Duration(time.Duration(val) * time.Second)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// GoogleConfig holds the OAuth client and the stored refresh credential
type GoogleConfig struct {
	ClientID     string `json:"client_id" yaml:"client_id"`
	ClientSecret string `json:"client_secret" yaml:"client_secret"`
	RedirectURL  string `json:"redirect_url" yaml:"redirect_url"`
	RefreshToken string `json:"refresh_token" yaml:"refresh_token"`
}

// AIConfig configures the OpenAI-compatible language model endpoint
type AIConfig struct {
	BaseURL      string `json:"base_url" yaml:"base_url"`
	APIKey       string `json:"api_key" yaml:"api_key"`
	Model        string `json:"model" yaml:"model"`                 // summary and action loop
	MappingModel string `json:"mapping_model" yaml:"mapping_model"` // field mapping and profile merge
}

// ObjectStorageConfig configures the S3-compatible bucket for filled forms
type ObjectStorageConfig struct {
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
	Region        string `json:"region" yaml:"region"`
	AccessKey     string `json:"access_key" yaml:"access_key"`
	SecretKey     string `json:"secret_key" yaml:"secret_key"`
	Bucket        string `json:"bucket" yaml:"bucket"`
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url"`
}

// Default configuration values
const (
	DefaultDatabaseDriver = "sqlite"
	DefaultDatabaseDSN    = "data/leyline.db"
	DefaultAPIPort        = "8080"
	DefaultLogLevel       = "INFO"
	DefaultDataDir        = "data"
	DefaultCORSOrigins    = "*"
	DefaultAIBaseURL      = "https://api.groq.com/openai/v1"
	DefaultAIModel        = "llama-3.1-70b-versatile"
	DefaultMappingModel   = "llama-3.1-8b-instant"
	DefaultBucket         = "forms"
	DefaultRegion         = "us-east-1"
)

// Load loads configuration from environment variables and config file
// Priority: Environment variables > .env file > Config file > Default values
func Load() (*Config, error) {
	cfg := Default()

	// .env is optional and never overrides the real environment
	_ = godotenv.Load()

	if err := cfg.loadFromFile(); err != nil {
		return nil, err
	}

	cfg.loadFromEnv()

	return cfg, nil
}

// Default returns a configuration populated with default values
func Default() *Config {
	return &Config{
		DatabaseDriver: DefaultDatabaseDriver,
		DatabaseDSN:    DefaultDatabaseDSN,
		APIPort:        DefaultAPIPort,
		LogLevel:       DefaultLogLevel,
		DataDir:        DefaultDataDir,
		CORSOrigins:    DefaultCORSOrigins,
		AI: AIConfig{
			BaseURL:      DefaultAIBaseURL,
			Model:        DefaultAIModel,
			MappingModel: DefaultMappingModel,
		},
		ObjectStorage: ObjectStorageConfig{
			Region: DefaultRegion,
			Bucket: DefaultBucket,
		},
		ProcessAsync: true,
	}
}

// ConfigPathEnv names an explicit config file; no search happens when set
const ConfigPathEnv = "LEYLINE_CONFIG"

// loadFromFile loads configuration from config.json or config.yaml
func (c *Config) loadFromFile() error {
	if path := os.Getenv(ConfigPathEnv); path != "" {
		return c.LoadFile(path)
	}

	// Look for config file in current directory and data directory
	configPaths := []string{
		"config.json",
		"config.yaml",
		"config.yml",
		filepath.Join(c.DataDir, "config.json"),
		filepath.Join(c.DataDir, "config.yaml"),
	}

	for _, path := range configPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return c.decode(path, data)
	}

	return nil
}

// LoadFile loads configuration from an explicit path on top of the current values
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.decode(path, data)
}

func (c *Config) decode(path string, data []byte) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, c)
	}
	return json.Unmarshal(data, c)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	setString(&c.DatabaseDriver, "LEYLINE_DATABASE_DRIVER")
	setString(&c.DatabaseDSN, "LEYLINE_DATABASE_DSN")
	setString(&c.APIPort, "LEYLINE_API_PORT")
	setString(&c.LogLevel, "LEYLINE_LOG_LEVEL")
	setString(&c.DataDir, "LEYLINE_DATA_DIR")
	setString(&c.CORSOrigins, "LEYLINE_CORS_ORIGINS")

	// Google credentials keep their conventional names
	setString(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	setString(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.Google.RedirectURL, "GOOGLE_REDIRECT_URI")
	setString(&c.Google.RefreshToken, "GOOGLE_REFRESH_TOKEN")

	setString(&c.AI.BaseURL, "LEYLINE_AI_BASE_URL")
	setString(&c.AI.APIKey, "LEYLINE_AI_API_KEY")
	if c.AI.APIKey == "" {
		setString(&c.AI.APIKey, "GROQ_API_KEY")
	}
	setString(&c.AI.Model, "LEYLINE_AI_MODEL")
	setString(&c.AI.MappingModel, "LEYLINE_AI_MAPPING_MODEL")

	setString(&c.ObjectStorage.Endpoint, "LEYLINE_STORAGE_ENDPOINT")
	setString(&c.ObjectStorage.Region, "LEYLINE_STORAGE_REGION")
	setString(&c.ObjectStorage.AccessKey, "LEYLINE_STORAGE_ACCESS_KEY")
	setString(&c.ObjectStorage.SecretKey, "LEYLINE_STORAGE_SECRET_KEY")
	setString(&c.ObjectStorage.Bucket, "LEYLINE_STORAGE_BUCKET")
	setString(&c.ObjectStorage.PublicBaseURL, "LEYLINE_STORAGE_PUBLIC_URL")

	if val := os.Getenv("LEYLINE_PROCESS_ASYNC"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.ProcessAsync = b
		}
	}
	if val := os.Getenv("LEYLINE_POLL_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.PollInterval = Duration(d)
		}
	}
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

// GetCORSOrigins returns the allowed CORS origins as a list
func (c *Config) GetCORSOrigins() []string {
	if c.CORSOrigins == "" || c.CORSOrigins == "*" {
		return []string{"*"}
	}
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// Save writes the configuration to path, as YAML for .yaml/.yml and JSON
// otherwise. The file holds credentials and is written owner-only.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Redacted returns a copy with credentials replaced for display
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&out.Google.ClientSecret)
	mask(&out.Google.RefreshToken)
	mask(&out.AI.APIKey)
	mask(&out.ObjectStorage.SecretKey)
	return &out
}
