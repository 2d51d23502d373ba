package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/iancoleman/strcase"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const (
	configFileENV     = "CONFIG_FILE"
	defaultConfigFile = "/config/booknest.yaml"
)

// Supported AI providers.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout" default:"5s"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count" default:"5"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay" default:"2s"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseFilePath          string        `koanf:"database_file_path" validate:"required"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries" default:"5"`

	ServerHost string `koanf:"server_host" default:"0.0.0.0"`
	ServerPort int    `koanf:"server_port" default:"3689"`

	SourceDir    string `koanf:"source_dir" default:"/data/source" validate:"required"`
	ProcessedDir string `koanf:"processed_dir" default:"/data/processed" validate:"required"`
	EbooksDir    string `koanf:"ebooks_dir" default:"/data/ebooks" validate:"required"`
	AssetsDir    string `koanf:"assets_dir"`

	IndexBatchSize       int `koanf:"index_batch_size" default:"25" validate:"min=1"`
	IndexIntervalMinutes int `koanf:"index_interval_minutes" validate:"min=0"`

	RetryMaxRetries int           `koanf:"retry_max_retries" default:"5" validate:"min=1"`
	RetryBaseDelay  time.Duration `koanf:"retry_base_delay" default:"10s"`

	AIProvider    string        `koanf:"ai_provider" default:"openai" validate:"oneof=openai ollama anthropic"`
	AIModel       string        `koanf:"ai_model" default:"gpt-4o-mini"`
	AIAPIKey      string        `koanf:"ai_api_key"`
	AIBaseURL     string        `koanf:"ai_base_url"`
	AITemperature float64       `koanf:"ai_temperature" default:"0.3"`
	AIMaxTokens   int           `koanf:"ai_max_tokens" default:"16384"`
	AITimeout     time.Duration `koanf:"ai_timeout" default:"2m"`

	ImageSearchAuthorsURL  string        `koanf:"image_search_authors_url" default:"https://openlibrary.org/search/authors.json"`
	ImageSearchBooksURL    string        `koanf:"image_search_books_url" default:"https://openlibrary.org/search.json"`
	ImageSearchCoversURL   string        `koanf:"image_search_covers_url" default:"https://covers.openlibrary.org"`
	ImageSearchInterval    time.Duration `koanf:"image_search_interval" default:"1s"`
	ImageSearchBurst       int           `koanf:"image_search_burst" default:"5"`
	ImageDownloadMaxBytes  int64         `koanf:"image_download_max_bytes" default:"5242880"`
	ImageDownloadMinBytes  int64         `koanf:"image_download_min_bytes" default:"1024"`
	ImageDownloadUserAgent string        `koanf:"image_download_user_agent" default:"BookNest/1.0 (ebook indexer)"`
	ImageDownloadTimeout   time.Duration `koanf:"image_download_timeout" default:"30s"`

	CalibrePath          string        `koanf:"calibre_path" default:"ebook-convert"`
	CalibreFallbackPaths []string      `koanf:"calibre_fallback_paths" default:"[\"/usr/bin/ebook-convert\",\"/opt/calibre/ebook-convert\",\"/Applications/calibre.app/Contents/MacOS/ebook-convert\"]"`
	ConversionTimeout    time.Duration `koanf:"conversion_timeout" default:"2m"`
}

// New builds the configuration from defaults, the YAML file named by
// CONFIG_FILE and finally environment variables, in increasing precedence.
func New() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	keys := configKeys()
	k := koanf.New(".")

	configFile := os.Getenv(configFileENV)
	if configFile == "" {
		configFile = defaultConfigFile
	}
	if _, err := os.Stat(configFile); err == nil {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", configFile)
		}
	}

	err := k.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		if _, ok := keys[key]; !ok {
			return ""
		}
		return key
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	err = k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewForTest returns a configuration suitable for unit tests.
func NewForTest() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	cfg.DatabaseFilePath = ":memory:"
	cfg.ServerHost = "127.0.0.1"
	cfg.RetryBaseDelay = 10 * time.Millisecond
	cfg.RetryMaxRetries = 3
	cfg.ImageSearchInterval = time.Millisecond
	return cfg
}

func validate(cfg *Config) error {
	v := validator.New()
	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return errors.WithStack(err)
	}

	fe := verrs[0]
	field, _ := reflect.TypeOf(cfg).Elem().FieldByName(fe.StructField())
	key := keyForField(field)
	if fe.Tag() == "required" {
		return errors.Errorf("missing required config: %s (%s)", strings.ToUpper(key), key)
	}
	return errors.Errorf("invalid config value for %s (%s): failed %q check", strings.ToUpper(key), key, fe.Tag())
}

func configKeys() map[string]struct{} {
	t := reflect.TypeOf(Config{})
	keys := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		keys[keyForField(t.Field(i))] = struct{}{}
	}
	return keys
}

func keyForField(field reflect.StructField) string {
	if tag := field.Tag.Get("koanf"); tag != "" {
		return tag
	}
	return toSnakeCase(field.Name)
}

func toSnakeCase(s string) string {
	return strcase.ToSnake(s)
}
