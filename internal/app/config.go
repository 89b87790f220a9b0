package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverFile     = "file"
	StorageDriverPostgres = "postgres"
	StorageDriverRedis    = "redis"
)

const (
	AuthModeAnonymous = "anonymous"
	AuthModeJWT       = "jwt"
	AuthModeFirebase  = "firebase"
)

// EnvPrefix — префикс переменных окружения, переопределяющих конфигурацию.
const EnvPrefix = "STOREFRONT_"

// Config описывает настройки запуска сервиса корзины.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	StorageDriver       string        `yaml:"storage_driver"`
	PostgresDSN         string        `yaml:"postgres_dsn"`
	PostgresAutoMigrate bool          `yaml:"postgres_auto_migrate"`
	RedisAddr           string        `yaml:"redis_addr"`
	RedisPassword       string        `yaml:"redis_password"`
	RedisDB             int           `yaml:"redis_db"`
	RedisKeyPrefix      string        `yaml:"redis_key_prefix"`
	RedisTTL            time.Duration `yaml:"redis_ttl"`
	FileDir             string        `yaml:"file_dir"`

	KafkaBrokers     []string `yaml:"kafka_brokers"`
	KafkaTopic       string   `yaml:"kafka_topic"`
	EventQueueSize   int      `yaml:"event_queue_size"`
	EventMaxAttempts int      `yaml:"event_max_attempts"`

	AuthMode                string        `yaml:"auth_mode"`
	JWTSecret               string        `yaml:"jwt_secret"`
	JWTIssuer               string        `yaml:"jwt_issuer"`
	JWTTTL                  time.Duration `yaml:"jwt_ttl"`
	FirebaseProjectID       string        `yaml:"firebase_project_id"`
	FirebaseCredentialsFile string        `yaml:"firebase_credentials_file"`

	// CartIdleTTL — через сколько простоя корзина выгружается из памяти.
	CartIdleTTL   time.Duration `yaml:"cart_idle_ttl"`
	EvictInterval time.Duration `yaml:"evict_interval"`
	CartOpTimeout time.Duration `yaml:"cart_op_timeout"`

	// TrustProfileHeader разрешает выбирать профиль заголовком X-Profile-ID.
	// Заголовок не аутентифицирован, поэтому по умолчанию выключен.
	TrustProfileHeader bool `yaml:"trust_profile_header"`
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		GRPCAddr:            ":50051",
		MetricsAddr:         ":9090",
		LogLevel:            "info",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		RedisKeyPrefix:      "storefront:",
		FileDir:             "data/carts",
		KafkaTopic:          kafka.TopicCartEvents,
		EventQueueSize:      1024,
		EventMaxAttempts:    3,
		AuthMode:            AuthModeAnonymous,
		JWTIssuer:           "storefront",
		JWTTTL:              time.Hour,
		CartIdleTTL:         30 * time.Minute,
		EvictInterval:       time.Minute,
		CartOpTimeout:       3 * time.Second,
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverFile:
		if strings.TrimSpace(c.FileDir) == "" {
			return errors.New("file storage requires file_dir")
		}
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("postgres storage requires postgres_dsn")
		}
	case StorageDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("redis storage requires redis_addr")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	switch c.AuthMode {
	case AuthModeAnonymous, "":
	case AuthModeJWT:
		if c.JWTSecret == "" {
			return errors.New("jwt auth requires jwt_secret")
		}
	case AuthModeFirebase:
		if c.FirebaseProjectID == "" {
			return errors.New("firebase auth requires firebase_project_id")
		}
	default:
		return fmt.Errorf("unsupported auth mode %q", c.AuthMode)
	}
	return nil
}

// LoadConfigFile накладывает YAML-файл на cfg. Пустой путь оставляет cfg без изменений.
func LoadConfigFile(cfg Config, path string) (Config, error) {
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv переопределяет cfg переменными STOREFRONT_*. Переменные важнее файла.
// KAFKA_BROKERS без префикса тоже поддерживается. Некорректное значение не
// применяется: поле сохраняет прежнее значение, а ошибка попадает в результат.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	env := envReader{lookup: lookup}

	env.str("HTTP_ADDR", &cfg.HTTPAddr)
	env.str("GRPC_ADDR", &cfg.GRPCAddr)
	env.str("METRICS_ADDR", &cfg.MetricsAddr)
	env.str("LOG_LEVEL", &cfg.LogLevel)

	env.str("STORAGE_DRIVER", &cfg.StorageDriver)
	env.str("POSTGRES_DSN", &cfg.PostgresDSN)
	env.boolean("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	env.str("REDIS_ADDR", &cfg.RedisAddr)
	env.str("REDIS_PASSWORD", &cfg.RedisPassword)
	env.integer("REDIS_DB", &cfg.RedisDB)
	env.str("REDIS_KEY_PREFIX", &cfg.RedisKeyPrefix)
	env.duration("REDIS_TTL", &cfg.RedisTTL)
	env.str("FILE_DIR", &cfg.FileDir)

	if v, ok := lookup("KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	env.str("KAFKA_TOPIC", &cfg.KafkaTopic)
	env.integer("EVENT_QUEUE_SIZE", &cfg.EventQueueSize)
	env.integer("EVENT_MAX_ATTEMPTS", &cfg.EventMaxAttempts)

	env.str("AUTH_MODE", &cfg.AuthMode)
	env.str("JWT_SECRET", &cfg.JWTSecret)
	env.str("JWT_ISSUER", &cfg.JWTIssuer)
	env.duration("JWT_TTL", &cfg.JWTTTL)
	env.str("FIREBASE_PROJECT_ID", &cfg.FirebaseProjectID)
	env.str("FIREBASE_CREDENTIALS", &cfg.FirebaseCredentialsFile)

	env.duration("CART_IDLE_TTL", &cfg.CartIdleTTL)
	env.duration("EVICT_INTERVAL", &cfg.EvictInterval)
	env.duration("CART_OP_TIMEOUT", &cfg.CartOpTimeout)
	env.boolean("TRUST_PROFILE_HEADER", &cfg.TrustProfileHeader)

	return cfg, errors.Join(env.errs...)
}

// LoadConfig собирает конфигурацию: значения по умолчанию, затем файл, затем окружение.
func LoadConfig(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg, err := LoadConfigFile(DefaultConfig(), path)
	if err != nil {
		return cfg, err
	}
	return ApplyEnv(cfg, lookup)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = d
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
