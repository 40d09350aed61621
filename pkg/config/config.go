package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	StateBackendMemory    = "memory"
	StateBackendFile      = "file"
	StateBackendFirestore = "firestore"
)

type Config struct {
	APIBaseURL string `validate:"required,url"`
	SocketURL  string `validate:"required,url"`

	// Viewer identity, the equivalent of the auth_token / user_data storage entries.
	AuthToken  string
	UserData   string
	ViewerRole string `validate:"omitempty,oneof=user admin"`

	PollInterval    time.Duration `validate:"gte=0"`
	RefetchDebounce time.Duration `validate:"gte=0"`
	JoinRetryDelay  time.Duration `validate:"gt=0"`
	RequestTimeout  time.Duration `validate:"gt=0"`

	StateBackend               string `validate:"oneof=memory file firestore"`
	StateFile                  string `validate:"required_if=StateBackend file"`
	FirebaseProject            string `validate:"required_if=StateBackend firestore"`
	FirebaseServiceAccountPath string
	FirebaseServiceAccountJSON string

	ConsolePort  string
	ConsoleToken string
	Environment  string
}

func Load() (*Config, error) {
	config := FromEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// FromEnv reads the configuration without validating it, so callers can
// apply command-line overrides first.
func FromEnv() *Config {
	godotenv.Load()

	return &Config{
		APIBaseURL:                 strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080/api"), "/"),
		SocketURL:                  getEnv("SOCKET_URL", "ws://localhost:8080/socket.io/"),
		AuthToken:                  getEnv("AUTH_TOKEN", ""),
		UserData:                   getEnv("USER_DATA", ""),
		ViewerRole:                 strings.ToLower(getEnv("VIEWER_ROLE", "")),
		PollInterval:               getEnvAsDuration("POLL_INTERVAL", 0),
		RefetchDebounce:            getEnvAsDuration("REFETCH_DEBOUNCE", 300*time.Millisecond),
		JoinRetryDelay:             getEnvAsDuration("JOIN_RETRY_DELAY", time.Second),
		RequestTimeout:             getEnvAsDuration("REQUEST_TIMEOUT", 15*time.Second),
		StateBackend:               getEnv("STATE_BACKEND", StateBackendMemory),
		StateFile:                  getEnv("STATE_FILE", ""),
		FirebaseProject:            getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		ConsolePort:                getEnv("CONSOLE_PORT", "8090"),
		ConsoleToken:               getEnv("CONSOLE_TOKEN", ""),
		Environment:                getEnv("ENVIRONMENT", "development"),
	}
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// PollIntervalFor returns the refresh period for a screen. The admin monitor
// refreshes faster than a regular inbox unless POLL_INTERVAL overrides both.
func (c *Config) PollIntervalFor(admin bool) time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	if admin {
		return 15 * time.Second
	}
	return 30 * time.Second
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// bare numbers are seconds
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
