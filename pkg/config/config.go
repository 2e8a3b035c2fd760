package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all agent configuration
type Config struct {
	Agent          AgentConfig
	Backend        BackendConfig
	Realtime       RealtimeConfig
	Redis          RedisConfig
	Location       LocationConfig
	Arrival        ArrivalConfig
	ActiveDelivery ActiveDeliveryConfig
}

// AgentConfig holds agent-level configuration
type AgentConfig struct {
	Environment string
	ServiceName string
	CourierID   string
}

// BackendConfig holds the delivery backend REST endpoint configuration
type BackendConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RetryEnabled bool
}

// RealtimeConfig holds the realtime channel configuration
type RealtimeConfig struct {
	URL          string
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// RedisConfig holds Redis configuration for the active-delivery store
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RedisAddr returns the host:port address for the Redis client.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// LocationConfig tunes the location update optimizer
type LocationConfig struct {
	MinDistanceMeters float64
	MinInterval       time.Duration
	MaxAccuracyMeters float64
	HighAccuracy      bool
	PushInterval      time.Duration
	RedrawInterval    time.Duration
}

// ArrivalConfig tunes geofence arrival detection
type ArrivalConfig struct {
	ThresholdMeters float64
	DebounceWindow  time.Duration
	Cooldown        time.Duration
}

// ActiveDeliveryConfig tunes the single-slot active delivery store
type ActiveDeliveryConfig struct {
	ReadTTL    time.Duration
	ResumeTTL  time.Duration
	ClearGrace time.Duration
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Agent: AgentConfig{
			Environment: getEnv("ENVIRONMENT", "development"),
			ServiceName: serviceName,
			CourierID:   getEnv("COURIER_ID", ""),
		},
		Backend: BackendConfig{
			BaseURL:      getEnv("BACKEND_BASE_URL", "http://localhost:8080/api/v1"),
			Timeout:      getEnvAsDuration("BACKEND_TIMEOUT", 10*time.Second),
			RetryEnabled: getEnvAsBool("BACKEND_RETRY_ENABLED", true),
		},
		Realtime: RealtimeConfig{
			URL:          getEnv("REALTIME_URL", "ws://localhost:8085/ws"),
			WriteTimeout: getEnvAsDuration("REALTIME_WRITE_TIMEOUT", 10*time.Second),
			PingInterval: getEnvAsDuration("REALTIME_PING_INTERVAL", 54*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Location: LocationConfig{
			MinDistanceMeters: getEnvAsFloat("LOCATION_MIN_DISTANCE_METERS", 10),
			MinInterval:       getEnvAsDuration("LOCATION_MIN_INTERVAL", 3*time.Second),
			MaxAccuracyMeters: getEnvAsFloat("LOCATION_MAX_ACCURACY_METERS", 50),
			HighAccuracy:      getEnvAsBool("LOCATION_HIGH_ACCURACY", true),
			PushInterval:      getEnvAsDuration("LOCATION_PUSH_INTERVAL", 5*time.Second),
			RedrawInterval:    getEnvAsDuration("LOCATION_REDRAW_INTERVAL", 400*time.Millisecond),
		},
		Arrival: ArrivalConfig{
			ThresholdMeters: getEnvAsFloat("ARRIVAL_THRESHOLD_METERS", 50),
			DebounceWindow:  getEnvAsDuration("ARRIVAL_DEBOUNCE_WINDOW", 30*time.Second),
			Cooldown:        getEnvAsDuration("ARRIVAL_COOLDOWN", 60*time.Second),
		},
		ActiveDelivery: ActiveDeliveryConfig{
			ReadTTL:    getEnvAsDuration("ACTIVE_DELIVERY_READ_TTL", 24*time.Hour),
			ResumeTTL:  getEnvAsDuration("ACTIVE_DELIVERY_RESUME_TTL", 6*time.Hour),
			ClearGrace: getEnvAsDuration("ACTIVE_DELIVERY_CLEAR_GRACE", 2*time.Second),
		},
	}

	if cfg.ActiveDelivery.ResumeTTL > cfg.ActiveDelivery.ReadTTL {
		return nil, fmt.Errorf("ACTIVE_DELIVERY_RESUME_TTL must not exceed ACTIVE_DELIVERY_READ_TTL")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration retrieves an environment variable as a duration
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
