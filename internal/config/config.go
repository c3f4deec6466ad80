package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// AppConfig holds all application configuration for the realtime fabric.
type AppConfig struct {
	// Realtime master switch
	RealtimeEnabled bool

	// WebSocket connection manager
	WebSocketListenAddr string
	WebSocketPath     string
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	MaxConnections    int
	AuthRequired      bool
	AuthTimeout       time.Duration
	OutboundQueueSize int

	// Event bus / broker gateway
	EventsEnabled             bool
	RedisChannelPrefix        string
	RedisAddr                 string
	BufferSize                int
	BroadcastAgentStatus      bool
	BroadcastWorkflowProgress bool
	BroadcastSystemMetrics    bool

	// Progressive feedback / workflow tracker
	ProgressiveFeedbackEnabled bool
	UpdateInterval            time.Duration
	MaxUpdatesPerOperation    int
	StreamIntermediateResults bool
	OperationTimeout          time.Duration
	CleanupInterval           time.Duration

	// Scheduler
	SpeedCreativityBalance float64
	ProfileUpdateInterval  time.Duration

	// Recovery cache
	RecoveryEnabled bool
	RecoveryTimeout time.Duration

	// Performance monitor / alerting
	AnalysisWindow     time.Duration
	AlertCheckInterval time.Duration
	AlertCooldown      time.Duration

	// Observability stack
	JaegerEndpoint string
	PrometheusPort string
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
	HealthPort     string
}

// Load loads configuration from environment variables with defaults.
func Load() *AppConfig {
	return &AppConfig{
		RealtimeEnabled: getEnvAsBool("REALTIME_ENABLED", true),

		WebSocketListenAddr: getEnv("WEBSOCKET_LISTEN_ADDR", ":8081"),
		WebSocketPath:     getEnv("WEBSOCKET_PATH", "/ws"),
		HeartbeatInterval: getEnvAsDuration("WEBSOCKET_HEARTBEAT_INTERVAL", 30*time.Second),
		ConnectionTimeout: getEnvAsDuration("WEBSOCKET_CONNECTION_TIMEOUT", 90*time.Second),
		MaxConnections:    getEnvAsInt("WEBSOCKET_MAX_CONNECTIONS", 1000),
		AuthRequired:      getEnvAsBool("WEBSOCKET_AUTH_REQUIRED", true),
		AuthTimeout:       getEnvAsDuration("WEBSOCKET_AUTH_TIMEOUT", 10*time.Second),
		OutboundQueueSize: getEnvAsInt("WEBSOCKET_OUTBOUND_QUEUE_SIZE", 256),

		EventsEnabled:             getEnvAsBool("EVENTS_ENABLED", true),
		RedisChannelPrefix:        getEnv("EVENTS_REDIS_CHANNEL_PREFIX", "ao:events"),
		RedisAddr:                 getEnv("EVENTS_REDIS_ADDR", "localhost:6379"),
		BufferSize:                getEnvAsInt("EVENTS_BUFFER_SIZE", 1000),
		BroadcastAgentStatus:      getEnvAsBool("EVENTS_BROADCAST_AGENT_STATUS", true),
		BroadcastWorkflowProgress: getEnvAsBool("EVENTS_BROADCAST_WORKFLOW_PROGRESS", true),
		BroadcastSystemMetrics:    getEnvAsBool("EVENTS_BROADCAST_SYSTEM_METRICS", false),

		ProgressiveFeedbackEnabled: getEnvAsBool("PROGRESSIVE_FEEDBACK_ENABLED", true),
		UpdateInterval:            getEnvAsDuration("PROGRESSIVE_FEEDBACK_UPDATE_INTERVAL", 500*time.Millisecond),
		MaxUpdatesPerOperation:    getEnvAsInt("PROGRESSIVE_FEEDBACK_MAX_UPDATES_PER_OPERATION", 200),
		StreamIntermediateResults: getEnvAsBool("PROGRESSIVE_FEEDBACK_STREAM_INTERMEDIATE_RESULTS", false),
		OperationTimeout:          getEnvAsDuration("PROGRESSIVE_FEEDBACK_OPERATION_TIMEOUT", 10*time.Minute),
		CleanupInterval:           getEnvAsDuration("PROGRESSIVE_FEEDBACK_CLEANUP_INTERVAL", 30*time.Second),

		SpeedCreativityBalance: getEnvAsFloat("OPTIMIZATION_SPEED_CREATIVITY_BALANCE", 0.5),
		ProfileUpdateInterval:  getEnvAsDuration("SCHEDULER_PROFILE_UPDATE_INTERVAL", 15*time.Second),

		RecoveryEnabled: getEnvAsBool("RECOVERY_ENABLED", true),
		RecoveryTimeout: getEnvAsDuration("RECOVERY_TIMEOUT", 5*time.Minute),

		AnalysisWindow:     getEnvAsDuration("PERFORMANCE_ANALYSIS_WINDOW", 15*time.Minute),
		AlertCheckInterval: getEnvAsDuration("ALERT_CHECK_INTERVAL", 30*time.Second),
		AlertCooldown:      getEnvAsDuration("ALERT_COOLDOWN", 5*time.Minute),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "127.0.0.1:4317"),
		PrometheusPort: getEnv("PROMETHEUS_PORT", "9090"),
		ServiceName:    getEnv("SERVICE_NAME", "agent-fabric"),
		ServiceVersion: getEnv("SERVICE_VERSION", "1.0.0"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		HealthPort:     getEnv("HEALTH_PORT", "8080"),
	}
}

// Validate rejects non-positive intervals (update_interval may be zero),
// out-of-range ratios, and progressive_feedback enabled without events.
func (c *AppConfig) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: websocket heartbeat_interval must be positive")
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("config: websocket connection_timeout must be positive")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("config: websocket max_connections must be positive")
	}
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("config: websocket auth_timeout must be positive")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("config: events buffer_size must be positive")
	}
	if c.MaxUpdatesPerOperation <= 0 {
		return fmt.Errorf("config: progressive_feedback max_updates_per_operation must be positive")
	}
	if c.UpdateInterval < 0 {
		return fmt.Errorf("config: progressive_feedback update_interval cannot be negative")
	}
	for _, iv := range []struct {
		name string
		d    time.Duration
	}{
		{"progressive_feedback operation_timeout", c.OperationTimeout},
		{"progressive_feedback cleanup_interval", c.CleanupInterval},
		{"scheduler profile_update_interval", c.ProfileUpdateInterval},
		{"performance analysis_window", c.AnalysisWindow},
		{"alert check_interval", c.AlertCheckInterval},
	} {
		if iv.d <= 0 {
			return fmt.Errorf("config: %s must be positive", iv.name)
		}
	}
	if c.SpeedCreativityBalance < 0 || c.SpeedCreativityBalance > 1 {
		return fmt.Errorf("config: optimization speed_creativity_balance must be in [0,1]")
	}
	if c.RecoveryEnabled && c.RecoveryTimeout <= 0 {
		return fmt.Errorf("config: recovery timeout must be positive when recovery is enabled")
	}
	if c.ProgressiveFeedbackEnabled && !c.EventsEnabled {
		return fmt.Errorf("config: progressive_feedback cannot be enabled while events are disabled")
	}
	if c.AlertCooldown <= 0 {
		return fmt.Errorf("config: alert cooldown must be positive")
	}
	return nil
}

// GetBrokerAddress returns the Redis broker address.
func (c *AppConfig) GetBrokerAddress() string {
	return c.RedisAddr
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
