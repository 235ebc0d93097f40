// Package config provides hub configuration loaded from HUB_* environment
// variables and the optional YAML device inventory.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "HUB"

// Config holds iothub configuration.
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"iothub"`

	// Front-ends. An empty address disables the surface.
	HTTPAddr   string `envconfig:"HTTP_ADDR" default:":8080"`
	WSAddr     string `envconfig:"WS_ADDR" default:":8081"`
	MCPEnabled bool   `envconfig:"MCP_ENABLED" default:"false"`

	// Announce the HTTP and WS endpoints over mDNS.
	MDNSEnabled bool `envconfig:"MDNS_ENABLED" default:"false"`

	// Devices
	DevicesFile     string        `envconfig:"DEVICES_FILE"`
	DeviceDelay     time.Duration `envconfig:"DEVICE_DELAY" default:"500ms"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Upper bound for API-initiated register/unregister/dispatch. Zero disables it.
	OperationTimeout time.Duration `envconfig:"OPERATION_TIMEOUT" default:"30s"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogOutput string `envconfig:"LOG_OUTPUT" default:"stdout"`

	// Event journal (SQLite). Empty disables it.
	JournalPath string `envconfig:"JOURNAL_PATH"`

	// InfluxDB dispatch telemetry. Empty URL disables it.
	InfluxURL    string `envconfig:"INFLUX_URL"`
	InfluxToken  string `envconfig:"INFLUX_TOKEN"`
	InfluxOrg    string `envconfig:"INFLUX_ORG" default:"iothub"`
	InfluxBucket string `envconfig:"INFLUX_BUCKET" default:"iothub"`

	// NATS event publishing. Empty URL disables it.
	NATSURL     string `envconfig:"NATS_URL"`
	NATSSubject string `envconfig:"NATS_SUBJECT" default:"iothub.events"`

	// MQTT event publishing. Empty broker disables it.
	MQTTBroker      string `envconfig:"MQTT_BROKER"`
	MQTTClientID    string `envconfig:"MQTT_CLIENT_ID" default:"iothub"`
	MQTTUsername    string `envconfig:"MQTT_USERNAME"`
	MQTTPassword    string `envconfig:"MQTT_PASSWORD"`
	MQTTTopicPrefix string `envconfig:"MQTT_TOPIC_PREFIX" default:"iothub/events"`
	MQTTQoS         int    `envconfig:"MQTT_QOS" default:"1"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks value ranges that envconfig cannot express.
func (c *Config) Validate() error {
	if c.DeviceDelay < 0 {
		return fmt.Errorf("config: %s_DEVICE_DELAY must not be negative", envPrefix)
	}
	if c.OperationTimeout < 0 {
		return fmt.Errorf("config: %s_OPERATION_TIMEOUT must not be negative", envPrefix)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: %s_SHUTDOWN_TIMEOUT must be positive", envPrefix)
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		return fmt.Errorf("config: %s_MQTT_QOS must be 0, 1 or 2", envPrefix)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("config: %s_LOG_FORMAT must be json or text", envPrefix)
	}
	if c.InfluxURL != "" && c.InfluxToken == "" {
		return fmt.Errorf("config: %s_INFLUX_TOKEN is required when %s_INFLUX_URL is set", envPrefix, envPrefix)
	}
	return nil
}
