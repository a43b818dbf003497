package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by Load, for example
// MOCHEVENT_BACKEND_NODE or MOCHEVENT_REQUEST_TIMEOUT.
const EnvPrefix = "MOCHEVENT"

// Load reads a Config from an optional file (YAML, TOML or JSON, picked by
// extension) overlaid with MOCHEVENT_* environment variables. Defaults are
// applied and the result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := FromViper(v).WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromViper maps viper keys onto a Config without applying defaults.
func FromViper(v *viper.Viper) Config {
	return Config{
		ListenAddress:   v.GetString("listen_address"),
		Capacity:        v.GetInt("capacity"),
		RequestTimeout:  v.GetDuration("request_timeout"),
		MaxHeaders:      v.GetInt("max_headers"),
		MaxBodyBytes:    v.GetInt64("max_body_bytes"),
		AccessLog:       v.GetBool("access_log"),
		TimeoutBody:     v.GetString("timeout_body"),
		CapacityBody:    v.GetString("capacity_body"),
		UnavailableBody: v.GetString("unavailable_body"),

		Backend:         v.GetString("backend"),
		NodeName:        v.GetString("node_name"),
		BackendNode:     v.GetString("backend_node"),
		BackendProcess:  v.GetString("backend_process"),
		BackendPort:     v.GetInt("backend_port"),
		Cookie:          v.GetString("cookie"),
		TickInterval:    v.GetDuration("tick_interval"),
		ConnectAttempts: v.GetInt("connect_attempts"),
		RequestTopic:    v.GetString("request_topic"),
		ReplyTopic:      v.GetString("reply_topic"),

		KafkaBrokers:       v.GetStringSlice("kafka_brokers"),
		KafkaConsumerGroup: v.GetString("kafka_consumer_group"),
		RabbitMQURL:        v.GetString("rabbitmq_url"),
		NATSURL:            v.GetString("nats_url"),
		HTTPServerAddress:  v.GetString("http_server_address"),
		HTTPPublisherURL:   v.GetString("http_publisher_url"),
		WebSocketURL:       v.GetString("websocket_url"),
		AWSRegion:          v.GetString("aws_region"),
		AWSAccountID:       v.GetString("aws_account_id"),
		AWSAccessKeyID:     v.GetString("aws_access_key_id"),
		AWSSecretAccessKey: v.GetString("aws_secret_access_key"),
		AWSEndpoint:        v.GetString("aws_endpoint"),

		MetricsEnabled:          v.GetBool("metrics_enabled"),
		MetricsPort:             v.GetInt("metrics_port"),
		AdminEnabled:            v.GetBool("admin_enabled"),
		AdminPort:               v.GetInt("admin_port"),
		AdminCORSAllowedOrigins: v.GetStringSlice("admin_cors_allowed_origins"),
	}
}
