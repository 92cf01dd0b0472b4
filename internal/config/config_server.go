package config

import "time"

// ServerConfig configures the ingress HTTP gateway.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// APIKey guards task submission and cancellation. Requests must
	// carry it in the Authorization header as "Bearer <key>". An empty
	// key disables authentication; do not run keyless outside local
	// development.
	APIKey string `yaml:"api_key"`

	// ShutdownTimeout bounds graceful drain of in-flight requests.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}
