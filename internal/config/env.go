package config

import "os"

// DaemonConfig is the ambient, environment-driven configuration this
// daemon needs beyond its identity (internal/identity) and bootstrap
// file: where to reach the control plane, the pub/sub transport, AWS
// region for the Batch launcher, and where to serve the health endpoint.
type DaemonConfig struct {
	ControlPlaneBaseURL string
	PubsubWebsocketURL  string
	AWSRegion           string
	HealthPort          string
	WorkingDirRoot      string
}

// LoadDaemonConfig reads DaemonConfig from the environment, following the
// teacher's getEnvOrDefault 12-factor pattern.
func LoadDaemonConfig() DaemonConfig {
	return DaemonConfig{
		ControlPlaneBaseURL: os.Getenv("DENDRO_CONTROL_PLANE_URL"),
		PubsubWebsocketURL:  getEnvOrDefault("DENDRO_PUBSUB_WS_URL", "wss://pubsub.dendro.dev/subscribe"),
		AWSRegion:           getEnvOrDefault("DENDRO_AWS_REGION", "us-east-1"),
		HealthPort:          getEnvOrDefault("DENDRO_HEALTH_PORT", "8090"),
		WorkingDirRoot:      getEnvOrDefault("DENDRO_WORKING_DIR", "."),
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
