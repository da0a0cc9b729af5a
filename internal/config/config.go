package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config carries the server process settings, all sourced from the
// environment.
type Config struct {
	// Address is the advertised host used as this server's identity in the
	// federation (owning-server addresses in the directory).
	Address string

	ClientPort int // websocket port for clients
	ServerPort int // websocket port for peer servers
	HTTPPort   int // file upload/download surface

	// Neighbours are the peer servers to dial, as host:port of their
	// server websocket port.
	Neighbours []string

	// LogMessages enables verbose payload logging (public keys and
	// signatures are masked regardless).
	LogMessages bool

	RedisAddr string
	MongoURI  string
	DataDir   string
}

// FromEnv loads the configuration with the same variable names and
// defaults the deployment scripts already use.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Address:     envOr("SERVER_ADDRESS", "0.0.0.0"),
		Neighbours:  splitNeighbours(os.Getenv("NEIGHBOUR_ADDRESSES")),
		LogMessages: envBool("LOG_MESSAGES"),
		RedisAddr:   envOr("REDIS_ADDR", "localhost:6379"),
		MongoURI:    os.Getenv("MONGO_URI"),
		DataDir:     envOr("DATA_DIR", "."),
	}

	var err error
	if cfg.ClientPort, err = envInt("SERVER_PORT", 8765); err != nil {
		return nil, err
	}
	if cfg.ServerPort, err = envInt("SERVER_SERVER_PORT", 8766); err != nil {
		return nil, err
	}
	if cfg.HTTPPort, err = envInt("HTTP_PORT", 8081); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SelfAddress is the identity this server announces in server_hello and
// directory entries.
func (c *Config) SelfAddress() string {
	return c.Address
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "t":
		return true
	}
	return false
}

func splitNeighbours(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, ":") {
			part = part + ":8766"
		}
		out = append(out, part)
	}
	return out
}
