// Package config reads client settings from the environment.
package config

import (
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIURL   string
	WSURL    string
	DataPath string

	HeartbeatInterval  time.Duration
	SendTimeout        time.Duration
	TypingTTL          time.Duration
	TypingEmitInterval time.Duration
	ReconnectMin       time.Duration
	ReconnectMax       time.Duration
	ReconnectStable    time.Duration
}

// Load reads .env if present, then the environment. Unset or malformed
// values take their defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() Config {
	c := Config{
		APIURL:   strings.TrimRight(env("CHATTER_API_URL", "http://localhost:8080"), "/"),
		DataPath: env("CHATTER_DATA_PATH", ".chatter"),

		HeartbeatInterval:  duration("HEARTBEAT_INTERVAL", 25*time.Second),
		SendTimeout:        duration("SEND_TIMEOUT", 10*time.Second),
		TypingTTL:          duration("TYPING_TTL", 3*time.Second),
		TypingEmitInterval: duration("TYPING_EMIT_INTERVAL", 2*time.Second),
		ReconnectMin:       duration("RECONNECT_MIN", time.Second),
		ReconnectMax:       duration("RECONNECT_MAX", 30*time.Second),
		ReconnectStable:    duration("RECONNECT_STABLE", 60*time.Second),
	}
	c.WSURL = env("CHATTER_WS_URL", wsURL(c.APIURL))

	if c.ReconnectMax < c.ReconnectMin {
		slog.Warn("RECONNECT_MAX is below RECONNECT_MIN, using RECONNECT_MIN",
			"min", c.ReconnectMin,
			"max", c.ReconnectMax)
		c.ReconnectMax = c.ReconnectMin
	}
	return c
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default",
			"key", key,
			"value", v,
			"default", fallback)
		return fallback
	}
	return d
}

// wsURL derives the websocket endpoint from the API base URL.
func wsURL(api string) string {
	u, err := url.Parse(api)
	if err != nil {
		return "ws://localhost:8080/ws"
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}
