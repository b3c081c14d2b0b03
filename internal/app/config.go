package app

import (
	"os"
	"strconv"
	"time"

	"vtt/client/internal/reconcile"
	"vtt/client/internal/telemetry"
	"vtt/client/logging"
)

type Config struct {
	Logger telemetry.Logger

	RelayURL string
	Room     string
	PlayerID string

	GridSize    float64
	FeetPerTile float64
	EchoWindow  time.Duration

	LogJSONPath        string
	LogDebugCategories []string

	RelayAddr string
	RelayDB   string
}

func DefaultConfig() Config {
	return Config{
		RelayURL:    "ws://localhost:8080/ws",
		Room:        "default",
		GridSize:    50,
		FeetPerTile: 5,
		EchoWindow:  reconcile.DefaultWindow,
		RelayAddr:   ":8080",
		RelayDB:     "relay.db",
	}
}

// ApplyEnv overrides cfg from VTT_* environment variables. Values that do
// not parse are logged and ignored.
func ApplyEnv(cfg Config, logger telemetry.Logger) Config {
	if raw := os.Getenv("VTT_RELAY_URL"); raw != "" {
		cfg.RelayURL = raw
	}
	if raw := os.Getenv("VTT_ROOM"); raw != "" {
		cfg.Room = raw
	}
	if raw := os.Getenv("VTT_PLAYER_ID"); raw != "" {
		cfg.PlayerID = raw
	}
	if raw := os.Getenv("VTT_GRID_SIZE"); raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil && value > 0 {
			cfg.GridSize = value
		} else {
			logger.Printf("invalid VTT_GRID_SIZE=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("VTT_FEET_PER_TILE"); raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil && value > 0 {
			cfg.FeetPerTile = value
		} else {
			logger.Printf("invalid VTT_FEET_PER_TILE=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("VTT_ECHO_WINDOW_MS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.EchoWindow = time.Duration(value) * time.Millisecond
		} else {
			logger.Printf("invalid VTT_ECHO_WINDOW_MS=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("VTT_LOG_JSON"); raw != "" {
		cfg.LogJSONPath = raw
	}
	if raw := os.Getenv("VTT_LOG_DEBUG"); raw != "" {
		cfg.LogDebugCategories = logging.ParseCategories(raw)
	}
	if raw := os.Getenv("VTT_RELAY_ADDR"); raw != "" {
		cfg.RelayAddr = raw
	}
	if raw, ok := os.LookupEnv("VTT_RELAY_DB"); ok {
		cfg.RelayDB = raw
	}
	return cfg
}
