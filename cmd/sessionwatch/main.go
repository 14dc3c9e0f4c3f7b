package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"streamvault/internal/session"
	"streamvault/pkg/logger"
)

// sessionwatch is the device-side agent: it claims the session for a
// user and then guards it, exiting once another device takes over.

type config struct {
	RedisAddr string
	RedisPass string
	UserID    string
	StateFile string
	Heartbeat time.Duration
	Poll      time.Duration
	LogLevel  string
	Claim     bool
}

func loadConfig() config {
	stateFile := os.Getenv("STATE_FILE")
	if stateFile == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			stateFile = filepath.Join(dir, "streamvault", "device_id")
		} else {
			stateFile = filepath.Join(os.TempDir(), "streamvault-device_id")
		}
	}
	heartbeat, _ := time.ParseDuration(getenv("HEARTBEAT_INTERVAL", "3s"))
	poll, _ := time.ParseDuration(getenv("POLL_INTERVAL", "3s"))
	return config{
		RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
		RedisPass: os.Getenv("REDIS_PASSWORD"),
		UserID:    os.Getenv("USER_ID"),
		StateFile: stateFile,
		Heartbeat: heartbeat,
		Poll:      poll,
		LogLevel:  getenv("LOG_LEVEL", "info"),
		Claim:     getenv("CLAIM_ON_START", "true") != "false",
	}
}

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()
	log := logger.New(cfg.LogLevel)
	if cfg.UserID == "" {
		log.Fatal().Msg("USER_ID required")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass})
	defer rdb.Close()
	store := session.NewRedisStore(rdb, log)
	identity := session.NewFileIdentity(cfg.StateFile)

	ctx := context.Background()
	deviceID, err := identity.DeviceID()
	if err != nil {
		log.Fatal().Err(err).Msg("device identity unavailable")
	}
	log.Info().Str("device", deviceID).Str("user", cfg.UserID).Msg("device ready")

	if cfg.Claim {
		if err := session.Claim(ctx, store, cfg.UserID, deviceID); err != nil {
			log.Warn().Err(err).Msg("claim failed, guarding anyway")
		}
	}

	evicted := make(chan session.Reason, 1)
	guard := session.NewGuard(session.GuardConfig{
		Store:             store,
		Identity:          identity,
		OnEvict:           func(r session.Reason) { evicted <- r },
		HeartbeatInterval: cfg.Heartbeat,
		PollInterval:      cfg.Poll,
		Logger:            log,
	})
	guard.Start(ctx, cfg.UserID)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case reason := <-evicted:
		log.Warn().Str("reason", string(reason)).Msg("signed out, log in again to reclaim this device")
		guard.Stop()
		os.Exit(1)
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		guard.Stop()
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
