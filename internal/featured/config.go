package featured

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Example env config:
// FEATURED_MODE=RANDOM
// FEATURED_LIMIT=6
// FEATURED_RANDOM_SEED_STRATEGY=DAILY_PER_USER
// FEATURED_CACHE_TTL_RANDOM_MINUTES=60
// FEATURED_CACHE_TTL_RECENT_MINUTES=10
type Config struct {
	Mode               Mode
	Limit              int
	RandomSeedStrategy string
	CacheTTLRandom     time.Duration
	CacheTTLRecent     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Mode:               ModeRecent,
		Limit:              6,
		RandomSeedStrategy: RandomDailyPerUser,
		CacheTTLRandom:     time.Hour,
		CacheTTLRecent:     10 * time.Minute,
	}
}

func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := strings.TrimSpace(os.Getenv("FEATURED_MODE")); v != "" {
		cfg.Mode = Mode(strings.ToUpper(v))
	}
	if v := os.Getenv("FEATURED_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limit = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("FEATURED_RANDOM_SEED_STRATEGY")); v != "" {
		cfg.RandomSeedStrategy = strings.ToUpper(v)
	}
	if v := os.Getenv("FEATURED_CACHE_TTL_RANDOM_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CacheTTLRandom = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("FEATURED_CACHE_TTL_RECENT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CacheTTLRecent = time.Duration(n) * time.Minute
		}
	}
	return cfg.normalize()
}

func (c Config) normalize() Config {
	switch c.Mode {
	case ModeRecent, ModeRandom:
	default:
		c.Mode = ModeRecent
	}
	if c.Limit <= 0 {
		c.Limit = 6
	}
	if c.Limit > 24 {
		c.Limit = 24
	}
	return c
}
