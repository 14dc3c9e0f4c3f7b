package featured

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"
	"sort"
	"strings"
	"time"

	"streamvault/internal/catalog"
)

// candidatePool bounds how many titles a selection pass considers.
const candidatePool = 200

type Service struct {
	catalog *catalog.Service
	cfg     Config
	cache   *cacheStore
}

func NewService(cat *catalog.Service, cfg Config) *Service {
	return &Service{
		catalog: cat,
		cfg:     cfg.normalize(),
		cache:   newCache(),
	}
}

func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) ItemsForUser(ctx context.Context, userID string, now time.Time) ([]catalog.Title, PublicConfig, error) {
	cfg := s.cfg
	cacheKey := s.cacheKey(userID, cfg, now)
	if cached, ok := s.cache.Get(cacheKey, now); ok {
		return cached, cfg.Public(), nil
	}

	items, err := s.selectItems(ctx, userID, cfg, now)
	if err != nil {
		return nil, cfg.Public(), err
	}

	ttl := cfg.CacheTTLRecent
	if cfg.Mode == ModeRandom {
		ttl = cfg.CacheTTLRandom
	}
	s.cache.Set(cacheKey, items, ttl, now)
	return items, cfg.Public(), nil
}

func (s *Service) cacheKey(userID string, cfg Config, now time.Time) string {
	base := userID + ":" + string(cfg.Mode)
	if cfg.Mode == ModeRandom && strings.EqualFold(cfg.RandomSeedStrategy, RandomDailyPerUser) {
		return base + ":" + now.UTC().Format("2006-01-02")
	}
	return base
}

func (s *Service) selectItems(ctx context.Context, userID string, cfg Config, now time.Time) ([]catalog.Title, error) {
	pool, err := s.catalog.List(ctx, "", candidatePool)
	if err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeRandom:
		rnd := rand.New(rand.NewSource(seedFor(userID, cfg, now)))
		rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	default:
		sort.Slice(pool, func(i, j int) bool { return pool[i].CreatedAt.After(pool[j].CreatedAt) })
	}
	if len(pool) > cfg.Limit {
		pool = pool[:cfg.Limit]
	}
	return pool, nil
}

func seedFor(userID string, cfg Config, now time.Time) int64 {
	key := userID
	if strings.EqualFold(cfg.RandomSeedStrategy, RandomDailyPerUser) {
		key += ":" + now.UTC().Format("2006-01-02")
	}
	sum := sha256.Sum256([]byte(key))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
