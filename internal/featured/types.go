package featured

import "streamvault/internal/catalog"

type Mode string

const (
	ModeRecent Mode = "RECENT_RELEASES"
	ModeRandom Mode = "RANDOM"

	RandomDailyPerUser = "DAILY_PER_USER"
)

type PublicConfig struct {
	Mode               Mode   `json:"mode"`
	Limit              int    `json:"limit"`
	RandomSeedStrategy string `json:"randomSeedStrategy,omitempty"`
}

type ItemsResponse struct {
	Items  []catalog.Title `json:"items"`
	Config PublicConfig    `json:"config"`
}

func (c Config) Public() PublicConfig {
	return PublicConfig{
		Mode:               c.Mode,
		Limit:              c.Limit,
		RandomSeedStrategy: c.RandomSeedStrategy,
	}
}
