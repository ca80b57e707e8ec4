package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	BaseURL string `env:"FLOWCHAT_BASE_URL,required"`
	FlowID  string `env:"FLOWCHAT_FLOW_ID,required"`
	APIKey  string `env:"FLOWCHAT_API_KEY"`

	// Local state database
	StateDBPath string `env:"FLOWCHAT_STATE_DB" envDefault:"flowchat.db"`

	// Telegram bridge
	BotToken           string `env:"BOT_TOKEN"`
	DropPendingUpdates bool   `env:"BOT_DROP_PENDING_UPDATES" envDefault:"false"`

	// Admin
	AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}
