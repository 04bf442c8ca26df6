package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier is a role-based rate-limit configuration.
type Tier struct {
	Points        int           `yaml:"points" json:"points"`
	Duration      time.Duration `yaml:"duration" json:"duration"`
	BlockDuration time.Duration `yaml:"block_duration" json:"block_duration"`
}

type tierDocument struct {
	Tiers map[string]tierEntry `yaml:"tiers"`
}

type tierEntry struct {
	Points        int    `yaml:"points"`
	Duration      string `yaml:"duration"`
	BlockDuration string `yaml:"block_duration"`
}

func (r RateLimitConfig) defaultTiers() map[string]Tier {
	tier := func(points int) Tier {
		return Tier{Points: points, Duration: r.TierDuration, BlockDuration: r.TierBlockDuration}
	}
	return map[string]Tier{
		"actor":            tier(r.ActorPoints),
		"producer":         tier(r.ProducerPoints),
		"casting_director": tier(r.CastingDirectorPoints),
		"admin":            tier(r.AdminPoints),
	}
}

// LoadTierFile parses a yaml document of the form
//
//	tiers:
//	  actor: {points: 10, duration: 60s, block_duration: 60s}
func LoadTierFile(path string) (map[string]Tier, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("tier file path is empty")
	}

	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read tier file %q: %w", cleanPath, err)
	}

	var doc tierDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tier file %q: %w", cleanPath, err)
	}

	tiers := make(map[string]Tier, len(doc.Tiers))
	for role, entry := range doc.Tiers {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		duration, err := parseDuration(entry.Duration, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("tier %q duration: %w", role, err)
		}
		block, err := parseDuration(entry.BlockDuration, 0)
		if err != nil {
			return nil, fmt.Errorf("tier %q block_duration: %w", role, err)
		}
		tiers[role] = Tier{Points: entry.Points, Duration: duration, BlockDuration: block}
	}
	return tiers, nil
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}
