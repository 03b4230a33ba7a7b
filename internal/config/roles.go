package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Sweetbouncedevelopment/SB-Masters-discord/internal/promotion"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// RoleEnvPrefix prefixes environment overrides of the role config.
// A double underscore separates nested keys: PROMO_REQUIREMENTS__SB_LEVEL.
const RoleEnvPrefix = "PROMO_"

// Roles is the promotion rule set: thresholds, mastery ranks and the mode
type Roles struct {
	Mode                 promotion.Mode         `koanf:"mode"`
	Requirements         promotion.Requirements `koanf:"requirements"`
	MasteryRanks         map[string]string      `koanf:"mastery_ranks"`
	BridgeURL            string                 `koanf:"bridge_url"`
	BridgeToken          string                 `koanf:"bridge_token"`
	BridgeTimeoutSeconds int                    `koanf:"bridge_timeout_seconds"`

	// Ranks is MasteryRanks with parsed thresholds
	Ranks promotion.RankTable `koanf:"-"`
}

// BridgeTimeout is the bridge call timeout, zero for the default
func (r *Roles) BridgeTimeout() time.Duration {
	return time.Duration(r.BridgeTimeoutSeconds) * time.Second
}

// LoadRoles reads the role config file (YAML or JSON) and applies PROMO_
// environment overrides on top.
func LoadRoles(path string) (*Roles, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read role config %s: %w", path, err)
		}
	}

	envProvider := env.Provider(RoleEnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, RoleEnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to read role config env: %w", err)
	}

	roles := &Roles{Mode: promotion.ModeDiscordOnly}
	if err := k.UnmarshalWithConf("", roles, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("invalid role config: %w", err)
	}
	if err := roles.validate(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *Roles) validate() error {
	r.Mode = promotion.Mode(strings.ToLower(strings.TrimSpace(string(r.Mode))))
	switch r.Mode {
	case "":
		r.Mode = promotion.ModeDiscordOnly
	case promotion.ModeDiscordOnly, promotion.ModeAutoMC:
	default:
		return fmt.Errorf("unknown promotion mode %q: use %q or %q", r.Mode, promotion.ModeDiscordOnly, promotion.ModeAutoMC)
	}

	r.Requirements.RiftCharms = strings.ToLower(strings.TrimSpace(r.Requirements.RiftCharms))

	r.Ranks = make(promotion.RankTable, len(r.MasteryRanks))
	for key, rank := range r.MasteryRanks {
		threshold, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return fmt.Errorf("mastery_ranks: threshold %q is not an integer", key)
		}
		rank = strings.TrimSpace(rank)
		if rank == "" {
			return fmt.Errorf("mastery_ranks: threshold %d has no rank name", threshold)
		}
		r.Ranks[threshold] = rank
	}

	if r.BridgeTimeoutSeconds < 0 {
		return fmt.Errorf("bridge_timeout_seconds must not be negative")
	}
	return nil
}
