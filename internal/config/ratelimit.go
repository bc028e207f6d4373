package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RateLimitPolicy is the failure-throttle policy for one sensitivity class.
type RateLimitPolicy struct {
	MaxAttempts   int           `mapstructure:"maxAttempts"`
	Window        time.Duration `mapstructure:"window"`
	Block         time.Duration `mapstructure:"block"`
	MaxMultiplier int           `mapstructure:"maxMultiplier"`
}

type RateLimitPolicies struct {
	Default   RateLimitPolicy `mapstructure:"default"`
	Sensitive RateLimitPolicy `mapstructure:"sensitive"`
}

func DefaultRateLimitPolicies() RateLimitPolicies {
	return RateLimitPolicies{
		Default: RateLimitPolicy{
			MaxAttempts:   5,
			Window:        15 * time.Minute,
			Block:         15 * time.Minute,
			MaxMultiplier: 4,
		},
		Sensitive: RateLimitPolicy{
			MaxAttempts:   3,
			Window:        10 * time.Minute,
			Block:         30 * time.Minute,
			MaxMultiplier: 8,
		},
	}
}

type RateLimitPolicyHolder struct {
	current atomic.Value // holds RateLimitPolicies
}

// NewStaticRateLimitPolicyHolder returns a holder that never reloads.
func NewStaticRateLimitPolicyHolder(policies RateLimitPolicies) *RateLimitPolicyHolder {
	holder := &RateLimitPolicyHolder{}
	holder.current.Store(policies)
	return holder
}

// NewRateLimitPolicyHolder loads ratelimit.yml when present and watches it for changes.
func NewRateLimitPolicyHolder(cfg Config, log *zap.Logger) (*RateLimitPolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.ratelimit")

	v := viper.New()
	if path := strings.TrimSpace(cfg.RateLimit.PolicyFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ratelimit")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/keygate")
		v.AddConfigPath(".")
	}

	defaults := DefaultRateLimitPolicies()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read rate limit policies: %w", err)
		}
		return NewStaticRateLimitPolicyHolder(defaults), nil
	}

	policies, err := decodeRateLimitPolicies(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticRateLimitPolicyHolder(policies)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeRateLimitPolicies(v)
		if err != nil {
			log.Warn("rate limit policy reload ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("rate limit policies reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *RateLimitPolicyHolder) Get() RateLimitPolicies {
	return h.current.Load().(RateLimitPolicies)
}

func decodeRateLimitPolicies(v *viper.Viper) (RateLimitPolicies, error) {
	var policies RateLimitPolicies
	if err := v.UnmarshalKey("ratelimit", &policies); err != nil {
		return RateLimitPolicies{}, fmt.Errorf("decode rate limit policies: %w", err)
	}
	defaults := DefaultRateLimitPolicies()
	policies.Default = policies.Default.withDefaults(defaults.Default)
	policies.Sensitive = policies.Sensitive.withDefaults(defaults.Sensitive)
	if err := validateRateLimitPolicies(policies); err != nil {
		return RateLimitPolicies{}, err
	}
	return policies, nil
}

func (p RateLimitPolicy) withDefaults(def RateLimitPolicy) RateLimitPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Window == 0 {
		p.Window = def.Window
	}
	if p.Block == 0 {
		p.Block = def.Block
	}
	if p.MaxMultiplier == 0 {
		p.MaxMultiplier = def.MaxMultiplier
	}
	return p
}

func validateRateLimitPolicies(p RateLimitPolicies) error {
	for name, policy := range map[string]RateLimitPolicy{"default": p.Default, "sensitive": p.Sensitive} {
		if policy.MaxAttempts < 1 {
			return fmt.Errorf("ratelimit.%s.maxAttempts must be positive", name)
		}
		if policy.Window <= 0 || policy.Block <= 0 {
			return fmt.Errorf("ratelimit.%s window and block must be positive", name)
		}
		if policy.MaxMultiplier < 1 {
			return fmt.Errorf("ratelimit.%s.maxMultiplier must be at least 1", name)
		}
	}
	return nil
}
