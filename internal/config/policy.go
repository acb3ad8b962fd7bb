package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PolicyConfig carries the operator-tunable approval policy.
type PolicyConfig struct {
	// RoleLadder lists roles from least to most privileged.
	RoleLadder []string    `mapstructure:"roleLadder"`
	Batch      BatchPolicy `mapstructure:"batch"`
}

type BatchPolicy struct {
	// MaxMembers caps the member count of a single batch. Zero disables the cap.
	MaxMembers int `mapstructure:"maxMembers"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		RoleLadder: []string{"worker", "staff", "supervisor", "admin"},
		Batch: BatchPolicy{
			MaxMembers: 500,
		},
	}
}

type PolicyConfigHolder struct {
	current atomic.Value // holds PolicyConfig

	mu        sync.Mutex
	listeners []func(PolicyConfig)
}

// NewPolicyConfigHolder reads policy.yml from the well-known locations and
// keeps watching it. A missing file falls back to DefaultPolicyConfig.
func NewPolicyConfigHolder(cfg Config) (*PolicyConfigHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(cfg.PolicyConfigPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("policy")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/needflow/config")
		v.AddConfigPath("/etc/needflow")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("NEEDFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	found := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingExplicitFile(cfg.PolicyConfigPath, err) {
			return nil, err
		}
		found = false
		defaults := DefaultPolicyConfig()
		v.SetDefault("policy.roleLadder", defaults.RoleLadder)
		v.SetDefault("policy.batch.maxMembers", defaults.Batch.MaxMembers)
	}

	parsed, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := &PolicyConfigHolder{}
	holder.current.Store(parsed)

	if found {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodePolicy(v)
			if err != nil {
				log.Printf("[policy-config] invalid config ignored: %v", err)
				return
			}
			holder.Store(updated)
			log.Printf("[policy-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

// NewStaticPolicyConfigHolder returns a holder that never watches the filesystem.
func NewStaticPolicyConfigHolder(cfg PolicyConfig) (*PolicyConfigHolder, error) {
	cfg = normalizePolicy(cfg)
	if err := validatePolicyConfig(cfg); err != nil {
		return nil, err
	}
	holder := &PolicyConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func (h *PolicyConfigHolder) Get() PolicyConfig {
	return h.current.Load().(PolicyConfig)
}

// Store validates and publishes cfg, then notifies subscribers.
func (h *PolicyConfigHolder) Store(cfg PolicyConfig) error {
	cfg = normalizePolicy(cfg)
	if err := validatePolicyConfig(cfg); err != nil {
		return err
	}
	h.current.Store(cfg)

	h.mu.Lock()
	listeners := append([]func(PolicyConfig){}, h.listeners...)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// OnChange registers fn to run after every successful reload.
func (h *PolicyConfigHolder) OnChange(fn func(PolicyConfig)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

func decodePolicy(v *viper.Viper) (PolicyConfig, error) {
	var cfg PolicyConfig
	if err := v.UnmarshalKey("policy", &cfg); err != nil {
		return PolicyConfig{}, err
	}
	cfg = normalizePolicy(cfg)
	if err := validatePolicyConfig(cfg); err != nil {
		return PolicyConfig{}, err
	}
	return cfg, nil
}

func normalizePolicy(cfg PolicyConfig) PolicyConfig {
	ladder := make([]string, 0, len(cfg.RoleLadder))
	for _, role := range cfg.RoleLadder {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		ladder = append(ladder, role)
	}
	cfg.RoleLadder = ladder
	return cfg
}

func validatePolicyConfig(cfg PolicyConfig) error {
	if len(cfg.RoleLadder) == 0 {
		return errors.New("policy.roleLadder cannot be empty")
	}
	seen := make(map[string]struct{}, len(cfg.RoleLadder))
	for _, role := range cfg.RoleLadder {
		if _, ok := seen[role]; ok {
			return fmt.Errorf("policy.roleLadder has duplicate role %q", role)
		}
		seen[role] = struct{}{}
	}
	for _, required := range []string{"staff", "supervisor"} {
		if _, ok := seen[required]; !ok {
			return fmt.Errorf("policy.roleLadder must include %q", required)
		}
	}
	if cfg.Batch.MaxMembers < 0 {
		return errors.New("policy.batch.maxMembers cannot be negative")
	}
	return nil
}

func isMissingExplicitFile(path string, err error) bool {
	if strings.TrimSpace(path) == "" || err == nil {
		return false
	}
	return errors.Is(err, fs.ErrNotExist)
}
