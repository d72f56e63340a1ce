package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RetryPolicy controls rescheduling of failed fulfillment tasks.
type RetryPolicy struct {
	BaseBackoff time.Duration `mapstructure:"baseBackoff"`
	MaxBackoff  time.Duration `mapstructure:"maxBackoff"`
	MaxAttempts int           `mapstructure:"maxAttempts"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseBackoff: 5 * time.Second,
		MaxBackoff:  time.Hour,
		MaxAttempts: 10,
	}
}

// RetryPolicyHolder exposes the current policy and hot-reloads it from
// retry.yml when the file changes on disk.
type RetryPolicyHolder struct {
	current atomic.Value // holds RetryPolicy
}

func NewRetryPolicyHolder() (*RetryPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("retry")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/entitled/config")
	v.AddConfigPath("/etc/entitled")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENTITLED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultRetryPolicy()
		v.SetDefault("retry.baseBackoff", defaults.BaseBackoff)
		v.SetDefault("retry.maxBackoff", defaults.MaxBackoff)
		v.SetDefault("retry.maxAttempts", defaults.MaxAttempts)
	}

	var policy RetryPolicy
	if err := v.UnmarshalKey("retry", &policy); err != nil {
		return nil, err
	}
	if err := validateRetryPolicy(policy); err != nil {
		return nil, err
	}

	holder := &RetryPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RetryPolicy
		if err := v.UnmarshalKey("retry", &updated); err != nil {
			log.Printf("[retry-config] reload failed: %v", err)
			return
		}
		if err := validateRetryPolicy(updated); err != nil {
			log.Printf("[retry-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[retry-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *RetryPolicyHolder) Get() RetryPolicy {
	if h == nil {
		return DefaultRetryPolicy()
	}
	if v, ok := h.current.Load().(RetryPolicy); ok {
		return v
	}
	return DefaultRetryPolicy()
}

func validateRetryPolicy(p RetryPolicy) error {
	if p.BaseBackoff <= 0 {
		return errors.New("retry.baseBackoff must be positive")
	}
	if p.MaxBackoff < p.BaseBackoff {
		return errors.New("retry.maxBackoff must be >= baseBackoff")
	}
	if p.MaxAttempts <= 0 {
		return errors.New("retry.maxAttempts must be positive")
	}
	return nil
}
