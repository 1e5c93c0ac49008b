// Package secretkeys reads the list of environment variable keys the CI redacts from the build log.
package secretkeys

import (
	"strings"

	"github.com/bitrise-io/go-utils/v2/env"
)

const (
	EnvKey    = "BITRISE_SECRET_ENV_KEY_LIST"
	separator = ","
)

// Manager ...
type Manager interface {
	Load(envRepository env.Repository) []string
	Format(keys []string) string
	IsSecret(envRepository env.Repository, key string) bool
}

type manager struct{}

// NewManager ...
func NewManager() Manager {
	return manager{}
}

// Load returns the registered secret keys, without empty entries.
func (manager) Load(envRepository env.Repository) []string {
	var keys []string
	for _, key := range strings.Split(envRepository.Get(EnvKey), separator) {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func (manager) Format(keys []string) string {
	return strings.Join(keys, separator)
}

// IsSecret reports whether the value of key is redacted.
func (m manager) IsSecret(envRepository env.Repository, key string) bool {
	for _, secretKey := range m.Load(envRepository) {
		if secretKey == key {
			return true
		}
	}
	return false
}
