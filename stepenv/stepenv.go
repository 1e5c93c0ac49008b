// Package stepenv provides an env.Repository whose changes are visible to the following steps.
package stepenv

import (
	"github.com/bitrise-io/aip-console-steputils/output"
	"github.com/bitrise-io/aip-console-steputils/secretkeys"
	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
)

// NewRepository wraps osRepository so that Set and Unset are also exported through envman.
// Keys registered in the secret key list are exported as sensitive outputs.
func NewRepository(osRepository env.Repository) env.Repository {
	return stepRepository{
		osRepository: osRepository,
		exporter:     output.NewExporter(command.NewFactory(osRepository)),
		secretKeys:   secretkeys.NewManager(),
	}
}

type stepRepository struct {
	osRepository env.Repository
	exporter     output.Exporter
	secretKeys   secretkeys.Manager
}

func (r stepRepository) Get(key string) string {
	return r.osRepository.Get(key)
}

func (r stepRepository) List() []string {
	return r.osRepository.List()
}

func (r stepRepository) Set(key, value string) error {
	if err := r.osRepository.Set(key, value); err != nil {
		return err
	}
	return r.export(key, value)
}

// Unset exports an empty value, envman has no way to remove a key.
func (r stepRepository) Unset(key string) error {
	if err := r.osRepository.Unset(key); err != nil {
		return err
	}
	return r.export(key, "")
}

func (r stepRepository) export(key, value string) error {
	if r.secretKeys.IsSecret(r.osRepository, key) {
		return r.exporter.ExportSecretOutput(key, value)
	}
	return r.exporter.ExportOutput(key, value)
}
