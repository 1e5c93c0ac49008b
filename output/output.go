// Package output exposes step results to the following steps of the workflow through envman.
package output

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/command"
)

// Exporter ...
type Exporter interface {
	ExportOutput(key, value string) error
	ExportSecretOutput(key, value string) error
}

type envmanExporter struct {
	cmdFactory command.Factory
}

// NewExporter ...
func NewExporter(cmdFactory command.Factory) Exporter {
	return envmanExporter{cmdFactory: cmdFactory}
}

// ExportOutput is used for exposing values for other steps.
// Regular env vars are isolated between steps, so instead of calling `os.Setenv()`, use this to explicitly expose
// a value for subsequent steps.
func (e envmanExporter) ExportOutput(key, value string) error {
	return e.run(key, "add", "--key", key, "--value", value)
}

// ExportSecretOutput works like ExportOutput, the value is redacted from the build log.
func (e envmanExporter) ExportSecretOutput(key, value string) error {
	return e.run(key, "add", "--key", key, "--value", value, "--sensitive")
}

func (e envmanExporter) run(key string, args ...string) error {
	cmd := e.cmdFactory.Create("envman", args, nil)
	out, err := cmd.RunAndReturnTrimmedCombinedOutput()
	if err != nil {
		return fmt.Errorf("exporting %s with envman failed: %s, output: %s", key, err, out)
	}
	return nil
}
