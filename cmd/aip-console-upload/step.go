package main

import (
	"strconv"
	"strings"

	"github.com/bitrise-io/aip-console-steputils/aipconsole"
	"github.com/bitrise-io/aip-console-steputils/stepconf"
	"github.com/bitrise-io/aip-console-steputils/stepenv"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/urfave/cli/v2"
)

const stepID = "aip-console-upload"

type stepConfig struct {
	AppGUID    string `env:"app_guid,required"`
	SourcePath string `env:"source_path,required"`
	FileName   string `env:"file_name"`
	ChunkSize  string `env:"chunk_size"`
	Extraction string `env:"extraction"`
	// Newline separated.
	Excludes string `env:"excludes"`
	Verbose  bool   `env:"verbose"`
}

func stepCommand(logger log.Logger, envRepo env.Repository) *cli.Command {
	return &cli.Command{
		Name:  "step",
		Usage: "Run as a CI step, inputs are read from the environment and results are exported with envman",
		Action: func(c *cli.Context) error {
			var config stepConfig
			if err := stepconf.NewInputParser(envRepo).Parse(&config); err != nil {
				return failf("Invalid inputs: %s", err)
			}
			stepconf.Print(config)
			logger.EnableDebugLog(config.Verbose)

			input, err := config.uploadInput()
			if err != nil {
				return failf("Invalid inputs: %s", err)
			}
			input.Interrupts = interruptsFrom(c)

			result, uploadErr := aipconsole.NewUploader(envRepo, logger, nil, nil).Upload(c.Context, input)
			if err := exportOutputs(stepenv.NewRepository(envRepo), result); err != nil {
				logger.Warnf("Failed to export outputs: %s", err)
			}
			if uploadErr != nil {
				return failf("%s", uploadErr)
			}
			if !result.Succeeded {
				return failf("AIP Console did not accept the source code of upload %s", result.UploadGUID)
			}
			return nil
		},
	}
}

func (c stepConfig) uploadInput() (aipconsole.UploadInput, error) {
	chunkSize, err := parseChunkSize(c.ChunkSize)
	if err != nil {
		return aipconsole.UploadInput{}, err
	}
	return aipconsole.UploadInput{
		StepId:     stepID,
		Verbose:    c.Verbose,
		AppGUID:    c.AppGUID,
		SourcePath: c.SourcePath,
		FileName:   c.FileName,
		ChunkSize:  chunkSize,
		Extraction: c.Extraction,
		Excludes:   splitLines(c.Excludes),
	}, nil
}

func exportOutputs(repository env.Repository, result aipconsole.Result) error {
	if result.UploadGUID == "" {
		return nil
	}
	if err := repository.Set(aipconsole.UploadGUIDOutputKey, result.UploadGUID); err != nil {
		return err
	}
	return repository.Set(aipconsole.ExtractedOutputKey, strconv.FormatBool(result.Extracted))
}

// parseChunkSize accepts plain byte counts and human readable sizes such as 10MB (binary units).
func parseChunkSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	size, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	return size, nil
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
