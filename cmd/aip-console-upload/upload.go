package main

import (
	"fmt"

	"github.com/bitrise-io/aip-console-steputils/aipconsole/compression"
	"github.com/bitrise-io/aip-console-steputils/aipconsole/network"
	"github.com/bitrise-io/aip-console-steputils/aipconsole/source"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/urfave/cli/v2"
)

func uploadCommand(logger log.Logger, envRepo env.Repository) *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "Upload a source archive or folder to an AIP Console application",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "AIP Console base URL", EnvVars: []string{"AIP_CONSOLE_URL"}, Required: true},
			&cli.StringFlag{Name: "api-key", Usage: "AIP Console API key", EnvVars: []string{"AIP_CONSOLE_API_KEY"}, Required: true},
			&cli.StringFlag{Name: "username", Usage: "use basic auth with this user instead of the API key header", EnvVars: []string{"AIP_CONSOLE_USERNAME"}},
			&cli.StringFlag{Name: "app-guid", Usage: "application GUID", Required: true},
			&cli.StringFlag{Name: "source", Usage: "archive, folder, file://, s3://bucket/key or http(s) URL", Required: true},
			&cli.StringFlag{Name: "file-name", Usage: "file name announced to AIP Console, defaults to the archive name"},
			&cli.StringFlag{Name: "chunk-size", Usage: "chunk size, for example 10MB", Value: "10MB"},
			&cli.StringFlag{Name: "extraction", Usage: "auto, always or never", Value: string(network.ExtractionAuto)},
			&cli.StringSliceFlag{Name: "exclude", Usage: "glob left out when a folder is archived, can be repeated"},
			&cli.DurationFlag{Name: "poll-interval", Usage: "wait between extraction requests"},
			&cli.StringFlag{Name: "aws-region", EnvVars: []string{"AWS_REGION"}},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logs"},
		},
		Action: func(c *cli.Context) error {
			logger.EnableDebugLog(c.Bool("verbose"))

			chunkSize, err := parseChunkSize(c.String("chunk-size"))
			if err != nil {
				return failf("Invalid chunk size: %s", err)
			}
			extraction, err := network.ParseExtractionMode(c.String("extraction"))
			if err != nil {
				return failf("%s", err)
			}

			archiver := compression.NewArchiver(logger, envRepo, compression.NewDependencyChecker(logger, envRepo))
			resolver := source.NewResolver(logger, archiver, source.WithS3(source.S3Config{
				Region:          c.String("aws-region"),
				AccessKeyID:     envRepo.Get("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: envRepo.Get("AWS_SECRET_ACCESS_KEY"),
			}))

			artifact, err := resolver.Resolve(c.Context, c.String("source"), c.StringSlice("exclude"))
			if err != nil {
				return failf("%s", err)
			}
			defer func() {
				if err := artifact.Cleanup(); err != nil {
					logger.Warnf("Failed to remove temporary archive: %s", err)
				}
			}()

			fileName := c.String("file-name")
			if fileName == "" {
				fileName = artifact.Name
			}
			result, err := network.Upload(c.Context, network.UploadParams{
				ConsoleParams: network.ConsoleParams{
					APIBaseURL:   c.String("url"),
					APIKey:       c.String("api-key"),
					Username:     c.String("username"),
					ChunkSize:    chunkSize,
					PollInterval: c.Duration("poll-interval"),
					Extraction:   extraction,
					Interrupts:   interruptsFrom(c),
				},
				AppGUID:     c.String("app-guid"),
				ArchivePath: artifact.Path,
				FileName:    fileName,
			}, logger)
			if err != nil {
				return failf("%s", err)
			}

			fmt.Fprintln(c.App.Writer, result.UploadGUID) //nolint:errcheck
			if !result.Succeeded {
				return failf("AIP Console did not accept the source code of upload %s", result.UploadGUID)
			}
			logger.Donef("Upload %s finished", result.UploadGUID)
			return nil
		},
	}
}
