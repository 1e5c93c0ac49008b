// Package source turns the source location given to the step into a local archive file
// that can be uploaded to AIP Console.
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/aip-console-steputils/aipconsole/network/chunkuploader"
	"github.com/bitrise-io/aip-console-steputils/internal"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
)

const defaultArchiveName = "source.tar.gz"

// Artifact is a local archive ready for upload.
type Artifact struct {
	Path string
	// Name is the file name announced to AIP Console.
	Name string
	Size int64
	// Temporary is true when Path was created by the resolver and is removed by Cleanup.
	Temporary bool

	cleanup func() error
}

// Cleanup removes the files the resolver created for this artifact.
func (a Artifact) Cleanup() error {
	if a.cleanup == nil {
		return nil
	}
	return a.cleanup()
}

// DirArchiver packs a folder into an archive file.
type DirArchiver interface {
	Compress(archivePath, sourceDir string, excludes []string) error
}

// Option ...
type Option func(*Resolver)

// WithHTTPClient replaces the client used for http(s) downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) {
		r.httpClient = client
	}
}

// WithS3 configures the access to s3:// locations.
func WithS3(config S3Config) Option {
	return func(r *Resolver) {
		r.s3Config = config
	}
}

// WithS3ClientFactory replaces how the S3 client is created, mainly for tests.
func WithS3ClientFactory(factory S3ClientFactory) Option {
	return func(r *Resolver) {
		r.newS3Client = factory
	}
}

// WithOsProxy ...
func WithOsProxy(osProxy internal.OsProxy) Option {
	return func(r *Resolver) {
		r.osProxy = osProxy
	}
}

// Resolver resolves local paths, file:// URLs, s3://bucket/key and http(s):// locations.
// Folders are archived before upload.
type Resolver struct {
	logger       log.Logger
	archiver     DirArchiver
	osProxy      internal.OsProxy
	pathChecker  pathutil.PathChecker
	pathModifier pathutil.PathModifier
	pathProvider pathutil.PathProvider
	httpClient   *http.Client
	s3Config     S3Config
	newS3Client  S3ClientFactory
}

// NewResolver ...
func NewResolver(logger log.Logger, archiver DirArchiver, opts ...Option) *Resolver {
	r := &Resolver{
		logger:       logger,
		archiver:     archiver,
		osProxy:      internal.RealOS{},
		pathChecker:  pathutil.NewPathChecker(),
		pathModifier: pathutil.NewPathModifier(),
		pathProvider: pathutil.NewPathProvider(),
		newS3Client:  newS3Client,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.httpClient == nil {
		retryableHTTPClient := retryhttp.NewClient(logger)
		retryableHTTPClient.CheckRetry = createCustomRetryFunction(logger)
		r.httpClient = retryableHTTPClient.StandardClient()
	}
	return r
}

// Resolve returns a local archive for location. excludes are doublestar globs applied when
// location is a folder. A missing local location is an input validation error.
func (r *Resolver) Resolve(ctx context.Context, location string, excludes []string) (Artifact, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return Artifact{}, chunkuploader.NewValidationError("no source location provided")
	}

	u, err := url.Parse(location)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "s3":
			return r.resolveS3(ctx, u)
		case "http", "https":
			return r.resolveHTTP(ctx, u)
		case "file":
			return r.resolveLocal(u.Path, excludes)
		}
	}
	return r.resolveLocal(location, excludes)
}

func (r *Resolver) resolveLocal(location string, excludes []string) (Artifact, error) {
	absPath, err := r.pathModifier.AbsPath(location)
	if err != nil {
		return Artifact{}, chunkuploader.NewValidationError("invalid source path %s: %s", location, err)
	}

	info, err := r.osProxy.Stat(absPath)
	if os.IsNotExist(err) {
		return Artifact{}, chunkuploader.NewValidationError("no file provided for upload: %s does not exist", absPath)
	}
	if err != nil {
		return Artifact{}, chunkuploader.NewSourceError(fmt.Errorf("unable to get archive size for given file %s: %w", absPath, err))
	}

	if !info.IsDir() {
		r.logger.Debugf("Using archive %s", absPath)
		return Artifact{Path: absPath, Name: filepath.Base(absPath), Size: info.Size()}, nil
	}

	return r.archiveDir(absPath, excludes)
}

func (r *Resolver) archiveDir(dir string, excludes []string) (Artifact, error) {
	if r.archiver == nil {
		return Artifact{}, chunkuploader.NewValidationError("%s is a directory, an archive file is expected", dir)
	}

	tmpDir, err := r.pathProvider.CreateTempDir("aip-console-source")
	if err != nil {
		return Artifact{}, chunkuploader.NewSourceError(fmt.Errorf("create temp dir: %w", err))
	}
	cleanup := r.removeAllFunc(tmpDir)

	name := filepath.Base(dir) + ".tar.gz"
	if name == ".tar.gz" || name == string(filepath.Separator)+".tar.gz" {
		name = defaultArchiveName
	}
	archivePath := filepath.Join(tmpDir, name)

	r.logger.Infof("Compressing folder %s", dir)
	if err := r.archiver.Compress(archivePath, dir, excludes); err != nil {
		r.cleanupAfterError(cleanup)
		return Artifact{}, chunkuploader.NewSourceError(fmt.Errorf("compress %s: %w", dir, err))
	}

	return r.temporaryArtifact(archivePath, name, cleanup)
}

func (r *Resolver) resolveHTTP(ctx context.Context, u *url.URL) (Artifact, error) {
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = defaultArchiveName
	}

	tmpDir, err := r.pathProvider.CreateTempDir("aip-console-source")
	if err != nil {
		return Artifact{}, chunkuploader.NewSourceError(fmt.Errorf("create temp dir: %w", err))
	}
	cleanup := r.removeAllFunc(tmpDir)
	dest := filepath.Join(tmpDir, name)

	r.logger.Infof("Downloading source archive from %s", u.Redacted())
	if err := downloadFile(ctx, r.httpClient, u.String(), dest); err != nil {
		r.cleanupAfterError(cleanup)
		return Artifact{}, chunkuploader.NewSourceError(fmt.Errorf("failed to download archive: %w", err))
	}

	return r.temporaryArtifact(dest, name, cleanup)
}

func (r *Resolver) temporaryArtifact(archivePath, name string, cleanup func() error) (Artifact, error) {
	info, err := r.osProxy.Stat(archivePath)
	if err != nil {
		r.cleanupAfterError(cleanup)
		return Artifact{}, chunkuploader.NewSourceError(fmt.Errorf("unable to get archive size for given file %s: %w", archivePath, err))
	}

	return Artifact{
		Path:      archivePath,
		Name:      name,
		Size:      info.Size(),
		Temporary: true,
		cleanup:   cleanup,
	}, nil
}

func (r *Resolver) removeAllFunc(dir string) func() error {
	return func() error {
		return r.osProxy.RemoveAll(dir)
	}
}

func (r *Resolver) cleanupAfterError(cleanup func() error) {
	if err := cleanup(); err != nil {
		r.logger.Warnf("Failed to remove temporary files: %s", err)
	}
}
