package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/aip-console-steputils/aipconsole/network/chunkuploader"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const defaultS3Retries = 3

var errS3KeyNotFound = errors.New("key not found in bucket")

// S3Config ...
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// NumFullRetries is how many times a failed download is repeated, 3 when 0.
	NumFullRetries int
}

// S3Client is the subset of the S3 API used to fetch source archives.
type S3Client interface {
	manager.DownloadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3ClientFactory ...
type S3ClientFactory func(ctx context.Context, config S3Config, logger log.Logger) (S3Client, error)

func newS3Client(ctx context.Context, s3Config S3Config, logger log.Logger) (S3Client, error) {
	cfg, err := loadAWSCredentials(ctx, s3Config.Region, s3Config.AccessKeyID, s3Config.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}
	return s3.NewFromConfig(*cfg), nil
}

func (r *Resolver) resolveS3(ctx context.Context, u *url.URL) (Artifact, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return Artifact{}, chunkuploader.NewValidationError("invalid S3 location %s, expected s3://bucket/key", u.String())
	}

	client, err := r.newS3Client(ctx, r.s3Config, r.logger)
	if err != nil {
		return Artifact{}, chunkuploader.NewSourceError(err)
	}

	numRetries := r.s3Config.NumFullRetries
	if numRetries <= 0 {
		numRetries = defaultS3Retries
	}
	service := &s3DownloadService{
		client:         client,
		bucket:         bucket,
		numFullRetries: numRetries,
		logger:         r.logger,
	}

	size, err := service.objectSize(ctx, key)
	if errors.Is(err, errS3KeyNotFound) {
		return Artifact{}, chunkuploader.NewValidationError("no file provided for upload: %s does not exist", u.String())
	}
	if err != nil {
		return Artifact{}, chunkuploader.NewSourceError(err)
	}
	r.logger.Debugf("S3 object %s is %d bytes", u.String(), size)

	tmpDir, err := r.pathProvider.CreateTempDir("aip-console-source")
	if err != nil {
		return Artifact{}, chunkuploader.NewSourceError(fmt.Errorf("create temp dir: %w", err))
	}
	cleanup := r.removeAllFunc(tmpDir)
	name := path.Base(key)
	dest := filepath.Join(tmpDir, name)

	r.logger.Infof("Downloading source archive from %s", u.String())
	if err := service.download(ctx, key, dest); err != nil {
		r.cleanupAfterError(cleanup)
		return Artifact{}, chunkuploader.NewSourceError(err)
	}

	return r.temporaryArtifact(dest, name, cleanup)
}

type s3DownloadService struct {
	client         S3Client
	bucket         string
	numFullRetries int
	logger         log.Logger
}

func (service *s3DownloadService) objectSize(ctx context.Context, key string) (int64, error) {
	var size int64
	err := retry.Times(uint(service.numFullRetries)).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		output, err := service.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(service.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var apiError smithy.APIError
			if errors.As(err, &apiError) {
				switch apiError.(type) {
				case *types.NotFound:
					return errS3KeyNotFound, true
				default:
					return fmt.Errorf("aws api error: %w", err), false
				}
			}
			return fmt.Errorf("generic aws error: %w", err), false
		}

		size = aws.ToInt64(output.ContentLength)
		return nil, true
	})
	if err != nil {
		return 0, err
	}
	return size, nil
}

func (service *s3DownloadService) download(ctx context.Context, key, dest string) error {
	err := retry.Times(uint(service.numFullRetries)).Wait(5 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			service.logger.Debugf("Retrying S3 download, attempt %d", attempt)
		}
		if err := service.getObject(ctx, key, dest); err != nil {
			return fmt.Errorf("download object: %w", err), false
		}
		return nil, true
	})
	if err != nil {
		return fmt.Errorf("all retries failed: %w", err)
	}
	return nil
}

func (service *s3DownloadService) getObject(ctx context.Context, key, dest string) error {
	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer file.Close() //nolint:errcheck

	downloader := manager.NewDownloader(service.client)
	_, err = downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(service.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("get object: %w", err)
	}
	return nil
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
