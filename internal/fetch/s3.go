package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rbalaji/peoplecounter/pkg/models"
)

// s3Fetcher downloads objects through the default AWS credential chain
// (env vars, shared config, IAM role).
type s3Fetcher struct {
	downloader *manager.Downloader
}

func newS3Fetcher(ctx context.Context, region string) (*s3Fetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("resolve aws credentials: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &s3Fetcher{downloader: manager.NewDownloader(client)}, nil
}

func (f *s3Fetcher) download(ctx context.Context, bucket, key string, dst *os.File) error {
	_, err := f.downloader.Download(ctx, dst, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyS3Error(err, bucket, key)
	}
	return nil
}

// classifyS3Error maps S3 API failures onto the error taxonomy: missing
// bucket/object are not_found, permission problems are credentials_missing,
// everything else is transient and retried.
func classifyS3Error(err error, bucket, key string) error {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return models.NewJobError(models.ErrKindNotFound, "s3://%s/%s does not exist", bucket, key)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return models.NewJobError(models.ErrKindNotFound, "s3://%s/%s does not exist", bucket, key)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return models.NewJobError(models.ErrKindCredentialsMissing,
				"access to s3://%s/%s denied: %s", bucket, key, apiErr.ErrorCode())
		}
	}

	return models.WrapJobError(models.ErrKindTransientIO, err)
}
