package storage

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

// S3ClientConfig configures access to S3 or an S3-compatible store such as MinIO.
// Empty credentials fall back to the default AWS chain, then to anonymous access.
type S3ClientConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
}

// s3Source downloads artifacts from s3://bucket/key locations.
type s3Source struct {
	client     *s3.Client
	downloader *manager.Downloader
}

// newS3Source builds a path-style client so MinIO endpoints work. Static keys are
// used when both are set; otherwise the default chain, and anonymous access when
// the chain yields nothing.
func newS3Source(ctx context.Context, cfg S3ClientConfig) (*s3Source, error) {
	var loadOpts []func(*aws_config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, aws_config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, aws_config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := aws_config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load aws config")
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		log.Debug().Err(err).Msg("no aws credentials, using anonymous s3 access")
		awsCfg.Credentials = aws.AnonymousCredentials{}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &s3Source{client: client, downloader: manager.NewDownloader(client)}, nil
}

// parseS3Location splits "bucket/key" (the part after s3://).
func parseS3Location(rest string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", errors.Newf("s3 location must be s3://bucket/key, got s3://%s", rest)
	}
	return bucket, key, nil
}

func (s *s3Source) fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	n, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download s3://%s/%s", bucket, key)
	}
	log.Info().Str("bucket", bucket).Str("key", key).Int64("bytes", n).Msg("artifact downloaded from s3")
	return buf.Bytes(), nil
}
