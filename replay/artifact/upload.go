// Package artifact uploads run outputs to an S3-compatible bucket.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/replay-client/replay"
)

// PutObjectAPI is the subset of *s3.Client the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config locates the bucket. Endpoint is set for S3-compatible stores
// (MinIO, R2); empty uses AWS. Static credentials are optional; without
// them the default AWS credential chain applies.
type Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// Uploader writes files under <prefix>/<run id>/.
type Uploader struct {
	api    PutObjectAPI
	bucket string
	prefix string
}

// NewUploader builds an S3 client from cfg.
func NewUploader(ctx context.Context, cfg Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, &replay.ConfigurationError{Field: "upload-bucket", Reason: "must not be empty"}
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: endpoint, HostnameImmutable: true}, nil
		})
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.Endpoint != ""
	})
	return NewUploaderWithAPI(client, cfg.Bucket, cfg.Prefix), nil
}

// NewUploaderWithAPI wraps an existing client.
func NewUploaderWithAPI(api PutObjectAPI, bucket, prefix string) *Uploader {
	return &Uploader{api: api, bucket: bucket, prefix: prefix}
}

// Key returns the object key for a local file of a run.
func (u *Uploader) Key(runID replay.RunID, file string) string {
	return path.Join(u.prefix, string(runID), filepath.Base(file))
}

// Upload puts every existing file. Missing files are skipped with a warning;
// the first failed put is returned after trying all files.
func (u *Uploader) Upload(ctx context.Context, runID replay.RunID, files ...string) error {
	var firstErr error
	for _, file := range files {
		if err := u.uploadFile(ctx, runID, file); err != nil {
			if os.IsNotExist(err) {
				logrus.Warnf("Skipping upload of %s: file does not exist", file)
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			logrus.Warnf("Upload of %s failed: %v", file, err)
		}
	}
	return firstErr
}

func (u *Uploader) uploadFile(ctx context.Context, runID replay.RunID, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	key := u.Key(runID, file)
	if _, err := u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", u.bucket, key, err)
	}
	logrus.Infof("Uploaded %s to s3://%s/%s", file, u.bucket, key)
	return nil
}
