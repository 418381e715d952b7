package archive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Config describes an S3 (or S3-compatible) archive location.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every key; surrounding slashes are ignored.
	Prefix string
	// Region overrides the SDK default chain when set.
	Region string
	// Endpoint targets an S3-compatible provider such as MinIO or R2.
	Endpoint     string
	UsePathStyle bool
}

// Validate reports missing or malformed settings.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	if strings.Contains(c.Bucket, "/") {
		return fmt.Errorf("S3 bucket %q must not contain '/'", c.Bucket)
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("S3 endpoint %q must be an http(s) URL", c.Endpoint)
		}
	}
	return nil
}

// ParseS3Path splits "bucket/prefix" into its parts. The prefix may be empty.
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return bucket, strings.Trim(prefix, "/")
}

// NewS3Factory returns a store factory writing to cfg's bucket. Credentials
// come from the AWS SDK default chain.
func NewS3Factory(ctx context.Context, cfg S3Config) (lode.StoreFactory, error) {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	storeCfg := lodes3.Config{
		Bucket: cfg.Bucket,
		Prefix: strings.Trim(cfg.Prefix, "/"),
	}
	return func() (lode.Store, error) {
		return lodes3.New(client, storeCfg)
	}, nil
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			endpoint := cfg.Endpoint
			o.BaseEndpoint = &endpoint
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}
