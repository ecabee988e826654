// Package uploads issues pre-signed URLs so clients upload media straight to
// object storage.
package uploads

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jive-live/jive-server/internal/app/apperr"
	"github.com/jive-live/jive-server/pkg/logger"
)

// uploadURLTTL is how long an issued upload URL stays valid.
const uploadURLTTL = 60 * time.Second

// Config holds the object storage connection settings.
type Config struct {
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Service issues pre-signed upload URLs for user media.
type Service struct {
	presign *s3.PresignClient
	bucket  string
	log     *logger.Logger
}

// New builds the S3 client and presigner from cfg.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewDefault("uploads")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(strings.TrimRight(cfg.Endpoint, "/"))
			o.UsePathStyle = true
		}
	})

	return &Service{
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		log:     log,
	}, nil
}

// ImageUploadURL returns a short-lived pre-signed PUT URL for an image. A
// timestamp segment is inserted before the extension so repeated uploads of
// the same filename never collide.
func (s *Service) ImageUploadURL(ctx context.Context, imgType, filename string) (string, string, error) {
	imgType = strings.TrimSpace(imgType)
	filename = path.Base(strings.TrimSpace(filename))
	if imgType == "" {
		return "", "", apperr.Invalid("imgType", "image type is required")
	}
	if filename == "" || filename == "." {
		return "", "", apperr.Invalid("filename", "filename is required")
	}

	ext := path.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	key := fmt.Sprintf("%s/%s-%d%s", imgType, stem, time.Now().UnixMilli(), ext)

	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = uploadURLTTL
	})
	if err != nil {
		return "", "", fmt.Errorf("presign upload: %w", err)
	}

	s.log.WithField("key", key).Debug("upload url issued")
	return req.URL, key, nil
}
