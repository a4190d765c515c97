package objectstorage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// ErrNotConfigured indicates no bucket endpoint is configured
var ErrNotConfigured = errors.New("object storage not configured")

// Config holds the S3-compatible endpoint settings
type Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
}

// Store uploads objects into a single bucket
type Store struct {
	client        s3iface.S3API
	bucket        string
	publicBaseURL string
}

// New opens an S3 session for the configured endpoint
func New(conf Config) (*Store, error) {
	if conf.Endpoint == "" || conf.Bucket == "" {
		return nil, ErrNotConfigured
	}

	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(conf.Region),
		Endpoint:         aws.String(conf.Endpoint),
		S3ForcePathStyle: aws.Bool(true),
		Credentials: credentials.NewChainCredentials([]credentials.Provider{
			&credentials.StaticProvider{
				Value: credentials.Value{
					AccessKeyID:     conf.AccessKey,
					SecretAccessKey: conf.SecretKey,
				},
			},
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}

	base := conf.PublicBaseURL
	if base == "" {
		base = conf.Endpoint
	}

	return &Store{
		client:        s3.New(sess),
		bucket:        conf.Bucket,
		publicBaseURL: strings.TrimSuffix(base, "/"),
	}, nil
}

// Upload writes data under key, replacing any existing object, and returns
// its public URL.
func (s *Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}
	return s.PublicURL(key), nil
}

// PublicURL returns the public address of key
func (s *Store) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, url.PathEscape(s.bucket), url.PathEscape(key))
}
