package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/fetchpool/internal/utils"
)

// S3Source streams objects addressed as s3://bucket/key. The client is built
// on first use so runs without S3 URLs never load AWS configuration.
type S3Source struct {
	profile  string
	endpoint string

	once   sync.Once
	client *s3.Client
	err    error
}

func NewS3Source(profile, endpoint string) *S3Source {
	return &S3Source{profile: profile, endpoint: endpoint}
}

func newS3SourceFromConfig(cfg aws.Config, endpoint string) *S3Source {
	src := &S3Source{endpoint: endpoint}
	src.once.Do(func() {
		src.client = newS3Client(cfg, endpoint)
	})
	return src
}

// newS3Client disables the SDK retryer: every job gets exactly one attempt.
func newS3Client(cfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Retryer = aws.NopRetryer{}
		o.RetryMaxAttempts = 1
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}

func (s *S3Source) getClient(ctx context.Context) (*s3.Client, error) {
	s.once.Do(func() {
		opts := []func(*config.LoadOptions) error{
			config.WithRetryMaxAttempts(1),
		}
		if s.profile != "" {
			opts = append(opts, config.WithSharedConfigProfile(s.profile))
		}
		cfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			s.err = fmt.Errorf("error loading AWS config: %w", err)
			return
		}
		s.client = newS3Client(cfg, s.endpoint)
		log.Debug().Str("op", "fetch/s3").Str("profile", s.profile).Msg("S3 client initialized")
	})
	return s.client, s.err
}

func (s *S3Source) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, &utils.NetworkError{URL: rawURL, Err: err}
	}
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, &utils.NetworkError{URL: rawURL, Err: err}
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapS3Error(rawURL, err)
	}
	return out.Body, nil
}

// mapS3Error reports any error that carries an HTTP response as a status
// failure and everything else as a network failure.
func mapS3Error(rawURL string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		log.Debug().Str("op", "fetch/s3").Str("code", apiErr.ErrorCode()).Msg(apiErr.ErrorMessage())
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() != 0 {
		return &utils.HTTPStatusError{URL: rawURL, Status: respErr.HTTPStatusCode()}
	}
	return &utils.NetworkError{URL: rawURL, Err: err}
}

func parseS3URL(rawURL string) (string, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	if parsed.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 URL: %s", rawURL)
	}
	bucket := parsed.Host
	key := strings.TrimPrefix(parsed.Path, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("invalid S3 URL format, expected s3://bucket/key: %s", rawURL)
	}
	return bucket, key, nil
}
