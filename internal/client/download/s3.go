package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/zonemedia/internal/errx"
	"github.com/dmitrijs2005/zonemedia/internal/netx"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3API is the subset of *s3.Client the fetcher uses.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Config holds the object store connection settings. Empty credentials
// fall back to the default AWS credential chain.
type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3Fetcher downloads s3://bucket/key sources with ranged GetObject calls.
type S3Fetcher struct {
	api S3API
}

func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Fetcher{api: client}, nil
}

func NewS3FetcherWithAPI(api S3API) *S3Fetcher {
	return &S3Fetcher{api: api}
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(source string) (bucket, key string, err error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 url: %q", source)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 url has no key: %q", source)
	}
	return u.Host, key, nil
}

func (f *S3Fetcher) Fetch(ctx context.Context, source string, offset int64) (*netx.RangeResponse, error) {
	bucket, key, err := ParseS3URL(source)
	if err != nil {
		return nil, errx.Wrap(errx.CodeValidation, err, "bad s3 source")
	}

	in := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if offset > 0 {
		in.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	out, err := f.api.GetObject(ctx, in)
	if err != nil {
		var apiErr smithy.APIError
		if offset > 0 && errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
			return f.completeAt(ctx, bucket, key, offset, err)
		}
		return nil, classifyS3(err)
	}

	resp := &netx.RangeResponse{Body: out.Body, Start: 0, Total: aws.ToInt64(out.ContentLength)}
	if cr := aws.ToString(out.ContentRange); cr != "" {
		start, total, err := netx.ParseContentRange(cr)
		if err != nil {
			out.Body.Close()
			return nil, errx.Wrap(errx.CodeDownloadFailed, err, "s3 fetch")
		}
		resp.Start, resp.Total = start, total
	}
	return resp, nil
}

// completeAt handles InvalidRange: the object is already fully written
// when its size equals offset.
func (f *S3Fetcher) completeAt(ctx context.Context, bucket, key string, offset int64, cause error) (*netx.RangeResponse, error) {
	head, err := f.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, classifyS3(err)
	}
	if aws.ToInt64(head.ContentLength) != offset {
		return nil, errx.Wrap(errx.CodeDownloadFailed, cause, "s3 fetch").WithRetryable(false)
	}
	return &netx.RangeResponse{Body: io.NopCloser(strings.NewReader("")), Start: offset, Total: offset}, nil
}

func classifyS3(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "AccessDenied", "NotFound":
			return errx.Wrap(errx.CodeDownloadFailed, err, "s3 fetch").WithRetryable(false)
		}
	}
	return classify(err, "s3 fetch")
}
