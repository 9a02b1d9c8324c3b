package blob

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Backend struct {
	s3Client    *s3.Client
	s3Presigner *s3.PresignClient
	config      *S3Config
}

func NewS3Backend(s3Client *s3.Client, cfg *S3Config) *S3Backend {
	return &S3Backend{
		s3Client:    s3Client,
		s3Presigner: s3.NewPresignClient(s3Client),
		config:      cfg,
	}
}

// NewS3BackendWithConfig builds the SDK client from cfg. SDK level retries are
// disabled; callers wrap every call in a retry.Executor instead.
func NewS3BackendWithConfig(ctx context.Context, cfg *S3Config) (*S3Backend, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   50,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
		config.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	awsClient := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.UseAccelerate {
			o.UseAccelerate = true
		}
	})

	return NewS3Backend(awsClient, cfg), nil
}

// ===================================================================================================

func (s *S3Backend) GetObject(ctx context.Context, key string) (*GetObjectResponse, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.config.BucketName,
		Key:    &key,
	})
	if err != nil {
		return nil, classifyS3Error("get object", err)
	}

	return &GetObjectResponse{
		Body:         resp.Body,
		Size:         aws.ToInt64(resp.ContentLength),
		ETag:         trimETag(aws.ToString(resp.ETag)),
		LastModified: aws.ToTime(resp.LastModified),
	}, nil
}

func (s *S3Backend) GetObjectPresigned(ctx context.Context, key string) (string, error) {
	if !ValidateKey(key) {
		return "", ErrInvalidKey
	}

	expiry := s.config.PresignExpiry
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}

	req, err := s.s3Presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.config.BucketName,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", classifyS3Error("presign object", err)
	}
	return req.URL, nil
}

// ===================================================================================================

func (s *S3Backend) PutObject(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error) {
	if !ValidateKey(params.Key) {
		return nil, ErrInvalidKey
	}

	input := &s3.PutObjectInput{
		Bucket:        &s.config.BucketName,
		Key:           &params.Key,
		Body:          params.Body,
		ContentLength: aws.Int64(params.Size),
	}
	if params.ContentType != "" {
		input.ContentType = aws.String(params.ContentType)
	}

	resp, err := s.s3Client.PutObject(ctx, input)
	if err != nil {
		return nil, classifyS3Error("put object", err)
	}

	// s3.PutObjectOutput does not have LastModified
	return &PutObjectResponse{
		Key:          params.Key,
		Size:         params.Size,
		Version:      aws.ToString(resp.VersionId),
		ETag:         trimETag(aws.ToString(resp.ETag)),
		LastModified: time.Now().UTC(),
	}, nil
}

// ===================================================================================================

func (s *S3Backend) CopyObject(ctx context.Context, params *CopyObjectParams) (*CopyObjectResponse, error) {
	if !ValidateKey(params.SourceKey) {
		return nil, fmt.Errorf("%w: source %s", ErrInvalidKey, params.SourceKey)
	}
	if !ValidateKey(params.DestinationKey) {
		return nil, fmt.Errorf("%w: destination %s", ErrInvalidKey, params.DestinationKey)
	}

	resp, err := s.s3Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     &s.config.BucketName,
		CopySource: aws.String(copySource(s.config.BucketName, params.SourceKey)),
		Key:        &params.DestinationKey,
	})
	if err != nil {
		return nil, classifyS3Error("copy object", err)
	}

	result := &CopyObjectResponse{LastModified: time.Now().UTC()}
	if resp.CopyObjectResult != nil {
		result.ETag = trimETag(aws.ToString(resp.CopyObjectResult.ETag))
		result.LastModified = aws.ToTime(resp.CopyObjectResult.LastModified)
	}
	return result, nil
}

// ===================================================================================================

func (s *S3Backend) DeleteObject(ctx context.Context, key string) (bool, error) {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.config.BucketName,
		Key:    &key,
	})
	if err != nil {
		return false, classifyS3Error("delete object", err)
	}
	return true, nil
}

// ===================================================================================================

func (s *S3Backend) ListObjects(ctx context.Context, prefix string) ([]*BlobInfo, error) {
	var objects []*BlobInfo

	input := &s3.ListObjectsV2Input{
		Bucket: &s.config.BucketName,
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(s.s3Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3Error("list objects", err)
		}

		for _, obj := range page.Contents {
			objects = append(objects, blobInfoFromObject(obj))
		}
	}

	return objects, nil
}

func blobInfoFromObject(obj types.Object) *BlobInfo {
	info := &BlobInfo{
		Key:  aws.ToString(obj.Key),
		ETag: trimETag(aws.ToString(obj.ETag)),
		Size: aws.ToInt64(obj.Size),
	}
	if obj.LastModified != nil {
		info.LastModified = obj.LastModified.UTC().Format(time.RFC3339)
	}
	return info
}

// copySource escapes every path segment of key but keeps the separators
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

var _ IBlobBackend = (*S3Backend)(nil)
