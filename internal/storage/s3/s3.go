// Package s3 implements the AWS S3-compatible storage backend for
// MirrorVault. It supports AWS S3, MinIO, DigitalOcean Spaces, and other
// S3-compatible services via a configurable endpoint. Payloads above the
// chunk threshold are uploaded with the S3 multipart protocol so a single
// oversized PutObject request is never attempted. Multiple authentication
// methods are supported: the default AWS credential chain (recommended for
// EC2/EKS with IAM roles), static key/secret, and AssumeRole for
// cross-account access.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/mirrorvault/mirrorvault/internal/config"
	"github.com/mirrorvault/mirrorvault/internal/domain"
	"github.com/mirrorvault/mirrorvault/internal/storage"
)

func init() {
	// Register S3 storage backend
	storage.Register("s3", func(cfg *config.Config, events storage.EventSink) (storage.Provider, error) {
		return New(&cfg.Providers.S3, events)
	})
}

// multipartPartSize is the part size for chunked uploads. 64MB keeps part
// counts low while staying far under the 5GB per-part limit.
const multipartPartSize = 64 * 1024 * 1024

// Provider implements the storage.Provider interface for S3-compatible
// object stores.
type Provider struct {
	client   *s3.Client
	bucket   string
	basePath string
	events   storage.EventSink
}

// New creates a new S3-compatible storage backend.
//
// Authentication methods:
//   - "default" or empty: AWS default credential chain (env vars, shared
//     config, IAM role, IMDS)
//   - "static": explicit access key and secret key
//   - "assume_role": assumes an IAM role (optionally with external ID for
//     cross-account access)
func New(cfg *config.S3ProviderConfig, events storage.EventSink) (*Provider, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required: %w", domain.ErrConfiguration)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required: %w", domain.ErrConfiguration)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			authMethod = "static"
		} else {
			authMethod = "default"
		}
	}

	switch authMethod {
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("access_key_id and secret_access_key are required for static auth: %w", domain.ErrConfiguration)
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))

	case "assume_role":
		// Configured after loading the base config; requires role_arn.

	case "default":
		// AWS default credential chain, no extra configuration.

	default:
		return nil, fmt.Errorf("unsupported auth_method %q (must be 'default', 'static', or 'assume_role'): %w", authMethod, domain.ErrConfiguration)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if authMethod == "assume_role" {
		if cfg.RoleARN == "" {
			return nil, fmt.Errorf("role_arn is required for assume_role auth: %w", domain.ErrConfiguration)
		}

		stsClient := sts.NewFromConfig(awsCfg)

		var assumeRoleOpts []func(*stscreds.AssumeRoleOptions)
		if cfg.RoleSessionName != "" {
			assumeRoleOpts = append(assumeRoleOpts, func(o *stscreds.AssumeRoleOptions) {
				o.RoleSessionName = cfg.RoleSessionName
			})
		}
		if cfg.ExternalID != "" {
			assumeRoleOpts = append(assumeRoleOpts, func(o *stscreds.AssumeRoleOptions) {
				o.ExternalID = aws.String(cfg.ExternalID)
			})
		}

		provider := stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN, assumeRoleOpts...)
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3-compatible services generally require path-style addressing.
			o.UsePathStyle = true
		})
	}

	return &Provider{
		client:   s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:   cfg.Bucket,
		basePath: cfg.BasePath,
		events:   events,
	}, nil
}

func (p *Provider) Name() string { return "s3" }

// key maps a storage path onto the configured base path.
func (p *Provider) key(path string) string {
	if p.basePath == "" {
		return path
	}
	return p.basePath + "/" + path
}

// Initialize probes the bucket with a single-key list.
func (p *Provider) Initialize(ctx context.Context) error {
	_, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("s3 connectivity probe failed: %w: %v", domain.ErrConnectivity, err)
	}
	return nil
}

// UploadFile stores content, switching to multipart above the chunk
// threshold.
func (p *Provider) UploadFile(ctx context.Context, path string, content []byte) error {
	var err error
	if len(content) > storage.ChunkThreshold {
		err = p.uploadMultipart(ctx, p.key(path), content)
	} else {
		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(p.bucket),
			Key:           aws.String(p.key(path)),
			Body:          bytes.NewReader(content),
			ContentLength: aws.Int64(int64(len(content))),
		})
	}
	if err != nil {
		err = fmt.Errorf("failed to upload to S3: %w: %v", domain.ErrConnectivity, err)
		storage.EmitError(p.events, "s3", path, err)
		return err
	}

	storage.Emit(p.events, domain.EventFileUpload, "s3", path, int64(len(content)))
	return nil
}

// uploadMultipart uploads content in fixed-size parts, aborting the session
// on any part failure so S3 does not accumulate orphaned uploads.
func (p *Provider) uploadMultipart(ctx context.Context, key string, content []byte) error {
	createResp, err := p.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}
	uploadID := createResp.UploadId

	abort := func() {
		_, _ = p.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(p.bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
	}

	var completedParts []types.CompletedPart
	partNumber := int32(1)
	for offset := 0; offset < len(content); offset += multipartPartSize {
		end := offset + multipartPartSize
		if end > len(content) {
			end = len(content)
		}

		partResp, err := p.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(p.bucket),
			Key:        aws.String(key),
			UploadId:   uploadID,
			PartNumber: aws.Int32(partNumber),
			Body:       bytes.NewReader(content[offset:end]),
		})
		if err != nil {
			abort()
			return fmt.Errorf("failed to upload part %d: %w", partNumber, err)
		}

		completedParts = append(completedParts, types.CompletedPart{
			ETag:       partResp.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		partNumber++
	}

	_, err = p.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(p.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		abort()
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

// DownloadFile retrieves an object.
func (p *Provider) DownloadFile(ctx context.Context, path string) ([]byte, error) {
	result, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(path)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("object %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to download from S3: %w: %v", domain.ErrConnectivity, err)
	}
	defer result.Body.Close()

	content, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	storage.Emit(p.events, domain.EventFileDownload, "s3", path, int64(len(content)))
	return content, nil
}

// DeleteFile removes an object. S3 DeleteObject is already idempotent, so a
// missing key needs no special handling.
func (p *Provider) DeleteFile(ctx context.Context, path string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(path)),
	})
	if err != nil {
		err = fmt.Errorf("failed to delete from S3: %w: %v", domain.ErrConnectivity, err)
		storage.EmitError(p.events, "s3", path, err)
		return err
	}

	storage.Emit(p.events, domain.EventFileDelete, "s3", path, 0)
	return nil
}

// ListFiles pages through ListObjectsV2 with continuation tokens and returns
// the full key list under prefix.
func (p *Provider) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	var continuation *string
	for {
		result, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.bucket),
			Prefix:            aws.String(p.key(prefix)),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w: %v", domain.ErrConnectivity, err)
		}

		for _, obj := range result.Contents {
			if obj.Key == nil {
				continue
			}
			key := *obj.Key
			if p.basePath != "" {
				key = key[len(p.basePath)+1:]
			}
			paths = append(paths, key)
		}

		if result.IsTruncated == nil || !*result.IsTruncated {
			return paths, nil
		}
		continuation = result.NextContinuationToken
	}
}

// GetFileMetadata returns size, modification time, and the ETag as the
// provider-native hash.
func (p *Provider) GetFileMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	result, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(path)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("object %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object metadata: %w: %v", domain.ErrConnectivity, err)
	}

	meta := &storage.FileMetadata{}
	if result.ContentLength != nil {
		meta.Size = *result.ContentLength
	}
	if result.LastModified != nil {
		meta.Modified = *result.LastModified
	}
	if result.ETag != nil {
		meta.Hash = *result.ETag
	}
	return meta, nil
}

// Disconnect is a no-op: the S3 client holds no persistent connections that
// outlive idle HTTP keep-alives.
func (p *Provider) Disconnect() error { return nil }
