package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"invoice-backend/internal/shared/storage/blob"
)

const contentTypePDF = "application/pdf"

// Options configures the S3-backed store. Endpoint, UsePathStyle and static
// credentials allow S3-compatible backends such as MinIO.
type Options struct {
	Region       string
	Bucket       string
	Prefix       string
	Endpoint     string
	UsePathStyle bool
	AccessKey    string
	SecretKey    string
	// Encryption is "" (bucket default), "AES256" or "aws:kms". A KMSKeyID implies "aws:kms".
	Encryption   string
	KMSKeyID     string
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Store implements blob.Store using Amazon S3.
type Store struct {
	client     s3API
	bucket     string
	prefix     string
	encryption s3types.ServerSideEncryption
	kmsKeyID   string
}

// New creates a new S3-backed blob store.
func New(ctx context.Context, opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.UsePathStyle
		if endpoint := strings.TrimSpace(opts.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return newWithClient(client, opts), nil
}

func newWithClient(client s3API, opts Options) *Store {
	st := &Store{
		client:   client,
		bucket:   opts.Bucket,
		prefix:   normalizePrefix(opts.Prefix),
		kmsKeyID: strings.TrimSpace(opts.KMSKeyID),
	}
	switch {
	case st.kmsKeyID != "":
		st.encryption = s3types.ServerSideEncryptionAwsKms
	case strings.EqualFold(strings.TrimSpace(opts.Encryption), string(s3types.ServerSideEncryptionAes256)):
		st.encryption = s3types.ServerSideEncryptionAes256
	case strings.EqualFold(strings.TrimSpace(opts.Encryption), string(s3types.ServerSideEncryptionAwsKms)):
		st.encryption = s3types.ServerSideEncryptionAwsKms
	}
	return st
}

// Put uploads data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	objectKey := applyPrefix(s.prefix, key)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentTypePDF),
	}
	s.applySSE(input)

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("%w: s3 put object bucket=%s key=%s: %w", blob.ErrRemoteStore, s.bucket, objectKey, err)
	}
	return nil
}

// Get downloads the object stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	objectKey := applyPrefix(s.prefix, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %w: bucket=%s key=%s", blob.ErrRemoteStore, blob.ErrObjectNotFound, s.bucket, objectKey)
		}
		return nil, fmt.Errorf("%w: s3 get object bucket=%s key=%s: %w", blob.ErrRemoteStore, s.bucket, objectKey, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: s3 read body bucket=%s key=%s: %w", blob.ErrRemoteStore, s.bucket, objectKey, err)
	}
	return data, nil
}

// Delete removes the object stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	objectKey := applyPrefix(s.prefix, key)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return fmt.Errorf("%w: s3 delete object bucket=%s key=%s: %w", blob.ErrRemoteStore, s.bucket, objectKey, err)
	}
	return nil
}

// Copy duplicates the object at srcKey to dstKey within the bucket.
func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	srcObject := applyPrefix(s.prefix, srcKey)
	dstObject := applyPrefix(s.prefix, dstKey)
	input := &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dstObject),
		CopySource: aws.String(copySource(s.bucket, srcObject)),
	}
	input.ServerSideEncryption = s.encryption
	if s.kmsKeyID != "" {
		input.SSEKMSKeyId = aws.String(s.kmsKeyID)
	}

	if _, err := s.client.CopyObject(ctx, input); err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return fmt.Errorf("%w: %w: bucket=%s key=%s", blob.ErrRemoteStore, blob.ErrObjectNotFound, s.bucket, srcObject)
		}
		return fmt.Errorf("%w: s3 copy object bucket=%s src=%s dst=%s: %w", blob.ErrRemoteStore, s.bucket, srcObject, dstObject, err)
	}
	return nil
}

// applySSE leaves encryption headers off unless configured; MinIO without a KMS rejects them.
func (s *Store) applySSE(input *s3.PutObjectInput) {
	input.ServerSideEncryption = s.encryption
	if s.kmsKeyID != "" {
		input.SSEKMSKeyId = aws.String(s.kmsKeyID)
	}
}

// copySource builds the URL-encoded "bucket/key" value CopyObject expects.
func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

func applyPrefix(prefix, key string) string {
	cleanPrefix := strings.Trim(prefix, "/")
	cleanKey := strings.TrimLeft(key, "/")
	if cleanPrefix == "" {
		return cleanKey
	}
	if cleanKey == "" {
		return cleanPrefix
	}
	return cleanPrefix + "/" + cleanKey
}

var _ blob.Store = (*Store)(nil)
