package document

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultPresignExpires = 15 * time.Minute

// S3Config はKYC書類を保存するオブジェクトストレージの設定。
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Expires   time.Duration
}

// Enabled はバケットが設定されているかを返す。
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// テストで差し替える。
var presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return pc.PresignPutObject(ctx, in, optFns...)
}

// S3Presigner はS3互換ストレージへの署名付きPUT URLを発行する。
type S3Presigner struct {
	client  *s3.PresignClient
	bucket  string
	expires time.Duration
}

// NewS3Presigner はS3Presignerを生成する。
// アクセスキーが指定されていない場合はAWS SDKの既定の認証情報チェーンを使う。
func NewS3Presigner(ctx context.Context, cfg S3Config) (*S3Presigner, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	expires := cfg.Expires
	if expires <= 0 {
		expires = defaultPresignExpires
	}

	return &S3Presigner{
		client:  s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		expires: expires,
	}, nil
}

// PresignUpload は指定キーへの署名付きPUTリクエストを発行する。
func (p *S3Presigner) PresignUpload(ctx context.Context, key string) (*PresignedRequest, error) {
	req, err := presignPutObject(p.client, ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.expires))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}
	return &PresignedRequest{
		URL:       req.URL,
		Method:    req.Method,
		ExpiresIn: p.expires,
	}, nil
}
