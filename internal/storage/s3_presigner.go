// Package storage はアバター画像を保存するオブジェクトストレージへのアクセスを提供する。
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// uploadURLExpiry は署名付きアップロードURLの有効期間。
const uploadURLExpiry = 15 * time.Minute

// S3Config はS3互換ストレージの接続設定。
type S3Config struct {
	Bucket       string
	Endpoint     string // 空の場合はAWSのデフォルトエンドポイント
	Region       string
	UsePathStyle bool
	AccessKey    string // 空の場合はデフォルトの認証情報チェーンを使う
	SecretKey    string
}

// PresignedUpload はクライアントが直接アップロードするための署名付きリクエスト。
type PresignedUpload struct {
	UploadURL string    `json:"uploadUrl"`
	Method    string    `json:"method"`
	ObjectURL string    `json:"objectUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// S3Presigner はS3のPUT用署名付きURLを発行する。
type S3Presigner struct {
	client *s3.PresignClient
	cfg    S3Config
}

// NewS3Presigner はS3Presignerを生成する。
func NewS3Presigner(ctx context.Context, cfg S3Config) (*S3Presigner, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Presigner{
		client: s3.NewPresignClient(client),
		cfg:    cfg,
	}, nil
}

// PresignUpload はkeyへのPUT用署名付きURLを発行する。
// Content-Typeは署名に含まれるため、クライアントは同じ値で送信する必要がある。
func (p *S3Presigner) PresignUpload(ctx context.Context, key, contentType string) (*PresignedUpload, error) {
	req, err := p.client.PresignPutObject(ctx,
		&s3.PutObjectInput{
			Bucket:      aws.String(p.cfg.Bucket),
			Key:         aws.String(key),
			ContentType: aws.String(contentType),
		},
		s3.WithPresignExpires(uploadURLExpiry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	return &PresignedUpload{
		UploadURL: req.URL,
		Method:    req.Method,
		ObjectURL: p.objectURL(key),
		ExpiresAt: time.Now().Add(uploadURLExpiry),
	}, nil
}

// objectURL はアップロード後のオブジェクトの公開URLを返す。
func (p *S3Presigner) objectURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if p.cfg.Endpoint != "" {
		base := strings.TrimRight(p.cfg.Endpoint, "/")
		if p.cfg.UsePathStyle {
			return fmt.Sprintf("%s/%s/%s", base, p.cfg.Bucket, escaped)
		}
		u, err := url.Parse(base)
		if err == nil && u.Host != "" {
			return fmt.Sprintf("%s://%s.%s/%s", u.Scheme, p.cfg.Bucket, u.Host, escaped)
		}
		return fmt.Sprintf("%s/%s/%s", base, p.cfg.Bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.cfg.Bucket, p.cfg.Region, escaped)
}
