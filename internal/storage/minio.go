package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"synchire-go/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/rs/zerolog"
)

// ObjectStorage 对象存储接口
type ObjectStorage interface {
	// PutCVOriginal 按简历内容哈希保存原始文件，返回对象键
	PutCVOriginal(ctx context.Context, cvID, fileExt string, data []byte) (string, error)
	// PutTranscript 保存面试记录，返回对象键
	PutTranscript(ctx context.Context, callID string, data []byte) (string, error)
}

var _ ObjectStorage = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client            *minio.Client
	cfg               *config.MinIOConfig
	originalsBucket   string
	transcriptsBucket string
	logger            zerolog.Logger
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(cfg *config.MinIOConfig, logger zerolog.Logger) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}
	logger = logger.With().Str("component", "minio").Str("endpoint", cfg.Endpoint).Logger()

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client:            client,
		cfg:               cfg,
		originalsBucket:   cfg.OriginalsBucket,
		transcriptsBucket: cfg.TranscriptsBucket,
		logger:            logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, bucket := range []string{m.originalsBucket, m.transcriptsBucket} {
		if err := m.ensureBucketExists(ctx, bucket, cfg.Location); err != nil {
			return nil, err
		}
	}

	if err := m.setupLifecycleRules(ctx); err != nil {
		logger.Warn().Err(err).Msg("设置对象生命周期规则失败")
	}

	logger.Info().Str("originals", m.originalsBucket).Str("transcripts", m.transcriptsBucket).Msg("MinIO客户端初始化成功")
	return m, nil
}

func (m *MinIO) ensureBucketExists(ctx context.Context, bucketName, location string) error {
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
	}
	m.logger.Info().Str("bucket", bucketName).Msg("存储桶已创建")
	return nil
}

func (m *MinIO) setupLifecycleRules(ctx context.Context) error {
	if m.cfg.OriginalFileExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.originalsBucket, "expire-cv-originals", m.cfg.OriginalFileExpireDays); err != nil {
			return fmt.Errorf("为存储桶 %s 设置生命周期失败: %w", m.originalsBucket, err)
		}
	}
	if m.cfg.TranscriptExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, m.transcriptsBucket, "expire-transcripts", m.cfg.TranscriptExpireDays); err != nil {
			return fmt.Errorf("为存储桶 %s 设置生命周期失败: %w", m.transcriptsBucket, err)
		}
	}
	return nil
}

func (m *MinIO) setupBucketLifecycle(ctx context.Context, bucketName, ruleID string, expiryDays int) error {
	lc := lifecycle.NewConfiguration()
	lc.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, bucketName, lc)
}

func (m *MinIO) put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	info, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", bucket, key, err)
	}
	m.logger.Debug().Str("bucket", bucket).Str("key", key).Int64("size", info.Size).Msg("对象已上传")
	return bucket + "/" + key, nil
}

// CVOriginalKey 原始简历的对象键，按哈希前两位分目录
func CVOriginalKey(cvID, fileExt string) string {
	prefix := cvID
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return path.Join("cv", prefix, cvID+strings.ToLower(fileExt))
}

// TranscriptKey 面试记录的对象键
func TranscriptKey(callID string) string {
	return path.Join("transcripts", callID+".json")
}

// PutCVOriginal 上传原始简历，同一内容哈希覆盖写入得到相同对象
func (m *MinIO) PutCVOriginal(ctx context.Context, cvID, fileExt string, data []byte) (string, error) {
	return m.put(ctx, m.originalsBucket, CVOriginalKey(cvID, fileExt), data, getContentType(fileExt))
}

// PutTranscript 上传面试记录
func (m *MinIO) PutTranscript(ctx context.Context, callID string, data []byte) (string, error) {
	return m.put(ctx, m.transcriptsBucket, TranscriptKey(callID), data, "application/json")
}

// Ping 检查存储桶是否可访问
func (m *MinIO) Ping(ctx context.Context) error {
	ok, err := m.client.BucketExists(ctx, m.originalsBucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 失败: %w", m.originalsBucket, err)
	}
	if !ok {
		return fmt.Errorf("存储桶 %s 不存在", m.originalsBucket)
	}
	return nil
}

func getContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
