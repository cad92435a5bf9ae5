package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"fileshare-go/internal/config"
	"fileshare-go/pkg/log"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// minioStore 是 Store 的 MinIO 实现。
// 对象名为 chunks/<sha256>/<uuid>：引用携带内容摘要用于读取校验，
// uuid 后缀让每次 Put 独立持有对象，Delete 不会影响其他引用。
type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinIOStore(cfg config.MinIOConfig) (Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	// 检查存储桶是否存在，如果不存在则创建
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}

	log.Info("MinIO 块存储初始化成功")
	return &minioStore{client: client, bucket: cfg.BucketName}, nil
}

func (s *minioStore) objectName(ref Ref) string {
	return "chunks/" + string(ref)
}

func (s *minioStore) Put(ctx context.Context, data []byte) (Ref, error) {
	ref := Ref(digest(data) + "/" + uuid.NewString())
	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(ref),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (s *minioStore) Get(ctx context.Context, ref Ref) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(ref), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, err
	}

	// 读取校验：引用前缀即内容摘要，不一致说明数据已被破坏。
	if want, _, ok := splitRef(ref); ok && digest(data) != want {
		return nil, ErrCorrupted
	}
	return data, nil
}

func (s *minioStore) Delete(ctx context.Context, ref Ref) error {
	return s.client.RemoveObject(ctx, s.bucket, s.objectName(ref), minio.RemoveObjectOptions{})
}

func splitRef(ref Ref) (sum string, id string, ok bool) {
	raw := string(ref)
	for i := 0; i < len(raw); i++ {
		if raw[i] == '/' {
			return raw[:i], raw[i+1:], true
		}
	}
	return "", "", false
}
