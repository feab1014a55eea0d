package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

type s3Adapter struct {
	client *minio.Client
	bucket string
	base   string
}

func newS3(cfg domain.Configuration, secrets SecretsResolver, opts Options) (*s3Adapter, error) {
	var s S3Settings
	if err := decodeSettings(cfg.Settings, &s); err != nil {
		return nil, err
	}
	if s.Endpoint == "" || s.Bucket == "" {
		return nil, Permanent(errors.New("s3 settings: endpoint and bucket are required"))
	}
	accessKey, err := secretValue(secrets, cfg.ClientID, s.AccessKeySecret)
	if err != nil {
		return nil, err
	}
	secretKey, err := secretValue(secrets, cfg.ClientID, s.SecretKeySecret)
	if err != nil {
		return nil, err
	}

	useSSL := true
	if s.UseSSL != nil {
		useSSL = *s.UseSSL
	}
	client, err := minio.New(s.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: s.Region,
	})
	if err != nil {
		return nil, Permanent(fmt.Errorf("s3 client: %w", err))
	}

	scheme := "https"
	if !useSSL {
		scheme = "http"
	}
	return &s3Adapter{
		client: client,
		bucket: s.Bucket,
		base:   fmt.Sprintf("%s://%s/%s", scheme, s.Endpoint, s.Bucket),
	}, nil
}

func (a *s3Adapter) List(ctx context.Context, q Query) ([]domain.RemoteFile, error) {
	return list(ctx, q, func(ctx context.Context, m *Matcher) ([]domain.RemoteFile, error) {
		objects := a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{
			Prefix:    objectPrefix(m.Root()),
			Recursive: m.Recursive(),
		})

		var files []domain.RemoteFile
		for obj := range objects {
			if obj.Err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				err := fmt.Errorf("listing bucket %q: %w", a.bucket, obj.Err)
				if s3Permanent(obj.Err) {
					return nil, Permanent(err)
				}
				return nil, err
			}
			if strings.HasSuffix(obj.Key, "/") {
				continue
			}
			files = append(files, domain.RemoteFile{
				Name:         path.Base(obj.Key),
				Path:         "/" + obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified.UTC(),
				URI:          a.base + "/" + obj.Key,
				ContentHash:  strings.Trim(obj.ETag, `"`),
			})
		}
		return files, nil
	})
}

func (a *s3Adapter) Close() error { return nil }

// s3Permanent reports forbidden and missing-bucket responses. err must be
// the unwrapped minio error.
func s3Permanent(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "AccessDenied", "NoSuchBucket", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return true
	}
	return resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound
}
