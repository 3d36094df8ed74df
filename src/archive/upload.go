// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type UploadConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// Key prefix inside the bucket
	Prefix string
	UseSSL bool
}

// Uploader copies finished archives to S3-compatible object storage.
type Uploader struct {
	cfg    UploadConfig
	client *minio.Client
}

func NewUploader(cfg UploadConfig) (*Uploader, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("upload: endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	return &Uploader{cfg: cfg, client: client}, nil
}

func (u *Uploader) ensureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.cfg.Bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return u.client.MakeBucket(ctx, u.cfg.Bucket, minio.MakeBucketOptions{})
}

// ObjectKey is the bucket key an archive file is stored under.
func (u *Uploader) ObjectKey(file string) string {
	name := filepath.Base(file)
	prefix := strings.Trim(u.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Upload stores the archive and returns its object key.
func (u *Uploader) Upload(ctx context.Context, file string, sha256sum string) (string, error) {
	if err := u.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("upload: bucket %s: %w", u.cfg.Bucket, err)
	}

	key := u.ObjectKey(file)
	opts := minio.PutObjectOptions{ContentType: "application/zip"}
	if sha256sum != "" {
		opts.UserMetadata = map[string]string{"sha256": sha256sum}
	}

	if _, err := u.client.FPutObject(ctx, u.cfg.Bucket, key, file, opts); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	return key, nil
}

// PruneRemote keeps the newest keep objects whose key starts with the
// uploader prefix plus namePrefix and a run timestamp.
func (u *Uploader) PruneRemote(ctx context.Context, namePrefix string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}

	listPrefix := u.ObjectKey(namePrefix)
	pattern := runPattern(namePrefix)
	var objects []minio.ObjectInfo
	for obj := range u.client.ListObjects(ctx, u.cfg.Bucket, minio.ListObjectsOptions{Prefix: listPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if !pattern.MatchString(path.Base(obj.Key)) {
			continue
		}
		objects = append(objects, obj)
	}

	// Keys embed the timestamp, so lexical order is chronological
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key > objects[j].Key })

	var removed []string
	for i := keep; i < len(objects); i++ {
		if err := u.client.RemoveObject(ctx, u.cfg.Bucket, objects[i].Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, err
		}
		removed = append(removed, objects[i].Key)
	}

	return removed, nil
}
