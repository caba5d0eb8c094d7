// Package artifact persists schema snapshots to MinIO-compatible object
// storage, so an extraction can be shared or diffed outside the service.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dbwhisper/dbwhisper/internal/config"
	"github.com/dbwhisper/dbwhisper/internal/errs"
	"github.com/dbwhisper/dbwhisper/internal/logger"
	"github.com/dbwhisper/dbwhisper/internal/schema"
)

// Store uploads and retrieves schema snapshots.
// It is safe for concurrent use by multiple goroutines.
type Store struct {
	client *miniogo.Client
	bucket string
	log    *logger.Logger
}

// New connects to the object store and ensures the snapshot bucket
// exists. It validates the connection before returning.
func New(ctx context.Context, cfg config.ArtifactConfig, log *logger.Logger) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errs.New(errs.ErrKindConfiguration, "artifact.endpoint is required for snapshot upload")
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create object store client", err)
	}

	s := &Store{client: client, bucket: cfg.Bucket, log: log}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, mapError(err, "failed to check snapshot bucket")
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, miniogo.MakeBucketOptions{}); err != nil {
			return nil, mapError(err, "failed to create snapshot bucket")
		}
		log.Infof("created snapshot bucket %q", cfg.Bucket)
	}

	return s, nil
}

// SnapshotKey names a snapshot object for owner taken at ts.
func SnapshotKey(owner string, ts time.Time) string {
	return fmt.Sprintf("schemas/%s/%s.json", owner, ts.UTC().Format("20060102T150405Z"))
}

// Upload serialises the schema and writes it under a timestamped key.
// Returns the object key.
func (s *Store) Upload(ctx context.Context, meta *schema.Schema) (string, error) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", errs.Wrap(errs.ErrKindQueryFailed, "failed to serialise schema snapshot", err)
	}

	key := SnapshotKey(meta.Owner, time.Now())

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), miniogo.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", mapError(err, "failed to upload schema snapshot")
	}

	s.log.Infof("uploaded schema snapshot %s (%d bytes)", key, len(data))
	return key, nil
}

// Download fetches and decodes the snapshot stored at key.
func (s *Store) Download(ctx context.Context, key string) (*schema.Schema, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to get schema snapshot")
	}
	defer obj.Close()

	var meta schema.Schema
	if err := json.NewDecoder(obj).Decode(&meta); err != nil {
		return nil, mapError(err, "failed to decode schema snapshot")
	}
	return &meta, nil
}

// List returns the snapshot keys stored for owner, newest last.
func (s *Store) List(ctx context.Context, owner string) ([]string, error) {
	opts := miniogo.ListObjectsOptions{
		Prefix:    "schemas/" + owner + "/",
		Recursive: true,
	}

	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list schema snapshots")
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
