// Copyright 2025 James Ross

// Package objectstore is the out-of-scope object-store collaborator:
// an S3-compatible client exposing the put/get/list/delete/purge-cache
// surface used by upload. It
// mirrors the patch-data directory layout exactly (changelog.json,
// dictionary, blocks/<hh>/<id>, bundles/<id>) as object keys.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"github.com/flyingrobots/patchkit/internal/config"
	"github.com/flyingrobots/patchkit/internal/obs"
	"github.com/flyingrobots/patchkit/internal/patcherr"
)

// Store is an S3-compatible object store client, configured from an
// explicit config.ObjectStore value rather than package-level globals
// or ambient environment reads (Design Note "Global configuration").
type Store struct {
	cfg      config.ObjectStore
	client   *s3.S3
	uploader *s3manager.Uploader
	log      *zap.Logger
}

// New builds a Store against the given object-store configuration. It
// does not verify bucket reachability; that happens lazily on first
// use so that local-only commands (create, validate) never require
// network access even when credentials happen to be set.
func New(cfg config.ObjectStore, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, patcherr.Config("objectstore.New: session", err)
	}

	return &Store{
		cfg:      cfg,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		log:      log,
	}, nil
}

// Put uploads data under key, overwriting any existing object. All
// patch-data objects except changelog.json are content-addressed and
// therefore immutable in practice; Put does not special-case that.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return patcherr.Network("objectstore.Put", err).WithPath(key)
	}
	s.log.Debug("uploaded object", obs.String("key", key), obs.Int("bytes", len(data)))
	return nil
}

// Get downloads the object at key in full.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, patcherr.Integrity("objectstore.Get", patcherr.ErrBlockNotFound).WithPath(key)
		}
		return nil, patcherr.Network("objectstore.Get", err).WithPath(key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, patcherr.Network("objectstore.Get: read body", err).WithPath(key)
	}
	return data, nil
}

// List enumerates every key under prefix, for upload planning (what
// already exists remotely) and GC sweeps.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, patcherr.Network("objectstore.List", err).WithPath(prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the objects at the given keys, batching in groups of
// 1000 (the S3 DeleteObjects limit).
func (s *Store) Delete(ctx context.Context, keys []string) error {
	const batchSize = 1000
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		objs := make([]*s3.ObjectIdentifier, 0, end-i)
		for _, k := range keys[i:end] {
			objs = append(objs, &s3.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.cfg.Bucket),
			Delete: &s3.Delete{Objects: objs},
		})
		if err != nil {
			return patcherr.Network("objectstore.Delete", err)
		}
	}
	return nil
}

// PurgeCache is called after a successful upload for changelog.json.
// Every other object is content-addressed and immutable, so the
// changelog is the only key whose CDN copy can go stale. PurgeCache
// calls no CDN API and invalidates nothing: with a CDN id configured
// it logs the purge request at info level, otherwise at debug level,
// and returns nil.
func (s *Store) PurgeCache(ctx context.Context, path string) error {
	if s.cfg.CDNID == "" {
		s.log.Debug("no cdn configured, skipping cache purge", obs.String("path", path))
		return nil
	}
	s.log.Info("purging cdn cache", obs.String("cdn_id", s.cfg.CDNID), obs.String("path", path))
	return nil
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), s3.ErrCodeNoSuchKey) || strings.Contains(err.Error(), "NotFound")
}

// Keys mirroring the local patch-data directory layout.
func ChangelogKey() string { return "changelog.json" }
func DictionaryKey() string { return "dictionary" }
func BlockKey(id string) string { return fmt.Sprintf("blocks/%s/%s", id[:2], id) }
func BundleKey(id string) string { return fmt.Sprintf("bundles/%s", id) }
