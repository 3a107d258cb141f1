package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/slidecast/lifecycled/internal/config"
	"github.com/slidecast/lifecycled/internal/metadata"
	metafirestore "github.com/slidecast/lifecycled/internal/metadata/firestore"
	metaoxia "github.com/slidecast/lifecycled/internal/metadata/oxia"
	metapostgres "github.com/slidecast/lifecycled/internal/metadata/postgres"
	"github.com/slidecast/lifecycled/internal/objectstore"
	"github.com/slidecast/lifecycled/internal/objectstore/gcs"
	"github.com/slidecast/lifecycled/internal/objectstore/minio"
	"github.com/slidecast/lifecycled/internal/objectstore/s3"
)

// openRecordStore connects to the configured metadata backend.
func openRecordStore(ctx context.Context, cfg *config.Config) (metadata.RecordStore, error) {
	m := cfg.Metadata
	switch m.Backend {
	case config.MetadataFirestore:
		store, err := metafirestore.New(ctx, metafirestore.Config{
			ProjectID:       m.Firestore.ProjectID,
			CredentialsFile: m.Firestore.CredentialsFile,
			Collection:      m.Collection,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.MetadataOxia:
		store, err := metaoxia.New(ctx, metaoxia.Config{
			ServiceAddress: m.Oxia.ServiceAddress,
			Namespace:      m.Oxia.Namespace,
			Collection:     m.Collection,
			RequestTimeout: m.Oxia.RequestTimeout,
			SessionTimeout: m.Oxia.SessionTimeout,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.MetadataPostgres:
		store, err := metapostgres.New(ctx, metapostgres.Config{
			DSN:        m.Postgres.DSN,
			Collection: m.Collection,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported metadata backend %q", m.Backend)
	}
}

// openObjectStore connects to the configured blob backend.
func openObjectStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	o := cfg.ObjectStore
	switch o.Backend {
	case config.ObjectStoreGCS:
		store, err := gcs.New(ctx, gcs.Config{
			Bucket:          o.Bucket,
			CredentialsFile: o.GCS.CredentialsFile,
			Endpoint:        o.GCS.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.ObjectStoreS3:
		store, err := s3.New(ctx, s3.Config{
			Bucket:          o.Bucket,
			Region:          o.S3.Region,
			Endpoint:        o.S3.Endpoint,
			AccessKeyID:     o.S3.AccessKey,
			SecretAccessKey: o.S3.SecretKey,
			UsePathStyle:    o.S3.UsePathStyle,
			DisableSSL:      strings.HasPrefix(o.S3.Endpoint, "http://"),
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.ObjectStoreMinIO:
		store, err := minio.New(ctx, minio.Config{
			Endpoint:        o.MinIO.Endpoint,
			AccessKeyID:     o.MinIO.AccessKey,
			SecretAccessKey: o.MinIO.SecretKey,
			UseSSL:          o.MinIO.UseSSL,
			Bucket:          o.Bucket,
			Region:          o.MinIO.Region,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported object store backend %q", o.Backend)
	}
}
