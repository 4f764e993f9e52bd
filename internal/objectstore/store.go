// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

// Package objectstore persists compressed recording payloads in S3-compatible
// storage. Writes go through a circuit breaker so a dead store surfaces as a
// fast failure instead of a stalled worker.
package objectstore

import (
	"bytes"
	"context"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kzhang87/neuropipe/internal/config"
	"github.com/kzhang87/neuropipe/internal/logging"
	"github.com/kzhang87/neuropipe/internal/metrics"
)

// ContentTypeZstd is the content type of every stored payload; originals are
// compressed before upload.
const ContentTypeZstd = "application/zstd"

// originalMimetypeKey preserves the uncompressed payload's mimetype as
// object metadata.
const originalMimetypeKey = "X-Original-Mimetype"

// minioAPI is the slice of minio.Client the store uses.
type minioAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader *bytes.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// minioClient adapts *minio.Client to minioAPI; PutObject narrows the reader
// type for test fakes.
type minioClient struct {
	*minio.Client
}

func (c *minioClient) PutObject(ctx context.Context, bucketName, objectName string, reader *bytes.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return c.Client.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}

// Store wraps a bucket in an S3-compatible object store.
type Store struct {
	client  minioAPI
	bucket  string
	breaker *gobreaker.CircuitBreaker[minio.UploadInfo]
	log     zerolog.Logger
}

// New connects to the object store described by cfg. The bucket is not
// touched until EnsureBucket runs.
func New(cfg config.ObjectStoreConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	return newStore(&minioClient{Client: client}, cfg.Bucket), nil
}

func newStore(client minioAPI, bucket string) *Store {
	log := logging.With().Str("component", "objectstore").Logger()
	s := &Store{
		client: client,
		bucket: bucket,
		log:    log,
	}
	s.breaker = gobreaker.NewCircuitBreaker[minio.UploadInfo](gobreaker.Settings{
		Name:        "objectstore",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.ObjectStoreBreakerState.Set(float64(to))
			log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("object store circuit breaker state changed")
		},
	})
	return s
}

// EnsureBucket creates the configured bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	s.log.Info().Str("bucket", s.bucket).Msg("creating bucket")
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

// Put uploads a compressed payload under the given key. originalMimetype is
// recorded as object metadata when non-empty.
func (s *Store) Put(ctx context.Context, key string, payload []byte, originalMimetype string) error {
	opts := minio.PutObjectOptions{ContentType: ContentTypeZstd}
	if originalMimetype != "" {
		opts.UserMetadata = map[string]string{originalMimetypeKey: originalMimetype}
	}

	_, err := s.breaker.Execute(func() (minio.UploadInfo, error) {
		return s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)), opts)
	})
	if err != nil {
		metrics.ObjectStoreOperations.WithLabelValues("put", "error").Inc()
		return err
	}
	metrics.ObjectStoreOperations.WithLabelValues("put", "ok").Inc()
	return nil
}

// Remove deletes an object. Used as the compensating action when the
// metadata insert after an upload fails; losing the race is harmless because
// the retried upload writes the same key.
func (s *Store) Remove(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		metrics.ObjectStoreOperations.WithLabelValues("remove", "error").Inc()
		return err
	}
	metrics.ObjectStoreOperations.WithLabelValues("remove", "ok").Inc()
	return nil
}
