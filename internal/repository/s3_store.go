package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"

	"collab-hub/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// S3API is the part of *s3.Client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store writes one object per snapshot:
//
//	<prefix>/<room>/snapshots/<seq, 20 digits>_<uuid8>.xml
//
// Zero-padded sequence numbers make lexical key order match save order.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3StoreFromEnv builds a client from the default AWS credential chain.
func NewS3StoreFromEnv(ctx context.Context, bucket, prefix string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	return NewS3Store(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *S3Store) roomPrefix(roomID string) string {
	return path.Join(s.prefix, roomID, "snapshots") + "/"
}

func (s *S3Store) objectKey(roomID string, seq int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%020d_%s.xml", s.roomPrefix(roomID), seq, suffix)
}

func (s *S3Store) SaveSnapshot(ctx context.Context, roomID, content string, seq int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(roomID, seq)),
		Body:        bytes.NewReader([]byte(content)),
		ContentType: aws.String("application/xml"),
		Metadata: map[string]string{
			"room-id": roomID,
			"seq":     strconv.FormatInt(seq, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}
	return nil
}

func (s *S3Store) LoadSnapshot(ctx context.Context, roomID string) (*models.Snapshot, error) {
	keys, err := s.listKeys(ctx, s.roomPrefix(roomID))
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return s.getSnapshot(ctx, roomID, keys[len(keys)-1])
}

// ListSnapshots returns up to limit snapshots for a room, newest first.
// Every snapshot is a GET, so callers should keep limit small.
func (s *S3Store) ListSnapshots(ctx context.Context, roomID string, limit int) ([]*models.Snapshot, error) {
	keys, err := s.listKeys(ctx, s.roomPrefix(roomID))
	if err != nil {
		return nil, err
	}

	snapshots := make([]*models.Snapshot, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if limit > 0 && len(snapshots) == limit {
			break
		}
		snapshot, err := s.getSnapshot(ctx, roomID, keys[i])
		if err != nil {
			return nil, err
		}
		if snapshot != nil {
			snapshots = append(snapshots, snapshot)
		}
	}
	return snapshots, nil
}

// getSnapshot fetches one object. A key deleted since it was listed reads
// as nil.
func (s *S3Store) getSnapshot(ctx context.Context, roomID, key string) (*models.Snapshot, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}

	snapshot := &models.Snapshot{
		ID:      path.Base(key),
		RoomID:  roomID,
		Seq:     seqFromKey(key),
		Content: string(data),
	}
	if resp.LastModified != nil {
		snapshot.CreatedAt = *resp.LastModified
	}
	return snapshot, nil
}

// PruneSnapshots keeps the newest keep objects under every room prefix.
func (s *S3Store) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	root := ""
	if s.prefix != "" {
		root = s.prefix + "/"
	}
	keys, err := s.listKeys(ctx, root)
	if err != nil {
		return 0, err
	}

	byRoom := make(map[string][]string)
	for _, key := range keys {
		dir := path.Dir(key)
		byRoom[dir] = append(byRoom[dir], key)
	}

	var deleted int64
	for _, roomKeys := range byRoom {
		if len(roomKeys) <= keep {
			continue
		}
		for _, key := range roomKeys[:len(roomKeys)-keep] {
			_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return deleted, fmt.Errorf("failed to delete %s: %w", key, err)
			}
			deleted++
		}
	}
	return deleted, nil
}

// listKeys returns every key under prefix in ascending order.
func (s *S3Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}

	for {
		out, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if obj.Key != nil && strings.HasSuffix(*obj.Key, ".xml") {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	sort.Strings(keys)
	return keys, nil
}

func seqFromKey(key string) int64 {
	base := path.Base(key)
	if i := strings.IndexByte(base, '_'); i > 0 {
		if seq, err := strconv.ParseInt(base[:i], 10, 64); err == nil {
			return seq
		}
	}
	return 0
}
