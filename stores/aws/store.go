package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"boardsync/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// persistedBoard mirrors the filesystem envelope: one JSON object per
// project under boards/.
type persistedBoard struct {
	ProjectID string          `json:"projectId"`
	Snapshot  json.RawMessage `json:"snapshot"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type s3Store struct {
	s3Client *s3.Client
	bucket   string
}

// NewStore creates a new S3-based board store.
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

func boardKey(projectID string) (string, error) {
	// A project id must be a simple name, not a path. Base() leaves
	// "." and ".." untouched, so they need their own check.
	if projectID == "" || projectID == "." || projectID == ".." ||
		path.Base(projectID) != projectID {
		return "", fmt.Errorf("invalid project id %q", projectID)
	}
	return path.Join("boards", projectID+".json"), nil
}

func (s *s3Store) GetOrCreate(ctx context.Context, projectID string) (*core.BoardRecord, error) {
	key, err := boardKey(projectID)
	if err != nil {
		return nil, err
	}

	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return s.create(ctx, projectID, key)
		}
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return decodeBoard(projectID, raw)
}

func (s *s3Store) create(ctx context.Context, projectID, key string) (*core.BoardRecord, error) {
	now := time.Now().UTC()
	record := &core.BoardRecord{
		ProjectID: projectID,
		Snapshot:  core.Snapshot{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.put(ctx, key, record); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	logrus.WithField("project_id", projectID).Info("Board created")
	return record, nil
}

func (s *s3Store) Save(ctx context.Context, projectID string, snapshot core.Snapshot) (*core.BoardRecord, error) {
	key, err := boardKey(projectID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &core.BoardRecord{
		ProjectID: projectID,
		Snapshot:  snapshot,
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Preserve CreatedAt on update.
	if existing, err := s.GetOrCreate(ctx, projectID); err == nil {
		record.CreatedAt = existing.CreatedAt
	}

	if err := s.put(ctx, key, record); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	return record, nil
}

func (s *s3Store) put(ctx context.Context, key string, record *core.BoardRecord) error {
	snapshot, err := json.Marshal(record.Snapshot)
	if err != nil {
		return err
	}
	data, err := json.Marshal(persistedBoard{
		ProjectID: record.ProjectID,
		Snapshot:  snapshot,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	})
	if err != nil {
		return err
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func decodeBoard(projectID string, raw []byte) (*core.BoardRecord, error) {
	var stored persistedBoard
	if err := json.Unmarshal(raw, &stored); err != nil {
		logrus.WithField("project_id", projectID).Warn("Stored board object has an unrecognized format, loading blank board")
		return &core.BoardRecord{ProjectID: projectID, Recovered: true}, nil
	}

	snapshot, recovered := core.ParseSnapshot(stored.Snapshot)
	if recovered {
		logrus.WithField("project_id", projectID).Warn("Stored snapshot has an unrecognized format, loading blank board")
	}

	return &core.BoardRecord{
		ProjectID: projectID,
		Snapshot:  snapshot,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
		Recovered: recovered,
	}, nil
}
