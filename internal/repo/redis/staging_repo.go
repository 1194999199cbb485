package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/funnytutor6/tutorconnect/internal/domain/model"
)

const (
	stagingOpPrefix     = "staging:op:"
	stagingViewerPrefix = "staging:viewer:"
)

var (
	ErrStagingNotFound    = errors.New("staging record not found")
	errInvalidStagingData = errors.New("invalid staging payload")
)

// StagingRepo keeps at most one in-flight checkout per viewer. Writing a new
// record for the same viewer drops the previous one.
type StagingRepo struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewStagingRepo(client *goredis.Client, ttl time.Duration) *StagingRepo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StagingRepo{client: client, ttl: ttl}
}

func (r *StagingRepo) Put(ctx context.Context, record model.StagingRecord) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	record.SessionRef = strings.TrimSpace(record.SessionRef)
	if record.SessionRef == "" || record.ViewerID <= 0 || record.OperationID == "" {
		return errInvalidStagingData
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal staging record: %w", err)
	}

	previous, err := r.client.Get(ctx, stagingViewerKey(record.ViewerID)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("read staging slot: %w", err)
	}

	pipe := r.client.TxPipeline()
	if previous != "" && previous != record.SessionRef {
		pipe.Del(ctx, stagingOpKey(previous))
	}
	pipe.Set(ctx, stagingOpKey(record.SessionRef), payload, r.ttl)
	pipe.Set(ctx, stagingViewerKey(record.ViewerID), record.SessionRef, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write staging record: %w", err)
	}

	return nil
}

func (r *StagingRepo) Get(ctx context.Context, sessionRef string) (model.StagingRecord, error) {
	if r.client == nil {
		return model.StagingRecord{}, fmt.Errorf("redis client is nil")
	}
	sessionRef = strings.TrimSpace(sessionRef)
	if sessionRef == "" {
		return model.StagingRecord{}, errInvalidStagingData
	}

	raw, err := r.client.Get(ctx, stagingOpKey(sessionRef)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return model.StagingRecord{}, ErrStagingNotFound
		}
		return model.StagingRecord{}, fmt.Errorf("get staging record: %w", err)
	}

	var record model.StagingRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return model.StagingRecord{}, fmt.Errorf("decode staging record: %w", err)
	}
	return record, nil
}

func (r *StagingRepo) GetForViewer(ctx context.Context, viewerID int64) (model.StagingRecord, error) {
	if r.client == nil {
		return model.StagingRecord{}, fmt.Errorf("redis client is nil")
	}
	if viewerID <= 0 {
		return model.StagingRecord{}, errInvalidStagingData
	}

	ref, err := r.client.Get(ctx, stagingViewerKey(viewerID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return model.StagingRecord{}, ErrStagingNotFound
		}
		return model.StagingRecord{}, fmt.Errorf("get staging slot: %w", err)
	}
	return r.Get(ctx, ref)
}

// Delete clears the record and, when it still points at this record, the
// viewer slot. Deleting a missing record is not an error.
func (r *StagingRepo) Delete(ctx context.Context, sessionRef string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	sessionRef = strings.TrimSpace(sessionRef)
	if sessionRef == "" {
		return errInvalidStagingData
	}

	record, err := r.Get(ctx, sessionRef)
	if err != nil && !errors.Is(err, ErrStagingNotFound) {
		return err
	}

	if err := r.client.Del(ctx, stagingOpKey(sessionRef)).Err(); err != nil {
		return fmt.Errorf("delete staging record: %w", err)
	}
	if record.ViewerID <= 0 {
		return nil
	}

	if err := releaseScript.Run(ctx, r.client, []string{stagingViewerKey(record.ViewerID)}, sessionRef).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("clear staging slot: %w", err)
	}
	return nil
}

func stagingOpKey(sessionRef string) string {
	return stagingOpPrefix + sessionRef
}

func stagingViewerKey(viewerID int64) string {
	return stagingViewerPrefix + strconv.FormatInt(viewerID, 10)
}
