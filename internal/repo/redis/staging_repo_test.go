package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/funnytutor6/tutorconnect/internal/domain/enums"
	"github.com/funnytutor6/tutorconnect/internal/domain/model"
)

func TestStagingRepoPutGetDelete(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewStagingRepo(client, time.Hour)
	ctx := context.Background()

	resourceID := int64(9)
	purchaseID := int64(31)
	record := model.StagingRecord{
		OperationID: "op-1",
		Kind:        enums.OperationKindDirectPurchase,
		ViewerID:    5,
		ResourceID:  &resourceID,
		PurchaseID:  &purchaseID,
		SessionRef:  "cs_test_1",
		CreatedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := repo.Put(ctx, record); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := repo.Get(ctx, "cs_test_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OperationID != "op-1" || got.PurchaseID == nil || *got.PurchaseID != 31 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if ttl := mr.TTL(stagingOpKey("cs_test_1")); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}

	byViewer, err := repo.GetForViewer(ctx, 5)
	if err != nil {
		t.Fatalf("get for viewer: %v", err)
	}
	if byViewer.SessionRef != "cs_test_1" {
		t.Fatalf("unexpected viewer slot: %+v", byViewer)
	}

	if err := repo.Delete(ctx, "cs_test_1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, "cs_test_1"); !errors.Is(err, ErrStagingNotFound) {
		t.Fatalf("expected ErrStagingNotFound, got %v", err)
	}
	if mr.Exists(stagingViewerKey(5)) {
		t.Fatalf("expected viewer slot to be cleared")
	}
	if err := repo.Delete(ctx, "cs_test_1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestStagingRepoSingleSlotPerViewer(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewStagingRepo(client, time.Hour)
	ctx := context.Background()

	first := model.StagingRecord{OperationID: "op-1", Kind: enums.OperationKindSubscription, ViewerID: 7, SessionRef: "cs_a"}
	second := model.StagingRecord{OperationID: "op-2", Kind: enums.OperationKindSubscription, ViewerID: 7, SessionRef: "cs_b"}
	if err := repo.Put(ctx, first); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := repo.Put(ctx, second); err != nil {
		t.Fatalf("put second: %v", err)
	}

	if _, err := repo.Get(ctx, "cs_a"); !errors.Is(err, ErrStagingNotFound) {
		t.Fatalf("expected first record to be replaced, got %v", err)
	}
	got, err := repo.GetForViewer(ctx, 7)
	if err != nil {
		t.Fatalf("get for viewer: %v", err)
	}
	if got.OperationID != "op-2" {
		t.Fatalf("expected op-2 in slot, got %s", got.OperationID)
	}

	// Deleting a record the slot no longer points at leaves the slot alone.
	if err := repo.Delete(ctx, "cs_a"); err != nil {
		t.Fatalf("delete stale: %v", err)
	}
	if !mr.Exists(stagingViewerKey(7)) {
		t.Fatalf("expected viewer slot to survive")
	}
}

func TestStagingRepoExpires(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewStagingRepo(client, time.Minute)
	ctx := context.Background()

	if err := repo.Put(ctx, model.StagingRecord{OperationID: "op", ViewerID: 3, SessionRef: "cs_x"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := repo.Get(ctx, "cs_x"); !errors.Is(err, ErrStagingNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if _, err := repo.GetForViewer(ctx, 3); !errors.Is(err, ErrStagingNotFound) {
		t.Fatalf("expected slot expiry, got %v", err)
	}
}

func TestStagingRepoRejectsIncompleteRecord(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := NewStagingRepo(client, time.Minute)
	if err := repo.Put(context.Background(), model.StagingRecord{ViewerID: 3}); err == nil {
		t.Fatalf("expected error for missing session ref")
	}
}

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})

	return mr, client
}
