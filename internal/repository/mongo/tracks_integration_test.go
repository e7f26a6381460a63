package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"

	"sampurr/internal/domain"
)

// testMongoURI defaults to localhost:27017. Set MONGO_TEST_URI to override.
func testMongoURI() string {
	if uri := os.Getenv("MONGO_TEST_URI"); uri != "" {
		return uri
	}
	return "mongodb://localhost:27017"
}

// setupTrackRepo skips the test when MongoDB is unreachable.
func setupTrackRepo(t *testing.T) *TrackRepository {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	uri := testMongoURI()
	client, err := Connect(ctx, uri,
		options.Client().SetConnectTimeout(3*time.Second).SetServerSelectionTimeout(3*time.Second))
	if err != nil {
		t.Skipf("MongoDB not available at %s: %v", uri, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		t.Skipf("MongoDB ping failed at %s: %v", uri, err)
	}

	dbName := fmt.Sprintf("sampurr_test_%d", time.Now().UnixNano())
	repo := NewTrackRepository(client, dbName, "tracks")
	if err := repo.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		t.Fatalf("EnsureIndexes: %v", err)
	}
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = client.Database(dbName).Drop(ctx2)
		_ = client.Disconnect(ctx2)
	})
	return repo
}

func TestTrackRepositoryLifecycle(t *testing.T) {
	repo := setupTrackRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []domain.TrackID{"old", "new"} {
		rec := domain.TrackRecord{ID: id, Title: string(id), Duration: "3:00", PublishedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := repo.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert %s: %v", id, err)
		}
	}
	// Upserting again replaces rather than duplicates.
	if err := repo.Upsert(ctx, domain.TrackRecord{ID: "old", Title: "renamed", PublishedAt: base}); err != nil {
		t.Fatalf("Upsert replace: %v", err)
	}

	got, err := repo.Get(ctx, "old")
	if err != nil || got.Title != "renamed" {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	list, err := repo.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(list) != 2 || list[0].ID != "new" || list[1].ID != "old" {
		t.Fatalf("ListRecent = %+v", list)
	}

	if err := repo.Delete(ctx, "old"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, "old"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
	if _, err := repo.Get(ctx, "old"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get deleted = %v, want ErrNotFound", err)
	}
}

func TestTrackRepositoryRejectsInvalidRecord(t *testing.T) {
	repo := setupTrackRepo(t)
	if err := repo.Upsert(context.Background(), domain.TrackRecord{ID: "../bad"}); err == nil {
		t.Fatal("expected validation error")
	}
}
