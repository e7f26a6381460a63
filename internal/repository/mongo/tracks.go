package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sampurr/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// TrackRepository is the catalog of published tracks.
type TrackRepository struct {
	collection *mongo.Collection
}

type trackDoc struct {
	ID          string `bson:"_id"`
	Title       string `bson:"title"`
	Thumbnail   string `bson:"thumbnail"`
	Duration    string `bson:"duration"`
	SourceURL   string `bson:"sourceUrl"`
	SizeBytes   int64  `bson:"sizeBytes"`
	PublishedAt int64  `bson:"publishedAt"`
}

func NewTrackRepository(client *mongo.Client, dbName, collectionName string) *TrackRepository {
	return &TrackRepository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *TrackRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "publishedAt", Value: -1}}},
		{Keys: bson.D{{Key: "title", Value: "text"}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

// Upsert records a published track, replacing any previous record for its id.
func (r *TrackRepository) Upsert(ctx context.Context, rec domain.TrackRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	doc := toTrackDoc(rec)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (r *TrackRepository) Get(ctx context.Context, id domain.TrackID) (domain.TrackRecord, error) {
	var doc trackDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.TrackRecord{}, domain.ErrNotFound
		}
		return domain.TrackRecord{}, err
	}
	return fromTrackDoc(doc), nil
}

// ListRecent returns the most recently published tracks first.
func (r *TrackRepository) ListRecent(ctx context.Context, limit int) ([]domain.TrackRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "publishedAt", Value: -1}}).
		SetLimit(int64(clampLimit(limit)))
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []trackDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	records := make([]domain.TrackRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, fromTrackDoc(doc))
	}
	return records, nil
}

func (r *TrackRepository) Delete(ctx context.Context, id domain.TrackID) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func toTrackDoc(rec domain.TrackRecord) trackDoc {
	published := rec.PublishedAt
	if published.IsZero() {
		published = time.Now()
	}
	return trackDoc{
		ID:          string(rec.ID),
		Title:       rec.Title,
		Thumbnail:   rec.Thumbnail,
		Duration:    rec.Duration,
		SourceURL:   rec.SourceURL,
		SizeBytes:   rec.SizeBytes,
		PublishedAt: published.UTC().Unix(),
	}
}

func fromTrackDoc(doc trackDoc) domain.TrackRecord {
	return domain.TrackRecord{
		ID:          domain.TrackID(doc.ID),
		Title:       doc.Title,
		Thumbnail:   doc.Thumbnail,
		Duration:    doc.Duration,
		SourceURL:   doc.SourceURL,
		SizeBytes:   doc.SizeBytes,
		PublishedAt: time.Unix(doc.PublishedAt, 0).UTC(),
	}
}
