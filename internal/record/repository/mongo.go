package repository

import (
	"context"
	"errors"
	"time"

	"github.com/censo/censo/backend/go-services/internal/record"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepo stores one Mongo document per date, keyed by _id = date.
// The version check and the replace happen in a single filtered
// ReplaceOne, so concurrent writers cannot both succeed against the same
// expected version.
type MongoRepo struct {
	col *mongo.Collection
}

type mongoRecord struct {
	ID          string    `bson:"_id"`
	LastUpdated time.Time `bson:"lastUpdated"`
	Data        bson.M    `bson:"data"`
}

func NewMongoRepo(col *mongo.Collection) *MongoRepo {
	// listing recent dates sorts on lastUpdated
	idxModel := mongo.IndexModel{Keys: bson.D{{Key: "lastUpdated", Value: -1}}}
	_, _ = col.Indexes().CreateOne(context.Background(), idxModel)
	return &MongoRepo{col: col}
}

func (m *MongoRepo) Get(ctx context.Context, key string) (*record.Document, error) {
	var r mongoRecord
	err := m.col.FindOne(ctx, bson.M{"_id": key}).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, record.ErrNotFound
		}
		return nil, err
	}
	return fromMongo(&r), nil
}

func (m *MongoRepo) Put(ctx context.Context, key string, doc *record.Document, expected time.Time) error {
	rec := toMongo(key, doc)
	res, err := m.col.ReplaceOne(ctx, bson.M{"_id": key, "lastUpdated": expected.UTC()}, rec)
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}

	cur, err := m.Get(ctx, key)
	if err == nil {
		return &record.ConcurrencyError{Key: key, Expected: expected, Current: cur.LastUpdated}
	}
	if !errors.Is(err, record.ErrNotFound) {
		return err
	}
	// initial creation
	if _, err := m.col.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// lost the creation race to another writer
			cur, gerr := m.Get(ctx, key)
			if gerr != nil {
				return gerr
			}
			return &record.ConcurrencyError{Key: key, Expected: expected, Current: cur.LastUpdated}
		}
		return err
	}
	return nil
}

func (m *MongoRepo) Delete(ctx context.Context, key string) error {
	res, err := m.col.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return record.ErrNotFound
	}
	return nil
}

func (m *MongoRepo) List(ctx context.Context) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := m.col.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []string{}
	for cur.Next(ctx) {
		var r struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r.ID)
	}
	return out, cur.Err()
}

func toMongo(key string, doc *record.Document) *mongoRecord {
	data := bson.M{}
	for k, v := range doc.Data {
		data[k] = v
	}
	return &mongoRecord{ID: key, LastUpdated: doc.LastUpdated.UTC(), Data: data}
}

func fromMongo(r *mongoRecord) *record.Document {
	d := &record.Document{Date: r.ID, LastUpdated: r.LastUpdated.UTC(), Data: map[string]any{}}
	for k, v := range r.Data {
		d.Data[k] = normalize(v)
	}
	return d
}

// normalize turns the driver's decoded BSON containers into the plain maps
// and slices the patch engine walks.
func normalize(v any) any {
	switch t := v.(type) {
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalize(vv)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalize(vv)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalize(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalize(vv)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case int32:
		return int64(t)
	default:
		return v
	}
}
