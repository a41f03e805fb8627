package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/markb/firelite/internal/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo keeps each collection in a MongoDB collection of the same name.
// Documents are stored as {_id, data, createdAt, updatedAt}.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

type mongoDocument struct {
	ID        string    `bson:"_id"`
	Data      bson.Raw  `bson:"data"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// NewMongo connects and verifies the server is reachable.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}
	return &Mongo{client: client, db: client.Database(database)}, nil
}

func (m *Mongo) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := validateRef(collection, id); err != nil {
		return nil, err
	}
	var raw mongoDocument
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return raw.decode(collection)
}

func (m *Mongo) Find(ctx context.Context, collection string, q query.Query) ([]*Document, error) {
	if err := ValidateName("collection", collection); err != nil {
		return nil, err
	}
	compiled, err := q.Compile()
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(mongoSort(compiled))
	if compiled.Offset > 0 {
		opts.SetSkip(int64(compiled.Offset))
	}
	if compiled.Limit > 0 {
		opts.SetLimit(int64(compiled.Limit))
	}

	cursor, err := m.db.Collection(collection).Find(ctx, mongoFilter(compiled), opts)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	docs := make([]*Document, 0)
	for cursor.Next(ctx) {
		var raw mongoDocument
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("query %s: %w", collection, err)
		}
		doc, err := raw.decode(collection)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return docs, nil
}

func (m *Mongo) Create(ctx context.Context, collection string, data map[string]any) (*Document, error) {
	return m.Set(ctx, collection, uuid.NewString(), data)
}

func (m *Mongo) Set(ctx context.Context, collection, id string, data map[string]any) (*Document, error) {
	if err := validateRef(collection, id); err != nil {
		return nil, err
	}
	normalized, err := query.NormalizeDocument(data)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	update := bson.M{
		"$set":         bson.M{"data": normalized, "updatedAt": now},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var raw mongoDocument
	if err := m.db.Collection(collection).FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&raw); err != nil {
		return nil, fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	return raw.decode(collection)
}

// Update merges the patch server-side with $mergeObjects. $literal keeps
// string values that start with "$" from being read as field paths.
func (m *Mongo) Update(ctx context.Context, collection, id string, patch map[string]any) (*Document, error) {
	if err := validateRef(collection, id); err != nil {
		return nil, err
	}
	normalized, err := query.NormalizeDocument(patch)
	if err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "data", Value: bson.D{{Key: "$mergeObjects", Value: bson.A{"$data", bson.D{{Key: "$literal", Value: normalized}}}}}},
			{Key: "updatedAt", Value: time.Now().UTC()},
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var raw mongoDocument
	err = m.db.Collection(collection).FindOneAndUpdate(ctx, bson.M{"_id": id}, pipeline, opts).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return raw.decode(collection)
}

func (m *Mongo) Delete(ctx context.Context, collection, id string) error {
	if err := validateRef(collection, id); err != nil {
		return err
	}
	res, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// decode converts the BSON payload to plain JSON types via relaxed
// extended JSON so documents look the same from every backend.
func (d mongoDocument) decode(collection string) (*Document, error) {
	doc := &Document{
		ID:         d.ID,
		Collection: collection,
		Data:       map[string]any{},
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
	if len(d.Data) == 0 {
		return doc, nil
	}
	ext, err := bson.MarshalExtJSON(d.Data, false, false)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, d.ID, err)
	}
	if err := json.Unmarshal(ext, &doc.Data); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, d.ID, err)
	}
	return doc, nil
}

func mongoPath(field string) string {
	return "data." + field
}

var notArray = bson.D{{Key: "$type", Value: "array"}}

// mongoFilter renders a compiled query. Conditions go into $and so several
// conditions on one field do not collide.
func mongoFilter(q query.Query) bson.D {
	if len(q.Where) == 0 {
		return bson.D{}
	}
	clauses := make(bson.A, 0, len(q.Where))
	for _, c := range q.Where {
		clauses = append(clauses, bson.D{{Key: mongoPath(c.Field), Value: mongoCondition(c)}})
	}
	return bson.D{{Key: "$and", Value: clauses}}
}

func mongoCondition(c query.Condition) bson.D {
	switch c.Operator {
	case query.OpEqual:
		if c.Value == nil {
			// $eq null also matches missing fields.
			return bson.D{{Key: "$type", Value: "null"}, {Key: "$not", Value: notArray}}
		}
		if _, ok := c.Value.([]any); ok {
			return bson.D{{Key: "$eq", Value: c.Value}}
		}
		return bson.D{{Key: "$eq", Value: c.Value}, {Key: "$not", Value: notArray}}
	case query.OpNotEqual:
		return bson.D{{Key: "$exists", Value: true}, {Key: "$ne", Value: c.Value}}
	case query.OpLess:
		return bson.D{{Key: "$lt", Value: c.Value}, {Key: "$not", Value: notArray}}
	case query.OpLessEqual:
		return bson.D{{Key: "$lte", Value: c.Value}, {Key: "$not", Value: notArray}}
	case query.OpGreater:
		return bson.D{{Key: "$gt", Value: c.Value}, {Key: "$not", Value: notArray}}
	case query.OpGreaterEqual:
		return bson.D{{Key: "$gte", Value: c.Value}, {Key: "$not", Value: notArray}}
	case query.OpIn:
		return bson.D{{Key: "$exists", Value: true}, {Key: "$in", Value: c.Value}, {Key: "$not", Value: notArray}}
	case query.OpNotIn:
		return bson.D{{Key: "$exists", Value: true}, {Key: "$nin", Value: c.Value}}
	case query.OpArrayContains:
		return bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "$eq", Value: c.Value}}}}
	case query.OpArrayContainsAny:
		return bson.D{{Key: "$in", Value: c.Value}}
	}
	return bson.D{{Key: "$in", Value: bson.A{}}}
}

func mongoSort(q query.Query) bson.D {
	sort := make(bson.D, 0, len(q.OrderBy)+1)
	for _, o := range q.OrderBy {
		dir := 1
		if o.Desc() {
			dir = -1
		}
		sort = append(sort, bson.E{Key: mongoPath(o.Field), Value: dir})
	}
	return append(sort, bson.E{Key: "_id", Value: 1})
}
