package source

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/memeplatform/memeops/internal/config"
	opserrors "github.com/memeplatform/memeops/internal/errors"
	"github.com/memeplatform/memeops/internal/records"
)

// MongoSource implements Source on a MongoDB database.
type MongoSource struct {
	client *mongo.Client
	db     *mongo.Database
}

// OpenMongo connects to MongoDB and verifies connectivity. The database is
// taken from cfg.Database, falling back to the database named in the URI.
func OpenMongo(ctx context.Context, cfg config.SourceConfig) (*MongoSource, error) {
	name, err := DatabaseName(cfg)
	if err != nil {
		return nil, err
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if timeout := cfg.Timeout(); timeout > 0 {
		opts.SetConnectTimeout(timeout).SetServerSelectionTimeout(timeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, opserrors.NewSourceUnavailable(err)
	}

	s := &MongoSource{client: client, db: client.Database(name)}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// DatabaseName resolves the source database for cfg.
func DatabaseName(cfg config.SourceConfig) (string, error) {
	if cfg.Database != "" {
		return cfg.Database, nil
	}
	cs, err := connstring.ParseAndValidate(cfg.URI)
	if err != nil {
		return "", opserrors.NewConfigInvalid("source.uri", err.Error())
	}
	if cs.Database == "" {
		return "", opserrors.NewConfigInvalid("source.database", "is required when the URI names no database")
	}
	return cs.Database, nil
}

// Ping verifies the primary is reachable.
func (s *MongoSource) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return opserrors.NewSourceUnavailable(err)
	}
	return nil
}

// Fetch loads the whole collection for kind, sorted by _id.
func (s *MongoSource) Fetch(ctx context.Context, kind records.Kind) ([]records.Document, error) {
	coll := s.db.Collection(kind.Collection())
	cur, err := coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, opserrors.NewFetchFailed(kind.Label(), err)
	}

	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, opserrors.NewFetchFailed(kind.Label(), err)
	}

	docs := make([]records.Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, Normalize(m))
	}
	return docs, nil
}

// Close disconnects the client.
func (s *MongoSource) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Normalize converts a decoded BSON document into plain Go values: ObjectIDs
// become hex strings, DateTimes become time.Time, Decimal128 becomes its
// decimal string, and nested documents and arrays are converted recursively.
func Normalize(m bson.M) records.Document {
	doc := make(records.Document, len(m))
	for k, v := range m {
		doc[k] = normalizeValue(v)
	}
	return doc
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case primitive.Decimal128:
		return val.String()
	case primitive.Binary:
		return val.Data
	case primitive.Regex:
		return val.String()
	case primitive.Symbol:
		return string(val)
	case primitive.JavaScript:
		return string(val)
	case primitive.Null, primitive.Undefined:
		return nil
	case primitive.MinKey, primitive.MaxKey:
		return fmt.Sprintf("%T", val)
	case primitive.M:
		return map[string]any(Normalize(val))
	case map[string]any:
		return map[string]any(Normalize(bson.M(val)))
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case primitive.A:
		return normalizeSlice(val)
	case []any:
		return normalizeSlice(val)
	default:
		return val
	}
}

func normalizeSlice(in []any) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = normalizeValue(v)
	}
	return out
}
