package vectorindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantIndex implements Index against a Qdrant instance, grounded on the
// corpus's qdrant/go-client usage: CollectionExists/CreateCollection guard
// collection creation on first write, payload fields round-trip through
// qdrant.Value, and Search takes the raw query vector (spec §4.3 defines
// cosine similarity, which is exactly Qdrant's Distance_Cosine metric).
type QdrantIndex struct {
	client *qdrant.Client
}

// Config names the Qdrant endpoint to dial.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// NewQdrantIndex dials a Qdrant instance and returns an Index.
func NewQdrantIndex(cfg Config) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &QdrantIndex{client: client}, nil
}

// Close releases the underlying Qdrant connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

var _ Index = (*QdrantIndex)(nil)

func (q *QdrantIndex) ensureCollection(ctx context.Context, collection string, dim uint64) error {
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", collection, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}
	return nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, collection string, p Point) error {
	if err := q.ensureCollection(ctx, collection, uint64(len(p.Vector))); err != nil {
		return err
	}

	payload := make(map[string]*qdrant.Value, len(p.Metadata))
	for k, v := range p.Metadata {
		val, err := qdrant.NewValue(v)
		if err != nil {
			return fmt.Errorf("converting metadata %s for point %s: %w", k, p.ID, err)
		}
		payload[k] = val
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("upserting point %s into %s: %w", p.ID, collection, err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, collection string, query []float32, topK int, filter map[string]string) ([]Match, error) {
	req := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         query,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key:   k,
						Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}},
					},
				},
			})
		}
		req.Filter = &qdrant.Filter{Must: conditions}
	}

	points, err := q.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", collection, err)
	}

	out := make([]Match, 0, len(points.Result))
	for _, sp := range points.Result {
		out = append(out, Match{
			ID:       pointIDString(sp.Id),
			Score:    float64(sp.Score),
			Metadata: stringPayload(sp.Payload),
		})
	}
	return out, nil
}

func (q *QdrantIndex) Delete(ctx context.Context, collection, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting point %s from %s: %w", id, collection, err)
	}
	return nil
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}

func stringPayload(payload map[string]*qdrant.Value) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if s, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			out[k] = s.StringValue
		}
	}
	return out
}
