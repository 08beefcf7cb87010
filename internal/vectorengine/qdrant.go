package vectorengine

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"intelhub/internal/hubtypes"
)

// payloadIDField carries the caller-supplied point id inside the payload
// whenever that id is not itself a valid Qdrant point id (Qdrant points
// must be an unsigned integer or a UUID); chunk ids of shape
// "<parent>#chunk_<n>" are neither, so they are deterministically mapped
// to a UUID5 and the original string is recovered from this field.
const payloadIDField = "_original_id"

// QdrantIndex is the VectorIndex implementation backing the on-disk
// index client loaded by the service façade.
type QdrantIndex struct {
	client *qdrant.Client
	metric string
}

// NewQdrantIndex parses a DSN of shape "host:port" or
// "host:port?api_key=...&metric=cosine" and connects.
func NewQdrantIndex(dsn string) (*QdrantIndex, error) {
	host, port, apiKey, metric, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorengine: %w: %v", hubtypes.ErrConnect, err)
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorengine: %w: %v", hubtypes.ErrConnect, err)
	}
	if metric == "" {
		metric = "cosine"
	}
	return &QdrantIndex{client: client, metric: metric}, nil
}

func parseDSN(dsn string) (host string, port int, apiKey, metric string, err error) {
	raw := dsn
	if !strings.Contains(raw, "://") {
		raw = "qdrant://" + raw
	}
	u, perr := url.Parse(raw)
	if perr != nil {
		return "", 0, "", "", perr
	}
	host = u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port = 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, "", "", err
		}
	}
	apiKey = u.Query().Get("api_key")
	metric = u.Query().Get("metric")
	return host, port, apiKey, metric, nil
}

func distanceFor(metric string) qdrant.Distance {
	switch strings.ToLower(metric) {
	case "euclid", "l2":
		return qdrant.Distance_Euclid
	case "dot":
		return qdrant.Distance_Dot
	case "manhattan":
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

func (q *QdrantIndex) EnsureCollection(ctx context.Context, collection string, dim int) error {
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("vectorengine: check collection %q: %w", collection, err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: distanceFor(q.metric),
		}),
	})
	if err != nil {
		return fmt.Errorf("vectorengine: create collection %q: %w", collection, err)
	}
	return nil
}

// pointID maps an arbitrary caller id to a Qdrant-legal point id,
// preserving the original string in the payload.
func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewID(id)
	}
	return qdrant.NewID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func (q *QdrantIndex) Upsert(ctx context.Context, collection string, points []VectorPoint) error {
	pts := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]any, len(p.Metadata)+1)
		for k, v := range p.Metadata {
			payload[k] = v
		}
		payload[payloadIDField] = p.ID
		pts = append(pts, &qdrant.PointStruct{
			Id:      pointID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         pts,
	})
	if err != nil {
		return fmt.Errorf("vectorengine: upsert into %q: %w", collection, err)
	}
	return nil
}

func (q *QdrantIndex) DeleteWhere(ctx context.Context, collection string, filter map[string]any) error {
	cond := matchFilter(filter)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorFilter(cond),
	})
	if err != nil {
		return fmt.Errorf("vectorengine: delete in %q: %w", collection, err)
	}
	return nil
}

func (q *QdrantIndex) Delete(ctx context.Context, collection, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointID(id)),
	})
	if err != nil {
		return fmt.Errorf("vectorengine: delete %q from %q: %w", id, collection, err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, collection string, vector []float32, limit int, filter map[string]any) ([]VectorRecord, error) {
	lim := uint64(limit)
	result, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         matchFilter(filter),
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorengine: search in %q: %w", collection, err)
	}
	out := make([]VectorRecord, 0, len(result))
	for _, r := range result {
		out = append(out, toRecord(r.Id, r.Score, r.Payload))
	}
	return out, nil
}

func (q *QdrantIndex) Count(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	exact := true
	result, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         matchFilter(filter),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("vectorengine: count in %q: %w", collection, err)
	}
	return int64(result), nil
}

func (q *QdrantIndex) List(ctx context.Context, collection string, limit, offset int) ([]VectorRecord, error) {
	lim := uint32(limit)
	result, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorengine: list in %q: %w", collection, err)
	}
	out := make([]VectorRecord, 0, len(result))
	for i, r := range result {
		if i < offset {
			continue
		}
		out = append(out, toRecord(r.Id, 0, r.Payload))
	}
	return out, nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

func toRecord(id *qdrant.PointId, score float32, payload map[string]*qdrant.Value) VectorRecord {
	meta := make(map[string]any, len(payload))
	for k, v := range payload {
		meta[k] = qdrant.NewGoValue(v)
	}
	recID := ""
	if v, ok := meta[payloadIDField].(string); ok {
		recID = v
	} else if id != nil {
		recID = id.String()
	}
	delete(meta, payloadIDField)
	return VectorRecord{ID: recID, Score: score, Metadata: meta}
}

// matchFilter builds an AND-of-equality Qdrant filter from a flat
// metadata map. A nil/empty filter matches every point.
func matchFilter(filter map[string]any) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		switch val := v.(type) {
		case string:
			must = append(must, qdrant.NewMatch(k, val))
		case int:
			must = append(must, qdrant.NewMatchInt(k, int64(val)))
		case int64:
			must = append(must, qdrant.NewMatchInt(k, val))
		case float64:
			must = append(must, qdrant.NewRange(k, &qdrant.Range{Gte: &val, Lte: &val}))
		}
	}
	return &qdrant.Filter{Must: must}
}
