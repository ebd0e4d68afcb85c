package vectorstore

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"kbetl/internal/kberr"
)

// payloadIDField stores a record's original VectorID in the point payload.
// Qdrant point ids must be UUIDs or unsigned integers, so ids that are not
// already UUIDs are mapped through a deterministic SHA1 UUID and the
// original value is recovered from the payload on read.
const payloadIDField = "_vector_id"

// qdrantStore maps one knowledge base to one Qdrant collection, named
// kb_<kbID>, created lazily on first use.
type qdrantStore struct {
	client    *qdrant.Client
	dimension int
	metric    string

	mu      sync.Mutex
	ensured map[string]bool
}

// NewQdrant dials Qdrant's gRPC API (default port 6334). An api_key query
// parameter on dsn, e.g. "http://localhost:6334?api_key=...", is forwarded
// as the client's API key.
func NewQdrant(dsn string, dimension int, metric string) (Store, error) {
	if dimension <= 0 {
		return nil, kberr.Newf(kberr.InvalidArgument, "qdrant vector store requires dimension > 0")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, kberr.Wrap(kberr.InvalidArgument, err, "parse qdrant dsn")
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, kberr.Wrap(kberr.InvalidArgument, err, "invalid port in qdrant dsn")
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, kberr.Wrap(kberr.Transient, err, "create qdrant client")
	}
	return &qdrantStore{
		client:    client,
		dimension: dimension,
		metric:    strings.ToLower(strings.TrimSpace(metric)),
		ensured:   make(map[string]bool),
	}, nil
}

func (q *qdrantStore) Dimension() int { return q.dimension }
func (q *qdrantStore) Close() error   { return q.client.Close() }

func (q *qdrantStore) collectionName(kbID string) string { return "kb_" + kbID }

func (q *qdrantStore) ensureCollection(ctx context.Context, kbID string) error {
	name := q.collectionName(kbID)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured[name] {
		return nil
	}
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "check qdrant collection %s", name)
	}
	if !exists {
		var distance qdrant.Distance
		switch q.metric {
		case "l2", "euclidean":
			distance = qdrant.Distance_Euclid
		case "ip", "dot":
			distance = qdrant.Distance_Dot
		case "manhattan":
			distance = qdrant.Distance_Manhattan
		default:
			distance = qdrant.Distance_Cosine
		}
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.dimension),
				Distance: distance,
			}),
		})
		if err != nil {
			return kberr.Wrap(kberr.Transient, err, "create qdrant collection %s", name)
		}
	}
	q.ensured[name] = true
	return nil
}

func pointUUID(vectorID string) string {
	if _, err := uuid.Parse(vectorID); err == nil {
		return vectorID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(vectorID)).String()
}

func (q *qdrantStore) Upsert(ctx context.Context, kbID, workspaceID string, records []Record) error {
	if err := validateRecords(kbID, workspaceID, records); err != nil {
		return err
	}
	if err := q.ensureCollection(ctx, kbID); err != nil {
		return err
	}
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != q.dimension {
			return kberr.Newf(kberr.DataError, "record %s has %d dimensions, store expects %d", r.VectorID, len(r.Vector), q.dimension)
		}
		uuidStr := pointUUID(r.VectorID)
		payload := map[string]any{
			"kb_id":        r.Payload.KBID,
			"workspace_id": r.Payload.WorkspaceID,
			"document_id":  r.Payload.DocumentID,
			"chunk_id":     r.Payload.ChunkID,
			"ordinal":      r.Payload.Ordinal,
			"enabled":      r.Payload.Enabled,
		}
		if uuidStr != r.VectorID {
			payload[payloadIDField] = r.VectorID
		}
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName(kbID),
		Points:         points,
	})
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "upsert qdrant points")
	}
	return nil
}

func (q *qdrantStore) buildFilter(filter Filter) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch("workspace_id", filter.WorkspaceID)}
	if filter.DocumentID != "" {
		must = append(must, qdrant.NewMatch("document_id", filter.DocumentID))
	}
	if filter.EnabledOnly {
		must = append(must, qdrant.NewMatchBool("enabled", true))
	}
	return &qdrant.Filter{Must: must}
}

func (q *qdrantStore) Delete(ctx context.Context, kbID string, filter Filter) error {
	if err := ensureFilterBuilt(filter); err != nil {
		return err
	}
	if err := q.ensureCollection(ctx, kbID); err != nil {
		return err
	}
	var selector *qdrant.PointsSelector
	if len(filter.ChunkIDs) > 0 {
		ids := make([]*qdrant.PointId, 0, len(filter.ChunkIDs))
		for _, id := range filter.ChunkIDs {
			ids = append(ids, qdrant.NewIDUUID(pointUUID(id)))
		}
		selector = qdrant.NewPointsSelector(ids...)
	} else {
		selector = qdrant.NewPointsSelectorFilter(q.buildFilter(filter))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName(kbID),
		Points:         selector,
	})
	if err != nil {
		return kberr.Wrap(kberr.Transient, err, "delete qdrant points")
	}
	return nil
}

func (q *qdrantStore) Search(ctx context.Context, kbID string, query []float32, k int, filter Filter) ([]Result, error) {
	if err := ensureFilterBuilt(filter); err != nil {
		return nil, err
	}
	if err := q.ensureCollection(ctx, kbID); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(query))
	copy(vec, query)
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collectionName(kbID),
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         q.buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, kberr.Wrap(kberr.Transient, err, "query qdrant points")
	}
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		vectorID := hit.Id.GetUuid()
		pl := Payload{KBID: kbID}
		if hit.Payload != nil {
			if v, ok := hit.Payload[payloadIDField]; ok {
				vectorID = v.GetStringValue()
			}
			if v, ok := hit.Payload["workspace_id"]; ok {
				pl.WorkspaceID = v.GetStringValue()
			}
			if v, ok := hit.Payload["document_id"]; ok {
				pl.DocumentID = v.GetStringValue()
			}
			if v, ok := hit.Payload["chunk_id"]; ok {
				pl.ChunkID = v.GetStringValue()
			}
			if v, ok := hit.Payload["ordinal"]; ok {
				pl.Ordinal = int(v.GetIntegerValue())
			}
			if v, ok := hit.Payload["enabled"]; ok {
				pl.Enabled = v.GetBoolValue()
			}
		}
		out = append(out, Result{VectorID: vectorID, Score: float64(hit.Score), Payload: pl})
	}
	return out, nil
}

func (q *qdrantStore) Count(ctx context.Context, kbID string, filter Filter) (int, error) {
	if err := ensureFilterBuilt(filter); err != nil {
		return 0, err
	}
	if err := q.ensureCollection(ctx, kbID); err != nil {
		return 0, err
	}
	exact := true
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collectionName(kbID),
		Filter:         q.buildFilter(filter),
		Exact:          &exact,
	})
	if err != nil {
		return 0, kberr.Wrap(kberr.Transient, err, "count qdrant points")
	}
	return int(count), nil
}
