package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const qdrantUpsertBatch = 100

// QdrantStore keeps chunk vectors in a Qdrant collection over gRPC.
// Point ids must be UUIDs, so the human-readable chunk id is hashed into
// a deterministic UUID and carried verbatim in the payload.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dim        uint64
}

func NewQdrantStore(host string, port int, collection string, dim int) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	s := &QdrantStore{
		client:     client,
		collection: collection,
		dim:        uint64(dim),
	}
	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrant unreachable: %w", err)
	}
	if err := s.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		result, err := s.client.HealthCheck(ctx)
		if err != nil {
			return err
		}
		if result == nil || result.Title == "" {
			return fmt.Errorf("health check returned invalid response")
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	// Payload indexes keep filtered searches fast.
	for _, field := range []string{"chunk_id", "doc_id", "document_type"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("create index for field %s: %w", field, err)
		}
	}
	return nil
}

func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String())
}

func (s *QdrantStore) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
		})
		return err
	}, backoff.WithContext(bo, ctx))
}

func (s *QdrantStore) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	for i, e := range entries {
		if uint64(len(e.Vector)) != s.dim {
			return fmt.Errorf("upsert entry %d (%s): %w: got %d, collection has %d",
				i, e.ChunkID, ErrDimensionMismatch, len(e.Vector), s.dim)
		}
	}

	for i := 0; i < len(entries); i += qdrantUpsertBatch {
		end := i + qdrantUpsertBatch
		if end > len(entries) {
			end = len(entries)
		}

		batch := entries[i:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j, e := range batch {
			points[j] = &qdrant.PointStruct{
				Id:      pointID(e.ChunkID),
				Vectors: qdrant.NewVectors(e.Vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"chunk_id":      e.ChunkID,
					"doc_id":        e.Meta.DocID,
					"title":         e.Meta.Title,
					"path":          e.Meta.Path,
					"document_type": e.Meta.DocumentType,
					"created_at":    e.Meta.CreatedAt,
					"section":       e.Meta.Section,
					"chunk_index":   e.Meta.ChunkIndex,
					"text":          e.Meta.Text,
				}),
			}
		}
		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

func (s *QdrantStore) DeleteByDoc(ctx context.Context, docID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("doc_id", docID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("delete chunks for doc %s: %w", docID, err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int, filters *Filters) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	if uint64(len(vector)) != s.dim {
		return nil, fmt.Errorf("search: %w: got %d, collection has %d",
			ErrDimensionMismatch, len(vector), s.dim)
	}

	total, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(CandidatePool(k, total))),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	var hits []Hit
	for _, result := range results {
		m := payloadMetadata(result.Payload)
		if !filters.Match(m) {
			continue
		}
		hits = append(hits, Hit{
			ChunkID: m.ChunkID,
			Score:   float64(result.Score),
			Meta:    m,
		})
		if len(hits) >= k {
			break
		}
	}
	return hits, nil
}

func (s *QdrantStore) Get(ctx context.Context, chunkID string) (*Metadata, error) {
	result, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{pointID(chunkID)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", chunkID, err)
	}
	if len(result) == 0 {
		return nil, ErrChunkNotFound
	}
	m := payloadMetadata(result[0].Payload)
	return &m, nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return 0, fmt.Errorf("get collection info: %w", err)
	}
	return int(info.GetPointsCount()), nil
}

func payloadMetadata(payload map[string]*qdrant.Value) Metadata {
	return Metadata{
		ChunkID:      payload["chunk_id"].GetStringValue(),
		DocID:        payload["doc_id"].GetStringValue(),
		Title:        payload["title"].GetStringValue(),
		Path:         payload["path"].GetStringValue(),
		DocumentType: payload["document_type"].GetStringValue(),
		CreatedAt:    payload["created_at"].GetStringValue(),
		Section:      payload["section"].GetStringValue(),
		ChunkIndex:   int(payload["chunk_index"].GetIntegerValue()),
		Text:         payload["text"].GetStringValue(),
	}
}
