package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	defaultVectorDimension = 1024
)

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool   // Explicitly enable TLS without API Key
	VectorDimension int
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository handles vector operations for indexed document segments.
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewQdrantRepository creates a new QdrantRepository.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key).
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}

	var opts []grpc.DialOption

	// TLS is enabled if an API key is set or UseTLS is explicitly true.
	useTLS := cfg.UseTLS || cfg.APIKey != ""
	if useTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: vectorDimension,
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok {
			if size != uint64(r.vectorDimension) {
				return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
			}
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}
	config := info.GetConfig()
	if config == nil {
		return 0, false
	}
	params := config.GetParams()
	if params == nil {
		return 0, false
	}
	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}

	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}

	if paramsMap := vectors.GetParamsMap(); paramsMap != nil {
		for _, vectorParams := range paramsMap.GetMap() {
			if vectorParams == nil {
				continue
			}
			if size := vectorParams.GetSize(); size > 0 {
				return size, true
			}
		}
	}

	return 0, false
}

// SegmentPayload is the payload stored with each indexed document segment.
type SegmentPayload struct {
	DocumentID  string `json:"document_id"`
	Filename    string `json:"filename"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Text        string `json:"text"`
}

// Upsert inserts or updates a segment vector with its payload.
func (r *QdrantRepository) Upsert(ctx context.Context, pointID string, vector []float32, payload *SegmentPayload) error {
	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	points := []*pb.PointStruct{
		{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{
					Uuid: uid.String(),
				},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{
						Data: vector,
					},
				},
			},
			Payload: map[string]*pb.Value{
				"document_id":  {Kind: &pb.Value_StringValue{StringValue: payload.DocumentID}},
				"filename":     {Kind: &pb.Value_StringValue{StringValue: payload.Filename}},
				"chunk_index":  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(payload.ChunkIndex)}},
				"total_chunks": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(payload.TotalChunks)}},
				"text":         {Kind: &pb.Value_StringValue{StringValue: payload.Text}},
			},
		},
	}

	_, err = r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}

	return nil
}

// SearchResult represents a scored segment returned from Qdrant.
type SearchResult struct {
	ID      string
	Score   float32
	Payload *SegmentPayload
}

// Search performs a vector similarity search over indexed segments.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - vector: query embedding.
//   - topK: maximum number of results.
//   - documentIDs: optional filter restricting results to these documents.
// Returns:
//   - []SearchResult: scored segments, best first; empty when nothing matches.
//   - error: non-nil if the search call fails.
func (r *QdrantRepository) Search(ctx context.Context, vector []float32, topK int, documentIDs []string) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}

	if len(documentIDs) > 0 {
		req.Filter = buildDocumentFilter(documentIDs)
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, len(resp.Result))
	for i, scored := range resp.Result {
		results[i] = SearchResult{
			ID:      scored.Id.GetUuid(),
			Score:   scored.Score,
			Payload: parsePayload(scored.Payload),
		}
	}

	return results, nil
}

// DeleteByDocument removes every indexed segment belonging to a document.
func (r *QdrantRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: buildDocumentFilter([]string{documentID}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func buildDocumentFilter(documentIDs []string) *pb.Filter {
	conditions := make([]*pb.Condition, 0, len(documentIDs))
	for _, id := range documentIDs {
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: "document_id",
					Match: &pb.Match{
						MatchValue: &pb.Match_Keyword{Keyword: id},
					},
				},
			},
		})
	}
	return &pb.Filter{Should: conditions}
}

func parsePayload(payload map[string]*pb.Value) *SegmentPayload {
	p := &SegmentPayload{}
	if v, ok := payload["document_id"]; ok {
		p.DocumentID = v.GetStringValue()
	}
	if v, ok := payload["filename"]; ok {
		p.Filename = v.GetStringValue()
	}
	if v, ok := payload["chunk_index"]; ok {
		p.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload["total_chunks"]; ok {
		p.TotalChunks = int(v.GetIntegerValue())
	}
	if v, ok := payload["text"]; ok {
		p.Text = v.GetStringValue()
	}
	return p
}
