// Package semantic owns every vector-store operation. QdrantStore talks to a
// Qdrant server over gRPC; LocalStore keeps collections in-process with
// chromem-go.
package semantic

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/reforma-ai/ragqa/engine/domain"
)

// DefaultTimeout bounds a single vector-store call.
const DefaultTimeout = 10 * time.Second

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantOptions configures the gRPC connection.
type QdrantOptions struct {
	APIKey  string
	TLS     bool
	Timeout time.Duration
}

// QdrantStore is a vector store backed by Qdrant.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	timeout     time.Duration
}

// NewQdrant creates a QdrantStore for the gRPC address (host:6334).
func NewQdrant(addr string, opts QdrantOptions) (*QdrantStore, error) {
	creds := insecure.NewCredentials()
	if opts.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if opts.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(apiKeyInterceptor(opts.APIKey)))
	}
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), opts.Timeout)
	s.conn = conn
	return s, nil
}

// NewWithClients builds a store on top of already constructed clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, timeout time.Duration) *QdrantStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &QdrantStore{points: points, collections: collections, timeout: timeout}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *QdrantStore) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// GetCollection reports the collection schema. found is false only when
// Qdrant answers NotFound; every other failure is returned as an error.
func (s *QdrantStore) GetCollection(ctx context.Context, name string) (domain.CollectionInfo, bool, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	resp, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.CollectionInfo{}, false, nil
		}
		return domain.CollectionInfo{}, false, domain.Unavailable("semantic: get collection "+name, err)
	}

	info := domain.CollectionInfo{Name: name, PointsCount: resp.GetResult().GetPointsCount()}
	params := resp.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params != nil {
		info.Dimension = int(params.GetSize())
		info.Distance = fromPBDistance(params.GetDistance())
	}
	return info, true, nil
}

// CreateCollection creates a single-vector collection.
func (s *QdrantStore) CreateCollection(ctx context.Context, spec domain.CollectionSpec) error {
	ctx, cancel := s.call(ctx)
	defer cancel()

	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(spec.Dimension),
					Distance: toPBDistance(spec.Distance),
				},
			},
		},
	})
	if err != nil {
		return domain.Unavailable("semantic: create collection "+spec.Name, err)
	}
	return nil
}

// DeleteCollection drops the collection. Deleting an absent collection is not an error.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	ctx, cancel := s.call(ctx)
	defer cancel()

	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil && status.Code(err) != codes.NotFound {
		return domain.Unavailable("semantic: delete collection "+name, err)
	}
	return nil
}

// Upsert writes all points in one request and waits for them to be applied.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := s.call(ctx)
	defer cancel()

	structs := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: encodePayload(p.Payload),
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("semantic: upsert %d points into %s: %w", len(points), collection, domain.ErrCollectionNotFound)
		}
		return domain.Unavailable(fmt.Sprintf("semantic: upsert %d points into %s", len(points), collection), err)
	}
	return nil
}

// Search returns the topK nearest points with their payloads, best first.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int) ([]domain.ScoredPoint, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("semantic: search %s: %w", collection, domain.ErrCollectionNotFound)
		}
		return nil, domain.Unavailable("semantic: search "+collection, err)
	}

	results := make([]domain.ScoredPoint, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		results[i] = domain.ScoredPoint{
			ID:      pointID(r.GetId()),
			Score:   r.GetScore(),
			Payload: decodePayload(r.GetPayload()),
		}
	}
	return results, nil
}

func pointID(id *pb.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func encodePayload(p domain.Payload) map[string]*pb.Value {
	out := map[string]*pb.Value{
		"title":   {Kind: &pb.Value_StringValue{StringValue: p.Title}},
		"content": {Kind: &pb.Value_StringValue{StringValue: p.Content}},
		"source":  {Kind: &pb.Value_StringValue{StringValue: p.Source}},
		"index":   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.Index)}},
	}
	if p.Model != "" {
		out["model"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: p.Model}}
	}
	return out
}

func decodePayload(m map[string]*pb.Value) domain.Payload {
	p := domain.Payload{
		Title:   m["title"].GetStringValue(),
		Content: m["content"].GetStringValue(),
		Source:  m["source"].GetStringValue(),
		Model:   m["model"].GetStringValue(),
	}
	if v, ok := m["index"]; ok {
		switch v.GetKind().(type) {
		case *pb.Value_IntegerValue:
			p.Index = int(v.GetIntegerValue())
		case *pb.Value_DoubleValue:
			p.Index = int(v.GetDoubleValue())
		}
	}
	return p
}

func toPBDistance(d domain.Distance) pb.Distance {
	switch d {
	case domain.DistanceDot:
		return pb.Distance_Dot
	case domain.DistanceEuclid:
		return pb.Distance_Euclid
	default:
		return pb.Distance_Cosine
	}
}

func fromPBDistance(d pb.Distance) domain.Distance {
	switch d {
	case pb.Distance_Dot:
		return domain.DistanceDot
	case pb.Distance_Euclid:
		return domain.DistanceEuclid
	default:
		return domain.DistanceCosine
	}
}
