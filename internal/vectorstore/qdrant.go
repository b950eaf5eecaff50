package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dshills/repoqa/pkg/types"
)

// KindQdrant names the Qdrant backend.
const KindQdrant = "qdrant"

// pointNamespace scopes chunk ids to deterministic Qdrant point UUIDs.
var pointNamespace = uuid.MustParse("6f1d0c55-3c1b-4c36-9a43-8f2f8e7a51d2")

// Qdrant is a Store backed by a Qdrant collection. Distances are Euclid
// and are reported as 1/(1+d).
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string

	mu    sync.Mutex
	ready bool
}

// NewQdrant dials addr (host:port of the gRPC API) lazily; no request is
// made until the first Upsert or Query.
func NewQdrant(addr, collection string) (*Qdrant, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant connect %s: %w", types.ErrBackendUnavailable, addr, err)
	}
	q := newQdrantWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	q.conn = conn
	return q, nil
}

func newQdrantWithClients(points pb.PointsClient, collections pb.CollectionsClient, collection string) *Qdrant {
	return &Qdrant{points: points, collections: collections, collection: collection}
}

func (q *Qdrant) Kind() string { return KindQdrant }

// PointID maps a chunk id to its Qdrant point UUID.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func (q *Qdrant) ensureCollection(ctx context.Context, dim int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}

	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			q.ready = true
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(dim), Distance: pb.Distance_Euclid},
		}},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}
	q.ready = true
	return nil
}

// Upsert writes items with their metadata and namespace as payload.
func (q *Qdrant) Upsert(ctx context.Context, namespace string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx, len(items[0].Vector)); err != nil {
		return fmt.Errorf("%w: qdrant: %w", types.ErrBackendUnavailable, err)
	}

	points := make([]*pb.PointStruct, len(items))
	for i, it := range items {
		payload := map[string]*pb.Value{
			metaNamespace: stringValue(namespace),
			metaID:        stringValue(it.ID),
		}
		for k, v := range it.Metadata {
			payload[k] = stringValue(v)
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(it.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: it.Vector}}},
			Payload: payload,
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant upsert: %w", types.ErrBackendUnavailable, err)
	}
	return nil
}

// Query searches namespace for the topK closest points.
func (q *Qdrant) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	return q.QueryFiltered(ctx, namespace, vector, topK, nil)
}

// QueryFiltered is Query with every filter key added as a keyword match
// condition on the point payload.
func (q *Qdrant) QueryFiltered(ctx context.Context, namespace string, vector []float32, topK int, filter Filter) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         queryFilter(namespace, filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant search: %w", types.ErrBackendUnavailable, err)
	}

	out := make([]Match, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		meta := make(map[string]string, len(pt.GetPayload()))
		var id string
		for k, v := range pt.GetPayload() {
			switch k {
			case metaID:
				id = v.GetStringValue()
			case metaNamespace:
			default:
				meta[k] = payloadString(v)
			}
		}
		if id == "" {
			id = pt.GetId().GetUuid()
		}
		out = append(out, Match{
			ID:       id,
			Score:    DistanceToSimilarity(float64(pt.GetScore())),
			Metadata: meta,
		})
	}
	sortMatches(out)
	return out, nil
}

func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// queryFilter builds the Must conditions of a search: the namespace
// first, then the filter keys in sorted order.
func queryFilter(namespace string, filter Filter) *pb.Filter {
	must := []*pb.Condition{keywordCondition(metaNamespace, namespace)}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if !reservedKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		must = append(must, keywordCondition(k, filter[k]))
	}
	return &pb.Filter{Must: must}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   key,
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
		}},
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func payloadString(v *pb.Value) string {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return strconv.FormatInt(k.IntegerValue, 10)
	case *pb.Value_DoubleValue:
		return strconv.FormatFloat(k.DoubleValue, 'f', -1, 64)
	case *pb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	default:
		return ""
	}
}
