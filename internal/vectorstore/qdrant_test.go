package vectorstore

import (
	"context"
	"errors"
	"sort"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/dshills/repoqa/pkg/types"
)

// fakePoints keeps points in memory and answers Search with Euclid
// distances, honoring every keyword Must condition.
type fakePoints struct {
	pb.PointsClient
	points    map[string]*pb.PointStruct
	lastQuery *pb.SearchPoints
	searchErr error
}

func (f *fakePoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	if f.points == nil {
		f.points = make(map[string]*pb.PointStruct)
	}
	for _, p := range in.GetPoints() {
		f.points[p.GetId().GetUuid()] = p
	}
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	f.lastQuery = in
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var res []*pb.ScoredPoint
	for _, p := range f.points {
		if !matchesMust(p, in.GetFilter().GetMust()) {
			continue
		}
		d := L2Distance(in.GetVector(), p.GetVectors().GetVector().GetData())
		res = append(res, &pb.ScoredPoint{Id: p.GetId(), Payload: p.GetPayload(), Score: float32(d)})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Score < res[j].Score })
	if uint64(len(res)) > in.GetLimit() {
		res = res[:in.GetLimit()]
	}
	return &pb.SearchResponse{Result: res}, nil
}

func matchesMust(p *pb.PointStruct, must []*pb.Condition) bool {
	for _, c := range must {
		field := c.GetField()
		if p.GetPayload()[field.GetKey()].GetStringValue() != field.GetMatch().GetKeyword() {
			return false
		}
	}
	return true
}

type fakeCollections struct {
	pb.CollectionsClient
	names   []string
	created []*pb.CreateCollection
	listErr error
}

func (f *fakeCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	resp := &pb.ListCollectionsResponse{}
	for _, n := range f.names {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (f *fakeCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.created = append(f.created, in)
	f.names = append(f.names, in.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func TestQdrant_UpsertQuery(t *testing.T) {
	ctx := context.Background()
	points := &fakePoints{}
	cols := &fakeCollections{}
	q := newQdrantWithClients(points, cols, "proj_idx")

	require.NoError(t, q.Upsert(ctx, "sess-1", []Item{
		{ID: "repo:c:a.py:1-3", Vector: []float32{0, 0}, Metadata: ChunkMetadata("a.py", 1, 3, "python")},
		{ID: "repo:c:b.py:1-9", Vector: []float32{3, 4}, Metadata: ChunkMetadata("b.py", 1, 9, "python")},
	}))
	require.NoError(t, q.Upsert(ctx, "sess-2", []Item{{ID: "other", Vector: []float32{0, 0}}}))

	require.Len(t, cols.created, 1, "collection created once")
	params := cols.created[0].GetVectorsConfig().GetParams()
	assert.Equal(t, uint64(2), params.GetSize())
	assert.Equal(t, pb.Distance_Euclid, params.GetDistance())

	got, err := q.Query(ctx, "sess-1", []float32{0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "repo:c:a.py:1-3", got[0].ID, "chunk id restored from payload")
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.InDelta(t, 1.0/6.0, got[1].Score, 1e-6)
	assert.Equal(t, "a.py", got[0].Metadata[MetaPath])
	_, leaked := got[0].Metadata[metaNamespace]
	assert.False(t, leaked)
	assert.Equal(t, uint64(5), points.lastQuery.GetLimit())
}

func TestQdrant_QueryFiltered(t *testing.T) {
	ctx := context.Background()
	points := &fakePoints{}
	q := newQdrantWithClients(points, &fakeCollections{}, "idx")
	require.NoError(t, q.Upsert(ctx, "ns", []Item{
		{ID: "py", Vector: []float32{0, 0}, Metadata: ChunkMetadata("a.py", 1, 3, "python")},
		{ID: "go", Vector: []float32{1, 1}, Metadata: ChunkMetadata("b.go", 1, 3, "go")},
	}))

	got, err := q.QueryFiltered(ctx, "ns", []float32{0, 0}, 5, Filter{MetaLang: "go", MetaPath: "b.go", metaNamespace: "ignored"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "go", got[0].ID)

	must := points.lastQuery.GetFilter().GetMust()
	require.Len(t, must, 3, "namespace plus two metadata keys")
	keys := make([]string, len(must))
	for i, c := range must {
		keys[i] = c.GetField().GetKey()
	}
	assert.Equal(t, []string{metaNamespace, MetaLang, MetaPath}, keys)
	assert.Equal(t, "ns", must[0].GetField().GetMatch().GetKeyword())

	unfiltered, err := q.Query(ctx, "ns", []float32{0, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, unfiltered, 2)
	assert.Len(t, points.lastQuery.GetFilter().GetMust(), 1)
}

func TestQdrant_ExistingCollection(t *testing.T) {
	cols := &fakeCollections{names: []string{"idx"}}
	q := newQdrantWithClients(&fakePoints{}, cols, "idx")
	require.NoError(t, q.Upsert(context.Background(), "ns", []Item{{ID: "a", Vector: []float32{1}}}))
	assert.Empty(t, cols.created)
}

func TestQdrant_Errors(t *testing.T) {
	ctx := context.Background()

	q := newQdrantWithClients(&fakePoints{}, &fakeCollections{listErr: errors.New("unavailable")}, "idx")
	err := q.Upsert(ctx, "ns", []Item{{ID: "a", Vector: []float32{1}}})
	assert.ErrorIs(t, err, types.ErrBackendUnavailable)

	q = newQdrantWithClients(&fakePoints{searchErr: errors.New("deadline")}, &fakeCollections{}, "idx")
	_, err = q.Query(ctx, "ns", []float32{1}, 3)
	assert.ErrorIs(t, err, types.ErrBackendUnavailable)
}

func TestPointID(t *testing.T) {
	assert.Equal(t, PointID("x"), PointID("x"))
	assert.NotEqual(t, PointID("x"), PointID("y"))
	assert.Len(t, PointID("x"), 36)
}

func TestPayloadString(t *testing.T) {
	assert.Equal(t, "s", payloadString(stringValue("s")))
	assert.Equal(t, "42", payloadString(&pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: 42}}))
	assert.Equal(t, "true", payloadString(&pb.Value{Kind: &pb.Value_BoolValue{BoolValue: true}}))
	assert.Equal(t, "", payloadString(nil))
}
