// Package milvus keeps the vector index in a Milvus collection with an L2
// IVF_FLAT index.
package milvus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"intellichat/internal/vectorindex"
)

const (
	posField    = "pos"
	vectorField = "embedding"
)

// Config holds connection details for a Milvus collection.
type Config struct {
	Address    string
	Username   string
	Password   string
	Database   string
	Collection string
	Timeout    time.Duration
}

// Backend wraps the Milvus SDK client for one collection.
type Backend struct {
	client     *milvusclient.Client
	collection string
}

// New connects to Milvus.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "intellichat"
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}
	return &Backend{client: c, collection: cfg.Collection}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return "milvus" }

// Create drops any existing collection, then creates, indexes and loads an
// empty one.
func (b *Backend) Create(ctx context.Context, dimension int) (vectorindex.Index, error) {
	if dimension <= 0 {
		return nil, errors.New("invalid dimension")
	}
	exists, err := b.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(b.collection))
	if err != nil {
		return nil, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		if err := b.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(b.collection)); err != nil {
			return nil, fmt.Errorf("failed to drop collection: %w", err)
		}
	}

	schema := entity.NewSchema().
		WithName(b.collection).
		WithDescription("intellichat document vectors").
		WithAutoID(false)
	schema.WithField(
		entity.NewField().
			WithName(posField).
			WithDataType(entity.FieldTypeInt64).
			WithIsPrimaryKey(true),
	)
	schema.WithField(
		entity.NewField().
			WithName(vectorField).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dimension)),
	)
	if err := b.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(b.collection, schema)); err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	idx := index.NewIvfFlatIndex(entity.L2, 128)
	createIdxTask, err := b.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(b.collection, vectorField, idx))
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	if err := createIdxTask.Await(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for index creation: %w", err)
	}
	if err := b.load(ctx); err != nil {
		return nil, err
	}
	return &Index{backend: b, dimension: dimension}, nil
}

func (b *Backend) load(ctx context.Context) error {
	loadTask, err := b.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(b.collection))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}
	return nil
}

// Persist flushes inserted rows so they survive a restart.
func (b *Backend) Persist(ctx context.Context, _ vectorindex.Index) error {
	flushTask, err := b.client.Flush(ctx, milvusclient.NewFlushOption(b.collection))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}
	return nil
}

// Load reopens an existing, non-empty collection.
func (b *Backend) Load(ctx context.Context) (vectorindex.Index, error) {
	exists, err := b.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(b.collection))
	if err != nil {
		return nil, fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return nil, vectorindex.ErrNotPersisted
	}
	stats, err := b.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(b.collection))
	if err != nil {
		return nil, fmt.Errorf("failed to get collection stats: %w", err)
	}
	var rows int64
	if val, ok := stats["row_count"]; ok {
		if rows, err = strconv.ParseInt(val, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid row_count %q: %w", val, err)
		}
	}
	if rows == 0 {
		return nil, vectorindex.ErrNotPersisted
	}

	coll, err := b.client.DescribeCollection(ctx, milvusclient.NewDescribeCollectionOption(b.collection))
	if err != nil {
		return nil, fmt.Errorf("failed to describe collection: %w", err)
	}
	dim := 0
	for _, f := range coll.Schema.Fields {
		if f.Name == vectorField {
			dim, _ = strconv.Atoi(f.TypeParams["dim"])
		}
	}
	if dim <= 0 {
		return nil, fmt.Errorf("collection %s has no %s dimension", b.collection, vectorField)
	}
	if err := b.load(ctx); err != nil {
		return nil, err
	}
	return &Index{backend: b, dimension: dim, count: int(rows)}, nil
}

// Close closes the client connection.
func (b *Backend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.client.Close(ctx)
}

// Index is a handle on a loaded collection.
type Index struct {
	backend   *Backend
	dimension int
	mu        sync.Mutex
	count     int
}

// Dimension returns the vector width.
func (x *Index) Dimension() int { return x.dimension }

// Len returns the number of rows.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.count
}

// Add inserts vectors with primary keys continuing from Len.
func (x *Index) Add(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	if err := vectorindex.CheckDimensions(x.dimension, vectors); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	pos := make([]int64, len(vectors))
	for i := range pos {
		pos[i] = int64(x.count + i)
	}
	_, err := x.backend.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(x.backend.collection,
		column.NewColumnInt64(posField, pos),
		column.NewColumnFloatVector(vectorField, x.dimension, vectors),
	))
	if err != nil {
		return fmt.Errorf("failed to insert data: %w", err)
	}
	x.count += len(vectors)
	return nil
}

// Search runs an ANN query. Milvus L2 scores are already squared distances.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]int, []float64, error) {
	if len(query) != x.dimension {
		return nil, nil, fmt.Errorf("%w: query has %d, index has %d", vectorindex.ErrDimensionMismatch, len(query), x.dimension)
	}
	if k <= 0 {
		return nil, nil, nil
	}
	results, err := x.backend.client.Search(ctx, milvusclient.NewSearchOption(
		x.backend.collection,
		k,
		[]entity.Vector{entity.FloatVector(query)},
	).WithANNSField(vectorField).
		WithSearchParam("nprobe", "16"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return nil, nil, nil
	}
	rs := results[0]
	idCol, ok := rs.IDs.(*column.ColumnInt64)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected id column %T", rs.IDs)
	}
	type hit struct {
		id   int
		dist float64
	}
	hits := make([]hit, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		hits[i] = hit{id: int(idCol.Data()[i]), dist: float64(rs.Scores[i])}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].dist != hits[b].dist {
			return hits[a].dist < hits[b].dist
		}
		return hits[a].id < hits[b].id
	})
	ids := make([]int, len(hits))
	dists := make([]float64, len(hits))
	for i, h := range hits {
		ids[i], dists[i] = h.id, h.dist
	}
	return ids, dists, nil
}
