// Package flat implements an exact in-memory squared-L2 index and a backend
// that persists it to a single binary file.
package flat

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"intellichat/internal/vectorindex"
)

// Index is a brute-force squared-L2 index. Searches may run concurrently
// with each other and with Add.
type Index struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
}

// New returns an empty index for vectors of width dimension.
func New(dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, errors.New("flat: invalid dimension")
	}
	return &Index{dimension: dimension}, nil
}

// Dimension returns the vector width.
func (x *Index) Dimension() int { return x.dimension }

// Len returns the number of stored vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Add copies vectors into the index.
func (x *Index) Add(_ context.Context, vectors [][]float32) error {
	if err := vectorindex.CheckDimensions(x.dimension, vectors); err != nil {
		return err
	}
	cp := make([][]float32, len(vectors))
	for i, v := range vectors {
		cp[i] = append([]float32(nil), v...)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = append(x.vectors, cp...)
	return nil
}

// Vectors returns the stored vectors in id order. The slices must not be modified.
func (x *Index) Vectors() [][]float32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([][]float32(nil), x.vectors...)
}

// Search scans every vector.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]int, []float64, error) {
	if len(query) != x.dimension {
		return nil, nil, fmt.Errorf("%w: query has %d, index has %d", vectorindex.ErrDimensionMismatch, len(query), x.dimension)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	x.mu.RLock()
	type scored struct {
		id   int
		dist float64
	}
	all := make([]scored, len(x.vectors))
	for i, v := range x.vectors {
		all[i] = scored{id: i, dist: vectorindex.SquaredL2(query, v)}
	}
	x.mu.RUnlock()

	sort.Slice(all, func(a, b int) bool {
		if all[a].dist != all[b].dist {
			return all[a].dist < all[b].dist
		}
		return all[a].id < all[b].id
	})
	if k <= 0 {
		return nil, nil, nil
	}
	if k > len(all) {
		k = len(all)
	}
	ids := make([]int, k)
	dists := make([]float64, k)
	for n := 0; n < k; n++ {
		ids[n] = all[n].id
		dists[n] = all[n].dist
	}
	return ids, dists, nil
}

var magic = [4]byte{'I', 'C', 'F', 'X'}

const formatVersion = 1

// MarshalBinary stores: magic, version(uint32), dim(uint32), n(uint32), then
// n vectors of dim little-endian float32 values.
func (x *Index) MarshalBinary() ([]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]byte, 16, 16+4*x.dimension*len(x.vectors))
	copy(out[0:4], magic[:])
	binary.LittleEndian.PutUint32(out[4:8], formatVersion)
	binary.LittleEndian.PutUint32(out[8:12], uint32(x.dimension))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(x.vectors)))
	for _, v := range x.vectors {
		out = AppendVector(out, v)
	}
	return out, nil
}

// UnmarshalBinary restores the index from bytes produced by MarshalBinary.
func (x *Index) UnmarshalBinary(data []byte) error {
	if len(data) < 16 || [4]byte(data[0:4]) != magic {
		return errors.New("flat: not an index file")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != formatVersion {
		return fmt.Errorf("flat: unsupported format version %d", v)
	}
	dim64 := uint64(binary.LittleEndian.Uint32(data[8:12]))
	n64 := uint64(binary.LittleEndian.Uint32(data[12:16]))
	if dim64 == 0 {
		return errors.New("flat: invalid dimension")
	}
	// n*dim fits in uint64 for 32-bit factors; the byte count may not
	body := data[16:]
	if len(body)%4 != 0 || n64*dim64 != uint64(len(body)/4) {
		return fmt.Errorf("flat: truncated data: header says %d vectors of %d, have %d bytes", n64, dim64, len(body))
	}
	dim, n := int(dim64), int(n64)
	vecs := make([][]float32, n)
	for i := range vecs {
		v, err := DecodeVector(body[i*dim*4 : (i+1)*dim*4])
		if err != nil {
			return err
		}
		vecs[i] = v
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.dimension = dim
	x.vectors = vecs
	return nil
}

// AppendVector appends v as little-endian float32 values.
func AppendVector(dst []byte, v []float32) []byte {
	for _, f := range v {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
	}
	return dst
}

// DecodeVector decodes little-endian float32 values.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("flat: invalid vector blob length %d (not multiple of 4)", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
