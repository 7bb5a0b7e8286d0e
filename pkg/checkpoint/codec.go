// Package checkpoint persists the cluster pool to object storage so a
// restarted consumer resumes with its full clustering history. The
// distance matrix is intentionally not part of the blob: it is
// reconstructible from centroids, and omitting it keeps checkpoints
// proportional to pool size rather than its square.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/newswire-labs/clusterstream/pkg/pool"
)

// ErrCorrupt reports a checkpoint blob that cannot be decoded into a
// consistent pool. Fatal on startup.
var ErrCorrupt = errors.New("checkpoint: corrupt blob")

const codecVersion = 1

// Blob layout, little-endian:
//
//	header:  version u32 | dim u32 | count u32
//	entry:   idLen u32 | id bytes | isCluster u8 | memberCount u32 |
//	         { memberLen u32 | member bytes } x memberCount |
//	         centroid f32 x dim

// Encode serializes the pool into a self-describing binary blob.
func Encode(st *pool.Store) []byte {
	size := 12
	st.Each(func(id string, members []string, centroid []float32, isCluster bool) {
		size += 4 + len(id) + 1 + 4
		for _, m := range members {
			size += 4 + len(m)
		}
		size += 4 * len(centroid)
	})

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, codecVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(st.Dim()))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(st.Size()))

	st.Each(func(id string, members []string, centroid []float32, isCluster bool) {
		buf = appendString(buf, id)
		if isCluster {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(members)))
		for _, m := range members {
			buf = appendString(buf, m)
		}
		for _, v := range centroid {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	})
	return buf
}

// Decode reconstructs a pool from a blob produced by Encode. Any
// truncation, version mismatch, or internal inconsistency yields an
// error wrapping ErrCorrupt.
func Decode(data []byte) (*pool.Store, error) {
	r := &reader{data: data}

	version, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if version != codecVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrCorrupt, version)
	}
	dim, err := r.uint32()
	if err != nil {
		return nil, err
	}
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, count)
	members := make([][]string, 0, count)
	centroids := make([][]float32, 0, count)
	isCluster := make([]bool, 0, count)

	for i := uint32(0); i < count; i++ {
		id, err := r.str()
		if err != nil {
			return nil, err
		}
		flag, err := r.byte()
		if err != nil {
			return nil, err
		}
		if flag > 1 {
			return nil, fmt.Errorf("%w: slot %d has flag byte %d", ErrCorrupt, i, flag)
		}
		memberCount, err := r.uint32()
		if err != nil {
			return nil, err
		}
		slotMembers := make([]string, 0, memberCount)
		for j := uint32(0); j < memberCount; j++ {
			m, err := r.str()
			if err != nil {
				return nil, err
			}
			slotMembers = append(slotMembers, m)
		}
		centroid := make([]float32, dim)
		for j := uint32(0); j < dim; j++ {
			bits, err := r.uint32()
			if err != nil {
				return nil, err
			}
			centroid[j] = math.Float32frombits(bits)
		}

		ids = append(ids, id)
		members = append(members, slotMembers)
		centroids = append(centroids, centroid)
		isCluster = append(isCluster, flag == 1)
	}

	if r.pos != len(r.data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(r.data)-r.pos)
	}

	st, err := pool.Restore(int(dim), ids, members, centroids, isCluster)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return st, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

type reader struct {
	data []byte
	pos  int
}

func (r *reader) uint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("%w: truncated at byte %d", ErrCorrupt, r.pos)
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("%w: truncated at byte %d", ErrCorrupt, r.pos)
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) str() (string, error) {
	n, err := r.uint32()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.data) {
		return "", fmt.Errorf("%w: truncated string at byte %d", ErrCorrupt, r.pos)
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}
