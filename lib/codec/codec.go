package codec

import (
	"errors"
	"fmt"
)

// SplitFunc turns a value into its ordered fragments
type SplitFunc[V any] func(value V) ([][]byte, error)

// JoinFunc rebuilds a value from fragments in split order
type JoinFunc[V any] func(frags [][]byte) (V, error)

// Codec converts a value to and from an ordered sequence of fragments.
// Join(Split(v)) must be equal to v, the map does not verify this.
type Codec[V any] struct {
	Split SplitFunc[V]
	Join  JoinFunc[V]
}

// ErrFragmentCount is returned by Join when the number of fragments does not fit the codec
var ErrFragmentCount = errors.New("codec: unexpected fragment count")

// Single returns the default codec: the serialized value is one fragment
func Single[V any](s Serializer) Codec[V] {
	return Codec[V]{
		Split: func(value V) ([][]byte, error) {
			b, err := s.Serialize(value)
			if err != nil {
				return nil, fmt.Errorf("serialize (%s): %w", s.Name(), err)
			}
			return [][]byte{b}, nil
		},
		Join: func(frags [][]byte) (V, error) {
			var value V
			if len(frags) != 1 {
				return value, fmt.Errorf("%w: got %d, want 1", ErrFragmentCount, len(frags))
			}
			if err := s.Deserialize(frags[0], &value); err != nil {
				return value, fmt.Errorf("deserialize (%s): %w", s.Name(), err)
			}
			return value, nil
		},
	}
}

// Chunked serializes the value and cuts the bytes into fragments of at most size bytes.
// An empty serialization still yields one (empty) fragment.
func Chunked[V any](s Serializer, size int) (Codec[V], error) {
	if size <= 0 {
		return Codec[V]{}, fmt.Errorf("codec: chunk size must be positive, got %d", size)
	}
	return Codec[V]{
		Split: func(value V) ([][]byte, error) {
			b, err := s.Serialize(value)
			if err != nil {
				return nil, fmt.Errorf("serialize (%s): %w", s.Name(), err)
			}
			frags := make([][]byte, 0, len(b)/size+1)
			for len(b) > size {
				frags = append(frags, b[:size:size])
				b = b[size:]
			}
			return append(frags, b), nil
		},
		Join: func(frags [][]byte) (V, error) {
			var value V
			if len(frags) == 0 {
				return value, fmt.Errorf("%w: got 0", ErrFragmentCount)
			}
			total := 0
			for _, f := range frags {
				total += len(f)
			}
			buf := make([]byte, 0, total)
			for _, f := range frags {
				buf = append(buf, f...)
			}
			if err := s.Deserialize(buf, &value); err != nil {
				return value, fmt.Errorf("deserialize (%s): %w", s.Name(), err)
			}
			return value, nil
		},
	}, nil
}

// Funcs builds a codec from user functions, a nil function falls back to Single(s)
func Funcs[V any](split SplitFunc[V], join JoinFunc[V], s Serializer) Codec[V] {
	def := Single[V](s)
	c := Codec[V]{Split: split, Join: join}
	if c.Split == nil {
		c.Split = def.Split
	}
	if c.Join == nil {
		c.Join = def.Join
	}
	return c
}

// Compressed wraps inner so that every fragment is compressed after Split and
// decompressed before Join. NoCompression returns inner unchanged.
func Compressed[V any](inner Codec[V], t Compression) (Codec[V], error) {
	if !t.IsSupported() {
		return Codec[V]{}, fmt.Errorf("codec: unsupported compression %s", t)
	}
	if t == NoCompression {
		return inner, nil
	}
	return Codec[V]{
		Split: func(value V) ([][]byte, error) {
			frags, err := inner.Split(value)
			if err != nil {
				return nil, err
			}
			out := make([][]byte, len(frags))
			for i, f := range frags {
				if out[i], err = Compress(t, f); err != nil {
					return nil, fmt.Errorf("fragment %d: %w", i, err)
				}
			}
			return out, nil
		},
		Join: func(frags [][]byte) (V, error) {
			plain := make([][]byte, len(frags))
			for i, f := range frags {
				var err error
				if plain[i], err = Decompress(t, f); err != nil {
					var zero V
					return zero, fmt.Errorf("fragment %d: %w", i, err)
				}
			}
			return inner.Join(plain)
		},
	}, nil
}
