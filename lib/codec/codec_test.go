package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y int
	Tag  string
}

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() Serializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

func TestNewSerializer(t *testing.T) {
	for _, name := range []string{"json", "JSON", "gob", "binary", ""} {
		s, err := NewSerializer(name)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}
	s, _ := NewSerializer("")
	assert.Equal(t, "json", s.Name())

	_, err := NewSerializer("xml")
	assert.Error(t, err)
}

func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()

			in := []byte("raw bytes \x00\x01")
			b, err := s.Serialize(in)
			require.NoError(t, err)
			var out []byte
			require.NoError(t, s.Deserialize(b, &out))
			assert.Equal(t, in, out)

			b, err = s.Serialize("text")
			require.NoError(t, err)
			var str string
			require.NoError(t, s.Deserialize(b, &str))
			assert.Equal(t, "text", str)
		})
	}
}

func TestBinaryRejectsStructs(t *testing.T) {
	s := NewBinarySerializer()
	_, err := s.Serialize(point{X: 1})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	var p point
	assert.ErrorIs(t, s.Deserialize([]byte("x"), &p), ErrUnsupportedType)

	// serialized bytes do not alias the input
	in := []byte("abc")
	b, err := s.Serialize(in)
	require.NoError(t, err)
	b[0] = 'X'
	assert.Equal(t, []byte("abc"), in)
}

func TestSingleRoundTrip(t *testing.T) {
	c := Single[point](NewJSONSerializer())
	v := point{X: 3, Y: -4, Tag: "p"}

	frags, err := c.Split(v)
	require.NoError(t, err)
	require.Len(t, frags, 1)

	got, err := c.Join(frags)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = c.Join(nil)
	assert.ErrorIs(t, err, ErrFragmentCount)
	_, err = c.Join([][]byte{frags[0], frags[0]})
	assert.ErrorIs(t, err, ErrFragmentCount)
}

func TestChunked(t *testing.T) {
	_, err := Chunked[string](NewBinarySerializer(), 0)
	assert.Error(t, err)

	c, err := Chunked[string](NewBinarySerializer(), 4)
	require.NoError(t, err)

	cases := map[string]int{
		"":          1,
		"abc":       1,
		"abcd":      1,
		"abcde":     2,
		"abcdefghi": 3,
	}
	for in, n := range cases {
		frags, err := c.Split(in)
		require.NoError(t, err)
		assert.Len(t, frags, n, "value %q", in)
		for _, f := range frags {
			assert.LessOrEqual(t, len(f), 4)
		}

		got, err := c.Join(frags)
		require.NoError(t, err)
		assert.Equal(t, in, got)
	}

	_, err = c.Join(nil)
	assert.ErrorIs(t, err, ErrFragmentCount)
}

func TestChunkedOrderMatters(t *testing.T) {
	c, err := Chunked[string](NewBinarySerializer(), 2)
	require.NoError(t, err)

	frags, err := c.Split("aabbcc")
	require.NoError(t, err)
	require.Len(t, frags, 3)

	frags[0], frags[2] = frags[2], frags[0]
	got, err := c.Join(frags)
	require.NoError(t, err)
	assert.Equal(t, "ccbbaa", got)
}

func TestFuncsDefaults(t *testing.T) {
	split := func(v string) ([][]byte, error) {
		parts := strings.Split(v, ",")
		out := make([][]byte, len(parts))
		for i, p := range parts {
			out[i] = []byte(p)
		}
		return out, nil
	}
	join := func(frags [][]byte) (string, error) {
		return string(bytes.Join(frags, []byte(","))), nil
	}

	c := Funcs[string](split, join, NewJSONSerializer())
	frags, err := c.Split("a,b,c")
	require.NoError(t, err)
	assert.Len(t, frags, 3)
	got, err := c.Join(frags)
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", got)

	// a nil function falls back to the single fragment default
	c = Funcs[string](nil, nil, NewJSONSerializer())
	frags, err = c.Split("a,b,c")
	require.NoError(t, err)
	assert.Len(t, frags, 1)
	got, err = c.Join(frags)
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", got)
}

func TestCompressed(t *testing.T) {
	value := strings.Repeat("compressible ", 500)
	inner, err := Chunked[string](NewBinarySerializer(), 1024)
	require.NoError(t, err)

	for _, ct := range []Compression{NoCompression, SnappyCompression, ZstdCompression, LZ4Compression} {
		t.Run(ct.String(), func(t *testing.T) {
			c, err := Compressed(inner, ct)
			require.NoError(t, err)

			frags, err := c.Split(value)
			require.NoError(t, err)
			plain, err := inner.Split(value)
			require.NoError(t, err)
			require.Len(t, frags, len(plain))

			if ct != NoCompression {
				assert.Less(t, len(frags[0]), len(plain[0]))
			}

			got, err := c.Join(frags)
			require.NoError(t, err)
			assert.Equal(t, value, got)
		})
	}

	_, err = Compressed(inner, Compression(42))
	assert.Error(t, err)
}

func TestCompressedCorruptFragment(t *testing.T) {
	c, err := Compressed(Single[string](NewBinarySerializer()), SnappyCompression)
	require.NoError(t, err)

	_, err = c.Join([][]byte{[]byte("not snappy at all")})
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	for _, ct := range []Compression{NoCompression, SnappyCompression, ZstdCompression, LZ4Compression} {
		got, err := ParseCompression(ct.String())
		require.NoError(t, err)
		assert.Equal(t, ct, got)
	}
	got, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, NoCompression, got)

	_, err = ParseCompression("brotli")
	assert.Error(t, err)
}
