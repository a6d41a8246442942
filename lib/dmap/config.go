package dmap

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dMap/lib/codec"
	"github.com/ValentinKolb/dMap/lib/table"
	"github.com/ValentinKolb/dMap/lib/table/engines/maple"
)

// DefaultShards is the number of shard tables used when Config.Shards is 0
const DefaultShards = 4

// Config configures a DMap. Only Name is required.
type Config[K comparable, V any] struct {
	// Name identifies the map, the Opener uses it to locate the database
	Name string

	// Shards is the fixed number of shard tables (default DefaultShards).
	// Changing it for an existing map does not move any data.
	Shards int

	// Split and Join convert a value into ordered fragments and back.
	// A nil function falls back to the single fragment codec of Serializer.
	Split codec.SplitFunc[V]
	Join  codec.JoinFunc[V]

	// Codec replaces Split and Join when set (e.g. codec.Chunked or codec.Compressed)
	Codec *codec.Codec[V]

	// Serializer is used by the default codec (default JSON). New rejects value
	// types JSON cannot decode back unless Serializer, Codec or Split and Join are set.
	Serializer codec.Serializer

	// KeyFunc returns the string form of a key. It must be injective, two
	// different keys must never map to the same string. Defaults exist for
	// string, bool and integer key types, every other key type requires it.
	KeyFunc func(key K) string

	// Opener creates the underlying table store (default: in-memory maple store)
	Opener table.Opener
}

// resolved is a validated Config with every default applied
type resolved[K comparable, V any] struct {
	name    string
	shards  int
	codec   codec.Codec[V]
	keyFunc func(K) string
	opener  table.Opener
}

func (cfg Config[K, V]) resolve() (resolved[K, V], error) {
	var r resolved[K, V]

	if cfg.Name == "" {
		return r, newError(CodeConfigError, "", "name is required")
	}
	if strings.ContainsAny(cfg.Name, `/\`) || cfg.Name == "." || cfg.Name == ".." {
		return r, newError(CodeConfigError, "", "name %q must not contain path separators", cfg.Name)
	}
	r.name = cfg.Name

	switch {
	case cfg.Shards == 0:
		r.shards = DefaultShards
	case cfg.Shards < 0:
		return r, newError(CodeConfigError, "", "shard count must be positive, got %d", cfg.Shards)
	default:
		r.shards = cfg.Shards
	}

	if cfg.Codec != nil {
		if cfg.Codec.Split == nil || cfg.Codec.Join == nil {
			return r, newError(CodeConfigError, "", "codec needs both split and join")
		}
		r.codec = *cfg.Codec
	} else {
		s := cfg.Serializer
		if s == nil {
			if cfg.Split == nil || cfg.Join == nil {
				var zero V
				if err := jsonRoundTrips(reflect.TypeOf(&zero).Elem(), map[reflect.Type]bool{}); err != nil {
					return r, newError(CodeConfigError, "", "value type %T: %v, set Serializer or Codec", zero, err)
				}
			}
			s = codec.NewJSONSerializer()
		}
		r.codec = codec.Funcs[V](cfg.Split, cfg.Join, s)
	}

	r.keyFunc = cfg.KeyFunc
	if r.keyFunc == nil {
		kf, err := defaultKeyFunc[K]()
		if err != nil {
			return r, err
		}
		r.keyFunc = kf
	}

	r.opener = cfg.Opener
	if r.opener == nil {
		r.opener = maple.Opener("")
	}
	return r, nil
}

// defaultKeyFunc returns a lossless string form for key kinds that have one
func defaultKeyFunc[K comparable]() (func(K) string, error) {
	var zero K
	t := reflect.TypeOf(&zero).Elem()

	switch t.Kind() {
	case reflect.String:
		return func(k K) string { return reflect.ValueOf(k).String() }, nil
	case reflect.Bool:
		return func(k K) string { return strconv.FormatBool(reflect.ValueOf(k).Bool()) }, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return func(k K) string { return strconv.FormatInt(reflect.ValueOf(k).Int(), 10) }, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return func(k K) string { return strconv.FormatUint(reflect.ValueOf(k).Uint(), 10) }, nil
	default:
		return nil, newError(CodeConfigError, "", "key type %s has no lossless string form, set KeyFunc", t)
	}
}

var (
	jsonMarshalerType   = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	jsonUnmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
	textMarshalerType   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// jsonRoundTrips rejects types the JSON serializer cannot decode back into
// the same value: interfaces decode numbers as float64 and objects as maps,
// structs without exported fields decode to their zero value.
func jsonRoundTrips(t reflect.Type, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	seen[t] = true

	pt := reflect.PointerTo(t)
	if (pt.Implements(jsonMarshalerType) && pt.Implements(jsonUnmarshalerType)) ||
		(pt.Implements(textMarshalerType) && pt.Implements(textUnmarshalerType)) {
		return nil
	}

	switch t.Kind() {
	case reflect.Interface:
		return fmt.Errorf("interface type %s does not survive a JSON round trip", t)
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return jsonRoundTrips(t.Elem(), seen)
	case reflect.Map:
		if err := jsonRoundTrips(t.Key(), seen); err != nil {
			return err
		}
		return jsonRoundTrips(t.Elem(), seen)
	case reflect.Struct:
		exported := 0
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if (!f.IsExported() && !f.Anonymous) || f.Tag.Get("json") == "-" {
				continue
			}
			exported++
			if err := jsonRoundTrips(f.Type, seen); err != nil {
				return err
			}
		}
		if exported == 0 && t.NumField() > 0 {
			return fmt.Errorf("struct %s has no exported fields", t)
		}
	}
	return nil
}

// isNil reports whether v is nil or a nil pointer, map, slice, func, chan or interface
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func (cfg Config[K, V]) String() string {
	return fmt.Sprintf("dmap.Config{Name: %q, Shards: %d}", cfg.Name, cfg.Shards)
}
