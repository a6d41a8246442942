// Package codec turns map values into ordered fragments and back.
//
// Key Components:
//
//   - Serializer: Encodes a value into bytes. JSON is the default, GOB handles
//     arbitrary Go types and Binary passes []byte and string values through
//     untouched.
//
//   - Codec[V]: A pair of functions, Split (value -> fragments) and Join
//     (fragments -> value). Join must receive the fragments in split order.
//     Single keeps the serialized value in one fragment, Chunked cuts it into
//     fixed-size fragments and Funcs adapts user supplied functions.
//
//   - Compressed: Middleware that compresses every fragment with snappy, zstd
//     or lz4 before it is stored and decompresses it on read.
//
// Thread Safety:
//
//	All serializers and codecs in this package are stateless and safe for
//	concurrent use. User supplied split/join functions must be as well.
package codec
