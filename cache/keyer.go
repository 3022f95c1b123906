package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Key is a namespaced content digest. It is computed per call and only used
// as a store lookup key.
type Key struct {
	Namespace string
	Digest    string
}

// String returns the store key: <namespace>:<digest>.
func (k Key) String() string {
	if k.Namespace == "" {
		return k.Digest
	}
	return k.Namespace + ":" + k.Digest
}

// Keyer derives cache keys from call parameters.
//
// Contract:
//   - Determinism: structurally equal parameters produce equal keys regardless
//     of map iteration order.
//   - Totality: Key never fails and performs no I/O.
//   - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(prefix string, params any) Key
}

// DefaultOrderedFields names array-valued fields whose element order carries
// meaning and must be preserved.
var DefaultOrderedFields = []string{"coordinates", "waypoints", "legs", "path", "route"}

// Canonicalizer normalizes parameters into a canonical JSON encoding:
//
//   - object keys are sorted recursively
//   - string values are trimmed and lower-cased, except in VerbatimFields
//   - null values, typed nil pointers included, are dropped, so an absent key
//     and an explicit null agree
//   - arrays of strings are sorted unless the field is listed in
//     OrderedFields; duplicates are kept. Arrays holding any non-string value
//     keep their order
type Canonicalizer struct {
	OrderedFields  map[string]bool
	VerbatimFields map[string]bool
}

// NewCanonicalizer creates a canonicalizer with DefaultOrderedFields plus
// the given extra ordered fields.
func NewCanonicalizer(ordered ...string) *Canonicalizer {
	c := &Canonicalizer{
		OrderedFields:  make(map[string]bool),
		VerbatimFields: make(map[string]bool),
	}
	for _, f := range DefaultOrderedFields {
		c.OrderedFields[f] = true
	}
	for _, f := range ordered {
		c.OrderedFields[f] = true
	}
	return c
}

var defaultCanonicalizer = NewCanonicalizer()

// Canonicalize returns the namespaced key string for params using the default
// canonicalizer.
func Canonicalize(params any, prefix string) string {
	return defaultCanonicalizer.Key(prefix, params).String()
}

// Key hashes the canonical encoding of params.
// The digest is the first 8 bytes of SHA-256, hex encoded (16 characters).
func (c *Canonicalizer) Key(prefix string, params any) Key {
	sum := sha256.Sum256(c.Canonical(params))
	return Key{Namespace: prefix, Digest: hex.EncodeToString(sum[:8])}
}

// Canonical returns the normalized encoding of params.
func (c *Canonicalizer) Canonical(params any) []byte {
	generic, err := toGeneric(params)
	if err != nil {
		// Not JSON-representable: fall back to Go syntax so the result stays
		// deterministic for the same value.
		return []byte(fmt.Sprintf("%#v", params))
	}

	var buf bytes.Buffer
	c.encode(&buf, "", generic)
	return buf.Bytes()
}

// toGeneric converts params into the map[string]any/[]any/scalar tree that
// encode understands.
func toGeneric(v any) (any, error) {
	switch v.(type) {
	case nil, map[string]any, []any, string, bool, json.Number,
		float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Canonicalizer) encode(buf *bytes.Buffer, field string, v any) {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case map[string]any:
		c.encodeMap(buf, val)
	case []any:
		c.encodeSlice(buf, field, val)
	case string:
		if !c.VerbatimFields[field] {
			val = strings.ToLower(strings.TrimSpace(val))
		}
		writeString(buf, val)
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case json.Number:
		buf.WriteString(normalizeNumber(string(val)))
	case float64:
		buf.WriteString(formatFloat(val))
	case float32:
		buf.WriteString(formatFloat(float64(val)))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		buf.WriteString(fmt.Sprintf("%d", val))
	default:
		generic, err := toGeneric(val)
		if err != nil {
			writeString(buf, fmt.Sprintf("%#v", val))
			return
		}
		c.encode(buf, field, generic)
	}
}

func (c *Canonicalizer) encodeMap(buf *bytes.Buffer, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if isNull(v) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		c.encode(buf, k, m[k])
	}
	buf.WriteByte('}')
}

func (c *Canonicalizer) encodeSlice(buf *bytes.Buffer, field string, s []any) {
	parts := make([]string, len(s))
	allStrings := true
	for i, v := range s {
		if _, ok := v.(string); !ok {
			allStrings = false
		}
		var elem bytes.Buffer
		c.encode(&elem, field, v)
		parts[i] = elem.String()
	}

	if allStrings && !c.OrderedFields[field] {
		sort.Strings(parts)
	}

	buf.WriteByte('[')
	buf.WriteString(strings.Join(parts, ","))
	buf.WriteByte(']')
}

// isNull reports whether v encodes as JSON null, including typed nil
// pointers, maps and slices.
func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func writeString(buf *bytes.Buffer, s string) {
	// json.Marshal of a string cannot fail.
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// normalizeNumber makes 1, 1.0 and 1e0 encode identically.
func normalizeNumber(s string) string {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return strconv.Quote(s)
	}
	return formatFloat(f)
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.Quote(strconv.FormatFloat(f, 'g', -1, 64))
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Ensure Canonicalizer implements Keyer
var _ Keyer = (*Canonicalizer)(nil)
