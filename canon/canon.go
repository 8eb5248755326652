// Package canon provides deterministic JSON encoding and content hashing.
//
// Encode produces a byte-for-byte stable serialization of any
// JSON-compatible value: object keys sorted lexicographically, numbers in
// their shortest round-trip form, and strict rejection of NaN and
// +/-Infinity. Hash and every content-addressed identity in this
// repository is computed exclusively from this encoding.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ErrNonFinite is returned when a value contains NaN or an infinite float.
var ErrNonFinite = errors.New("canon: NaN and Infinity are not encodable")

// Encode serializes v into its canonical byte representation.
//
// v must be built from the types json.Unmarshal into interface{} produces
// (map[string]interface{}, []interface{}, string, float64/json.Number,
// bool, nil) or implement json.Marshaler; anything else is first run
// through encoding/json and re-normalized.
func Encode(v interface{}) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeValue(&buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the lowercase hex SHA-256 digest of v's canonical encoding.
func Hash(v interface{}) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Decode unmarshals canonical (or any valid) JSON into a generic value
// tree using json.Number for numbers, so that decode(encode(x)) == x.
func Decode(b []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// normalize walks v through encoding/json if it isn't already built from
// plain Go values, so callers can pass structs directly.
func normalize(v interface{}) (interface{}, error) {
	switch v.(type) {
	case map[string]interface{}, []interface{}, string, bool, nil,
		float64, float32, int, int32, int64, uint, uint64, json.Number:
		return checkFinite(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	return Decode(b)
}

func checkFinite(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, ErrNonFinite
		}
	case float32:
		if math.IsNaN(float64(t)) || math.IsInf(float64(t), 0) {
			return nil, ErrNonFinite
		}
	case map[string]interface{}:
		for _, sub := range t {
			if _, err := checkFinite(sub); err != nil {
				return nil, err
			}
		}
	case []interface{}:
		for _, sub := range t {
			if _, err := checkFinite(sub); err != nil {
				return nil, err
			}
		}
	}
	return v, nil
}

func writeValue(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeString(buf, t)
	case json.Number:
		writeNumber(buf, t.String())
	case float64:
		writeNumber(buf, strconv.FormatFloat(t, 'g', -1, 64))
	case float32:
		writeNumber(buf, strconv.FormatFloat(float64(t), 'g', -1, 32))
	case int:
		buf.WriteString(strconv.Itoa(t))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(t, 10))
	case map[string]interface{}:
		return writeObject(buf, t)
	case []interface{}:
		return writeArray(buf, t)
	default:
		return fmt.Errorf("canon: unsupported type %T", v)
	}
	return nil
}

func writeObject(buf *bytes.Buffer, m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
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
		if err := writeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeArray(buf *bytes.Buffer, a []interface{}) error {
	buf.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// writeString escapes a string the way encoding/json would for a
// standalone value, ensuring valid UTF-8 output with no HTML escaping
// quirks to keep the encoding stable across Go versions.
func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// writeNumber re-emits a decimal string in its shortest form, stripping a
// trailing ".0" that strconv.FormatFloat with 'g' never produces but a
// json.Number sourced from literal "1.0" config input might carry.
func writeNumber(buf *bytes.Buffer, s string) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			buf.WriteString("null") // unreachable: checkFinite rejects first
			return
		}
		if f == math.Trunc(f) && !bytes.ContainsAny([]byte(s), "eE") {
			buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
			return
		}
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		return
	}
	buf.WriteString(s)
}
