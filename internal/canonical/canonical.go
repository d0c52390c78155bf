// package canonical renders JSON-like values as deterministic bytes so audit
// hashes are reproducible across processes: object keys sorted, array order
// preserved, primitives encoded via encoding/json.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal returns deterministic JSON bytes for v. Values that are not already
// JSON-shaped (maps, slices, primitives) are round-tripped through
// encoding/json first so struct payloads canonicalize the same way as their
// decoded form.
func Marshal(v interface{}) ([]byte, error) {
	shaped, err := reshape(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := write(&buf, shaped); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func reshape(v interface{}) (interface{}, error) {
	switch v.(type) {
	case nil, bool, string, float64, json.Number,
		map[string]interface{}, []interface{}:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var shaped interface{}
	if err := dec.Decode(&shaped); err != nil {
		return nil, fmt.Errorf("canonical: reshape value: %w", err)
	}
	return shaped, nil
}

func write(buf *bytes.Buffer, v interface{}) error {
	switch vv := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if vv {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		// Keep the textual form so numbers stay deterministic.
		buf.WriteString(vv.String())
	case float64:
		b, _ := json.Marshal(vv)
		buf.Write(b)
	case string:
		b, _ := json.Marshal(vv)
		buf.Write(b)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range vv {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := write(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := write(buf, vv[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		shaped, err := reshape(v)
		if err != nil {
			return err
		}
		return write(buf, shaped)
	}
	return nil
}
