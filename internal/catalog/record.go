// file: internal/catalog/record.go
// version: 1.1.0
// guid: 81eb5704-6975-4e2d-b290-8573f93af66b

package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Record is one catalog entry.
type Record struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Thumbnail   string `json:"thumbnail"`
	StreamURL   string `json:"stream_url"`
	Duration    string `json:"duration"`

	// Extra keeps fields added by hand so rewrites do not drop them.
	Extra map[string]json.RawMessage `json:"-"`
}

var knownFields = map[string]struct{}{
	"id": {}, "title": {}, "description": {}, "thumbnail": {}, "stream_url": {}, "duration": {},
}

type recordFields struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Thumbnail   string      `json:"thumbnail"`
	StreamURL   string      `json:"stream_url"`
	Duration    looseString `json:"duration"`
}

// looseString decodes a JSON string, number, boolean or null into its text,
// so a hand-edited duration such as 123 still loads.
type looseString string

func (l *looseString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*l = looseString(s)
		return nil
	}
	if bytes.Equal(trimmed, []byte("null")) {
		*l = ""
		return nil
	}
	var scalar any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&scalar); err != nil {
		return err
	}
	switch v := scalar.(type) {
	case json.Number:
		*l = looseString(v.String())
	case bool:
		*l = looseString(strconv.FormatBool(v))
	default:
		return fmt.Errorf("expected a string, got %s", trimmed)
	}
	return nil
}

// UnmarshalJSON decodes known fields and stashes the rest in Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	var f recordFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*r = recordFieldsToRecord(f)
	for k, v := range all {
		if _, ok := knownFields[k]; ok {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[k] = v
	}
	return nil
}

// MarshalJSON writes known fields in a fixed order followed by extras
// sorted by key.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, value any) error {
		raw, err := marshalNoEscape(value)
		if err != nil {
			return err
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := marshalNoEscape(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(raw)
		return nil
	}

	for _, kv := range []struct {
		k string
		v string
	}{
		{"id", r.ID}, {"title", r.Title}, {"description", r.Description},
		{"thumbnail", r.Thumbnail}, {"stream_url", r.StreamURL}, {"duration", r.Duration},
	} {
		if err := write(kv.k, kv.v); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, r.Extra[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func recordFieldsToRecord(f recordFields) Record {
	return Record{
		ID:          f.ID,
		Title:       f.Title,
		Description: f.Description,
		Thumbnail:   f.Thumbnail,
		StreamURL:   f.StreamURL,
		Duration:    string(f.Duration),
	}
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
