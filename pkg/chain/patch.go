package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/imdario/mergo"
)

// Document is a decoded JSON or TOML object.
type Document = map[string]interface{}

// NormalizeJSON deep-copies v into a Document through its JSON encoding.
// Numbers are kept as json.Number so large integers survive untouched.
func NormalizeJSON(v interface{}) (Document, error) {
	if v == nil {
		return Document{}, nil
	}
	raw, ok := v.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(v); err != nil {
			return nil, err
		}
	}
	return decodeJSON(raw)
}

func decodeJSON(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// MergePatch merges the documents left to right into a new one. Objects are
// merged recursively; scalars and lists of later documents replace earlier
// ones.
func MergePatch(docs ...interface{}) (Document, error) {
	return merge(false, docs)
}

// MergeAppend is MergePatch except that lists are concatenated in argument
// order.
func MergeAppend(docs ...interface{}) (Document, error) {
	return merge(true, docs)
}

func merge(appendSlices bool, docs []interface{}) (Document, error) {
	opts := []func(*mergo.Config){mergo.WithOverride}
	if appendSlices {
		opts = append(opts, mergo.WithAppendSlice)
	}

	out := Document{}
	for i, d := range docs {
		// merging copies keeps the inputs from aliasing the result.
		src, err := NormalizeJSON(d)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		dropConflicts(out, src)
		if err := mergo.Merge(&out, src, opts...); err != nil {
			return nil, fmt.Errorf("failed to merge document %d: %w", i, err)
		}
	}
	return out, nil
}

type valueKind int

const (
	scalarKind valueKind = iota
	objectKind
	listKind
)

func kindOf(v interface{}) valueKind {
	switch v.(type) {
	case Document:
		return objectKind
	case []interface{}:
		return listKind
	default:
		return scalarKind
	}
}

// dropConflicts removes from dst every key whose value has a different kind
// in src, so the merge takes the src value whole. mergo only overrides
// values of the same kind.
func dropConflicts(dst, src Document) {
	for k, sv := range src {
		dv, ok := dst[k]
		if !ok {
			continue
		}
		switch {
		case kindOf(dv) != kindOf(sv):
			delete(dst, k)
		case kindOf(dv) == objectKind:
			dropConflicts(dv.(Document), sv.(Document))
		}
	}
}

// PatchJSON merges patch into the JSON document at path, rewrites the file
// compactly and returns the bytes written.
func PatchJSON(path string, patch interface{}) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := decodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	merged, err := MergePatch(doc, patch)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return out, os.WriteFile(path, out, 0o644)
}

// PatchTOML merges patch into the TOML document at path.
func PatchTOML(path string, patch interface{}) error {
	var doc Document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	merged, err := MergePatch(doc, patch)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(tomlValues(merged)); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// tomlValues converts the json.Number leaves of a merged document to the
// integer or float TOML expects.
func tomlValues(v interface{}) interface{} {
	switch t := v.(type) {
	case Document:
		for k, e := range t {
			t[k] = tomlValues(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = tomlValues(e)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	default:
		return v
	}
}
