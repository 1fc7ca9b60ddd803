package core

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FieldKind tags the value type carried by a metadata field.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldNumber FieldKind = "number"
	FieldBool   FieldKind = "bool"
)

// Field is one typed key/value entry in a metadata document. Exactly one of
// the value slots is meaningful, selected by Kind.
type Field struct {
	Key    string    `json:"key"`
	Kind   FieldKind `json:"kind"`
	String string    `json:"string,omitempty"`
	Number float64   `json:"number,omitempty"`
	Bool   bool      `json:"bool,omitempty"`
}

// Metadata is a schema-validated structured document attached to provenance
// events: a flat list of typed fields with unique keys, rather than an
// untyped map, so invariants stay checkable.
type Metadata []Field

// Validate checks field kinds and key uniqueness.
func (m Metadata) Validate() error {
	seen := make(map[string]struct{}, len(m))
	for i, f := range m {
		if f.Key == "" {
			return fmt.Errorf("metadata field %d: empty key", i)
		}
		switch f.Kind {
		case FieldString, FieldNumber, FieldBool:
		default:
			return fmt.Errorf("metadata field %q: unknown kind %q", f.Key, f.Kind)
		}
		if _, dup := seen[f.Key]; dup {
			return fmt.Errorf("metadata field %q: duplicate key", f.Key)
		}
		seen[f.Key] = struct{}{}
	}
	return nil
}

// Canonical renders the document with keys sorted, for hashing.
func (m Metadata) Canonical() string {
	sorted := make(Metadata, len(m))
	copy(sorted, m)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	out := ""
	for _, f := range sorted {
		switch f.Kind {
		case FieldString:
			out += fmt.Sprintf("%s=s:%s;", f.Key, f.String)
		case FieldNumber:
			out += fmt.Sprintf("%s=n:%g;", f.Key, f.Number)
		case FieldBool:
			out += fmt.Sprintf("%s=b:%t;", f.Key, f.Bool)
		}
	}
	return out
}

// Document is an opaque attachment on a seller credential (KYC papers,
// supply-chain proofs). The content hash is recorded; the bytes live with
// the presentation layer.
type Document struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	SHA256      string `json:"sha256"`
}

// MetadataFromMap converts loose JSON object input (as received on the
// ingestion API) into a typed document. Nested objects are rejected.
func MetadataFromMap(in map[string]json.RawMessage) (Metadata, error) {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	md := make(Metadata, 0, len(in))
	for _, k := range keys {
		raw := in[k]
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			md = append(md, Field{Key: k, Kind: FieldString, String: s})
			continue
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			md = append(md, Field{Key: k, Kind: FieldNumber, Number: n})
			continue
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			md = append(md, Field{Key: k, Kind: FieldBool, Bool: b})
			continue
		}
		return nil, fmt.Errorf("metadata field %q: unsupported value", k)
	}
	return md, md.Validate()
}
