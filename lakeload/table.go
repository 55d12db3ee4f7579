package lakeload

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// -----------------------------------------------------------------------------
// Table metadata
// -----------------------------------------------------------------------------

// Protocol is the table's reader/writer protocol requirement.
type Protocol struct {
	MinReaderVersion int32    `json:"minReaderVersion"`
	MinWriterVersion int32    `json:"minWriterVersion"`
	ReaderFeatures   []string `json:"readerFeatures,omitempty"`
	WriterFeatures   []string `json:"writerFeatures,omitempty"`
}

// Format describes the data file encoding (always "parquet" for Delta).
type Format struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options,omitempty"`
}

// TableMetadata is the table's latest metaData action.
type TableMetadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           Format            `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration,omitempty"`
	CreatedTime      int64             `json:"createdTime,omitempty"`
}

// Created returns CreatedTime as a time, or the zero time if unset.
func (m TableMetadata) Created() time.Time {
	if m.CreatedTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.CreatedTime).UTC()
}

// Field is a top-level column of a table or frame.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Schema is an ordered list of top-level fields.
type Schema struct {
	Fields []Field `json:"fields"`
}

// Names returns the field names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Field returns the field with the given name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Equal reports whether both schemas have the same fields in the same order.
func (s Schema) Equal(other Schema) bool {
	if len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

// deltaStructType mirrors the JSON form of a Delta schemaString.
type deltaStructType struct {
	Type   string `json:"type"`
	Fields []struct {
		Name     string              `json:"name"`
		Type     jsoniter.RawMessage `json:"type"`
		Nullable bool                `json:"nullable"`
	} `json:"fields"`
}

// parseDeltaSchema parses a Delta schemaString. Nested types are reported by
// their kind ("struct", "array", "map").
func parseDeltaSchema(schemaString string) (Schema, error) {
	var st deltaStructType
	if err := json.UnmarshalFromString(schemaString, &st); err != nil {
		return Schema{}, fmt.Errorf("parsing schema: %w", err)
	}
	if st.Type != "struct" {
		return Schema{}, fmt.Errorf("parsing schema: top-level type %q is not struct", st.Type)
	}

	schema := Schema{Fields: make([]Field, 0, len(st.Fields))}
	for _, f := range st.Fields {
		typeName, err := deltaTypeName(f.Type)
		if err != nil {
			return Schema{}, fmt.Errorf("parsing schema: field %q: %w", f.Name, err)
		}
		schema.Fields = append(schema.Fields, Field{Name: f.Name, Type: typeName, Nullable: f.Nullable})
	}
	return schema, nil
}

func deltaTypeName(raw jsoniter.RawMessage) (string, error) {
	var primitive string
	if err := json.Unmarshal(raw, &primitive); err == nil {
		return primitive, nil
	}
	var complexType struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &complexType); err != nil {
		return "", err
	}
	if complexType.Type == "" {
		return "", fmt.Errorf("type has no name: %s", string(raw))
	}
	return complexType.Type, nil
}

// -----------------------------------------------------------------------------
// Table handle
// -----------------------------------------------------------------------------

// DataFile is a live data file in a table snapshot.
type DataFile struct {
	// Path is the path as recorded in the log, relative to the table root
	// unless it is an absolute URI.
	Path string

	// URI is the fully qualified location of the file.
	URI string

	Size             int64
	ModificationTime time.Time
	PartitionValues  map[string]string

	// Stats is the raw per-file statistics JSON, if the writer recorded it.
	Stats string
}

// Table is an opened table snapshot.
//
// Files are kept in transaction log replay order: the order in which they
// were first added, with removed files dropped.
type Table struct {
	Location Location
	Version  int64
	Protocol Protocol
	Metadata TableMetadata
	Schema   Schema

	files []DataFile
}

// Files returns the table's live data files in replay order.
func (t *Table) Files() []DataFile {
	out := make([]DataFile, len(t.files))
	copy(out, t.files)
	return out
}

// FileURIs returns the URIs of the table's live data files in replay order.
func (t *Table) FileURIs() []string {
	out := make([]string, len(t.files))
	for i, f := range t.files {
		out[i] = f.URI
	}
	return out
}

// NumFiles returns the number of live data files.
func (t *Table) NumFiles() int {
	return len(t.files)
}
