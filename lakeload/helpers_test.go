package lakeload

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
)

// stationRow is the data file row used across tests.
type stationRow struct {
	ID      int64  `parquet:"id"`
	Name    string `parquet:"name"`
	Country string `parquet:"country,optional"`
}

const stationSchema = `{"type":"struct","fields":[` +
	`{"name":"id","type":"long","nullable":false,"metadata":{}},` +
	`{"name":"name","type":"string","nullable":false,"metadata":{}},` +
	`{"name":"country","type":"string","nullable":true,"metadata":{}}]}`

func writeParquet[T any](t *testing.T, rows []T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, parquet.Write(&buf, rows))
	return buf.Bytes()
}

func stations(ids ...int64) []stationRow {
	rows := make([]stationRow, len(ids))
	for i, id := range ids {
		rows[i] = stationRow{ID: id, Name: fmt.Sprintf("station-%d", id), Country: "GB"}
	}
	return rows
}

// tableBuilder writes a Delta table into a MemoryStore under prefix.
type tableBuilder struct {
	t      *testing.T
	store  *MemoryStore
	prefix string
}

func newTableBuilder(t *testing.T, store *MemoryStore, prefix string) *tableBuilder {
	return &tableBuilder{t: t, store: store, prefix: strings.Trim(prefix, "/")}
}

func (b *tableBuilder) key(rel string) string {
	if b.prefix == "" {
		return rel
	}
	return b.prefix + "/" + rel
}

func (b *tableBuilder) put(rel string, data []byte) {
	b.t.Helper()
	require.NoError(b.t, b.store.Put(context.Background(), b.key(rel), bytes.NewReader(data)))
}

// commit writes version v with the given actions, one JSON object per line.
func (b *tableBuilder) commit(v int64, actions ...map[string]any) {
	b.t.Helper()
	var buf bytes.Buffer
	for _, a := range actions {
		line, err := json.Marshal(a)
		require.NoError(b.t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	b.put(fmt.Sprintf("%s/%020d.json", deltaLogDir, v), buf.Bytes())
}

// dataFile writes a Parquet data file and returns its add action.
func (b *tableBuilder) dataFile(rel string, modified time.Time, rows []stationRow) map[string]any {
	b.t.Helper()
	data := writeParquet(b.t, rows)
	b.put(rel, data)
	return addJSON(rel, int64(len(data)), modified)
}

func protocolJSON() map[string]any {
	return map[string]any{"protocol": map[string]any{"minReaderVersion": 1, "minWriterVersion": 2}}
}

func metadataJSON(name string, partitionColumns ...string) map[string]any {
	if partitionColumns == nil {
		partitionColumns = []string{}
	}
	return map[string]any{"metaData": map[string]any{
		"id":               "5f0e3c52-6b1a-4d0f-9b69-6a3f1c1f0a11",
		"name":             name,
		"format":           map[string]any{"provider": "parquet", "options": map[string]any{}},
		"schemaString":     stationSchema,
		"partitionColumns": partitionColumns,
		"configuration":    map[string]any{},
		"createdTime":      int64(1700000000000),
	}}
}

func addJSON(path string, size int64, modified time.Time) map[string]any {
	return map[string]any{"add": map[string]any{
		"path":             path,
		"partitionValues":  map[string]any{},
		"size":             size,
		"modificationTime": modified.UnixMilli(),
		"dataChange":       true,
	}}
}

func addPartitionJSON(path string, partitionValues map[string]string) map[string]any {
	return map[string]any{"add": map[string]any{
		"path":             path,
		"partitionValues":  partitionValues,
		"size":             1,
		"modificationTime": int64(1700000000000),
		"dataChange":       true,
	}}
}

func removeJSON(path string) map[string]any {
	return map[string]any{"remove": map[string]any{
		"path":              path,
		"deletionTimestamp": int64(1700000001000),
		"dataChange":        true,
	}}
}

// memoryRegistry returns a registry whose s3 factory serves store.
func memoryRegistry(store Store) (*Registry, *int) {
	calls := 0
	r := NewRegistry()
	r.Register(func(_ context.Context, b Binding) (Store, error) {
		calls++
		return store, nil
	}, "s3", "s3a")
	return r, &calls
}

func testCreds() CredentialMap {
	return CredentialMap{
		AccessKeyIDKey:     "AKIAEXAMPLE",
		SecretAccessKeyKey: "secret",
	}
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
