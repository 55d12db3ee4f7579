package lakeload

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// countingStore records data file reads.
type countingStore struct {
	Store
	readerAts atomic.Int32
}

func (c *countingStore) ReaderAt(ctx context.Context, key string) (io.ReaderAt, int64, error) {
	c.readerAts.Add(1)
	return c.Store.ReaderAt(ctx, key)
}

func newTestLoader(t *testing.T, registry *Registry, sel FileSelection, opts ...LoaderOption) *Loader {
	t.Helper()
	opts = append([]LoaderOption{WithRegistry(registry)}, opts...)
	l, err := NewLoader(Config{Region: "eu-west-2", Selection: sel}, opts...)
	require.NoError(t, err)
	return l
}

// twoFileTable writes s3://bucket-a/tableX/ with data files f1 and f2.
func twoFileTable(t *testing.T) *MemoryStore {
	store := NewMemory()
	b := newTableBuilder(t, store, "tableX")
	b.commit(0, protocolJSON(), metadataJSON("tableX"),
		b.dataFile("f1.parquet", baseTime, stations(1, 2, 3)),
		b.dataFile("f2.parquet", baseTime.Add(time.Hour), stations(4, 5)),
	)
	return store
}

func TestNewLoader_RequiresRegion(t *testing.T) {
	_, err := NewLoader(Config{})
	assert.Error(t, err)
}

func TestOpenForQuery_FirstFileOnly(t *testing.T) {
	registry, _ := memoryRegistry(twoFileTable(t))
	l := newTestLoader(t, registry, nil)

	frame, err := l.OpenForQuery(t.Context(), "s3://bucket-a/tableX/", testCreds())
	require.NoError(t, err)
	defer func() { _ = frame.Close() }()

	assert.Equal(t, []string{"s3://bucket-a/tableX/f1.parquet"}, frame.Files())
	assert.Equal(t, int64(3), frame.Count())

	rows, err := frame.Collect(t.Context())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "station-1", rows[0]["name"])
}

func TestOpenForQuery_SchemaStableAcrossCalls(t *testing.T) {
	registry, _ := memoryRegistry(twoFileTable(t))
	l := newTestLoader(t, registry, nil)

	first, err := l.OpenForQuery(t.Context(), "s3://bucket-a/tableX/", testCreds())
	require.NoError(t, err)
	second, err := l.OpenForQuery(t.Context(), "s3://bucket-a/tableX/", testCreds())
	require.NoError(t, err)

	assert.True(t, first.Schema().Equal(second.Schema()))
	assert.NotEqual(t, first.Session().ID(), second.Session().ID())
}

func TestOpenForQuery_Selections(t *testing.T) {
	tests := []struct {
		name  string
		sel   FileSelection
		files []string
		count int64
	}{
		{"all", SelectAll, []string{"s3://bucket-a/tableX/f1.parquet", "s3://bucket-a/tableX/f2.parquet"}, 5},
		{"latest", SelectLatest, []string{"s3://bucket-a/tableX/f2.parquet"}, 2},
		{"where", SelectWhere("big", func(f DataFile) bool { return f.Path == "f2.parquet" }), []string{"s3://bucket-a/tableX/f2.parquet"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, _ := memoryRegistry(twoFileTable(t))
			l := newTestLoader(t, registry, tt.sel)

			frame, err := l.OpenForQuery(t.Context(), "s3://bucket-a/tableX/", testCreds())
			require.NoError(t, err)
			assert.Equal(t, tt.files, frame.Files())
			assert.Equal(t, tt.count, frame.Count())
		})
	}
}

func TestOpenForQuery_EmptyTable(t *testing.T) {
	mem := NewMemory()
	b := newTableBuilder(t, mem, "empty")
	b.commit(0, protocolJSON(), metadataJSON("empty"))
	store := &countingStore{Store: mem}
	registry, _ := memoryRegistry(store)
	l := newTestLoader(t, registry, nil)

	_, err := l.OpenForQuery(t.Context(), "s3://bucket-a/empty/", testCreds())
	assert.ErrorIs(t, err, ErrEmptyTable)
	assert.Zero(t, store.readerAts.Load())
}

func TestOpenForQuery_EmptySelection(t *testing.T) {
	registry, _ := memoryRegistry(twoFileTable(t))
	l := newTestLoader(t, registry, SelectPartition("country", "FR"))

	_, err := l.OpenForQuery(t.Context(), "s3://bucket-a/tableX/", testCreds())
	assert.ErrorIs(t, err, ErrEmptyTable)
}

func TestOpenForQuery_InvalidURIBeforeBinding(t *testing.T) {
	for _, uri := range []string{"not-a-uri", "s3:///no-bucket/path", "", "://x"} {
		registry, calls := memoryRegistry(NewMemory())
		l := newTestLoader(t, registry, nil)

		_, err := l.OpenForQuery(t.Context(), uri, testCreds())
		assert.ErrorIs(t, err, ErrInvalidURI, "uri %q", uri)
		assert.NotErrorIs(t, err, ErrOpenFailed, "uri %q", uri)
		assert.Zero(t, *calls, "uri %q bound a store", uri)
	}
}

func TestOpenForQuery_NotATable(t *testing.T) {
	registry, _ := memoryRegistry(NewMemory())
	l := newTestLoader(t, registry, nil)

	_, err := l.OpenForQuery(t.Context(), "s3://bucket-a/missing/", testCreds())
	assert.ErrorIs(t, err, ErrOpenFailed)
	assert.ErrorIs(t, err, errNotDeltaTable)
}

func TestOpenForQuery_UnsupportedScheme(t *testing.T) {
	l := newTestLoader(t, NewRegistry(), nil)

	_, err := l.OpenForQuery(t.Context(), "gs://bucket-a/tableX/", testCreds())
	assert.ErrorIs(t, err, ErrOpenFailed)
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestOpenForQuery_CorruptDataFile(t *testing.T) {
	store := NewMemory()
	b := newTableBuilder(t, store, "t")
	b.put("bad.parquet", []byte("definitely not parquet"))
	b.commit(0, protocolJSON(), metadataJSON("t"), addJSON("bad.parquet", 22, baseTime))
	registry, _ := memoryRegistry(store)
	l := newTestLoader(t, registry, nil)

	_, err := l.OpenForQuery(t.Context(), "s3://bucket-a/t/", testCreds())
	assert.ErrorIs(t, err, ErrReadFailed)
}

func TestOpenForQuery_MissingDataFile(t *testing.T) {
	store := NewMemory()
	b := newTableBuilder(t, store, "t")
	b.commit(0, protocolJSON(), metadataJSON("t"), addJSON("gone.parquet", 22, baseTime))
	registry, _ := memoryRegistry(store)
	l := newTestLoader(t, registry, nil)

	_, err := l.OpenForQuery(t.Context(), "s3://bucket-a/t/", testCreds())
	assert.ErrorIs(t, err, ErrReadFailed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenForQuery_AtVersion(t *testing.T) {
	store := NewMemory()
	b := newTableBuilder(t, store, "t")
	b.commit(0, protocolJSON(), metadataJSON("t"), b.dataFile("old.parquet", baseTime, stations(1)))
	b.commit(1, removeJSON("old.parquet"), b.dataFile("new.parquet", baseTime, stations(2, 3)))
	registry, _ := memoryRegistry(store)
	l := newTestLoader(t, registry, nil)

	frame, err := l.OpenForQuery(t.Context(), "s3://bucket-a/t/", testCreds(), AtVersion(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://bucket-a/t/old.parquet"}, frame.Files())

	frame, err = l.OpenForQuery(t.Context(), "s3://bucket-a/t/", testCreds())
	require.NoError(t, err)
	assert.Equal(t, []string{"s3://bucket-a/t/new.parquet"}, frame.Files())
}

func TestOpenForQuery_BindingCarriesRegionAndCredentials(t *testing.T) {
	store := twoFileTable(t)
	var got Binding
	registry := NewRegistry()
	registry.Register(func(_ context.Context, b Binding) (Store, error) {
		got = b
		return store, nil
	}, "s3")
	l := newTestLoader(t, registry, nil)

	_, err := l.OpenForQuery(t.Context(), "s3://bucket-a/tableX/", testCreds())
	require.NoError(t, err)

	assert.Equal(t, "bucket-a", got.Location.Bucket)
	assert.Equal(t, "tableX", got.Location.Prefix)
	assert.Equal(t, "eu-west-2", got.Region)
	assert.Equal(t, map[string]string{
		AccessKeyIDKey:     "AKIAEXAMPLE",
		SecretAccessKeyKey: "secret",
		OptionBucket:       "bucket-a",
		OptionRegion:       "eu-west-2",
	}, got.StorageOptions())
}

func TestOpenForQuery_RunsHandlersEachCall(t *testing.T) {
	store := twoFileTable(t)
	var runs int
	registry := NewRegistry()
	register := func(r *Registry) {
		runs++
		r.Register(func(context.Context, Binding) (Store, error) { return store, nil }, "s3")
	}
	l := newTestLoader(t, registry, nil, WithHandlers(register))

	for range 2 {
		_, err := l.OpenForQuery(t.Context(), "s3://bucket-a/tableX/", testCreds())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, runs)
}

func TestOpenForQuery_LogsSelectionWithoutSecrets(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	registry, _ := memoryRegistry(twoFileTable(t))
	l := newTestLoader(t, registry, nil, WithLogger(zap.New(core)))

	_, err := l.OpenForQuery(t.Context(), "s3://bucket-a/tableX/", testCreds())
	require.NoError(t, err)

	selected := logs.FilterMessage("data files selected").All()
	require.Len(t, selected, 1)
	fields := selected[0].ContextMap()
	assert.Equal(t, "first", fields["selection"])
	assert.Equal(t, int64(1), fields["selected"])
	assert.Equal(t, int64(2), fields["files"])

	states := logs.FilterMessage("load state").All()
	require.NotEmpty(t, states)
	assert.Equal(t, "frame_opened", states[len(states)-1].ContextMap()["to"])

	for _, entry := range logs.All() {
		for k, v := range entry.ContextMap() {
			if s, ok := v.(string); ok {
				assert.NotContains(t, s, "AKIAEXAMPLE", "field %q", k)
			}
		}
	}
}

func TestOpenMetadata(t *testing.T) {
	registry, _ := memoryRegistry(twoFileTable(t))
	l := newTestLoader(t, registry, nil)

	table, err := l.OpenMetadata(t.Context(), "s3a://bucket-a/tableX", testCreds())
	require.NoError(t, err)
	assert.Equal(t, int64(0), table.Version)
	assert.Equal(t, 2, table.NumFiles())
	assert.Equal(t, "s3a://bucket-a/tableX/f1.parquet", table.FileURIs()[0])
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), table.Metadata.Created())
}

func TestOpenMetadata_InvalidURIIsOpenFailed(t *testing.T) {
	registry, calls := memoryRegistry(NewMemory())
	l := newTestLoader(t, registry, nil)

	_, err := l.OpenMetadata(t.Context(), "not-a-uri", testCreds())
	assert.ErrorIs(t, err, ErrOpenFailed)
	assert.ErrorIs(t, err, ErrInvalidURI)
	assert.Zero(t, *calls)
}

func TestOpenForQuery_FileScheme(t *testing.T) {
	root := t.TempDir()
	mem := NewMemory()
	b := newTableBuilder(t, mem, "")
	b.commit(0, protocolJSON(), metadataJSON("local"), b.dataFile("part-0.parquet", baseTime, stations(7)))

	keys, err := mem.List(t.Context(), "")
	require.NoError(t, err)
	for _, key := range keys {
		rc, err := mem.Get(t.Context(), key)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		full := filepath.Join(root, filepath.FromSlash(key))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, data, 0o644))
	}

	l := newTestLoader(t, NewRegistry(), nil)
	frame, err := l.OpenForQuery(t.Context(), "file://"+filepath.ToSlash(root), nil)
	require.NoError(t, err)
	defer func() { _ = frame.Close() }()

	rows, err := frame.Collect(t.Context())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7), rows[0]["id"])
}
