package lakeload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"
)

// -----------------------------------------------------------------------------
// Session
// -----------------------------------------------------------------------------

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session's logger.
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session is a query-engine session: a set of object stores keyed by
// scheme://host through which frames read their files.
//
// Each loader call creates its own session; sessions share no state.
// Session is safe for concurrent use.
type Session struct {
	id     string
	logger *zap.Logger

	mu     sync.RWMutex
	stores map[string]Store
}

// NewSession creates an empty session with a random id.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		id:     uuid.NewString(),
		logger: zap.NewNop(),
		stores: make(map[string]Store),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", s.id))
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// RegisterObjectStore routes reads for u's scheme and host through store.
// Registering the same scheme and host again replaces the store.
func (s *Session) RegisterObjectStore(u *url.URL, store Store) {
	key := storeKey(u)
	s.mu.Lock()
	s.stores[key] = store
	s.mu.Unlock()
	s.logger.Debug("object store registered", zap.String("url", key))
}

// ObjectStore returns the store registered for u's scheme and host.
func (s *Session) ObjectStore(u *url.URL) (Store, error) {
	key := storeKey(u)
	s.mu.RLock()
	store, ok := s.stores[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no object store registered for %s", ErrUnsupportedScheme, key)
	}
	return store, nil
}

func storeKey(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + u.Host
}

// ReadParquet opens the Parquet footers of the given files and returns a
// lazy frame over them. No row data is decoded until the frame is scanned.
//
// All files must share the same top-level columns. Returns ErrReadFailed if
// any file cannot be opened or parsed.
func (s *Session) ReadParquet(ctx context.Context, uris ...string) (*Frame, error) {
	if len(uris) == 0 {
		return nil, ErrEmptyTable
	}

	frame := &Frame{session: s, limit: -1}
	for _, raw := range uris {
		src, err := s.openSource(ctx, raw)
		if err != nil {
			_ = frame.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrReadFailed, raw, err)
		}
		frame.sources = append(frame.sources, src)
	}

	frame.schema = schemaFromParquet(frame.sources[0].file.Schema())
	want := frame.schema.Names()
	for _, src := range frame.sources[1:] {
		got := schemaFromParquet(src.file.Schema()).Names()
		if !equalStrings(want, got) {
			_ = frame.Close()
			return nil, fmt.Errorf("%w: %s: columns %v do not match %v", ErrReadFailed, src.uri, got, want)
		}
	}

	s.logger.Debug("parquet frame opened",
		zap.Int("files", len(frame.sources)),
		zap.Int("columns", len(frame.schema.Fields)),
	)
	return frame, nil
}

func (s *Session) openSource(ctx context.Context, raw string) (*parquetSource, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	store, err := s.ObjectStore(u)
	if err != nil {
		return nil, err
	}

	ra, size, err := store.ReaderAt(ctx, strings.TrimPrefix(u.Path, "/"))
	if err != nil {
		return nil, err
	}
	closer, _ := ra.(io.Closer)

	file, err := parquet.OpenFile(ra, size)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("opening parquet: %w", err)
	}

	return &parquetSource{
		uri:    raw,
		file:   file,
		leaves: flattenColumns(file.Schema()),
		closer: closer,
	}, nil
}

// -----------------------------------------------------------------------------
// Frame
// -----------------------------------------------------------------------------

// parquetSource is one opened data file.
type parquetSource struct {
	uri    string
	file   *parquet.File
	leaves []leafColumn
	closer io.Closer
}

// Frame is a lazy view over one or more Parquet files. Select and Limit
// return new frames sharing the same opened files; rows are decoded only by
// Scan, Collect, and WriteJSONL.
//
// Nested columns appear in rows under dotted paths ("address.city");
// repeated columns appear as []any.
type Frame struct {
	session *Session
	sources []*parquetSource
	schema  Schema
	columns []string
	limit   int64
}

// Session returns the session the frame reads through.
func (f *Frame) Session() *Session { return f.session }

// Files returns the URIs of the frame's data files.
func (f *Frame) Files() []string {
	out := make([]string, len(f.sources))
	for i, src := range f.sources {
		out[i] = src.uri
	}
	return out
}

// Schema returns the frame's top-level columns after projection.
func (f *Frame) Schema() Schema {
	if f.columns == nil {
		return Schema{Fields: append([]Field(nil), f.schema.Fields...)}
	}
	out := Schema{Fields: make([]Field, 0, len(f.columns))}
	for _, name := range f.columns {
		field, _ := f.schema.Field(name)
		out.Fields = append(out.Fields, field)
	}
	return out
}

// Select projects the frame onto the named top-level columns.
func (f *Frame) Select(columns ...string) (*Frame, error) {
	for _, c := range columns {
		if _, ok := f.schema.Field(c); !ok {
			return nil, fmt.Errorf("select: unknown column %q", c)
		}
	}
	next := *f
	next.columns = append([]string(nil), columns...)
	return &next, nil
}

// Limit caps the number of rows the frame yields. A negative n removes the cap.
func (f *Frame) Limit(n int64) *Frame {
	next := *f
	next.limit = n
	return &next
}

// Count returns the number of rows the frame would yield, from file footers.
func (f *Frame) Count() int64 {
	var total int64
	for _, src := range f.sources {
		total += src.file.NumRows()
	}
	if f.limit >= 0 && total > f.limit {
		return f.limit
	}
	return total
}

// Scan decodes rows in file order and calls fn for each. Returning an error
// from fn stops the scan and returns that error.
func (f *Frame) Scan(ctx context.Context, fn func(map[string]any) error) error {
	want := f.projection()
	var emitted int64
	rows := make([]parquet.Row, 128)

	for _, src := range f.sources {
		if f.limit >= 0 && emitted >= f.limit {
			return nil
		}
		done, err := f.scanSource(ctx, src, want, rows, &emitted, fn)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

func (f *Frame) scanSource(
	ctx context.Context,
	src *parquetSource,
	want map[string]bool,
	rows []parquet.Row,
	emitted *int64,
	fn func(map[string]any) error,
) (bool, error) {
	reader := parquet.NewReader(src.file)
	defer closer(reader)()

	for {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		n, readErr := reader.ReadRows(rows)
		for i := 0; i < n; i++ {
			if f.limit >= 0 && *emitted >= f.limit {
				return true, nil
			}
			if err := fn(rowToRecord(rows[i], src.leaves, want)); err != nil {
				return true, err
			}
			*emitted++
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return false, nil
			}
			return true, fmt.Errorf("%w: %s: read rows: %w", ErrReadFailed, src.uri, readErr)
		}
	}
}

// Collect decodes every row the frame yields.
func (f *Frame) Collect(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	err := f.Scan(ctx, func(rec map[string]any) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the frame's file handles. Frames derived with Select or
// Limit share handles, so close only once.
func (f *Frame) Close() error {
	var errs []error
	for _, src := range f.sources {
		if src.closer != nil {
			errs = append(errs, src.closer.Close())
		}
	}
	return errors.Join(errs...)
}

func (f *Frame) projection() map[string]bool {
	if f.columns == nil {
		return nil
	}
	want := make(map[string]bool, len(f.columns))
	for _, c := range f.columns {
		want[c] = true
	}
	return want
}

// -----------------------------------------------------------------------------
// Row decoding
// -----------------------------------------------------------------------------

// leafColumn describes one Parquet leaf in column-index order.
type leafColumn struct {
	name     string
	top      string
	repeated bool
	node     parquet.Node
}

// flattenColumns walks the schema depth-first, which is the order parquet
// assigns column indexes. LIST wrapper levels are elided from names.
func flattenColumns(schema *parquet.Schema) []leafColumn {
	var out []leafColumn
	var walk func(node parquet.Node, name []string, top string, repeated, inList bool)
	walk = func(node parquet.Node, name []string, top string, repeated, inList bool) {
		repeated = repeated || node.Repeated()
		if node.Leaf() {
			out = append(out, leafColumn{
				name:     strings.Join(name, "."),
				top:      top,
				repeated: repeated,
				node:     node,
			})
			return
		}
		list := isListNode(node)
		for _, child := range node.Fields() {
			childName := name
			if !list && !inList {
				childName = append(append([]string(nil), name...), child.Name())
			}
			walk(child, childName, top, repeated, list)
		}
	}
	for _, field := range schema.Fields() {
		walk(field, []string{field.Name()}, field.Name(), false, false)
	}
	return out
}

func isListNode(node parquet.Node) bool {
	lt := node.Type().LogicalType()
	return lt != nil && lt.List != nil
}

func rowToRecord(row parquet.Row, leaves []leafColumn, want map[string]bool) map[string]any {
	record := make(map[string]any)
	for _, v := range row {
		col := v.Column()
		if col < 0 || col >= len(leaves) {
			continue
		}
		leaf := leaves[col]
		if want != nil && !want[leaf.top] {
			continue
		}

		if !leaf.repeated {
			if v.IsNull() {
				record[leaf.name] = nil
			} else {
				record[leaf.name] = convertValue(v, leaf.node)
			}
			continue
		}

		list, _ := record[leaf.name].([]any)
		if list == nil {
			list = []any{}
		}
		if !v.IsNull() {
			list = append(list, convertValue(v, leaf.node))
		}
		record[leaf.name] = list
	}
	return record
}

// julianUnixEpoch is the Julian day number of 1970-01-01, used by INT96
// timestamps.
const julianUnixEpoch = 2440588

// convertValue converts a leaf value to a Go value, honouring the logical
// types analytical writers commonly emit.
func convertValue(v parquet.Value, node parquet.Node) any {
	lt := node.Type().LogicalType()
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		if lt != nil && lt.Date != nil {
			return time.Unix(int64(v.Int32())*86400, 0).UTC()
		}
		return v.Int32()
	case parquet.Int64:
		if lt != nil && lt.Timestamp != nil {
			unit := lt.Timestamp.Unit
			switch {
			case unit.Millis != nil:
				return time.UnixMilli(v.Int64()).UTC()
			case unit.Micros != nil:
				return time.UnixMicro(v.Int64()).UTC()
			default:
				return time.Unix(0, v.Int64()).UTC()
			}
		}
		return v.Int64()
	case parquet.Int96:
		i := v.Int96()
		nanos := int64(uint64(i[1])<<32 | uint64(i[0]))
		days := int64(i[2]) - julianUnixEpoch
		return time.Unix(days*86400, nanos).UTC()
	case parquet.Float:
		return v.Float()
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		if lt != nil && (lt.UTF8 != nil || lt.Json != nil || lt.Enum != nil) {
			return string(v.ByteArray())
		}
		b := v.ByteArray()
		out := make([]byte, len(b))
		copy(out, b)
		return out
	default:
		return nil
	}
}

// schemaFromParquet reports a file's top-level columns.
func schemaFromParquet(schema *parquet.Schema) Schema {
	fields := schema.Fields()
	out := Schema{Fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		out.Fields = append(out.Fields, Field{
			Name:     f.Name(),
			Type:     parquetTypeName(f),
			Nullable: f.Optional(),
		})
	}
	return out
}

func parquetTypeName(node parquet.Node) string {
	if node.Leaf() {
		return node.Type().String()
	}
	lt := node.Type().LogicalType()
	switch {
	case lt != nil && lt.List != nil:
		return "array"
	case lt != nil && lt.Map != nil:
		return "map"
	default:
		return "struct"
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
