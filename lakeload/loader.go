package lakeload

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"

	"go.uber.org/zap"
)

// Config configures a Loader.
type Config struct {
	// Region is the deployment region of the table's bucket. Required.
	Region string

	// Endpoint overrides the object store endpoint (MinIO, LocalStack, R2).
	Endpoint string

	// UsePathStyle selects path-style addressing for S3-compatible stores.
	UsePathStyle bool

	// Selection chooses the data files OpenForQuery reads.
	// Nil means SelectFirst.
	Selection FileSelection
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithRegistry sets the backend registry. Defaults to DefaultRegistry.
func WithRegistry(r *Registry) LoaderOption {
	return func(l *Loader) {
		if r != nil {
			l.registry = r
		}
	}
}

// WithHandlers adds backend registration functions, such as
// s3.RegisterHandlers. They run at the start of every open, so they must be
// idempotent.
func WithHandlers(fns ...func(*Registry)) LoaderOption {
	return func(l *Loader) {
		l.handlers = append(l.handlers, fns...)
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// OpenOption configures a single open call.
type OpenOption func(*openOptions)

type openOptions struct {
	version int64
}

// AtVersion opens the table as of the given committed version instead of
// the latest.
func AtVersion(v int64) OpenOption {
	return func(o *openOptions) {
		o.version = v
	}
}

// Loader opens Delta tables from object storage.
//
// A Loader holds no per-table state: each call binds its own store and, for
// queries, its own Session, so concurrent calls are independent.
type Loader struct {
	cfg      Config
	registry *Registry
	handlers []func(*Registry)
	logger   *zap.Logger
}

// NewLoader creates a loader. Returns an error if cfg.Region is empty.
func NewLoader(cfg Config, opts ...LoaderOption) (*Loader, error) {
	if cfg.Region == "" {
		return nil, errors.New("lakeload: region is required")
	}
	if cfg.Selection == nil {
		cfg.Selection = SelectFirst
	}
	l := &Loader{
		cfg:      cfg,
		registry: DefaultRegistry,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// loadState names the steps of OpenForQuery.
type loadState int

const (
	stateStart loadState = iota
	stateHandlersRegistered
	stateURIParsed
	stateStoreBound
	stateTableOpened
	stateFileSelected
	stateFrameOpened
)

var loadStateNames = [...]string{
	stateStart:              "start",
	stateHandlersRegistered: "handlers_registered",
	stateURIParsed:          "uri_parsed",
	stateStoreBound:         "store_bound",
	stateTableOpened:        "table_opened",
	stateFileSelected:       "file_selected",
	stateFrameOpened:        "frame_opened",
}

func (s loadState) String() string {
	if int(s) < len(loadStateNames) {
		return loadStateNames[s]
	}
	return fmt.Sprintf("loadState(%d)", int(s))
}

// Binding returns the binding the loader would use for loc and creds.
func (l *Loader) Binding(loc Location, creds CredentialMap) Binding {
	return Binding{
		Location:     loc,
		Region:       l.cfg.Region,
		Endpoint:     l.cfg.Endpoint,
		UsePathStyle: l.cfg.UsePathStyle,
		Credentials:  creds,
	}
}

func (l *Loader) registerHandlers() {
	for _, register := range l.handlers {
		register(l.registry)
	}
}

// OpenMetadata opens the table at uri and returns its snapshot: version,
// metadata, schema, and data file list.
//
// Returns ErrOpenFailed if the location cannot be bound or its transaction
// log cannot be read (missing table, malformed metadata, log gaps).
func (l *Loader) OpenMetadata(ctx context.Context, uri string, creds CredentialMap, opts ...OpenOption) (*Table, error) {
	o := openOptions{version: LatestVersion}
	for _, opt := range opts {
		opt(&o)
	}

	l.registerHandlers()

	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}

	binding := l.Binding(loc, creds)
	store, err := l.registry.Bind(ctx, binding)
	if err != nil {
		return nil, fmt.Errorf("%w: binding %s: %w", ErrOpenFailed, loc, err)
	}

	table, err := readTable(ctx, store, loc, o.version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, loc, err)
	}

	l.logger.Info("delta table opened",
		zap.String("location", loc.String()),
		zap.Int64("version", table.Version),
		zap.String("table_id", table.Metadata.ID),
		zap.String("name", table.Metadata.Name),
		zap.Strings("columns", table.Schema.Names()),
		zap.Strings("partition_columns", table.Metadata.PartitionColumns),
		zap.Int("files", table.NumFiles()),
		zap.Strings("storage_options", optionKeys(binding.StorageOptions())),
	)

	return table, nil
}

// OpenForQuery opens the table at uri and returns a lazy frame over the data
// files chosen by the configured FileSelection (SelectFirst by default).
//
// Returns ErrInvalidURI before any network access if uri has no bucket,
// ErrOpenFailed if the table cannot be opened, ErrEmptyTable if no data file
// is selected, and ErrReadFailed if a selected file cannot be read.
func (l *Loader) OpenForQuery(ctx context.Context, uri string, creds CredentialMap, opts ...OpenOption) (*Frame, error) {
	o := openOptions{version: LatestVersion}
	for _, opt := range opts {
		opt(&o)
	}

	state := stateStart
	advance := func(next loadState) {
		l.logger.Debug("load state", zap.Stringer("from", state), zap.Stringer("to", next))
		state = next
	}
	fail := func(err error) error {
		l.logger.Debug("load failed", zap.Stringer("state", state), zap.Error(err))
		return err
	}

	l.registerHandlers()
	advance(stateHandlersRegistered)

	loc, err := ParseLocation(uri)
	if err != nil {
		return nil, fail(err)
	}
	advance(stateURIParsed)

	binding := l.Binding(loc, creds)
	store, err := l.registry.Bind(ctx, binding)
	if err != nil {
		return nil, fail(fmt.Errorf("%w: binding %s: %w", ErrOpenFailed, loc, err))
	}
	advance(stateStoreBound)

	table, err := readTable(ctx, store, loc, o.version)
	if err != nil {
		return nil, fail(fmt.Errorf("%w: %s: %w", ErrOpenFailed, loc, err))
	}
	advance(stateTableOpened)

	selected := l.cfg.Selection.Select(table.Files())
	if len(selected) == 0 {
		return nil, fail(fmt.Errorf("%w: %s version %d (%d files, selection %s)",
			ErrEmptyTable, loc, table.Version, table.NumFiles(), l.cfg.Selection.Name()))
	}
	uris := make([]string, len(selected))
	for i, f := range selected {
		uris[i] = f.URI
	}
	advance(stateFileSelected)

	l.logger.Info("data files selected",
		zap.String("location", loc.String()),
		zap.Int64("version", table.Version),
		zap.String("selection", l.cfg.Selection.Name()),
		zap.Int("selected", len(selected)),
		zap.Int("files", table.NumFiles()),
		zap.String("first_file", uris[0]),
	)

	storeURL, err := url.Parse(loc.StoreURL())
	if err != nil {
		return nil, fail(fmt.Errorf("%w: %w", ErrInvalidURI, err))
	}
	session := NewSession(WithSessionLogger(l.logger))
	session.RegisterObjectStore(storeURL, store)

	frame, err := session.ReadParquet(ctx, uris...)
	if err != nil {
		return nil, fail(err)
	}
	advance(stateFrameOpened)

	return frame, nil
}

func optionKeys(opts map[string]string) []string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
