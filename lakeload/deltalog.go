package lakeload

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
)

// deltaLogDir is the transaction log directory under the table root.
const deltaLogDir = "_delta_log"

// LatestVersion requests the newest committed table version.
const LatestVersion int64 = -1

var (
	commitFileRe     = regexp.MustCompile(`^(\d{20})\.json$`)
	checkpointFileRe = regexp.MustCompile(`^(\d{20})\.checkpoint(?:\.(\d{10})\.(\d{10}))?\.parquet$`)
)

// errNotDeltaTable indicates the location has no transaction log.
var errNotDeltaTable = errors.New("no delta transaction log")

// -----------------------------------------------------------------------------
// Log actions
// -----------------------------------------------------------------------------

// action is one line of a JSON commit. Exactly one field is set.
type action struct {
	Protocol *Protocol      `json:"protocol,omitempty"`
	MetaData *TableMetadata `json:"metaData,omitempty"`
	Add      *addAction     `json:"add,omitempty"`
	Remove   *removeAction  `json:"remove,omitempty"`
}

type addAction struct {
	Path             string            `json:"path"`
	PartitionValues  map[string]string `json:"partitionValues"`
	Size             int64             `json:"size"`
	ModificationTime int64             `json:"modificationTime"`
	DataChange       bool              `json:"dataChange"`
	Stats            string            `json:"stats,omitempty"`
}

type removeAction struct {
	Path              string `json:"path"`
	DeletionTimestamp int64  `json:"deletionTimestamp,omitempty"`
	DataChange        bool   `json:"dataChange"`
}

// checkpointRow is one row of a Parquet checkpoint. Columns not listed here
// are dropped by parquet-go's schema conversion.
type checkpointRow struct {
	Protocol *checkpointProtocol `parquet:"protocol,optional"`
	MetaData *checkpointMetadata `parquet:"metaData,optional"`
	Add      *checkpointAdd      `parquet:"add,optional"`
	Remove   *checkpointRemove   `parquet:"remove,optional"`
}

type checkpointProtocol struct {
	MinReaderVersion int32 `parquet:"minReaderVersion"`
	MinWriterVersion int32 `parquet:"minWriterVersion"`
}

type checkpointFormat struct {
	Provider string `parquet:"provider"`
}

type checkpointMetadata struct {
	ID               string            `parquet:"id"`
	Name             string            `parquet:"name,optional"`
	Description      string            `parquet:"description,optional"`
	Format           checkpointFormat  `parquet:"format"`
	SchemaString     string            `parquet:"schemaString"`
	PartitionColumns []string          `parquet:"partitionColumns,list"`
	Configuration    map[string]string `parquet:"configuration"`
	CreatedTime      int64             `parquet:"createdTime,optional"`
}

type checkpointAdd struct {
	Path             string            `parquet:"path"`
	PartitionValues  map[string]string `parquet:"partitionValues"`
	Size             int64             `parquet:"size"`
	ModificationTime int64             `parquet:"modificationTime"`
	DataChange       bool              `parquet:"dataChange"`
	Stats            string            `parquet:"stats,optional"`
}

type checkpointRemove struct {
	Path              string `parquet:"path"`
	DeletionTimestamp int64  `parquet:"deletionTimestamp,optional"`
	DataChange        bool   `parquet:"dataChange"`
}

// -----------------------------------------------------------------------------
// Replay
// -----------------------------------------------------------------------------

// replayState accumulates actions in log order.
type replayState struct {
	protocol *Protocol
	metadata *TableMetadata
	files    []*addAction
	index    map[string]int
}

func newReplayState() *replayState {
	return &replayState{index: make(map[string]int)}
}

// add records a file. Re-adding a live path replaces it in place; adding a
// previously removed path appends it.
func (s *replayState) add(a *addAction) {
	if i, ok := s.index[a.Path]; ok {
		s.files[i] = a
		return
	}
	s.index[a.Path] = len(s.files)
	s.files = append(s.files, a)
}

func (s *replayState) remove(p string) {
	if i, ok := s.index[p]; ok {
		s.files[i] = nil
		delete(s.index, p)
	}
}

func (s *replayState) apply(a *action) {
	switch {
	case a.Protocol != nil:
		s.protocol = a.Protocol
	case a.MetaData != nil:
		s.metadata = a.MetaData
	case a.Add != nil:
		s.add(a.Add)
	case a.Remove != nil:
		s.remove(a.Remove.Path)
	}
}

func (s *replayState) live() []*addAction {
	out := make([]*addAction, 0, len(s.index))
	for _, f := range s.files {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// checkpointParts tracks the parts of one checkpoint version.
type checkpointParts struct {
	total int
	keys  map[int]string
}

func (c *checkpointParts) complete() bool {
	return c.total > 0 && len(c.keys) == c.total
}

func (c *checkpointParts) ordered() []string {
	parts := make([]int, 0, len(c.keys))
	for p := range c.keys {
		parts = append(parts, p)
	}
	sort.Ints(parts)
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = c.keys[p]
	}
	return out
}

// logListing is the parsed contents of a _delta_log directory.
type logListing struct {
	commits     map[int64]string
	checkpoints map[int64]*checkpointParts
}

func listLog(ctx context.Context, store Store, loc Location) (*logListing, error) {
	logPrefix := loc.Key(deltaLogDir) + "/"
	keys, err := store.List(ctx, logPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", logPrefix, err)
	}

	listing := &logListing{
		commits:     make(map[int64]string),
		checkpoints: make(map[int64]*checkpointParts),
	}
	for _, key := range keys {
		name := strings.TrimPrefix(key, logPrefix)
		if strings.Contains(name, "/") {
			continue
		}
		if m := commitFileRe.FindStringSubmatch(name); m != nil {
			v, _ := strconv.ParseInt(m[1], 10, 64)
			listing.commits[v] = key
			continue
		}
		if m := checkpointFileRe.FindStringSubmatch(name); m != nil {
			v, _ := strconv.ParseInt(m[1], 10, 64)
			part, total := 1, 1
			if m[2] != "" {
				part, _ = strconv.Atoi(m[2])
				total, _ = strconv.Atoi(m[3])
			}
			cp := listing.checkpoints[v]
			if cp == nil {
				cp = &checkpointParts{total: total, keys: make(map[int]string)}
				listing.checkpoints[v] = cp
			}
			if cp.total == total {
				cp.keys[part] = key
			}
		}
	}
	return listing, nil
}

// latest returns the newest version the listing can reconstruct.
func (l *logListing) latest() int64 {
	latest := int64(-1)
	for v := range l.commits {
		latest = max(latest, v)
	}
	for v, cp := range l.checkpoints {
		if cp.complete() {
			latest = max(latest, v)
		}
	}
	return latest
}

// checkpointAtOrBefore returns the newest complete checkpoint <= version, or -1.
func (l *logListing) checkpointAtOrBefore(version int64) int64 {
	best := int64(-1)
	for v, cp := range l.checkpoints {
		if v <= version && cp.complete() && v > best {
			best = v
		}
	}
	return best
}

// readTable replays the transaction log at loc up to version (LatestVersion
// for the newest) and returns the resulting snapshot.
func readTable(ctx context.Context, store Store, loc Location, version int64) (*Table, error) {
	listing, err := listLog(ctx, store, loc)
	if err != nil {
		return nil, err
	}

	latest := listing.latest()
	if latest < 0 {
		return nil, fmt.Errorf("%w at %s", errNotDeltaTable, loc)
	}

	target := latest
	if version != LatestVersion {
		if version < 0 || version > latest {
			return nil, fmt.Errorf("%w: %d (latest is %d)", ErrVersionNotFound, version, latest)
		}
		target = version
	}

	cp := listing.checkpointAtOrBefore(target)
	if _, ok := listing.commits[target]; !ok && cp != target {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, target)
	}

	state := newReplayState()
	if cp >= 0 {
		for _, key := range listing.checkpoints[cp].ordered() {
			if err := readCheckpoint(ctx, store, key, state); err != nil {
				return nil, fmt.Errorf("checkpoint %d: %w", cp, err)
			}
		}
	}

	for v := cp + 1; v <= target; v++ {
		key, ok := listing.commits[v]
		if !ok {
			return nil, fmt.Errorf("transaction log gap: commit %d missing", v)
		}
		if err := readCommit(ctx, store, key, state); err != nil {
			return nil, fmt.Errorf("commit %d: %w", v, err)
		}
	}

	if state.metadata == nil {
		return nil, fmt.Errorf("version %d has no metaData action", target)
	}
	schema, err := parseDeltaSchema(state.metadata.SchemaString)
	if err != nil {
		return nil, err
	}

	table := &Table{
		Location: loc,
		Version:  target,
		Metadata: *state.metadata,
		Schema:   schema,
	}
	if state.protocol != nil {
		table.Protocol = *state.protocol
	}

	for _, a := range state.live() {
		uri, err := fileURI(loc, a.Path)
		if err != nil {
			return nil, err
		}
		table.files = append(table.files, DataFile{
			Path:             a.Path,
			URI:              uri,
			Size:             a.Size,
			ModificationTime: time.UnixMilli(a.ModificationTime).UTC(),
			PartitionValues:  a.PartitionValues,
			Stats:            a.Stats,
		})
	}

	return table, nil
}

// readCommit applies every action in a newline-delimited JSON commit.
func readCommit(ctx context.Context, store Store, key string, state *replayState) error {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer closer(rc)()

	br := bufio.NewReader(rc)
	for lineNum := 1; ; lineNum++ {
		line, readErr := br.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			var a action
			if err := json.Unmarshal(line, &a); err != nil {
				return fmt.Errorf("line %d: %w", lineNum, err)
			}
			state.apply(&a)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

// readCheckpoint applies every action row in one checkpoint part.
func readCheckpoint(ctx context.Context, store Store, key string, state *replayState) error {
	ra, size, err := store.ReaderAt(ctx, key)
	if err != nil {
		return err
	}
	if c, ok := ra.(io.Closer); ok {
		defer closer(c)()
	}

	file, err := parquet.OpenFile(ra, size)
	if err != nil {
		return fmt.Errorf("opening parquet: %w", err)
	}

	reader := parquet.NewGenericReader[checkpointRow](file)
	defer closer(reader)()

	rows := make([]checkpointRow, 128)
	for {
		clear(rows)
		n, readErr := reader.Read(rows)
		for i := 0; i < n; i++ {
			state.apply(rows[i].action())
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading rows: %w", readErr)
		}
	}
}

// action converts a checkpoint row into the equivalent JSON action.
func (r *checkpointRow) action() *action {
	switch {
	case r.Protocol != nil:
		return &action{Protocol: &Protocol{
			MinReaderVersion: r.Protocol.MinReaderVersion,
			MinWriterVersion: r.Protocol.MinWriterVersion,
		}}
	case r.MetaData != nil:
		m := r.MetaData
		return &action{MetaData: &TableMetadata{
			ID:               m.ID,
			Name:             m.Name,
			Description:      m.Description,
			Format:           Format{Provider: m.Format.Provider},
			SchemaString:     m.SchemaString,
			PartitionColumns: m.PartitionColumns,
			Configuration:    m.Configuration,
			CreatedTime:      m.CreatedTime,
		}}
	case r.Add != nil:
		a := r.Add
		return &action{Add: &addAction{
			Path:             a.Path,
			PartitionValues:  a.PartitionValues,
			Size:             a.Size,
			ModificationTime: a.ModificationTime,
			DataChange:       a.DataChange,
			Stats:            a.Stats,
		}}
	case r.Remove != nil:
		return &action{Remove: &removeAction{
			Path:              r.Remove.Path,
			DeletionTimestamp: r.Remove.DeletionTimestamp,
			DataChange:        r.Remove.DataChange,
		}}
	default:
		return &action{}
	}
}

// fileURI resolves a log path against the table location. Relative paths
// are URL-encoded in the log; absolute URIs are used as-is.
func fileURI(loc Location, p string) (string, error) {
	if strings.Contains(p, "://") {
		return p, nil
	}
	unescaped, err := url.PathUnescape(p)
	if err != nil {
		return "", fmt.Errorf("data file path %q: %w", p, err)
	}
	return loc.URI(path.Clean(unescaped)), nil
}
