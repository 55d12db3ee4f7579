package lakeload

import (
	"fmt"
	"strings"
)

// FileSelection chooses which of a table's data files a query frame reads.
// Files are given in transaction log replay order.
type FileSelection interface {
	// Name identifies the strategy in logs and configuration.
	Name() string

	// Select returns the chosen files. An empty result is reported as
	// ErrEmptyTable by the loader.
	Select(files []DataFile) []DataFile
}

// Strategy names accepted by SelectionByName.
const (
	SelectionFirst  = "first"
	SelectionAll    = "all"
	SelectionLatest = "latest"
)

// SelectFirst reads exactly the first file in replay order. It is the
// default, and yields partial data for any table with more than one file.
var SelectFirst FileSelection = firstFile{}

// SelectAll reads every live data file.
var SelectAll FileSelection = allFiles{}

// SelectLatest reads the single most recently modified file. Ties keep the
// earlier file in replay order.
var SelectLatest FileSelection = latestFile{}

// SelectWhere reads the files matching pred, in replay order.
func SelectWhere(name string, pred func(DataFile) bool) FileSelection {
	return predicate{name: name, pred: pred}
}

// SelectPartition reads the files whose partition column equals value.
func SelectPartition(column, value string) FileSelection {
	return SelectWhere(column+"="+value, func(f DataFile) bool {
		v, ok := f.PartitionValues[column]
		return ok && v == value
	})
}

// SelectionByName returns the strategy for a configuration name.
func SelectionByName(name string) (FileSelection, error) {
	switch strings.ToLower(name) {
	case "", SelectionFirst:
		return SelectFirst, nil
	case SelectionAll:
		return SelectAll, nil
	case SelectionLatest:
		return SelectLatest, nil
	default:
		return nil, fmt.Errorf("unknown file selection %q (want %s, %s or %s)", name, SelectionFirst, SelectionAll, SelectionLatest)
	}
}

type firstFile struct{}

func (firstFile) Name() string { return SelectionFirst }

func (firstFile) Select(files []DataFile) []DataFile {
	if len(files) == 0 {
		return nil
	}
	return files[:1]
}

type allFiles struct{}

func (allFiles) Name() string { return SelectionAll }

func (allFiles) Select(files []DataFile) []DataFile { return files }

type latestFile struct{}

func (latestFile) Name() string { return SelectionLatest }

func (latestFile) Select(files []DataFile) []DataFile {
	if len(files) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(files); i++ {
		if files[i].ModificationTime.After(files[best].ModificationTime) {
			best = i
		}
	}
	return files[best : best+1]
}

type predicate struct {
	name string
	pred func(DataFile) bool
}

func (p predicate) Name() string { return "where:" + p.name }

func (p predicate) Select(files []DataFile) []DataFile {
	var out []DataFile
	for _, f := range files {
		if p.pred(f) {
			out = append(out, f)
		}
	}
	return out
}
