package lakeload

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Storage option keys added to the credential map by Binding.StorageOptions.
const (
	OptionBucket    = "bucket"
	OptionRegion    = "region"
	OptionEndpoint  = "endpoint"
	OptionPathStyle = "path_style"
)

// schemeFile is the local filesystem scheme. File URIs carry no host
// (file:///abs/path), so they are exempt from the bucket requirement.
const schemeFile = "file"

// Location identifies a table in object storage.
type Location struct {
	// Scheme is the storage protocol, lower-cased (for example "s3").
	Scheme string

	// Bucket is the bucket or container name (the URI host).
	Bucket string

	// Prefix is the table's key prefix within the bucket, without leading or
	// trailing slashes. For file locations it is the absolute directory.
	Prefix string
}

// ParseLocation parses a table URI of the form
// scheme://bucket/optional/path/prefix/.
//
// Returns ErrInvalidURI if the string is not an absolute URI or has no host.
// No network access happens here.
func ParseLocation(raw string) (Location, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Location{}, fmt.Errorf("%w: %q: %w", ErrInvalidURI, raw, err)
	}
	if u.Scheme == "" {
		return Location{}, fmt.Errorf("%w: %q: missing scheme", ErrInvalidURI, raw)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == schemeFile {
		if u.Host != "" && u.Host != "localhost" {
			return Location{}, fmt.Errorf("%w: %q: file uri with remote host", ErrInvalidURI, raw)
		}
		p := path.Clean("/" + u.Path)
		return Location{Scheme: scheme, Prefix: p}, nil
	}

	if u.Hostname() == "" {
		return Location{}, fmt.Errorf("%w: %q: missing bucket name", ErrInvalidURI, raw)
	}
	if strings.Contains(u.Host, ":") {
		return Location{}, fmt.Errorf("%w: %q: bucket name with port", ErrInvalidURI, raw)
	}

	return Location{
		Scheme: scheme,
		Bucket: u.Hostname(),
		Prefix: cleanPrefix(u.Path),
	}, nil
}

// MustParseLocation is like ParseLocation but panics on error.
// Intended for literals in tests and examples.
func MustParseLocation(raw string) Location {
	loc, err := ParseLocation(raw)
	if err != nil {
		panic(err)
	}
	return loc
}

// StoreURL returns scheme://bucket, the key a query session uses to route
// reads to an object store.
func (l Location) StoreURL() string {
	return l.Scheme + "://" + l.Bucket
}

// Key joins rel onto the table prefix, producing a store key.
func (l Location) Key(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if l.Scheme == schemeFile {
		return strings.TrimPrefix(path.Join(l.Prefix, rel), "/")
	}
	if l.Prefix == "" {
		return rel
	}
	return path.Join(l.Prefix, rel)
}

// URI returns the URI of rel under this table, percent-encoded as needed.
func (l Location) URI(rel string) string {
	u := url.URL{Scheme: l.Scheme, Host: l.Bucket, Path: "/" + l.Key(rel)}
	return u.String()
}

// String returns the table URI with a trailing slash.
func (l Location) String() string {
	if l.Scheme == schemeFile {
		return "file://" + strings.TrimSuffix(l.Prefix, "/") + "/"
	}
	if l.Prefix == "" {
		return l.StoreURL() + "/"
	}
	return l.StoreURL() + "/" + l.Prefix + "/"
}

func cleanPrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return strings.Trim(path.Clean(p), "/")
}

// Binding is the single description of how to reach a table: where it is,
// which region serves it, and which credentials sign requests. Both the
// object store client and the storage options map are derived from it, so
// the two can never disagree.
type Binding struct {
	Location Location

	// Region is the deployment region of the bucket. Required for S3.
	Region string

	// Endpoint overrides the service endpoint (MinIO, LocalStack, R2).
	Endpoint string

	// UsePathStyle selects path-style addressing.
	UsePathStyle bool

	// Credentials sign requests. See CredentialMap.
	Credentials CredentialMap
}

// StorageOptions returns the credential map plus bucket and region (and the
// endpoint settings when present). The returned map is a fresh copy.
func (b Binding) StorageOptions() map[string]string {
	opts := make(map[string]string, len(b.Credentials)+4)
	for k, v := range b.Credentials {
		opts[k] = v
	}
	opts[OptionBucket] = b.Location.Bucket
	opts[OptionRegion] = b.Region
	if b.Endpoint != "" {
		opts[OptionEndpoint] = b.Endpoint
	}
	if b.UsePathStyle {
		opts[OptionPathStyle] = strconv.FormatBool(true)
	}
	return opts
}
