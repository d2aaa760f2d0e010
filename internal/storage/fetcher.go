package storage

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Location schemes understood by Fetcher. A location without a scheme is a local path.
const (
	schemeFile  = "file://"
	schemeBolt  = "bolt://"
	schemeS3    = "s3://"
	schemeHTTP  = "http://"
	schemeHTTPS = "https://"
)

// FetcherConfig configures the remote sources of a Fetcher.
type FetcherConfig struct {
	S3          S3ClientConfig
	HTTPTimeout time.Duration
}

// Fetcher resolves artifact locations:
//
//	models/rf.json                 local file
//	file:///srv/models/rf.json     local file
//	bolt://models.db#rf            artifact "rf" in bundle models.db
//	s3://bucket/models/rf.json     S3 object
//	https://host/models/rf.json    HTTP(S) download
//
// Bundles are opened read-only on first use and kept open until Close. The S3
// client is created on the first s3:// location.
type Fetcher struct {
	cfg  FetcherConfig
	http *httpSource

	mu      sync.Mutex
	bundles map[string]*Bundle
	s3      *s3Source
}

// NewFetcher returns a Fetcher using cfg for remote locations.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	return &Fetcher{
		cfg:     cfg,
		http:    newHTTPSource(cfg.HTTPTimeout),
		bundles: make(map[string]*Bundle),
	}
}

// Fetch returns the bytes at location.
func (f *Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	switch {
	case strings.HasPrefix(location, schemeBolt):
		path, name, err := parseBoltLocation(strings.TrimPrefix(location, schemeBolt))
		if err != nil {
			return nil, err
		}
		b, err := f.bundle(path)
		if err != nil {
			return nil, err
		}
		return b.Get(name)
	case strings.HasPrefix(location, schemeS3):
		bucket, key, err := parseS3Location(strings.TrimPrefix(location, schemeS3))
		if err != nil {
			return nil, err
		}
		src, err := f.s3Source(ctx)
		if err != nil {
			return nil, err
		}
		return src.fetch(ctx, bucket, key)
	case strings.HasPrefix(location, schemeHTTP), strings.HasPrefix(location, schemeHTTPS):
		return f.http.fetch(ctx, location)
	default:
		path := strings.TrimPrefix(location, schemeFile)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
		return data, nil
	}
}

// parseBoltLocation splits "path#name" (the part after bolt://).
func parseBoltLocation(rest string) (path, name string, err error) {
	i := strings.LastIndex(rest, "#")
	if i <= 0 || i == len(rest)-1 {
		return "", "", errors.Newf("bundle location must be bolt://path#name, got bolt://%s", rest)
	}
	return rest[:i], rest[i+1:], nil
}

func (f *Fetcher) bundle(path string) (*Bundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.bundles[path]; ok {
		return b, nil
	}
	b, err := Open(path)
	if err != nil {
		return nil, err
	}
	f.bundles[path] = b
	return b, nil
}

func (f *Fetcher) s3Source(ctx context.Context) (*s3Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.s3 != nil {
		return f.s3, nil
	}
	src, err := newS3Source(ctx, f.cfg.S3)
	if err != nil {
		return nil, err
	}
	f.s3 = src
	return src, nil
}

// Close closes every bundle opened by Fetch.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs error
	for path, b := range f.bundles {
		errs = errors.CombineErrors(errs, b.Close())
		delete(f.bundles, path)
	}
	return errs
}
