// Package asset opens configuration and view files that live either on the
// local filesystem or behind an http(s) URL.
package asset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Timeout for fetching remote resources.
var FetchTimeout = 30 * time.Second

var httpClient = &http.Client{}

// A streamable local file or remote document.
type Resource struct {
	io.ReadCloser
	url *url.URL
}

// Returns the path to this resource.
func (r *Resource) Path() string {
	return r.url.String()
}

// Returns the file name of this resource.
func (r *Resource) Name() string {
	if r.IsRemote() {
		return filepath.Base(r.url.Path)
	}
	return filepath.Base(r.Path())
}

// Returns true if the resource is streamed over http/https.
func (r *Resource) IsRemote() bool {
	return r.url.Scheme != ""
}

// Resolve a location against this resource. Absolute URLs and absolute local
// paths are returned unchanged; relative ones are resolved against the
// directory that contains the resource.
func (r *Resource) Resolve(location string) (string, error) {
	u, err := resolve(location, r)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func resolve(location string, relTo *Resource) (*url.URL, error) {
	u, err := url.Parse(strings.Replace(location, `\`, `/`, -1))
	if err != nil {
		return nil, fmt.Errorf("asset: invalid location %q: %w", location, err)
	}
	if u.Scheme != "" || relTo == nil || filepath.IsAbs(u.Path) {
		return u, nil
	}

	base, _ := url.Parse(relTo.url.String())
	prefix := base.Path
	if base.Scheme == "" {
		prefix, err = filepath.Abs(relTo.url.String())
		if err != nil {
			return nil, fmt.Errorf("asset: could not detect abs path for %s: %w", relTo.url.String(), err)
		}
	}
	base.Path = filepath.Dir(prefix) + "/" + u.Path
	base.RawQuery = u.RawQuery
	return base, nil
}

// Open a resource. If relTo is not nil and location is relative, location is
// resolved against the directory of relTo. The caller must close the
// returned resource.
func NewResource(ctx context.Context, location string, relTo *Resource) (*Resource, error) {
	u, err := resolve(location, relTo)
	if err != nil {
		return nil, err
	}

	var reader io.ReadCloser
	switch u.Scheme {
	case "":
		reader, err = os.Open(filepath.Clean(u.Path))
		if err != nil {
			return nil, fmt.Errorf("asset: %w", err)
		}
	case "http", "https":
		reader, err = fetch(ctx, u)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("asset: unsupported scheme '%s'", u.Scheme)
	}

	return &Resource{
		ReadCloser: reader,
		url:        u,
	}, nil
}

func fetch(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("asset: could not fetch '%s': %w", u, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("asset: could not fetch '%s': %w", u, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("asset: could not fetch '%s': status %d", u, resp.StatusCode)
	}
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// Create a resource from a reader.
func NewResourceFromStream(name string, source io.Reader) *Resource {
	u, _ := url.Parse(name)
	return &Resource{
		ReadCloser: io.NopCloser(source),
		url:        u,
	}
}

// Open a resource, read it fully and close it.
func ReadAll(ctx context.Context, location string, relTo *Resource) ([]byte, *Resource, error) {
	res, err := NewResource(ctx, location, relTo)
	if err != nil {
		return nil, nil, err
	}
	defer res.Close()

	data, err := io.ReadAll(res)
	if err != nil {
		return nil, nil, fmt.Errorf("asset: could not read %s: %w", res.Path(), err)
	}
	return data, res, nil
}
