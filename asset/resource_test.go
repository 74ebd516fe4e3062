package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLocalResource(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "snapper.yaml", "mapconfig: foo")

	res, err := NewResource(context.Background(), path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Close()

	if res.IsRemote() {
		t.Fatal("expected local resource")
	}
	if res.Name() != "snapper.yaml" {
		t.Fatalf("expected name snapper.yaml; got %s", res.Name())
	}
	data, err := io.ReadAll(res)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "mapconfig: foo" {
		t.Fatalf("unexpected content %q", data)
	}

	if _, err = NewResource(context.Background(), filepath.Join(dir, "missing.yaml"), nil); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error; got %v", err)
	}
}

func TestLocalRelativeResource(t *testing.T) {
	dir := t.TempDir()
	parentPath := writeFile(t, dir, "service.yaml", "views: views.yaml")
	writeFile(t, dir, "views.yaml", "- name: a")

	parent, err := NewResource(context.Background(), parentPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer parent.Close()

	data, res, err := ReadAll(context.Background(), "views.yaml", parent)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "- name: a" {
		t.Fatalf("unexpected content %q", data)
	}
	if res.Name() != "views.yaml" {
		t.Fatalf("expected name views.yaml; got %s", res.Name())
	}

	// Absolute paths ignore the parent.
	abs, err := parent.Resolve(parentPath)
	if err != nil {
		t.Fatal(err)
	}
	if abs != filepath.ToSlash(parentPath) {
		t.Fatalf("expected %s; got %s", parentPath, abs)
	}
}

func TestHttpResource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "views.yaml", "[]")

	server := httptest.NewServer(http.FileServer(http.Dir(dir)))
	defer server.Close()

	res, err := NewResource(context.Background(), server.URL+"/views.yaml", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsRemote() || res.Name() != "views.yaml" {
		t.Fatalf("unexpected remote resource %s (%s)", res.Path(), res.Name())
	}
	res.Close()

	fetchURL := server.URL + "/file-not-found.foo"
	expError := fmt.Sprintf("asset: could not fetch '%s': status %d", fetchURL, 404)
	_, err = NewResource(context.Background(), fetchURL, nil)
	if err == nil || err.Error() != expError {
		t.Fatalf("expected to get: %s; got %v", expError, err)
	}
}

func TestRelativeHttpResources(t *testing.T) {
	var serverHits atomic.Int32
	serverFn := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serverHits.Add(1)
		switch r.URL.Path {
		case "/config/service.yaml", "/config/views.yaml":
			w.Write([]byte("OK"))
		default:
			http.NotFound(w, r)
		}
	})
	server := httptest.NewServer(serverFn)
	defer server.Close()

	res1, err := NewResource(context.Background(), server.URL+"/config/service.yaml", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer res1.Close()
	res2, err := NewResource(context.Background(), "views.yaml", res1)
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Close()

	if serverHits.Load() != 2 {
		t.Fatalf("expected server to receive 2 requests; got %d", serverHits.Load())
	}
}

func TestHttpResourceContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewResource(ctx, server.URL+"/slow.yaml", nil)
	if err == nil || !strings.Contains(err.Error(), "context deadline exceeded") {
		t.Fatalf("expected deadline error; got %v", err)
	}
}

func TestUnsupportedResourceScheme(t *testing.T) {
	expError := "asset: unsupported scheme 'gopher'"
	_, err := NewResource(context.Background(), "gopher://digging.go", nil)
	if err == nil || err.Error() != expError {
		t.Fatalf("expected to get: %s; got %v", expError, err)
	}
}

func TestResourceFromStream(t *testing.T) {
	res := NewResourceFromStream("embedded.yaml", strings.NewReader("payload"))
	defer res.Close()

	data, err := io.ReadAll(res)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" || res.Name() != "embedded.yaml" {
		t.Fatalf("unexpected stream resource %s: %q", res.Name(), data)
	}
}
