package memory

import (
	"bytes"
	"cellxplore/internal/blob/core"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestStore_MissingHeadGet(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found head error, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found get error, got %v", err)
	}
}

func TestStore_AllBranches(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Put(ctx, "k/a", bytes.NewReader([]byte("v")), core.PutOptions{Metadata: map[string]string{"a": "1"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "k/a", bytes.NewReader([]byte("v2")), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate put error")
	}
	if _, err := store.Put(ctx, "other", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	if list, err := store.List(ctx, ""); err != nil || len(list) != 2 {
		t.Fatalf("list all: %v %d", err, len(list))
	}
	if list, err := store.List(ctx, "k/"); err != nil || len(list) != 1 {
		t.Fatalf("list prefix: %v %d", err, len(list))
	}
	_, rc, err := store.Get(ctx, "k/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "v" {
		t.Fatalf("unexpected payload %q", b)
	}
	if _, err := store.PresignURL(ctx, "k/a", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported presign")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, fmt.Errorf("fail") }

func TestStore_PutReadErrorAndDriver(t *testing.T) {
	store := New()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("expected memory driver")
	}
	if _, err := store.Put(context.Background(), "bad", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestStore_ListIsOrderedRangeScan(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, k := range []string{"d.zarr/obs/.zgroup", "d.zarr/.zgroup", "e.zarr/.zgroup", "d.zarr/uns/.zgroup"} {
		if _, err := store.Put(ctx, k, bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	list, err := store.List(ctx, "d.zarr/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var keys []string
	for _, inf := range list {
		keys = append(keys, inf.Key)
	}
	want := []string{"d.zarr/.zgroup", "d.zarr/obs/.zgroup", "d.zarr/uns/.zgroup"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
}

func TestStore_InfoAndCancellation(t *testing.T) {
	store := New()
	ctx := context.Background()
	info, err := store.Put(ctx, "meta.json", bytes.NewReader([]byte("abc")), core.PutOptions{})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.ETag != "900150983cd24fb0d6963f7d28e17f72" {
		t.Fatalf("unexpected etag %q", info.ETag)
	}
	if info.ContentType != "application/json" {
		t.Fatalf("unexpected content type %q", info.ContentType)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := store.Get(canceled, "meta.json"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled get, got %v", err)
	}
}
