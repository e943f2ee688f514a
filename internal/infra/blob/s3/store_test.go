package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"cellxplore/internal/blob/core"
)

func TestStore_MockedBasicFlow(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	info, err := store.Put(ctx, "brain.zarr/.zgroup", bytes.NewReader([]byte(`{"zarr_format":2}`)), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "brain.zarr/.zgroup" || info.ContentType != "application/json" {
		t.Fatalf("unexpected info %#v", info)
	}
	if _, err := store.Put(ctx, "brain.zarr/.zgroup", bytes.NewReader([]byte("ignored")), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate put error")
	}
	if _, err := store.Head(ctx, "brain.zarr/.zgroup"); err != nil {
		t.Fatalf("head: %v", err)
	}
	_, rc, err := store.Get(ctx, "brain.zarr/.zgroup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != `{"zarr_format":2}` {
		t.Fatalf("get mismatch: %q", string(data))
	}
	list, err := store.List(ctx, "brain.zarr/")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %+v", err, list)
	}
	if url, err := store.PresignURL(ctx, "brain.zarr/.zgroup", core.SignedURLOptions{Expiry: 30 * time.Second}); err != nil || url == "" {
		t.Fatalf("presign: %v %s", err, url)
	}
}

func TestStore_New(t *testing.T) {
	s, err := New(context.Background(), Config{
		Bucket: "bkt", Region: "us-east-1", Endpoint: "https://mock.s3.local", PathStyle: true,
		AccessKeyID: "AKIA", SecretAccessKey: "SECRET", Prefix: "/datasets/",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Driver() != core.DriverS3 {
		t.Fatalf("expected DriverS3")
	}
	if got := s.objectKey("a.zarr/.zgroup"); got != "datasets/a.zarr/.zgroup" {
		t.Fatalf("unexpected object key %q", got)
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket required error")
	}
}

func TestStore_ErrorPaths(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found head error, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found get error, got %v", err)
	}
	if _, err := store.PresignURL(ctx, "k", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected presign unsupported error")
	}
	if list, err := store.List(ctx, "no-such-prefix/"); err != nil || len(list) != 0 {
		t.Fatalf("expected empty list: %v %+v", err, list)
	}
}

func TestNormalizePrefix(t *testing.T) {
	cases := map[string]string{"": "", "/": "", "a": "a/", "/a/b/": "a/b/"}
	for in, want := range cases {
		if got := normalizePrefix(in); got != want {
			t.Fatalf("normalizePrefix(%q)=%q want %q", in, got, want)
		}
	}
}
