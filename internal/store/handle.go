// Package store owns the opened array store and locates the tables the
// query layer works on.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"cellxplore/internal/blob"
	"cellxplore/internal/table"
	"cellxplore/internal/zarr"
)

// ErrStoreUnavailable is matched by every error reporting that the store
// could not be opened.
var ErrStoreUnavailable = errors.New("store not loaded")

// UnavailableError carries the store path and the underlying open failure.
type UnavailableError struct {
	Path string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store not loaded: %s: %v", e.Path, e.Err)
}

func (e *UnavailableError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// Defaults applied by New for zero-valued options.
const (
	DefaultInteractionTable = "Cellchat_Interactions"
	DefaultObsTypeColumn    = "clusters"
	DefaultSubTable         = "table"
	DefaultCacheSize        = 32
)

// Options configures a Handle.
type Options struct {
	// Path is the key prefix of the Zarr store inside the blob store.
	Path string
	// SubTables are the names probed under tables/<name>/ for nested layouts.
	SubTables []string
	// InteractionTable is the annotation name of the interaction table.
	InteractionTable string
	// ObsTypeColumn is the observation column holding type labels.
	ObsTypeColumn string
	// CacheSize bounds the number of decoded tables kept in memory.
	CacheSize int
	// OnOpen, when set, is called once with the outcome of opening the store.
	OnOpen func(err error)
}

func (o Options) withDefaults() Options {
	if len(o.SubTables) == 0 {
		o.SubTables = []string{DefaultSubTable}
	}
	if o.InteractionTable == "" {
		o.InteractionTable = DefaultInteractionTable
	}
	if o.ObsTypeColumn == "" {
		o.ObsTypeColumn = DefaultObsTypeColumn
	}
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
	return o
}

type cached struct {
	table *table.Table
	found bool
}

// Handle is the process-wide view of one array store. The store is opened at
// most once; decoded tables are cached and shared read-only.
type Handle struct {
	blob blob.Store
	opts Options

	once sync.Once
	mu   sync.RWMutex
	root *zarr.Group
	err  error

	cache *lru.Cache[string, cached]
	loads singleflight.Group
}

// New returns an unopened handle. Open (or the first data access) reads the
// store root.
func New(b blob.Store, opts Options) (*Handle, error) {
	opts = opts.withDefaults()
	cache, err := lru.New[string, cached](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Handle{blob: b, opts: opts, cache: cache}, nil
}

// Open returns a handle whose store has been opened successfully.
func Open(ctx context.Context, b blob.Store, opts Options) (*Handle, error) {
	h, err := New(b, opts)
	if err != nil {
		return nil, err
	}
	if err := h.Open(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Open reads the store root. It is idempotent: only the first call touches
// the backend and its outcome, success or failure, is returned to every
// later caller. The open is detached from ctx cancellation so that a caller
// going away cannot leave a cancellation recorded as the outcome.
func (h *Handle) Open(ctx context.Context) error {
	h.once.Do(func() {
		root, err := zarr.Open(context.WithoutCancel(ctx), h.blob, h.opts.Path)
		if err != nil {
			err = &UnavailableError{Path: h.opts.Path, Err: err}
		}
		h.mu.Lock()
		h.root, h.err = root, err
		h.mu.Unlock()
		if h.opts.OnOpen != nil {
			h.opts.OnOpen(err)
		}
	})
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Loaded reports whether the store has been opened successfully, without
// attempting to open it.
func (h *Handle) Loaded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.root != nil
}

// Path returns the store key prefix.
func (h *Handle) Path() string { return h.opts.Path }

// Options returns the effective options.
func (h *Handle) Options() Options { return h.opts }

func (h *Handle) rootGroup(ctx context.Context) (*zarr.Group, error) {
	if err := h.Open(ctx); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.root, nil
}

// Describe walks the whole store and returns every node.
func (h *Handle) Describe(ctx context.Context) ([]zarr.Node, error) {
	root, err := h.rootGroup(ctx)
	if err != nil {
		return nil, err
	}
	var nodes []zarr.Node
	err = root.Walk(ctx, func(n zarr.Node) error {
		nodes = append(nodes, n)
		return nil
	})
	return nodes, err
}
