package zarr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	json "github.com/json-iterator/go"

	"cellxplore/internal/blob"
)

// Store reads a Zarr v2 hierarchy rooted at a key prefix of a blob store.
// When the root carries consolidated metadata (.zmetadata) node documents are
// served from it and only chunk reads touch the backend.
type Store struct {
	blob         blob.Store
	prefix       string
	consolidated map[string]json.RawMessage
}

// Open validates the root group at prefix and returns it.
func Open(ctx context.Context, b blob.Store, prefix string) (*Group, error) {
	s := &Store{blob: b, prefix: strings.Trim(prefix, "/")}
	if err := s.loadConsolidated(ctx); err != nil {
		return nil, err
	}
	raw, err := s.document(ctx, groupKey)
	if err != nil {
		return nil, fmt.Errorf("open root group %q: %w", s.prefix, err)
	}
	if _, err := parseGroupMeta(raw); err != nil {
		return nil, fmt.Errorf("open root group %q: %w", s.prefix, err)
	}
	return &Group{store: s}, nil
}

// Consolidated reports whether node documents come from .zmetadata.
func (s *Store) Consolidated() bool { return s.consolidated != nil }

func (s *Store) loadConsolidated(ctx context.Context) error {
	raw, err := s.read(ctx, consolidatedKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var doc struct {
		Format   int                        `json:"zarr_consolidated_format"`
		Metadata map[string]json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode %s: %w", consolidatedKey, err)
	}
	if doc.Format != 1 || doc.Metadata == nil {
		return nil
	}
	s.consolidated = doc.Metadata
	return nil
}

func (s *Store) key(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return s.prefix + "/" + rel
}

func (s *Store) read(ctx context.Context, rel string) ([]byte, error) {
	_, rc, err := s.blob.Get(ctx, s.key(rel))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", rel, ErrNotFound)
		}
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// document returns a metadata document, preferring consolidated metadata.
func (s *Store) document(ctx context.Context, rel string) ([]byte, error) {
	if s.consolidated != nil {
		if raw, ok := s.consolidated[rel]; ok {
			return raw, nil
		}
	}
	return s.read(ctx, rel)
}

// Group is a node that contains other groups and arrays.
type Group struct {
	store *Store
	path  string
}

// Member is a direct child of a group.
type Member struct {
	Name    string
	IsArray bool
}

// Path returns the group path relative to the store root ("" for the root).
func (g *Group) Path() string { return g.path }

func (g *Group) child(name string) string {
	name = strings.Trim(name, "/")
	if g.path == "" {
		return name
	}
	return g.path + "/" + name
}

// Attrs returns the group attributes; a missing .zattrs is an empty map.
func (g *Group) Attrs(ctx context.Context) (map[string]any, error) {
	return g.store.attrs(ctx, g.path)
}

func (s *Store) attrs(ctx context.Context, nodePath string) (map[string]any, error) {
	raw, err := s.document(ctx, path.Join(nodePath, attrsKey))
	if errors.Is(err, ErrNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	attrs := map[string]any{}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("decode %s attributes: %w", nodePath, err)
	}
	return attrs, nil
}

// Group opens the child group at name, which may be a nested path.
func (g *Group) Group(ctx context.Context, name string) (*Group, error) {
	p := g.child(name)
	raw, err := g.store.document(ctx, path.Join(p, groupKey))
	if err != nil {
		return nil, err
	}
	if _, err := parseGroupMeta(raw); err != nil {
		return nil, fmt.Errorf("group %s: %w", p, err)
	}
	return &Group{store: g.store, path: p}, nil
}

// Array opens the child array at name, which may be a nested path.
func (g *Group) Array(ctx context.Context, name string) (*Array, error) {
	p := g.child(name)
	raw, err := g.store.document(ctx, path.Join(p, arrayKey))
	if err != nil {
		return nil, err
	}
	meta, err := parseArrayMeta(raw)
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", p, err)
	}
	return newArray(g.store, p, meta)
}

// Members lists the direct child groups and arrays sorted by name.
func (g *Group) Members(ctx context.Context) ([]Member, error) {
	prefix := ""
	if g.path != "" {
		prefix = g.path + "/"
	}
	found := map[string]bool{}
	collect := func(rel string) {
		if !strings.HasPrefix(rel, prefix) {
			return
		}
		rest := strings.TrimPrefix(rel, prefix)
		name, doc, ok := strings.Cut(rest, "/")
		if !ok || strings.Contains(doc, "/") {
			return
		}
		switch doc {
		case arrayKey:
			found[name] = true
		case groupKey:
			if _, seen := found[name]; !seen {
				found[name] = false
			}
		}
	}
	if g.store.consolidated != nil {
		for rel := range g.store.consolidated {
			collect(rel)
		}
	} else {
		infos, err := g.store.blob.List(ctx, g.store.key(prefix))
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			rel := info.Key
			if g.store.prefix != "" {
				rel = strings.TrimPrefix(rel, g.store.prefix+"/")
			}
			collect(rel)
		}
	}
	members := make([]Member, 0, len(found))
	for name, isArray := range found {
		members = append(members, Member{Name: name, IsArray: isArray})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
	return members, nil
}

// Node describes one entry visited by Walk.
type Node struct {
	Path    string
	IsArray bool
	Shape   []int
	DType   string
	Attrs   map[string]any
}

// Walk visits g and every node below it depth-first in name order.
func (g *Group) Walk(ctx context.Context, fn func(Node) error) error {
	attrs, err := g.Attrs(ctx)
	if err != nil {
		return err
	}
	if err := fn(Node{Path: g.path, Attrs: attrs}); err != nil {
		return err
	}
	members, err := g.Members(ctx)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.IsArray {
			a, err := g.Array(ctx, m.Name)
			if err != nil {
				return err
			}
			if err := fn(Node{Path: a.path, IsArray: true, Shape: a.Shape(), DType: a.dtype.raw}); err != nil {
				return err
			}
			continue
		}
		child, err := g.Group(ctx, m.Name)
		if err != nil {
			return err
		}
		if err := child.Walk(ctx, fn); err != nil {
			return err
		}
	}
	return nil
}
