package zarr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
)

// ErrNotFound reports a missing key or node. Stores wrap it (or
// fs.ErrNotExist, which it aliases) so callers can use errors.Is.
var ErrNotFound = fs.ErrNotExist

// Store is a read-only key/value view of one container. Keys are
// slash-separated paths relative to the container root.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the names of the immediate children of prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// ID identifies the container for cache keys.
	ID() string
	Close() error
}

// Container is an opened store plus its root group. Close releases every
// handle the store holds.
type Container struct {
	store Store
	root  *Group
}

// Open reads the root group metadata of s. The store is closed if the root
// cannot be read.
func Open(ctx context.Context, s Store) (*Container, error) {
	root, err := OpenGroup(ctx, s, "")
	if err != nil {
		s.Close()
		return nil, err
	}
	return &Container{store: s, root: root}, nil
}

func (c *Container) Root() *Group { return c.root }

func (c *Container) Store() Store { return c.store }

func (c *Container) Close() error {
	return c.store.Close()
}

// Group is a Zarr v3 group node.
type Group struct {
	store Store
	path  string
	meta  *NodeMeta
}

func loadNode(ctx context.Context, s Store, p string) (*NodeMeta, error) {
	data, err := s.Get(ctx, path.Join(p, metadataKey))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("zarr node %q: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read metadata of %q: %w", p, err)
	}
	meta, err := parseNodeMeta(data)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", p, err)
	}
	return meta, nil
}

// OpenGroup opens the group at path p ("" is the root).
func OpenGroup(ctx context.Context, s Store, p string) (*Group, error) {
	meta, err := loadNode(ctx, s, p)
	if err != nil {
		return nil, err
	}
	if meta.NodeType != NodeGroup {
		return nil, fmt.Errorf("zarr node %q is not a group", p)
	}
	return &Group{store: s, path: p, meta: meta}, nil
}

func (g *Group) Path() string { return g.path }

func (g *Group) Meta() *NodeMeta { return g.meta }

// Group opens a child group.
func (g *Group) Group(ctx context.Context, name string) (*Group, error) {
	return OpenGroup(ctx, g.store, path.Join(g.path, name))
}

// Array opens a child array.
func (g *Group) Array(ctx context.Context, name string) (*Array, error) {
	return OpenArray(ctx, g.store, path.Join(g.path, name))
}

// Has reports whether a child node exists.
func (g *Group) Has(ctx context.Context, name string) (bool, error) {
	_, err := g.store.Get(ctx, path.Join(g.path, name, metadataKey))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Children lists the names of child nodes in sorted order. Entries without
// node metadata are skipped.
func (g *Group) Children(ctx context.Context) ([]string, error) {
	names, err := g.store.List(ctx, g.path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", g.path, err)
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name == metadataKey {
			continue
		}
		ok, err := g.Has(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
