// Package navigation declares the menu tree and prunes it per snapshot.
package navigation

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-access/internal/access"
)

//go:embed navigation.yaml
var defaultTree []byte

// ErrInvalidTree reports a malformed navigation file.
var ErrInvalidTree = errors.New("navigation: invalid tree")

// Item is a menu entry. Items with children are sections; items without
// children are leaves and must carry a path.
type Item struct {
	Key           string        `yaml:"key" json:"key" validate:"required,max=64"`
	Label         string        `yaml:"label" json:"label" validate:"required,max=128"`
	Path          string        `yaml:"path,omitempty" json:"path,omitempty" validate:"omitempty,startswith=/"`
	Icon          string        `yaml:"icon,omitempty" json:"icon,omitempty"`
	Module        access.Module `yaml:"module,omitempty" json:"module,omitempty" validate:"omitempty,module"`
	Permission    string        `yaml:"permission,omitempty" json:"permission,omitempty"`
	AnyPermission []string      `yaml:"any_permission,omitempty" json:"any_permission,omitempty" validate:"omitempty,dive,required"`
	Strict        bool          `yaml:"strict,omitempty" json:"strict,omitempty"`
	Children      []Item        `yaml:"children,omitempty" json:"children,omitempty" validate:"omitempty,dive"`
}

// Requirement is what an actor needs to see the item or reach its path.
func (it Item) Requirement() access.Requirement {
	return access.Requirement{
		Module:        it.Module,
		Permission:    it.Permission,
		AnyPermission: it.AnyPermission,
		Strict:        it.Strict,
	}
}

// Leaf reports whether the item has no children.
func (it Item) Leaf() bool { return len(it.Children) == 0 }

// Default returns the embedded menu tree.
func Default() ([]Item, error) {
	return Load(bytes.NewReader(defaultTree))
}

// LoadFile reads a tree from path, or the embedded tree when path is empty.
func LoadFile(path string) ([]Item, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("navigation: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a YAML tree.
func Load(r io.Reader) ([]Item, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var items []Item
	if err := dec.Decode(&items); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("navigation: decode: %w", err)
	}
	if err := Validate(items); err != nil {
		return nil, err
	}
	return items, nil
}

// Validate checks field constraints, that leaves have a path and that keys
// are unique across the tree.
func Validate(items []Item) error {
	v := access.Validator()
	seen := make(map[string]struct{})
	var walk func([]Item) error
	walk = func(level []Item) error {
		for _, it := range level {
			if err := v.Struct(it); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidTree, it.Key, err)
			}
			if _, dup := seen[it.Key]; dup {
				return fmt.Errorf("%w: duplicate key %q", ErrInvalidTree, it.Key)
			}
			seen[it.Key] = struct{}{}
			if it.Leaf() && it.Path == "" {
				return fmt.Errorf("%w: leaf %q has no path", ErrInvalidTree, it.Key)
			}
			if err := walk(it.Children); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(items)
}

// Leaves returns every path-bearing item in tree order.
func Leaves(items []Item) []Item {
	var out []Item
	for _, it := range items {
		if it.Path != "" {
			out = append(out, it)
		}
		out = append(out, Leaves(it.Children)...)
	}
	return out
}
