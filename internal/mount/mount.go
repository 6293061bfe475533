// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mount resolves virtual repository paths (the namespace the
// scanner and manifest writer operate in) against the filesystem paths
// an operator has published them from. A single repository can publish
// several disjoint filesystem trees under one virtual namespace, and
// one virtual subtree can nest another mount below it without the
// parent's filesystem directory containing anything at that name.
package mount

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/nilgrove/repodex/internal/vpath"
)

// node is one level of the virtual path tree. A node binds a
// filesystem path only if an operator published it directly; an
// intermediate node with children but no binding of its own exists
// purely to route deeper mounts.
type node struct {
	children map[string]*node
	fsPath   string
	hasFS    bool
}

// Tree is the root of the published mount tree.
type Tree struct {
	root *node
}

// New returns an empty mount tree.
func New() *Tree {
	return &Tree{root: &node{children: map[string]*node{}}}
}

// Bind publishes fsPath (which must be absolute) at the virtual path
// virtual. It is an error to bind the same virtual path twice or to
// route through a path component that fails name validation.
func (t *Tree) Bind(virtual, fsPath string) error {
	if !filepath.IsAbs(fsPath) {
		return fmt.Errorf("mount: filesystem path %q is not absolute", fsPath)
	}

	n := t.root
	rest := vpath.Clean(virtual)
	for rest != "" {
		head := vpath.Head(rest)
		if err := vpath.ValidateName(head); err != nil {
			return fmt.Errorf("mount: virtual path %q: %w", virtual, err)
		}
		child, ok := n.children[head]
		if !ok {
			child = &node{children: map[string]*node{}}
			n.children[head] = child
		}
		n = child
		rest = vpath.Tail(rest)
	}

	if n.hasFS {
		return fmt.Errorf("mount: duplicate virtual path %q", vpath.Clean(virtual))
	}
	n.fsPath = fsPath
	n.hasFS = true
	return nil
}

// VirtualToFS resolves a virtual path to a filesystem path by walking
// the tree from the root, consuming components of v as long as a
// child exists for them. The deepest node on that walk that carries
// its own filesystem binding wins; everything below it, whether or
// not it matched an intermediate mount node, is appended as a
// residual suffix. ok is false if no node on the path, including the
// root, has ever been bound.
func (t *Tree) VirtualToFS(v string) (fsPath string, ok bool) {
	comps := splitComponents(vpath.Clean(v))

	n := t.root
	bestFS, haveFS := n.fsPath, n.hasFS
	bestDepth := 0

	depth := 0
	for depth < len(comps) {
		child, present := n.children[comps[depth]]
		if !present {
			break
		}
		n = child
		depth++
		if n.hasFS {
			bestFS = n.fsPath
			haveFS = true
			bestDepth = depth
		}
	}

	if !haveFS {
		return "", false
	}
	residual := joinComponents(comps[bestDepth:])
	if residual == "" {
		return bestFS, true
	}
	return bestFS + string(filepath.Separator) + residual, true
}

// Subdir reports whether v names a node in the mount tree at all
// (whether or not that node itself binds a filesystem path), which is
// what the scanner needs to know to find nested mount children that
// live below a directory it is otherwise walking by filesystem
// listing alone.
func (t *Tree) Subdir(v string) bool {
	return t.nodeAt(v) != nil
}

// IsMountPoint reports whether v is itself bound to a filesystem
// path, used by the scanner to apply the mount-wins-over-filesystem-
// entry precedence rule.
func (t *Tree) IsMountPoint(v string) bool {
	n := t.nodeAt(v)
	return n != nil && n.hasFS
}

// MountChildNames returns, in byte order, the names of the mount
// tree's direct children at virtual path v. The scanner merges these
// into its filesystem listing so that nested mounts with no backing
// entry in the parent filesystem directory are still visited.
func (t *Tree) MountChildNames(v string) []string {
	n := t.nodeAt(v)
	if n == nil {
		return nil
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Tree) nodeAt(v string) *node {
	n := t.root
	rest := vpath.Clean(v)
	for rest != "" {
		head := vpath.Head(rest)
		child, ok := n.children[head]
		if !ok {
			return nil
		}
		n = child
		rest = vpath.Tail(rest)
	}
	return n
}

func splitComponents(v string) []string {
	if v == "" {
		return nil
	}
	var comps []string
	for v != "" {
		comps = append(comps, vpath.Head(v))
		v = vpath.Tail(v)
	}
	return comps
}

func joinComponents(comps []string) string {
	out := ""
	for _, c := range comps {
		out = vpath.Join(out, c)
	}
	return out
}
