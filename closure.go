// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"sort"
)

// Include is the verdict a ChildrenFunc returns for a node during closure
// traversal: whether to descend into it (and if so, with which children) or
// to prune it from the output entirely.
type Include struct {
	ok       bool
	children []NodeRef
}

// IncludeYes descends into node, recursing into children first.
func IncludeYes(children []NodeRef) Include { return Include{ok: true, children: children} }

// IncludeNo prunes node from the traversal; it is neither recursed into nor
// added to the output.
func IncludeNo() Include { return Include{ok: false} }

// ChildrenFunc decides, for a given node, whether to include it in the
// closure and what its children are.
type ChildrenFunc func(node NodeRef) (Include, error)

// Closure runs an iterative DFS over roots using getChildren, returning
// nodes in reverse topological order: every referent appears before its
// referrers are done being collected, then the whole list is reversed once
// so roots come first and dependencies trail — the order a consumer
// reverses again to get "dependencies first".
//
// Cycle detection uses path-set membership (parents); memoization uses
// visit-set membership (visited). Children are always visited in sorted
// order so traversal is deterministic for a fixed input.
func Closure(roots []NodeRef, getChildren ChildrenFunc) ([]NodeRef, error) {
	visited := make(map[NodeRef]struct{})
	parents := make(map[NodeRef]struct{})
	var output []NodeRef

	sorted := append([]NodeRef(nil), roots...)
	sortNodeRefs(sorted)

	var visit func(node, from NodeRef) error
	visit = func(node, from NodeRef) error {
		if _, onPath := parents[node]; onPath {
			return fmt.Errorf("%w: edge %s -> %s closes a cycle", ErrCycle, from, node)
		}
		if _, done := visited[node]; done {
			return nil
		}

		inc, err := getChildren(node)
		if err != nil {
			return err
		}
		if !inc.ok {
			visited[node] = struct{}{}
			return nil
		}

		parents[node] = struct{}{}
		children := append([]NodeRef(nil), inc.children...)
		sortNodeRefs(children)
		for _, child := range children {
			if err := visit(child, node); err != nil {
				return err
			}
		}
		delete(parents, node)

		visited[node] = struct{}{}
		output = append(output, node)
		return nil
	}

	for _, root := range sorted {
		if err := visit(root, NodeRef{}); err != nil {
			return nil, err
		}
	}

	reversed := make([]NodeRef, len(output))
	for i, n := range output {
		reversed[len(output)-1-i] = n
	}
	return reversed, nil
}

// ReverseNodeRefs returns a new slice with nodes in the opposite order. A
// Closure result, which comes back roots-first, is reversed by callers (e.g.
// the pack writer) that need dependencies-first order instead.
func ReverseNodeRefs(nodes []NodeRef) []NodeRef {
	out := make([]NodeRef, len(nodes))
	for i, n := range nodes {
		out[len(nodes)-1-i] = n
	}
	return out
}

func sortNodeRefs(refs []NodeRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].ID.Less(refs[j].ID)
	})
}

// FullChildren returns the ChildrenFunc for a full (non-delta) closure over
// objs: Blob has no children, Tree expands to its Tree/Blob references,
// Package expands to its tree plus its referenced packages, and Spec
// expansion is unimplemented (matches the original source).
func FullChildren(objs Objects) ChildrenFunc {
	return func(node NodeRef) (Include, error) {
		switch node.Kind {
		case KindBlob:
			return IncludeYes(nil), nil
		case KindTree:
			tree, err := GetTree(objs, node.ID)
			if err != nil {
				return Include{}, err
			}
			return IncludeYes(tree.References()), nil
		case KindPackage:
			pkg, err := GetPackage(objs, node.ID)
			if err != nil {
				return Include{}, err
			}
			children := make([]NodeRef, 0, len(pkg.References)+1)
			children = append(children, NodeRef{ID: pkg.Tree, Kind: KindTree})
			for _, ref := range pkg.References {
				children = append(children, NodeRef{ID: ref, Kind: KindPackage})
			}
			return IncludeYes(children), nil
		case KindSpec:
			return Include{}, fmt.Errorf("%w: closure expansion of spec %s", ErrUnimplemented, node.ID)
		default:
			return Include{}, fmt.Errorf("%w: unknown object kind in closure", ErrParse)
		}
	}
}

// DeltaChildren returns the ChildrenFunc for a delta closure: nodes already
// present in dst are pruned (Include::No); everything else expands exactly
// as FullChildren would.
func DeltaChildren(src Objects, dst Objects) ChildrenFunc {
	full := FullChildren(src)
	return func(node NodeRef) (Include, error) {
		k := node.Kind
		if dst.ContainsObject(node.ID, &k) {
			return IncludeNo(), nil
		}
		return full(node)
	}
}
