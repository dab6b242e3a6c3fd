package library

import (
	"github.com/rs/zerolog/log"

	"papersnap/internal/zotero"
)

type Node struct {
	Key      string  `json:"key"`
	Name     string  `json:"name"`
	Children []*Node `json:"children,omitempty"`
}

// BuildTree turns a flat collection list into a forest. A collection is left
// out when it or any ancestor is deleted, or when its ancestry loops.
// Collections whose parent is unknown become roots.
func BuildTree(collections []zotero.Collection) []*Node {
	byKey := make(map[string]zotero.Collection, len(collections))
	for _, c := range collections {
		byKey[c.Key] = c
	}

	const (
		unknown = iota
		visiting
		kept
		dropped
	)
	state := make(map[string]int, len(collections))
	var visit func(key string) int
	visit = func(key string) int {
		switch state[key] {
		case visiting:
			log.Warn().Str("collection", key).Msg("collection parent cycle, dropping")
			return dropped
		case kept, dropped:
			return state[key]
		}
		c := byKey[key]
		if c.Deleted {
			state[key] = dropped
			return dropped
		}
		state[key] = visiting
		result := kept
		if _, ok := byKey[c.ParentKey]; ok && c.ParentKey != "" {
			result = visit(c.ParentKey)
		}
		state[key] = result
		return result
	}

	nodes := make(map[string]*Node, len(collections))
	for _, c := range collections {
		if visit(c.Key) == kept {
			nodes[c.Key] = &Node{Key: c.Key, Name: c.Name}
		}
	}

	var roots []*Node
	for _, c := range collections {
		n, ok := nodes[c.Key]
		if !ok {
			continue
		}
		if parent, ok := nodes[c.ParentKey]; ok && c.ParentKey != "" {
			parent.Children = append(parent.Children, n)
			continue
		}
		roots = append(roots, n)
	}
	return roots
}

// Walk calls fn for every node depth first.
func Walk(nodes []*Node, fn func(n *Node, depth int)) {
	var walk func([]*Node, int)
	walk = func(ns []*Node, depth int) {
		for _, n := range ns {
			fn(n, depth)
			walk(n.Children, depth+1)
		}
	}
	walk(nodes, 0)
}
