package query

import (
	"maps"
	"slices"

	"github.com/asaidimu/go-queryset/core/model"
)

// JoinKind distinguishes inner from outer joins.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinOuter
)

func (k JoinKind) String() string {
	if k == JoinOuter {
		return "outer"
	}
	return "inner"
}

// JoinNode is one traversed relationship hop in the join tree. The root node
// stands for the primary model and carries a zero Rel. Nodes are persistent:
// once a node has been shared into a cloned state it is never mutated; updates
// copy the nodes along the touched path and share the rest, so branched states
// never observe each other's later additions.
type JoinNode struct {
	Rel    model.Relationship
	Target string // target model name; the primary model at the root
	Kind   JoinKind

	// Eager marks the relationship's target for loading into the result.
	// EagerOwn records that the join exists solely because of an
	// eager-load request, rather than a filter/order/explicit join.
	Eager    bool
	EagerOwn bool

	children map[string]*JoinNode
	order    []string
}

func newJoinRoot(modelName string) *JoinNode {
	return &JoinNode{Target: modelName}
}

// Child returns the child node for a relationship name, if present.
func (n *JoinNode) Child(name string) *JoinNode {
	return n.children[name]
}

// Children returns child nodes in insertion order.
func (n *JoinNode) Children() []*JoinNode {
	out := make([]*JoinNode, len(n.order))
	for i, name := range n.order {
		out[i] = n.children[name]
	}
	return out
}

// Empty reports whether the node has no joins beneath it.
func (n *JoinNode) Empty() bool { return len(n.order) == 0 }

func (n *JoinNode) clone() *JoinNode {
	c := *n
	c.children = maps.Clone(n.children)
	c.order = slices.Clone(n.order)
	return &c
}

// joinRequest describes how a resolved chain should be merged into the tree.
type joinRequest struct {
	kind     JoinKind
	explicit bool // explicit innerjoin/outerjoin call: kind applies to the terminal hop
	eager    bool // options call: mark every hop for eager loading
}

// ensureJoined merges a resolved hop chain into the tree and returns the new
// root. Each relationship appears at most once under its parent, so the same
// logical join is shared by filters, ordering, options and explicit joins. An
// existing node's kind is only changed by an explicit join call on its exact
// path (last explicit call wins); implicit references never narrow an outer
// join. New hops default to inner, except the terminal hop of an explicit
// outer join.
func ensureJoined(root *JoinNode, chain []model.Relationship, req joinRequest) *JoinNode {
	if len(chain) == 0 {
		return root
	}
	newRoot := root.clone()
	parent := newRoot
	for i, rel := range chain {
		last := i == len(chain)-1
		var node *JoinNode
		if existing := parent.children[rel.Name]; existing != nil {
			node = existing.clone()
			if req.explicit && last {
				node.Kind = req.kind
			}
		} else {
			kind := JoinInner
			if req.explicit && last && req.kind == JoinOuter {
				kind = JoinOuter
			}
			node = &JoinNode{Rel: rel, Target: rel.Target, Kind: kind, EagerOwn: req.eager}
			if parent.children == nil {
				parent.children = make(map[string]*JoinNode)
			}
			parent.order = append(parent.order, rel.Name)
		}
		if req.eager {
			node.Eager = true
		}
		parent.children[rel.Name] = node
		parent = node
	}
	return newRoot
}
