// Package resource implements the hierarchical allocator tracking exclusive
// ownership of resource slots such as node x core.
package resource

import (
	"fmt"
	"strings"
)

// Tracker is a tree of resource slots. Its depth equals the number of
// resource dimensions: a tracker built from [2, 4] has two nodes of four
// cores each. A node holds 0 when free, or the id of the allocation owning
// it; claiming a sub-allocation inside a node claims the node itself, so two
// allocations never share one.
//
// Tracker is not safe for concurrent use. Only the scheduling loop may call
// Alloc and Free; workers never touch the tracker, they only carry the
// allocation ids recorded on their jobs.
type Tracker struct {
	root    *node
	counter uint64
}

// node is a tagged variant: either a leaf (children == nil) holding an
// allocation id, or an internal node owning its children.
type node struct {
	owner    uint64
	children []*node
}

func newNode(dims []int) *node {
	// A non-positive dimension ends the tree here; the vector comes from
	// user configuration and must not panic the allocator.
	if len(dims) == 0 || dims[0] < 1 {
		return &node{}
	}
	children := make([]*node, dims[0])
	for i := range children {
		children[i] = newNode(dims[1:])
	}
	return &node{children: children}
}

// New builds a tracker whose dimensions are given most-significant first.
func New(dims []int) *Tracker {
	return &Tracker{root: newNode(dims)}
}

// Alloc claims resources matching the need vector and returns the allocation
// id, or 0 when the request cannot be satisfied right now. need[0] is the
// number of whole sub-allocations required at the current level; each must
// recursively satisfy need[1:]. Failure leaves the tracker exactly as it was:
// partially claimed slots are rolled back before returning.
//
// Allocation ids start at 1 and increase monotonically; 0 means "free" and is
// never issued.
func (t *Tracker) Alloc(need []int) uint64 {
	if len(need) > t.root.depth() {
		return 0
	}
	id := t.counter + 1
	if !t.root.alloc(need, id) {
		return 0
	}
	t.counter = id
	return id
}

// Free releases every slot currently held by id, anywhere in the tree.
func (t *Tracker) Free(id uint64) {
	if id == 0 {
		return
	}
	t.root.free(id)
}

func (n *node) depth() int {
	if n.children == nil {
		return 0
	}
	return 1 + n.children[0].depth()
}

func (n *node) alloc(need []int, id uint64) bool {
	if n.owner != 0 {
		return false
	}
	if len(need) < n.depth() {
		// The request targets a deeper level: any one child satisfying
		// it is enough.
		for _, c := range n.children {
			if c.alloc(need, id) {
				return true
			}
		}
		return false
	}
	if len(need) == 0 {
		n.owner = id
		return true
	}
	// Claim need[0] children, each satisfying the remaining dimensions. A
	// claimed child is owned outright: nothing else may allocate inside it.
	claimed := 0
	for _, c := range n.children {
		if c.alloc(need[1:], id) {
			c.owner = id
			claimed++
		}
		if claimed == need[0] {
			return true
		}
	}
	// Not enough children: roll back what this attempt claimed. The id is
	// unique to the attempt, so freeing it across all children only
	// touches slots claimed above.
	for _, c := range n.children {
		c.free(id)
	}
	return false
}

func (n *node) free(id uint64) {
	if n.owner == id {
		n.owner = 0
	}
	for _, c := range n.children {
		c.free(id)
	}
}

// AllFree reports whether no slot is currently owned, useful to check for
// allocation leakage.
func (t *Tracker) AllFree() bool {
	return t.root.allFree()
}

func (n *node) allFree() bool {
	if n.owner != 0 {
		return false
	}
	for _, c := range n.children {
		if !c.allFree() {
			return false
		}
	}
	return true
}

func (t *Tracker) String() string {
	return t.root.String()
}

func (n *node) String() string {
	if n.children == nil {
		return fmt.Sprintf("%d", n.owner)
	}
	parts := make([]string, len(n.children))
	for i, c := range n.children {
		parts[i] = c.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
