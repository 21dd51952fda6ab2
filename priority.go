// Copyright 2014 The Go Authors.
// See https://code.google.com/p/go/source/browse/CONTRIBUTORS
// Licensed under the same terms as Go itself:
// https://code.google.com/p/go/source/browse/LICENSE

package h2

// Stream dependency tree, per RFC 7540 section 5.3.
//
// The tree is stored flat: nodes live in a map keyed by stream ID and
// refer to each other by ID, never by pointer. Node 0 is the implicit
// root and is never stored. Closed and idle streams are retained (up
// to a bound) so that PRIORITY frames referencing them still group
// their former dependents, mirroring nghttp2's behavior.

const (
	// defaultPriorityWeight is the wire-format weight (0-255) given
	// to streams with no explicit priority. Effective weight is
	// wire weight plus one, so this is 16 of 256.
	defaultPriorityWeight = 15

	maxRetainedClosedNodes = 10
	maxRetainedIdleNodes   = 10
)

type priorityNodeState int

const (
	priorityNodeOpen priorityNodeState = iota
	priorityNodeClosed
	priorityNodeIdle
)

type priorityNode struct {
	id       uint32
	parent   uint32 // 0 means the root
	weight   uint8  // wire format; effective weight is weight+1
	state    priorityNodeState
	children []uint32 // insertion order

	// deficit is the node's deficit round-robin credit within its
	// sibling group. Replenished by effective weight each pass.
	deficit int32
}

type priorityTree struct {
	nodes map[uint32]*priorityNode

	// root children, in insertion order. The root itself has no node.
	rootChildren []uint32

	// retained closed and idle nodes, oldest first.
	closedQueue []uint32
	idleQueue   []uint32
}

func newPriorityTree() *priorityTree {
	return &priorityTree{
		nodes: make(map[uint32]*priorityNode),
	}
}

func (t *priorityTree) node(id uint32) *priorityNode {
	if id == 0 {
		return nil
	}
	return t.nodes[id]
}

func (t *priorityTree) childrenOf(id uint32) []uint32 {
	if id == 0 {
		return t.rootChildren
	}
	if n := t.nodes[id]; n != nil {
		return n.children
	}
	return nil
}

func (t *priorityTree) setChildrenOf(id uint32, children []uint32) {
	if id == 0 {
		t.rootChildren = children
		return
	}
	t.nodes[id].children = children
}

func (t *priorityTree) addChild(parent, child uint32) {
	t.setChildrenOf(parent, append(t.childrenOf(parent), child))
}

func (t *priorityTree) removeChild(parent, child uint32) {
	kids := t.childrenOf(parent)
	for i, id := range kids {
		if id == child {
			t.setChildrenOf(parent, append(kids[:i], kids[i+1:]...))
			return
		}
	}
}

// isDescendant reports whether b is in the subtree rooted at a.
// a and b are both non-zero.
func (t *priorityTree) isDescendant(a, b uint32) bool {
	for b != 0 {
		if a == b {
			return true
		}
		n := t.nodes[b]
		if n == nil {
			return false
		}
		b = n.parent
	}
	return false
}

// open records a newly opened stream. If p is zero the stream becomes
// a non-exclusive dependent of the root with the default weight.
func (t *priorityTree) open(id uint32, p PriorityParam) {
	if n := t.nodes[id]; n != nil {
		// Was retained as idle (a PRIORITY frame arrived before
		// the stream opened). Promote it.
		t.unretainIdle(id)
		n.state = priorityNodeOpen
		if !p.IsZero() {
			t.reprioritize(id, p)
		}
		return
	}
	n := &priorityNode{
		id:     id,
		weight: defaultPriorityWeight,
	}
	t.nodes[id] = n
	t.addChild(0, id)
	if !p.IsZero() {
		t.reprioritize(id, p)
	}
}

// adjust handles a PRIORITY frame for id. The stream need not exist
// yet; an idle placeholder is created so later streams depending on it
// keep their grouping.
func (t *priorityTree) adjust(id uint32, p PriorityParam) {
	if p.StreamDep == id {
		// Self-dependency is rejected at the protocol layer
		// before we get here; treat as default if it leaks in.
		p.StreamDep = 0
	}
	if t.nodes[id] == nil {
		n := &priorityNode{
			id:     id,
			weight: defaultPriorityWeight,
			state:  priorityNodeIdle,
		}
		t.nodes[id] = n
		t.addChild(0, id)
		t.retainIdle(id)
	}
	t.reprioritize(id, p)
}

// reprioritize moves id under p.StreamDep with p.Weight, handling the
// exclusive bit and the dependency-cycle rule from section 5.3.3: if
// the new parent is a descendant of id, the parent is first moved to
// become a dependent of id's current parent.
func (t *priorityTree) reprioritize(id uint32, p PriorityParam) {
	n := t.nodes[id]
	if n == nil {
		return
	}
	parent := p.StreamDep
	if parent != 0 && t.nodes[parent] == nil {
		// Unknown parent: RFC 5.3.1 allows grouping under an
		// idle placeholder, but an unbounded number of those is
		// an attack surface. Past the retention bound, fall
		// back to the root.
		if len(t.idleQueue) < maxRetainedIdleNodes {
			ph := &priorityNode{
				id:     parent,
				weight: defaultPriorityWeight,
				state:  priorityNodeIdle,
			}
			t.nodes[parent] = ph
			t.addChild(0, parent)
			t.retainIdle(parent)
		} else {
			parent = 0
		}
	}

	if parent != 0 && t.isDescendant(id, parent) {
		// Move the would-be parent (and its subtree) up to id's
		// current parent first.
		dep := t.nodes[parent]
		t.removeChild(dep.parent, parent)
		dep.parent = n.parent
		t.addChild(n.parent, parent)
	}

	t.removeChild(n.parent, id)
	n.parent = parent
	n.weight = p.Weight

	if p.Exclusive {
		// id adopts all of the new parent's current children.
		kids := t.childrenOf(parent)
		for _, cid := range kids {
			c := t.nodes[cid]
			c.parent = id
			n.children = append(n.children, cid)
		}
		t.setChildrenOf(parent, nil)
	}
	t.addChild(parent, id)
}

// closeStream marks id closed. The node is retained for a while so
// dependents keep their position; past the retention bound the oldest
// closed node is spliced out.
func (t *priorityTree) closeStream(id uint32) {
	n := t.nodes[id]
	if n == nil || n.state == priorityNodeClosed {
		return
	}
	if n.state == priorityNodeIdle {
		t.unretainIdle(id)
	}
	n.state = priorityNodeClosed
	t.closedQueue = append(t.closedQueue, id)
	for len(t.closedQueue) > maxRetainedClosedNodes {
		evict := t.closedQueue[0]
		t.closedQueue = t.closedQueue[1:]
		t.remove(evict)
	}
}

// remove splices id out of the tree entirely. Its children are
// reparented to its parent, their weights scaled by the removed node's
// share, as nghttp2 does.
func (t *priorityTree) remove(id uint32) {
	n := t.nodes[id]
	if n == nil {
		return
	}
	var weightSum int32
	for _, cid := range n.children {
		weightSum += int32(t.nodes[cid].weight) + 1
	}
	for _, cid := range n.children {
		c := t.nodes[cid]
		c.parent = n.parent
		if weightSum > 0 {
			w := (int32(n.weight) + 1) * (int32(c.weight) + 1) / weightSum
			if w < 1 {
				w = 1
			}
			if w > 256 {
				w = 256
			}
			c.weight = uint8(w - 1)
		}
		t.addChild(n.parent, cid)
	}
	t.removeChild(n.parent, id)
	delete(t.nodes, id)
}

func (t *priorityTree) retainIdle(id uint32) {
	t.idleQueue = append(t.idleQueue, id)
	for len(t.idleQueue) > maxRetainedIdleNodes {
		evict := t.idleQueue[0]
		t.idleQueue = t.idleQueue[1:]
		if n := t.nodes[evict]; n != nil && n.state == priorityNodeIdle {
			t.remove(evict)
		}
	}
}

func (t *priorityTree) unretainIdle(id uint32) {
	for i, v := range t.idleQueue {
		if v == id {
			t.idleQueue = append(t.idleQueue[:i], t.idleQueue[i+1:]...)
			return
		}
	}
}

// selectNext picks the next stream to serve among those for which
// pending reports true. Parents are preferred over their descendants;
// sibling groups are served by deficit round robin weighted by
// effective weight, with stream ID order breaking ties, so no pending
// sibling is starved.
func (t *priorityTree) selectNext(pending func(uint32) bool) uint32 {
	return t.selectFrom(t.rootChildren, pending)
}

func (t *priorityTree) selectFrom(group []uint32, pending func(uint32) bool) uint32 {
	// candidates: siblings that are pending themselves or have a
	// pending descendant.
	var best uint32
	var bestDeficit int32
	for _, id := range group {
		if !t.subtreePending(id, pending) {
			continue
		}
		n := t.nodes[id]
		if best == 0 || n.deficit > bestDeficit {
			best = id
			bestDeficit = n.deficit
		}
	}
	if best == 0 {
		return 0
	}
	// Replenish the group when the winner is out of credit.
	if bestDeficit <= 0 {
		for _, id := range group {
			n := t.nodes[id]
			n.deficit += int32(n.weight) + 1
		}
	}
	n := t.nodes[best]
	n.deficit--
	if n.state == priorityNodeOpen && pending(best) {
		return best
	}
	return t.selectFrom(n.children, pending)
}

func (t *priorityTree) subtreePending(id uint32, pending func(uint32) bool) bool {
	n := t.nodes[id]
	if n == nil {
		return false
	}
	if n.state == priorityNodeOpen && pending(id) {
		return true
	}
	for _, cid := range n.children {
		if t.subtreePending(cid, pending) {
			return true
		}
	}
	return false
}
