// Package opgraph implements the OpGraph component: a DAG of
// pending mutation operations (CP, MV, MKDIR, RM) with dependency ordering
// and blocking dispatch.
//
// Dispatch uses one mutex plus one condition variable: GetNextCommand
// scans for a node whose dependencies have all completed and hands it out,
// so a dependency added after enqueue (a directory RM gaining a child RM
// in a later call) still blocks the node as long as it has not been handed
// to the executor yet. Five linking rules order the graph: mutual
// exclusion per target, MKDIR-parent ordering, and RM child-before-parent
// inversion.
package opgraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/treesync/treesync/internal/ids"
)

// OpType is one of the kinds of mutation the graph can track.
type OpType string

const (
	OpRM          OpType = "RM"
	OpMkdir       OpType = "MKDIR"
	OpCP          OpType = "CP"
	OpMV          OpType = "MV"
	OpCPOnto      OpType = "CP_ONTO"
	OpMVOnto      OpType = "MV_ONTO"
	OpStartDirCP  OpType = "START_DIR_CP"
	OpFinishDirCP OpType = "FINISH_DIR_CP"
)

// exclusiveOps are mutually exclusive per target node: at most one pending
// op of these types may target the same node at a time. CP-as-source is
// re-entrant and is deliberately excluded here.
var exclusiveOps = map[OpType]bool{
	OpMkdir: true,
	OpMV:    true,
	OpRM:    true,
}

// Target identifies the node an operation acts on within one device.
type Target struct {
	Device ids.Device
	UID    ids.UID
}

func (t Target) key() ids.ItemKey { return ids.NewItemKey(t.Device, t.UID) }

// Op is a single desired mutation, as the caller (CLI selection, a staged
// diff batch) submits it. CP and MV carry both Src and Dst; MKDIR and RM
// carry only Target.
type Op struct {
	Type OpType

	// Target is the node the op's primary effect lands on: the new
	// directory for MKDIR, the removed node for RM, the destination node
	// for CP/MV.
	Target Target

	// Src is populated for CP/MV: the node being read from. ParentTarget
	// is populated for MKDIR/CP-dst/MV-dst/RM: the directory the
	// new/written node will live under (or, for RM, the directory Target
	// lives in), used for the MKDIR-parent and RM child-before-parent
	// ordering rules.
	Src          *Target
	ParentTarget *Target

	// Payload is opaque operation-specific data (e.g. the new name for a
	// rename) the Executor interprets; the graph never looks inside it.
	Payload any
}

// Node is one vertex in the graph: a tracked Op plus dependency
// bookkeeping. The unexported fields are all guarded by the owning
// Graph's mutex.
type Node struct {
	ID      string
	BatchID string
	Op      Op
	Kind    string // "dst" or "rm"

	dependents []*Node
	depsLeft   int
	issued     bool // handed out by GetNextCommand, not yet completed
	completed  bool
}

// Result is what MarkCompleted records for a finished op, surfaced to
// callers (the executor reports it, the CLI prints it).
type Result struct {
	Err error
}

// Graph is a concurrency-safe DAG of pending operations. One mutex guards
// all graph and node state; one condition variable wakes GetNextCommand
// waiters whenever a node may have become ready.
type Graph struct {
	mu   sync.Mutex
	cond *sync.Cond

	nodes map[string]*Node

	// exclusiveHolder tracks, per target, the single currently-pending
	// exclusive op (MKDIR/MV/RM) so rule 1 ("if T already has a pending op
	// P that is mutually exclusive with O, link O as a child of P") can be
	// applied on enqueue.
	exclusiveHolder map[ids.ItemKey]*Node

	// mkdirByTarget tracks pending MKDIR nodes by the directory they will
	// create, for rules 2/3 (parent-must-exist-first ordering).
	mkdirByTarget map[ids.ItemKey]*Node

	// rmByTarget tracks pending RM nodes by target, used only to clear
	// exclusivity on completion; the child-before-parent relationship
	// itself (rule 4) is computed directly off g.nodes, see
	// EnqueueBatch's second pass.
	rmByTarget map[ids.ItemKey]*Node
}

// New returns an empty Graph.
func New() *Graph {
	g := &Graph{
		nodes:           make(map[string]*Node),
		exclusiveHolder: make(map[ids.ItemKey]*Node),
		mkdirByTarget:   make(map[ids.ItemKey]*Node),
		rmByTarget:      make(map[ids.ItemKey]*Node),
	}
	g.cond = sync.NewCond(&g.mu)

	return g
}

// Enqueue is the single-op convenience wrapper around EnqueueBatch.
// Cross-call ordering still holds as long as the earlier op is pending:
// enqueueing RM(parent) and then RM(child) in a later call re-blocks the
// parent, because a node only leaves the graph's ready set when
// GetNextCommand hands it to the executor. Once an op is already
// executing, a later dependency cannot call it back.
func (g *Graph) Enqueue(op Op, batchID string) (opID, batch string, err error) {
	ids, batch, err := g.EnqueueBatch([]Op{op}, batchID)
	if err != nil {
		return "", "", err
	}

	return ids[0], batch, nil
}

// EnqueueBatch validates every op, links all of them into the dependency
// DAG per the five linking rules, and returns each new op's ID plus the
// batch ID (newly minted if batchID is empty).
func (g *Graph) EnqueueBatch(ops []Op, batchID string) (opIDs []string, batch string, err error) {
	for _, op := range ops {
		if err := validate(op); err != nil {
			return nil, "", err
		}
	}

	if batchID == "" {
		batchID = uuid.NewString()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := make([]*Node, len(ops))
	isNew := make(map[*Node]bool, len(ops))

	for i, op := range ops {
		n := &Node{ID: uuid.NewString(), BatchID: batchID, Op: op, Kind: kindFor(op.Type)}
		nodes[i] = n
		isNew[n] = true
		g.nodes[n.ID] = n
	}

	// First pass, in submission order: mutual exclusion (rule 1) and
	// MKDIR-parent ordering (rules 2/3). Order matters here — a second
	// exclusive op on the same target within this batch must chain behind
	// the first one in the batch, which registerLookupsLocked establishes
	// as it goes.
	for _, n := range nodes {
		for _, p := range g.exclusionAndMkdirParents(n) {
			g.linkLocked(p, n)
		}

		g.registerLookupsLocked(n)
	}

	// Second pass: RM child-before-parent (rule 4). By now every RM node
	// in this batch, and every pre-existing pending RM, is present in
	// g.nodes, so this is independent of the order RM ops appeared in ops.
	// An already-issued RM is skipped: it is executing and can no longer
	// be ordered behind anything.
	for _, n := range nodes {
		if n.Op.Type != OpRM {
			continue
		}

		for _, other := range g.nodes {
			if other == n || other.Op.Type != OpRM || other.completed || other.issued {
				continue
			}

			// other removes a child of n's target: n waits for it. This
			// direction also covers parent/child pairs submitted together
			// in this batch, whichever order they were listed in.
			if other.Op.ParentTarget != nil && other.Op.ParentTarget.key() == n.Op.Target.key() {
				g.linkLocked(other, n)
			}

			// other is the pending RM of n's parent directory: it must now
			// wait for n, even if it had no known children when it was
			// enqueued. Restricted to pre-existing nodes so a same-batch
			// pair is not linked twice by the two symmetric checks.
			if !isNew[other] && n.Op.ParentTarget != nil && other.Op.Target.key() == n.Op.ParentTarget.key() {
				g.linkLocked(n, other)
			}
		}
	}

	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}

	g.cond.Broadcast()

	return out, batchID, nil
}

func kindFor(t OpType) string {
	if t == OpRM {
		return "rm"
	}

	return "dst"
}

func validate(op Op) error {
	switch op.Type {
	case OpCP, OpMV, OpCPOnto, OpMVOnto:
		if op.Src == nil {
			return fmt.Errorf("opgraph: %s requires Src", op.Type)
		}
	case OpMkdir, OpRM, OpStartDirCP, OpFinishDirCP:
		// Target-only ops; nothing else required.
	default:
		return fmt.Errorf("opgraph: unknown op type %q", op.Type)
	}

	if op.Target.UID.IsZero() && op.Target.Device.IsZero() {
		return fmt.Errorf("opgraph: op %s has no target", op.Type)
	}

	return nil
}

// exclusionAndMkdirParents computes rules 1-3 for n against the graph's
// current lookup state. Must be called with g.mu held, and before n is
// registered into those same lookups (registerLookupsLocked), so n never
// becomes its own dependency.
func (g *Graph) exclusionAndMkdirParents(n *Node) []*Node {
	var parents []*Node

	targetKey := n.Op.Target.key()

	// Rule 1: mutual exclusion on the op's own target.
	if exclusiveOps[n.Op.Type] {
		if holder, ok := g.exclusiveHolder[targetKey]; ok {
			parents = append(parents, holder)
		}
	}

	// Rules 2/3: MKDIR, and any write whose destination lives under a
	// directory, wait on a pending MKDIR of that parent directory.
	if n.Op.ParentTarget != nil {
		switch n.Op.Type {
		case OpMkdir, OpCP, OpMV, OpCPOnto, OpMVOnto:
			if mk, ok := g.mkdirByTarget[n.Op.ParentTarget.key()]; ok {
				parents = append(parents, mk)
			}
		}
	}

	return parents
}

// registerLookupsLocked records n in the maps later Enqueue/EnqueueBatch
// calls (and this call's own rule-4 pass) consult. Must be called with
// g.mu held.
func (g *Graph) registerLookupsLocked(n *Node) {
	targetKey := n.Op.Target.key()

	if exclusiveOps[n.Op.Type] {
		g.exclusiveHolder[targetKey] = n
	}

	switch n.Op.Type {
	case OpMkdir:
		g.mkdirByTarget[targetKey] = n
	case OpRM:
		g.rmByTarget[targetKey] = n
	}
}

// linkLocked makes child depend on parent: child's depsLeft counts parent
// among its outstanding dependencies, and parent's dependents list gains
// child so MarkCompleted(parent) can decrement it later. Must be called
// with g.mu held.
func (g *Graph) linkLocked(parent, child *Node) {
	parent.dependents = append(parent.dependents, child)
	child.depsLeft++
}

// nextReadyLocked returns a node whose dependencies have all completed and
// that has not been handed out yet, or nil. Must be called with g.mu held.
func (g *Graph) nextReadyLocked() *Node {
	for _, n := range g.nodes {
		if !n.issued && !n.completed && n.depsLeft == 0 {
			return n
		}
	}

	return nil
}

// GetNextCommand blocks until a ready node is available or ctx is
// cancelled. The returned node is marked issued: it will not be returned
// again, and later-arriving dependencies no longer affect it.
func (g *Graph) GetNextCommand(ctx context.Context) (*Node, error) {
	// cond.Wait cannot watch ctx itself, so a cancellation wakes every
	// waiter and each re-checks ctx on its way around the loop.
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		g.cond.Broadcast()
		g.mu.Unlock()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if n := g.nextReadyLocked(); n != nil {
			n.issued = true
			return n, nil
		}

		g.cond.Wait()
	}
}

// MarkCompleted records the result of n, unlinks it from the graph's
// exclusivity/MKDIR lookup tables (so a later op on the same target is no
// longer blocked by it), and wakes GetNextCommand waiters for any
// dependent whose last dependency this was.
func (g *Graph) MarkCompleted(n *Node, result Result) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n.completed = true
	g.unregisterLocked(n)

	for _, dep := range n.dependents {
		dep.depsLeft--
	}

	g.cond.Broadcast()
}

func (g *Graph) unregisterLocked(n *Node) {
	targetKey := n.Op.Target.key()

	if holder, ok := g.exclusiveHolder[targetKey]; ok && holder == n {
		delete(g.exclusiveHolder, targetKey)
	}

	switch n.Op.Type {
	case OpMkdir:
		if mk, ok := g.mkdirByTarget[targetKey]; ok && mk == n {
			delete(g.mkdirByTarget, targetKey)
		}
	case OpRM:
		if rm, ok := g.rmByTarget[targetKey]; ok && rm == n {
			delete(g.rmByTarget, targetKey)
		}
	}

	delete(g.nodes, n.ID)
}

// Len returns the number of nodes currently tracked, used by tests and by
// `apply` to detect that a batch has drained.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.nodes)
}
