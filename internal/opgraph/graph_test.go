package opgraph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/ids"
)

func dev() ids.Device { return ids.NewDevice("local") }

func tgt(uid uint64) Target { return Target{Device: dev(), UID: ids.UID(uid)} }

// requireNotReady asserts that no node is dispatchable right now: a
// GetNextCommand call with a short deadline must time out rather than
// hand anything out.
func requireNotReady(t *testing.T, g *Graph, msg string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if n, err := g.GetNextCommand(ctx); err == nil {
		t.Fatalf("%s: got %s on target uid %d", msg, n.Op.Type, uint64(n.Op.Target.UID))
	}
}

func popReady(t *testing.T, g *Graph) *Node {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n, err := g.GetNextCommand(ctx)
	require.NoError(t, err)

	return n
}

func TestEnqueueNoDepsDispatchesImmediately(t *testing.T) {
	g := New()

	_, _, err := g.Enqueue(Op{Type: OpMkdir, Target: tgt(1)}, "")
	require.NoError(t, err)

	n := popReady(t, g)
	require.Equal(t, OpMkdir, n.Op.Type)
}

// Enqueueing RM(parent) and RM(child) in any order produces an op graph
// where child precedes parent.
func TestRmChildPrecedesParentRegardlessOfOrder(t *testing.T) {
	for _, order := range []string{"parent-first", "child-first"} {
		t.Run(order, func(t *testing.T) {
			g := New()

			parentOp := Op{Type: OpRM, Target: tgt(1)}
			childOp := Op{Type: OpRM, Target: tgt(2), ParentTarget: ptr(tgt(1))}

			if order == "parent-first" {
				_, _, err := g.Enqueue(parentOp, "b1")
				require.NoError(t, err)
				_, _, err = g.Enqueue(childOp, "b1")
				require.NoError(t, err)
			} else {
				_, _, err := g.Enqueue(childOp, "b1")
				require.NoError(t, err)
				_, _, err = g.Enqueue(parentOp, "b1")
				require.NoError(t, err)
			}

			// Only the child should be immediately ready.
			first := popReady(t, g)
			require.Equal(t, uint64(2), uint64(first.Op.Target.UID), "child RM must be ready first")

			requireNotReady(t, g, "parent RM dispatched before child RM completed")

			g.MarkCompleted(first, Result{})

			second := popReady(t, g)
			require.Equal(t, uint64(1), uint64(second.Op.Target.UID), "parent RM ready only after child completes")
		})
	}
}

func TestMutualExclusionSerializesSameTarget(t *testing.T) {
	g := New()

	src := tgt(4)
	_, _, err := g.Enqueue(Op{Type: OpMV, Target: tgt(5), Src: &src}, "")
	require.NoError(t, err)

	_, _, err = g.Enqueue(Op{Type: OpRM, Target: tgt(5)}, "")
	require.NoError(t, err)

	first := popReady(t, g)
	require.Equal(t, OpMV, first.Op.Type)

	// The RM on the same target must not be ready yet.
	requireNotReady(t, g, "second exclusive op dispatched before first completed")

	g.MarkCompleted(first, Result{})

	second := popReady(t, g)
	require.Equal(t, OpRM, second.Op.Type)
}

func TestCPSourceIsReentrant(t *testing.T) {
	g := New()

	src := tgt(9)
	_, _, err := g.Enqueue(Op{Type: OpCP, Target: tgt(10), Src: &src}, "")
	require.NoError(t, err)
	_, _, err = g.Enqueue(Op{Type: OpCP, Target: tgt(11), Src: &src}, "")
	require.NoError(t, err)

	n1 := popReady(t, g)
	n2 := popReady(t, g)

	require.ElementsMatch(t, []uint64{10, 11}, []uint64{uint64(n1.Op.Target.UID), uint64(n2.Op.Target.UID)})
}

func TestMkdirWaitsOnParentMkdir(t *testing.T) {
	g := New()

	_, _, err := g.Enqueue(Op{Type: OpMkdir, Target: tgt(1)}, "")
	require.NoError(t, err)

	_, _, err = g.Enqueue(Op{Type: OpMkdir, Target: tgt(2), ParentTarget: ptr(tgt(1))}, "")
	require.NoError(t, err)

	first := popReady(t, g)
	require.Equal(t, uint64(1), uint64(first.Op.Target.UID))

	requireNotReady(t, g, "child mkdir dispatched before parent mkdir completed")

	g.MarkCompleted(first, Result{})

	second := popReady(t, g)
	require.Equal(t, uint64(2), uint64(second.Op.Target.UID))
}

func TestCpDstWaitsOnParentMkdir(t *testing.T) {
	g := New()

	_, _, err := g.Enqueue(Op{Type: OpMkdir, Target: tgt(1)}, "")
	require.NoError(t, err)

	src := tgt(99)
	_, _, err = g.Enqueue(Op{Type: OpCP, Target: tgt(2), Src: &src, ParentTarget: ptr(tgt(1))}, "")
	require.NoError(t, err)

	first := popReady(t, g)
	require.Equal(t, OpMkdir, first.Op.Type)

	requireNotReady(t, g, "cp dst dispatched before mkdir completed")

	g.MarkCompleted(first, Result{})

	second := popReady(t, g)
	require.Equal(t, OpCP, second.Op.Type)
}

func TestInvalidOpRejected(t *testing.T) {
	g := New()

	_, _, err := g.Enqueue(Op{Type: OpCP, Target: tgt(1)}, "")
	require.Error(t, err, "CP without Src must be rejected")
}

func ptr(t Target) *Target { return &t }
