package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/treesync/treesync/internal/eventbus"
	"github.com/treesync/treesync/internal/ids"
	"github.com/treesync/treesync/internal/opgraph"
)

// fakeLocal is an in-memory LocalTree double.
type fakeLocal struct {
	mu      sync.Mutex
	dirs    map[string]bool
	files   map[string]string // path -> hash
	staged  map[string]string // staged path -> hash
	stageID int
	errMkdir, errCommit error
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{dirs: map[string]bool{}, files: map[string]string{}, staged: map[string]string{}}
}

func (f *fakeLocal) Mkdir(ctx context.Context, path string) error {
	if f.errMkdir != nil {
		return f.errMkdir
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[path] = true

	return nil
}

func (f *fakeLocal) Remove(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
	delete(f.dirs, path)

	return nil
}

func (f *fakeLocal) Move(ctx context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.files[src]; ok {
		f.files[dst] = h
		delete(f.files, src)
	}

	return nil
}

func (f *fakeLocal) StageCopy(ctx context.Context, src string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hash, ok := f.files[src]
	if !ok {
		hash = "hash-of-" + src
	}

	f.stageID++
	staged := src + ".staged"
	f.staged[staged] = hash

	return staged, hash, nil
}

func (f *fakeLocal) CommitStagedCopy(ctx context.Context, staged, dst, wantHash string) error {
	if f.errCommit != nil {
		return f.errCommit
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.files[dst]; ok && existing == wantHash {
		return ErrIdenticalFileExists
	}

	f.files[dst] = wantHash
	delete(f.staged, staged)

	return nil
}

func (f *fakeLocal) Hash(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.files[path], nil
}

// fakeCloud is an in-memory CloudTree double.
type fakeCloud struct {
	mu    sync.Mutex
	dirs  map[string]bool
	files map[string]string
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{dirs: map[string]bool{}, files: map[string]string{}}
}

func (f *fakeCloud) Mkdir(ctx context.Context, parentPath, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[parentPath+"/"+name] = true

	return nil
}

func (f *fakeCloud) Remove(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)

	return nil
}

func (f *fakeCloud) Move(ctx context.Context, src, dstParent, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.files[src]; ok {
		f.files[dstParent+"/"+newName] = h
		delete(f.files, src)
	}

	return nil
}

func (f *fakeCloud) Download(ctx context.Context, path string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hash, ok := f.files[path]
	if !ok {
		return "", "", errors.New("fakeCloud: not found")
	}

	return path + ".staged", hash, nil
}

func (f *fakeCloud) Upload(ctx context.Context, stagedOrLocalPath, dstParentPath, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hash := "hash-of-" + stagedOrLocalPath
	f.files[dstParentPath+"/"+name] = hash

	return hash, nil
}

func (f *fakeCloud) Hash(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h, ok := f.files[path]
	if !ok {
		return "", errors.New("fakeCloud: not found")
	}

	return h, nil
}

func localTarget(uid uint64) opgraph.Target {
	return opgraph.Target{Device: ids.NewDevice("local-vol"), UID: ids.UID(uid)}
}

func TestMkdirLocalSucceeds(t *testing.T) {
	g := opgraph.New()
	local, cloud := newFakeLocal(), newFakeCloud()
	bus := eventbus.New(nil)
	e := New(g, local, cloud, bus, nil)

	_, _, err := g.Enqueue(opgraph.Op{
		Type:   opgraph.OpMkdir,
		Target: localTarget(1),
		Payload: Payload{SrcKind: Local, DstKind: Local, DstPath: "/a"},
	}, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() { _ = e.Run(ctx) }()

	require.Eventually(t, func() bool {
		local.mu.Lock()
		defer local.mu.Unlock()

		return local.dirs["/a"]
	}, time.Second, 10*time.Millisecond)

	e.Stop()
}

func TestCPLocalToLocalCommitsStagedCopy(t *testing.T) {
	g := opgraph.New()
	local, cloud := newFakeLocal(), newFakeCloud()
	local.files["/src.txt"] = "X"

	bus := eventbus.New(nil)
	e := New(g, local, cloud, bus, nil)

	src := localTarget(1)
	_, _, err := g.Enqueue(opgraph.Op{
		Type:   opgraph.OpCP,
		Target: localTarget(2),
		Src:    &src,
		Payload: Payload{SrcKind: Local, DstKind: Local, SrcPath: "/src.txt", DstPath: "/dst.txt"},
	}, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() { _ = e.Run(ctx) }()

	require.Eventually(t, func() bool {
		local.mu.Lock()
		defer local.mu.Unlock()

		return local.files["/dst.txt"] == "X"
	}, time.Second, 10*time.Millisecond)

	e.Stop()

	stats := e.Stats()
	require.Equal(t, int64(1), stats.Succeeded)
	require.Equal(t, int64(0), stats.Failed)
}

func TestCPIdenticalFileExistsIsSuccess(t *testing.T) {
	g := opgraph.New()
	local, cloud := newFakeLocal(), newFakeCloud()
	local.files["/src.txt"] = "X"
	local.files["/dst.txt"] = "X"

	bus := eventbus.New(nil)
	e := New(g, local, cloud, bus, nil)

	src := localTarget(1)
	node := opgraph.Op{
		Type:   opgraph.OpCP,
		Target: localTarget(2),
		Src:    &src,
		Payload: Payload{SrcKind: Local, DstKind: Local, SrcPath: "/src.txt", DstPath: "/dst.txt"},
	}
	_, _, err := g.Enqueue(node, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n, err := g.GetNextCommand(ctx)
	require.NoError(t, err)

	result := e.dispatch(ctx, n)
	require.NoError(t, result.Err)
}

func TestCloudUploadHashMismatchIsReported(t *testing.T) {
	g := opgraph.New()
	local, cloud := newFakeLocal(), newFakeCloud()
	local.files["/src.txt"] = "X"

	bus := eventbus.New(nil)
	e := New(g, local, cloud, bus, nil)

	src := localTarget(1)
	node := opgraph.Op{
		Type:   opgraph.OpCP,
		Target: localTarget(2),
		Src:    &src,
		Payload: Payload{SrcKind: Local, DstKind: Cloud, SrcPath: "/src.txt", DstPath: "/remote", Name: "f.txt", Hash: "expected-but-wrong"},
	}
	_, _, err := g.Enqueue(node, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n, err := g.GetNextCommand(ctx)
	require.NoError(t, err)

	result := e.dispatch(ctx, n)
	require.Error(t, result.Err)
}

func TestPauseStopsRunLoopFromPickingUpNewWork(t *testing.T) {
	g := opgraph.New()
	local, cloud := newFakeLocal(), newFakeCloud()
	bus := eventbus.New(nil)
	e := New(g, local, cloud, bus, nil)

	e.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()

	_, _, err := g.Enqueue(opgraph.Op{Type: opgraph.OpMkdir, Target: localTarget(1),
		Payload: Payload{SrcKind: Local, DstKind: Local, DstPath: "/a"}}, "")
	require.NoError(t, err)

	<-done

	local.mu.Lock()
	defer local.mu.Unlock()
	require.False(t, local.dirs["/a"], "paused executor must not dispatch queued work")
}
