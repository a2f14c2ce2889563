package fuseadapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/require"

	"github.com/backfs-project/backfs/internal/backingstore"
	"github.com/backfs-project/backfs/internal/blockmap"
	"github.com/backfs-project/backfs/internal/bucketstore"
	"github.com/backfs-project/backfs/internal/clock"
	"github.com/backfs-project/backfs/internal/fscache"
	"github.com/backfs-project/backfs/internal/fsll"
	"github.com/backfs-project/backfs/internal/metrics"
)

// newTestServer builds a *Server directly (bypassing fuseutil's request/
// response wrapping, which tests have no need to exercise) against a fresh
// backing tree and a fresh, unbounded cache.
func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	backingRoot := t.TempDir()
	cacheDir := t.TempDir()
	bucketsDir := filepath.Join(cacheDir, "buckets")
	mapDir := filepath.Join(cacheDir, "map")
	require.NoError(t, os.MkdirAll(bucketsDir, 0o755))
	require.NoError(t, os.MkdirAll(mapDir, 0o755))

	used := fsll.New(bucketsDir, "head", "tail")
	free := fsll.New(bucketsDir, "free_head", "free_tail")
	store := bucketstore.New(bucketsDir, used, free, 64, nil)
	m := blockmap.New(mapDir)
	engine := fscache.New(m, store, 64)
	require.NoError(t, engine.Init())

	s := &Server{
		cfg: ServerConfig{
			Backing: backingstore.New(backingRoot),
			Engine:  engine,
			Clock:   clock.RealClock{},
			Metrics: metrics.NewNoopHandle(),
		},
		inodes:      make(map[fuseops.InodeID]*inodeRecord),
		pathToInode: make(map[string]fuseops.InodeID),
		dirHandles:  make(map[fuseops.HandleID]*dirHandle),
		fileHandles: make(map[fuseops.HandleID]*fileHandle),
		nextInodeID: fuseops.RootInodeID + 1,
		statusMsg:   "ok\n",
	}
	s.inodes[fuseops.RootInodeID] = &inodeRecord{path: "", lookupCount: 1}
	s.pathToInode[""] = fuseops.RootInodeID

	return s, backingRoot
}
