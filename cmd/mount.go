package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jacobsa/fuse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/backfs-project/backfs/cfg"
	"github.com/backfs-project/backfs/internal/backingstore"
	"github.com/backfs-project/backfs/internal/blockmap"
	"github.com/backfs-project/backfs/internal/bucketstore"
	"github.com/backfs-project/backfs/internal/clock"
	"github.com/backfs-project/backfs/internal/fscache"
	"github.com/backfs-project/backfs/internal/fsll"
	"github.com/backfs-project/backfs/internal/fuseadapter"
	"github.com/backfs-project/backfs/internal/logger"
	"github.com/backfs-project/backfs/internal/metrics"
	"github.com/backfs-project/backfs/internal/util"
)

var mountCmd = &cobra.Command{
	Use:   "mount <backing-dir> <mount-point>",
	Short: "Mount a backing directory tree as a caching FUSE filesystem",
	Args:  cobra.ExactArgs(2),
	RunE:  runMount,
}

func runMount(_ *cobra.Command, args []string) error {
	config, err := loadedConfig()
	if err != nil {
		return err
	}

	backingDir, err := util.GetResolvedPath(args[0])
	if err != nil {
		return fmt.Errorf("resolving backing directory: %w", err)
	}
	mountPoint, err := util.GetResolvedPath(args[1])
	if err != nil {
		return fmt.Errorf("resolving mount point: %w", err)
	}
	config.BackingFS.Dir = backingDir

	if err := cfgRationalizeAndValidate(config); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Format:   config.Logging.Format,
		Severity: config.Logging.Severity,
		FilePath: config.Logging.File,
	}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Close()

	engine, err := buildEngine(config)
	if err != nil {
		return fmt.Errorf("building cache engine: %w", err)
	}

	server, err := fuseadapter.NewServer(fuseadapter.ServerConfig{
		Backing:   backingstore.New(config.BackingFS.Dir),
		Engine:    engine,
		Metrics:   metrics.NewPrometheusHandle(prometheus.DefaultRegisterer),
		ReadWrite: config.Cache.ReadWrite,
		Clock:     clock.RealClock{},
	})
	if err != nil {
		return fmt.Errorf("building FUSE server: %w", err)
	}

	sessionID := uuid.New().String()
	logger.Infof("mounting %s at %s (session %s)", config.BackingFS.Dir, mountPoint, sessionID)

	options := map[string]string{}
	if !config.Cache.ReadWrite {
		options["ro"] = ""
	}
	mfs, err := fuse.Mount(mountPoint, server, &fuse.MountConfig{
		FSName:     "backfs",
		Subtype:    "backfs",
		VolumeName: filepath.Base(config.BackingFS.Dir),
		Options:    options,
	})
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func cfgRationalizeAndValidate(config *cfg.Config) error {
	if err := cfg.Rationalize(config); err != nil {
		return err
	}
	return cfg.Validate(config)
}

func buildEngine(config *cfg.Config) (*fscache.Engine, error) {
	cacheDir := config.Cache.Dir
	bucketsDir := filepath.Join(cacheDir, "buckets")
	mapDir := filepath.Join(cacheDir, "map")
	if err := os.MkdirAll(bucketsDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(mapDir, 0o755); err != nil {
		return nil, err
	}

	used := fsll.New(bucketsDir, "head", "tail")
	free := fsll.New(bucketsDir, "free_head", "free_tail")

	var maxBytes *uint64
	if config.Cache.MaxSizeMB > 0 {
		m := uint64(config.Cache.MaxSizeMB) * 1024 * 1024
		maxBytes = &m
	}

	store := bucketstore.New(bucketsDir, used, free, uint64(config.Cache.BlockSizeKB)*1024, maxBytes)
	m := blockmap.New(mapDir)
	engine := fscache.New(m, store, uint64(config.Cache.BlockSizeKB)*1024)
	if err := engine.Init(); err != nil {
		return nil, err
	}
	return engine, nil
}
