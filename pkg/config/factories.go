package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/driver/aferofs"
	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/marmos91/dittovfs/pkg/store/records/badger"
	"github.com/marmos91/dittovfs/pkg/store/records/memory"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
)

// CreatePeer creates a record store based on configuration.
//
// This factory function uses the Type field to determine which peer
// implementation to create, then decodes the type-specific configuration
// from the corresponding map and passes it to the peer's constructor.
//
// Supported types:
//   - "memory": Uses pkg/store/records/memory (ids live for the process)
//   - "badger": Uses pkg/store/records/badger (ids survive restarts)
func CreatePeer(ctx context.Context, cfg *StoreConfig) (vfs.Peer, error) {
	switch cfg.Type {
	case "memory":
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return memory.New(), nil
	case "badger":
		return createBadgerPeer(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

// createBadgerPeer creates a BadgerDB-based persistent peer.
func createBadgerPeer(ctx context.Context, options map[string]any) (vfs.Peer, error) {
	var peerCfg badger.Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &peerCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("failed to decode badger store options: %w", err)
	}

	if peerCfg.DBPath == "" && !peerCfg.InMemory {
		return nil, fmt.Errorf("badger store: db_path is required")
	}

	peer, err := badger.New(ctx, peerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger store: %w", err)
	}
	return peer, nil
}

// CreateDriver creates the file system driver of a mount.
//
// The os driver confines the mount to Root through afero's BasePathFs; the
// memory driver starts empty.
func CreateDriver(cfg *MountConfig) (*aferofs.Driver, error) {
	var fsys afero.Fs
	switch cfg.Driver {
	case "os":
		root, err := filepath.Abs(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("mount %s: invalid root %q: %w", cfg.Path, cfg.Root, err)
		}
		osFs := afero.NewOsFs()
		ok, err := afero.DirExists(osFs, root)
		if err != nil {
			return nil, fmt.Errorf("mount %s: %w", cfg.Path, err)
		}
		if !ok {
			return nil, fmt.Errorf("mount %s: root %s is not a directory", cfg.Path, root)
		}
		fsys = afero.NewBasePathFs(osFs, root)
	case "memory":
		fsys = afero.NewMemMapFs()
	default:
		return nil, fmt.Errorf("unknown driver type: %q", cfg.Driver)
	}

	caseSensitive := true
	if cfg.CaseSensitive != nil {
		caseSensitive = *cfg.CaseSensitive
	}
	return aferofs.New(fsys, aferofs.Options{CaseSensitive: caseSensitive}), nil
}

// CreateVFS builds a VFS over peer with the cache settings of cfg and mounts
// every configured mount. m may be nil.
func CreateVFS(cfg *Config, peer vfs.Peer, m metrics.VFSMetrics) (*vfs.VFS, []*vfs.Directory, error) {
	v, err := vfs.New(vfs.Options{
		Peer:                     peer,
		NameCacheSize:            cfg.Cache.NameCacheSize,
		InternerCapacity:         cfg.Cache.InternerCapacity,
		UserDataInternMaxEntries: cfg.Cache.UserDataInternMaxEntries,
		StrictChecks:             cfg.Cache.StrictChecks,
		DuplicateLogRate:         cfg.Diagnostics.DuplicateLogRate,
		DuplicateLogBurst:        cfg.Diagnostics.DuplicateLogBurst,
		Metrics:                  m,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create vfs: %w", err)
	}

	roots := make([]*vfs.Directory, 0, len(cfg.Mounts))
	for i := range cfg.Mounts {
		mc := &cfg.Mounts[i]
		driver, err := CreateDriver(mc)
		if err != nil {
			return nil, nil, err
		}
		root, err := v.Mount(mc.Path, driver)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to mount %s: %w", mc.Path, err)
		}
		logger.Info("Mount %s: driver=%s root=%q case_sensitive=%v", mc.Path, mc.Driver, mc.Root, driver.CaseSensitive())
		roots = append(roots, root)
	}
	return v, roots, nil
}
