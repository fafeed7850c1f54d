// Command vfsctl inspects a directory tree through the VFS cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/config"
	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const usage = `vfsctl - DittoVFS cache inspector

Usage:
  vfsctl [--config path] <command> [flags] [args]

Commands:
  init            Write a default configuration file
  ls <path>       List a directory
  tree <path>     Print a directory tree
  stat <path>     Show a file's id, flags and attributes
  find <id>       Resolve a file id to its path
  serve           Mount everything and expose metrics until interrupted
`

func main() {
	global := pflag.NewFlagSet("vfsctl", pflag.ContinueOnError)
	configPath := global.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/dittovfs/config.yaml)")
	global.SetInterspersed(false)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := global.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "init":
		err = runInit(*configPath, rest)
	case "ls", "tree", "stat", "find":
		err = withVFS(*configPath, func(s *session) error {
			switch cmd {
			case "ls":
				return s.ls(rest)
			case "tree":
				return s.tree(rest)
			case "stat":
				return s.stat(rest)
			default:
				return s.find(rest)
			}
		})
	case "serve":
		err = runServe(*configPath)
	case "help", "-h", "--help":
		global.Usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		global.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit(configPath string, args []string) error {
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	force := fs.BoolP("force", "f", false, "Overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := configPath
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	if err := config.InitConfigToPath(path, *force); err != nil {
		return err
	}
	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

// session is a loaded configuration with its cache.
type session struct {
	cfg   *config.Config
	v     *vfs.VFS
	roots []*vfs.Directory
}

func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	return cfg, nil
}

func withVFS(configPath string, fn func(s *session) error) (err error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	peer, err := config.CreatePeer(context.Background(), &cfg.Store)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, peer.Close()) }()

	v, roots, err := config.CreateVFS(cfg, peer, metrics.NewNoopVFSMetrics())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, v.Close()) }()

	return fn(&session{cfg: cfg, v: v, roots: roots})
}

// resolve walks path from the longest matching mount.
func (s *session) resolve(path string) (vfs.Handle, error) {
	var (
		best     *vfs.Directory
		bestPath string
	)
	for _, root := range s.roots {
		rp, err := root.Path()
		if err != nil {
			return nil, err
		}
		if (path == rp || strings.HasPrefix(path, strings.TrimSuffix(rp, "/")+"/")) && len(rp) > len(bestPath) {
			best, bestPath = root, rp
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%s is not below any mount", path)
	}

	var cur vfs.Handle = best
	for _, part := range strings.Split(strings.TrimPrefix(path, bestPath), "/") {
		if part == "" {
			continue
		}
		dir, ok := cur.(*vfs.Directory)
		if !ok {
			return nil, fmt.Errorf("%s: not a directory", path)
		}
		next, err := dir.FindChild(part)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, fmt.Errorf("%s: no such file or directory", path)
		}
		cur = next
	}
	return cur, nil
}

func (s *session) directoryArg(cmd string, args []string) (*vfs.Directory, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: vfsctl %s <path>", cmd)
	}
	h, err := s.resolve(args[0])
	if err != nil {
		return nil, err
	}
	dir, ok := h.(*vfs.Directory)
	if !ok {
		return nil, fmt.Errorf("%s: not a directory", args[0])
	}
	return dir, nil
}

func (s *session) ls(args []string) error {
	fs := pflag.NewFlagSet("ls", pflag.ContinueOnError)
	long := fs.BoolP("long", "l", false, "Show ids and flags")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dir, err := s.directoryArg("ls", fs.Args())
	if err != nil {
		return err
	}

	children, err := dir.Children()
	if err != nil {
		return err
	}
	for _, child := range children {
		name, err := child.Name()
		if err != nil {
			return err
		}
		if child.IsDirectory() {
			name += "/"
		}
		if !*long {
			fmt.Println(name)
			continue
		}
		flags, err := child.Flags()
		if err != nil {
			return err
		}
		fmt.Printf("%8d  %-40s  %s\n", child.ID(), name, flags)
	}
	return nil
}

func (s *session) tree(args []string) error {
	fs := pflag.NewFlagSet("tree", pflag.ContinueOnError)
	depth := fs.IntP("depth", "d", 0, "Maximum depth (0 = unlimited)")
	parallel := fs.IntP("parallel", "p", 8, "Directories loaded concurrently per level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dir, err := s.directoryArg("tree", fs.Args())
	if err != nil {
		return err
	}

	lines, err := walkTree(dir, "", 1, *depth, *parallel)
	if err != nil {
		return err
	}
	fmt.Println(fs.Arg(0))
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

// walkTree renders dir's subtree. Sibling directories are loaded
// concurrently; output keeps the children order.
func walkTree(dir *vfs.Directory, indent string, level, maxDepth, parallel int) ([]string, error) {
	children, err := dir.Children()
	if err != nil {
		return nil, err
	}

	parts := make([][]string, len(children))
	var g errgroup.Group
	g.SetLimit(max(parallel, 1))
	for i, child := range children {
		name, err := child.Name()
		if err != nil {
			return nil, err
		}
		branch, next := "├── ", "│   "
		if i == len(children)-1 {
			branch, next = "└── ", "    "
		}
		parts[i] = []string{indent + branch + name}

		sub, ok := child.(*vfs.Directory)
		if !ok || (maxDepth > 0 && level >= maxDepth) {
			continue
		}
		g.Go(func() error {
			lines, err := walkTree(sub, indent+next, level+1, maxDepth, parallel)
			if err != nil {
				return err
			}
			parts[i] = append(parts[i], lines...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

func (s *session) stat(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: vfsctl stat <path>")
	}
	h, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	return printHandle(s.v, h)
}

func (s *session) find(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: vfsctl find <id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", args[0], err)
	}
	h, err := s.v.FindFileByID(vfs.FileID(id))
	if err != nil {
		return err
	}
	return printHandle(s.v, h)
}

func printHandle(v *vfs.VFS, h vfs.Handle) error {
	path, err := h.Path()
	if err != nil {
		return err
	}
	flags, err := h.Flags()
	if err != nil {
		return err
	}
	attrs, err := v.Peer().Attributes(h.ID())
	if err != nil {
		return err
	}
	fmt.Printf("Path:       %s\n", path)
	fmt.Printf("ID:         %d\n", h.ID())
	fmt.Printf("Directory:  %v\n", h.IsDirectory())
	fmt.Printf("Flags:      %s\n", flags)
	fmt.Printf("Attributes: %s\n", attrs)
	if dir, ok := h.(*vfs.Directory); ok {
		cs, err := dir.IsCaseSensitive()
		if err != nil {
			return err
		}
		fmt.Printf("Case:       %s\n", map[bool]string{true: "sensitive", false: "insensitive"}[cs])
	}
	if f, ok := h.(*vfs.File); ok {
		count, err := f.ModificationCount()
		if err != nil {
			return err
		}
		fmt.Printf("Mod count:  %d\n", count)
	}
	return nil
}

func runServe(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	peer, err := config.CreatePeer(ctx, &cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = peer.Close() }()

	// The stats endpoint reads v once it is set below.
	var v *vfs.VFS
	m := config.InitializeMetrics(cfg, func() any { return v.Stats() })

	v, roots, err := config.CreateVFS(cfg, peer, m.VFSMetrics)
	if err != nil {
		return err
	}
	defer func() { _ = v.Close() }()

	v.OnDelete(func(ev vfs.DeleteEvent) {
		logger.Info("Deleted %s (%d files): %s", ev.Path, len(ev.Subtree), ev.Reason)
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, root := range roots {
		g.Go(func() error {
			start := time.Now()
			children, err := root.Children()
			if err != nil {
				return err
			}
			path, _ := root.Path()
			logger.Info("Loaded %d entries of %s in %v", len(children), path, time.Since(start))
			return nil
		})
	}
	if m.Server != nil {
		g.Go(func() error { return m.Server.Start(gctx) })
	}
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				st := v.Stats()
				logger.Info("Cache: segments=%d dead=%d duplicates=%d structure_mods=%d",
					st.Segments, st.DeadSlots, st.DuplicateNames, st.StructureModificationCount)
			}
		}
	})

	logger.Info("vfsctl serving %d mounts. Press Ctrl+C to stop.", len(roots))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutting down")
	return nil
}
