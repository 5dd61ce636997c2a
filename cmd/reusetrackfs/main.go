package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/reusetrack/reusetrack-go/internal/cache"
	"github.com/reusetrack/reusetrack-go/internal/config"
	"github.com/reusetrack/reusetrack-go/internal/fuse"
	"github.com/reusetrack/reusetrack-go/internal/logging"
	"github.com/reusetrack/reusetrack-go/internal/provenance"
	"github.com/reusetrack/reusetrack-go/internal/storage"
	"github.com/reusetrack/reusetrack-go/internal/storage/types"
)

const usage = "usage: reusetrackfs <root> <mountpoint>"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configPath string
	store      string
	dsn        string
	logLevel   string
	hash       string
}

// run parses args and either mounts the filesystem or, for "log",
// prints the copy log. It returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	flags := pflag.NewFlagSet("reusetrackfs", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to config file (default "+config.GetDefaultConfigPath()+")")
	flags.StringVar(&opts.store, "store", "", "provenance store: memory, sqlite, postgres, mysql, mongodb, badger or s3")
	flags.StringVar(&opts.dsn, "dsn", "", "store location: sqlite file, connection string, URI, directory or bucket")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&opts.hash, "hash", "", "content digest: sha1 or blake3")
	flags.Usage = func() {
		fmt.Fprintln(stderr, usage)
		fmt.Fprintln(stderr, "       reusetrackfs log")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 1
	}

	positional := flags.Args()
	listLog := len(positional) == 1 && positional[0] == "log"
	if !listLog && len(positional) != 2 {
		fmt.Fprintln(stderr, usage)
		return 1
	}

	cfg, err := loadConfig(opts, flags)
	if err != nil {
		fmt.Fprintf(stderr, "reusetrackfs: %v\n", err)
		return 1
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(stderr, "reusetrackfs: %v\n", err)
		return 1
	}

	if listLog {
		err = printCopyLog(ctx, cfg, stdout)
	} else {
		err = mount(ctx, cfg, logger, positional[0], positional[1])
	}
	if err != nil {
		logger.WithError(err).Error("reusetrackfs failed")
		return 1
	}
	return 0
}

// loadConfig loads the config file and environment, then applies flags
func loadConfig(opts options, flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if flags.Changed("store") {
		cfg.Store.Type = opts.store
		if !flags.Changed("dsn") {
			cfg.Store.DSN = ""
		}
	}
	if flags.Changed("dsn") {
		cfg.Store.DSN = opts.dsn
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if flags.Changed("hash") {
		cfg.Fingerprint.Algorithm = opts.hash
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mount(ctx context.Context, cfg *config.Config, logger *logrus.Logger, root, mountpoint string) error {
	store, err := storage.NewStore(ctx, cfg.Store.StorageConfig())
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	defer store.Close()

	fingerprinter, err := provenance.NewFingerprinter(provenance.Algorithm(cfg.Fingerprint.Algorithm))
	if err != nil {
		return err
	}
	if cfg.Fingerprint.CacheSize > 0 {
		digests, err := cache.NewDigestCache(cfg.Fingerprint.CacheSize)
		if err != nil {
			return err
		}
		fingerprinter.UseCache(digests)
	}
	tracker := provenance.NewTracker(store, fingerprinter, logger)

	filesystem, err := fuse.NewFilesystem(root, tracker)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"root":  filesystem.Root(),
		"store": cfg.Store.Type,
		"hash":  fingerprinter.Algorithm(),
	}).Info("Starting reusetrackfs")

	return fuse.Mount(ctx, mountpoint, fuse.WithLogging(filesystem, logger), fuse.MountOptions{
		FSName:     cfg.Mount.FSName,
		AllowOther: cfg.Mount.AllowOther,
		Logger:     logger,
	})
}

// printCopyLog writes one line per copy edge, oldest first
func printCopyLog(ctx context.Context, cfg *config.Config, w io.Writer) error {
	store, err := storage.NewStore(ctx, cfg.Store.StorageConfig())
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Type, err)
	}
	defer store.Close()

	edges, err := store.CopyEdges(ctx)
	if err != nil {
		return err
	}
	for _, edge := range edges {
		src := describe(ctx, store, edge.SourceInode)
		dst := describe(ctx, store, edge.DestinationInode)
		fmt.Fprintf(w, "%s -> %s\t%s\n", src, dst, humanize.Time(edge.CreatedAt))
	}
	return nil
}

// describe names an inode by the path and size of its current snapshot
func describe(ctx context.Context, store types.Store, inode uint64) string {
	snap, err := store.FindSnapshot(ctx, inode)
	if err != nil {
		return fmt.Sprintf("inode %d", inode)
	}
	return fmt.Sprintf("%s (%s)", snap.Path, humanize.IBytes(uint64(snap.Size)))
}
