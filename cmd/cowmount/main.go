// Package main provides cowmount, which FUSE-mounts a copy-on-write overlay
// over an immutable backing file.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	goFuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	flag "github.com/spf13/pflag"

	"github.com/andrewarrow/cowblock/internal/config"
	"github.com/andrewarrow/cowblock/internal/vfile"
	"github.com/andrewarrow/cowblock/pkg/overlay"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// chooseRoot picks the go-fuse root shape for mountPoint: a pre-existing
// regular file is mounted onto directly (the root inode answers file
// operations itself, per §6.1's "pre-existing regular file path" target);
// anything else (a directory, or a path that doesn't exist yet) gets the
// backing file exposed as a single named child, the directory-target shape.
func chooseRoot(engine *overlay.Engine, backingPath, mountPoint string) goFuse.InodeEmbedder {
	if info, err := os.Stat(mountPoint); err == nil && !info.IsDir() {
		return vfile.NewFileRoot(engine)
	}

	return vfile.NewRoot(engine, vfile.BaseName(backingPath))
}

func run(args []string, out, errOut *os.File) int {
	flagSet := flag.NewFlagSet("cowmount", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	blockSize := flagSet.Uint32("block-size", 0, "block size in bytes (power of two; 0 uses config/default)")
	syncEveryWrite := flagSet.Bool("sync-every-write", false, "report sync-every-write at mount; the sidecars are synced on flush and fsync, not after each write")
	configPath := flagSet.String("config", "", "path to .cowblock.hujson (default: look in the backing file's directory)")
	foreground := flagSet.Bool("foreground", false, "do not install the SIGINT/SIGTERM handler that unmounts (cowmount never forks)")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	if flagSet.NArg() != 2 {
		fmt.Fprintln(errOut, "usage: cowmount [flags] <backing-file> <mount-point>")
		return 2
	}

	backingPath := flagSet.Arg(0)
	mountPoint := flagSet.Arg(1)

	workDir := filepath.Dir(backingPath)

	cfg, err := config.Load(workDir, *configPath)
	if err != nil {
		fmt.Fprintln(errOut, "cowmount:", err)
		return 1
	}

	if flagSet.Changed("block-size") {
		cfg.BlockSize = *blockSize
	}

	if flagSet.Changed("sync-every-write") {
		cfg.SyncEveryWrite = *syncEveryWrite
	}

	engine, err := overlay.Open(overlay.Options{
		BackingPath: backingPath,
		DiffPath:    filepath.Join(workDir, cfg.DiffName),
		ExtraPath:   filepath.Join(workDir, cfg.ExtraName),
		BlockSize:   cfg.BlockSize,
	})
	if err != nil {
		fmt.Fprintln(errOut, "cowmount: opening overlay:", err)
		return 1
	}

	root := chooseRoot(engine, backingPath, mountPoint)

	server, err := goFuse.Mount(mountPoint, root, &goFuse.Options{
		MountOptions: fuse.MountOptions{
			FsName:     "cowblock",
			Name:       "cowblock",
			AllowOther: false,
		},
	})
	if err != nil {
		_ = engine.Close()
		fmt.Fprintln(errOut, "cowmount: mounting:", err)

		return 1
	}

	if cfg.SyncEveryWrite {
		fmt.Fprintln(out, "cowmount: sync-every-write enabled")
	}

	fmt.Fprintf(out, "cowmount: serving %s at %s\n", backingPath, mountPoint)

	if !*foreground {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		go func() {
			<-sigCh
			_ = server.Unmount()
		}()
	}

	server.Wait()

	if err := engine.Close(); err != nil {
		fmt.Fprintln(errOut, "cowmount: closing overlay:", err)
		return 1
	}

	return 0
}
