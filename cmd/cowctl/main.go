// cowctl inspects and pokes at an overlay sidecar pair without mounting it.
//
// Usage:
//
//	cowctl init [dir]                      Write a default .cowblock.hujson
//	cowctl inspect <backing> <diff> <extra>  Print sidecar facts once
//	cowctl <backing> <diff> <extra>          Open a REPL over the sidecars
//
// REPL commands:
//
//	size                   Print the current logical size
//	read <offset> <len>    Read and hex-dump a range
//	write <offset> <text>  Write text at an offset
//	truncate <size>        Resize the logical file
//	sync                   Flush sidecars to disk
//	info                   Print block size, N, M, E
//	help                   Show this help
//	exit / quit / q        Exit
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/andrewarrow/cowblock/internal/config"
	"github.com/andrewarrow/cowblock/pkg/overlay"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "cowctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(args[1:])
	case "inspect":
		return runInspect(args[1:])
	default:
		return runRepl(args)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  cowctl init [dir]")
	fmt.Fprintln(os.Stderr, "  cowctl inspect <backing> <diff> <extra>")
	fmt.Fprintln(os.Stderr, "  cowctl <backing> <diff> <extra>")
}

func runInit(args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	path, err := config.WriteDefault(dir)
	if err != nil {
		return err
	}

	fmt.Println("wrote", path)

	return nil
}

func openEngine(args []string) (*overlay.Engine, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("expected <backing> <diff> <extra>, got %d args", len(args))
	}

	return overlay.Open(overlay.Options{
		BackingPath: args[0],
		DiffPath:    args[1],
		ExtraPath:   args[2],
	})
}

func runInspect(args []string) error {
	eng, err := openEngine(args)
	if err != nil {
		return err
	}
	defer eng.Close()

	printFacts(eng)

	return nil
}

func printFacts(eng *overlay.Engine) {
	fmt.Printf("size:       %d bytes\n", eng.Size())
	fmt.Printf("block size: %d bytes\n", eng.BlockSize())
	fmt.Printf("N (blocks): %d\n", eng.BlockCount())
	fmt.Printf("M (diffed): %d\n", eng.DiffCount())
	fmt.Printf("E (extra):  %d bytes\n", eng.ExtraLen())
}

// repl is the interactive command loop.
type repl struct {
	engine *overlay.Engine
	liner  *liner.State
}

func runRepl(args []string) error {
	eng, err := openEngine(args)
	if err != nil {
		return err
	}
	defer eng.Close()

	r := &repl{engine: eng}

	return r.run()
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".cowctl_history")
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("cowctl - overlay CLI (size=%d bytes)\n", r.engine.Size())
	fmt.Println("Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt("cowctl> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		cmdArgs := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			r.saveHistory()
			return nil

		case "help", "?":
			r.printHelp()

		case "size":
			fmt.Println(r.engine.Size())

		case "read":
			r.cmdRead(cmdArgs)

		case "write":
			r.cmdWrite(cmdArgs)

		case "truncate":
			r.cmdTruncate(cmdArgs)

		case "sync":
			if err := r.engine.Sync(); err != nil {
				fmt.Println("error:", err)
			}

		case "info":
			printFacts(r.engine)

		default:
			fmt.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	r.saveHistory()

	return nil
}

func (r *repl) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()

	r.liner.WriteHistory(f)
}

func (r *repl) printHelp() {
	fmt.Println("  size                   Print the current logical size")
	fmt.Println("  read <offset> <len>    Read and hex-dump a range")
	fmt.Println("  write <offset> <text>  Write text at an offset")
	fmt.Println("  truncate <size>        Resize the logical file")
	fmt.Println("  sync                   Flush sidecars to disk")
	fmt.Println("  info                   Print current facts")
	fmt.Println("  exit / quit / q        Exit")
}

func (r *repl) cmdRead(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: read <offset> <len>")
		return
	}

	offset, err1 := strconv.ParseUint(args[0], 10, 64)
	length, err2 := strconv.ParseUint(args[1], 10, 64)

	if err1 != nil || err2 != nil {
		fmt.Println("usage: read <offset> <len>")
		return
	}

	data, err := r.engine.Read(offset, length)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println(hex.Dump(data))
}

func (r *repl) cmdWrite(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: write <offset> <text>")
		return
	}

	offset, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Println("usage: write <offset> <text>")
		return
	}

	text := strings.Join(args[1:], " ")

	n, err := r.engine.Write(offset, []byte(text))
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Printf("wrote %d bytes\n", n)
}

func (r *repl) cmdTruncate(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: truncate <size>")
		return
	}

	size, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Println("usage: truncate <size>")
		return
	}

	if err := r.engine.Truncate(size); err != nil {
		fmt.Println("error:", err)
	}
}
