package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/safetynet/track"
	"github.com/joshuapare/safetynet/track/persist"
)

var (
	dumpSize int
	dumpFill uint8
)

func init() {
	cmd := newDumpCmd()
	cmd.Flags().IntVar(&dumpSize, "size", 4096, "Block size in bytes")
	cmd.Flags().Uint8Var(&dumpFill, "fill", 0xAB, "Byte value written to every position")
	rootCmd.AddCommand(cmd)
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Allocate a filled block and dump it to a new file",
		Long: `The dump command allocates a tracked block, fills it, writes it to a
file that must not exist yet and prints the block checksum.

Example:
  sntrack dump block.bin --size 1024 --fill 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args)
		},
	}
	return cmd
}

// BlockResult describes a block written to or read from a file.
type BlockResult struct {
	Path     string `json:"path"`
	Size     uint64 `json:"size"`
	Checksum uint64 `json:"checksum"`
}

func runDump(args []string) error {
	if dumpSize <= 0 {
		return errors.New("--size must be positive")
	}
	path := args[0]

	t, err := newTracker(nil, track.WithFreeOnClose(true))
	if err != nil {
		return err
	}
	defer t.Close()

	buf, err := t.Allocate(dumpSize)
	if err != nil {
		return err
	}
	for i := range buf {
		buf[i] = dumpFill
	}
	sum, err := t.Checksum(track.AddrOf(buf))
	if err != nil {
		return err
	}

	printVerbose("Dumping %d bytes to %s\n", dumpSize, path)
	if err := persist.Dump(t, path, track.AddrOf(buf)); err != nil {
		return err
	}
	return printBlock(BlockResult{Path: path, Size: uint64(dumpSize), Checksum: sum}, "dumped")
}

func printBlock(res BlockResult, verb string) error {
	if jsonOut {
		return printJSON(res)
	}
	printInfo("%s %s\n", verb, res.Path)
	printInfo("size:     %d bytes\n", res.Size)
	printInfo("checksum: %s\n", fmt.Sprintf("%#016x", res.Checksum))
	return nil
}
