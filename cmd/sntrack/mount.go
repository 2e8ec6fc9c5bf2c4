package main

import (
	"github.com/spf13/cobra"

	"github.com/joshuapare/safetynet/track"
	"github.com/joshuapare/safetynet/track/persist"
)

func init() {
	rootCmd.AddCommand(newMountCmd())
}

func newMountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <file>",
		Short: "Load a file into tracked memory",
		Long: `The mount command copies a file into a tracked block and prints its
size and checksum. A file written by "sntrack dump" mounts with the checksum
dump printed.

Example:
  sntrack mount block.bin
  sntrack mount block.bin --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(args)
		},
	}
	return cmd
}

func runMount(args []string) error {
	path := args[0]

	t, err := newTracker(nil, track.WithFreeOnClose(true))
	if err != nil {
		return err
	}
	defer t.Close()

	printVerbose("Mounting %s\n", path)
	buf, err := persist.Mount(t, path)
	if err != nil {
		return err
	}
	sum, err := t.Checksum(track.AddrOf(buf))
	if err != nil {
		return err
	}
	return printBlock(BlockResult{Path: path, Size: uint64(len(buf)), Checksum: sum}, "mounted")
}
