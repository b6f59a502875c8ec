// Command snapshotinspect prints a snapshot file's metadata without
// restoring a shard from it, for operators checking what a shard last
// persisted.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"fenrir/internal/snapshot"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("snapshotinspect failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshotinspect <path>",
		Short: "print a snapshot file's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := snapshot.LoadMeta(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("version:   %d\n", meta.Version)
			fmt.Printf("shard_id:  %d\n", meta.ShardId)
			fmt.Printf("last_seq:  %d\n", meta.LastSeq)
			fmt.Printf("checksum:  %s\n", meta.Checksum)
			return nil
		},
	}
	return cmd
}
