package cmd

import (
	"fmt"
	"strconv"

	"github.com/ardanlabs/powchain/foundation/blockchain/pow"
	"github.com/spf13/cobra"
)

var keynumberCmd = &cobra.Command{
	Use:   "keynumber <parent-number>",
	Short: "Show the block keying the puzzle for a child of the parent",
	Args:  cobra.ExactArgs(1),
	RunE:  keynumberRun,
}

func init() {
	rootCmd.AddCommand(keynumberCmd)
}

func keynumberRun(cmd *cobra.Command, args []string) error {
	parent, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("parent number: %w", err)
	}

	keyNumber := pow.KeyNumber(parent)
	nextChange := parent - parent%pow.KeyPeriod + pow.KeyOffset
	if nextChange <= parent {
		nextChange += pow.KeyPeriod
	}

	fmt.Fprintf(cmd.OutOrStdout(), "parent:      %d\nkey block:   %d\nnext change: parent %d\n", parent, keyNumber, nextChange)
	return nil
}
