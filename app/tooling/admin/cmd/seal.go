package cmd

import (
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/memhash"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

var sealCmd = &cobra.Command{
	Use:   "seal <hex>",
	Short: "Decode a seal",
	Args:  cobra.ExactArgs(1),
	RunE:  sealRun,
}

func init() {
	rootCmd.AddCommand(sealCmd)
}

func sealRun(cmd *cobra.Command, args []string) error {
	data, err := hexutil.Decode(args[0])
	if err != nil {
		return fmt.Errorf("seal hex: %w", err)
	}

	seal, err := memhash.DecodeSeal(data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "version:   %d\nnonce:     %s\n", seal.Version, hexutil.Encode(seal.Nonce[:]))
	if len(seal.Signature) > 0 {
		fmt.Fprintf(out, "signature: %s\n", hexutil.Encode(seal.Signature))
	}

	return nil
}
