package cmd

import (
	"fmt"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/spf13/cobra"
)

var (
	genesisFile       string
	genesisChainID    uint16
	genesisDifficulty string
)

var genesisCmd = &cobra.Command{
	Use:   "genesis",
	Short: "Write a genesis file and show the genesis block hash",
	RunE:  genesisRun,
}

func init() {
	rootCmd.AddCommand(genesisCmd)
	genesisCmd.Flags().StringVarP(&genesisFile, "file", "f", "zblock/genesis.json", "Path of the genesis file to write.")
	genesisCmd.Flags().Uint16VarP(&genesisChainID, "chain-id", "c", 1, "Unique id of the chain.")
	genesisCmd.Flags().StringVarP(&genesisDifficulty, "difficulty", "d", "1", "Decimal difficulty every seal is checked against.")
}

func genesisRun(cmd *cobra.Command, args []string) error {
	gen := genesis.Genesis{
		Date:       time.Now().UTC().Truncate(time.Second),
		ChainID:    genesisChainID,
		Difficulty: genesisDifficulty,
	}

	if _, err := gen.DifficultyValue(); err != nil {
		return err
	}

	if err := genesis.Save(genesisFile, gen); err != nil {
		return err
	}

	block := database.GenesisBlock(gen)
	fmt.Fprintf(cmd.OutOrStdout(), "file:    %s\ngenesis: %s\n", genesisFile, block.Hash())
	return nil
}
