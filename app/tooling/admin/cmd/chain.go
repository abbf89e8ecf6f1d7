package cmd

import (
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ardanlabs/powchain/foundation/blockchain/storage/disk"
	"github.com/spf13/cobra"
)

var (
	dbPath       string
	chainGenesis string
	chainCount   int
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Show the top of the best chain stored on disk",
	RunE:  chainRun,
}

func init() {
	rootCmd.AddCommand(chainCmd)
	chainCmd.Flags().StringVarP(&dbPath, "db", "p", "zblock/", "Path to the node database directory.")
	chainCmd.Flags().StringVarP(&chainGenesis, "genesis", "g", "", "Genesis file, the development genesis is used when empty.")
	chainCmd.Flags().IntVarP(&chainCount, "count", "n", 10, "Number of blocks to show.")
}

func chainRun(cmd *cobra.Command, args []string) error {
	gen := genesis.Default()
	if chainGenesis != "" {
		var err error
		if gen, err = genesis.Load(chainGenesis); err != nil {
			return err
		}
	}

	storage, err := disk.New(dbPath)
	if err != nil {
		return err
	}

	db, err := database.New(gen, storage, nil)
	if err != nil {
		storage.Close()
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()

	header := db.Best()
	for range chainCount {
		aux, err := db.Aux(header.Hash())
		if err != nil {
			return err
		}

		author := "-"
		if len(header.Author) > 0 {
			author = signature.AuthorString(header.Author)
		}

		fmt.Fprintf(out, "%8d  %s  td[%s]  author[%s]\n", header.Number, header.Hash(), aux.TotalDifficulty.Dec(), author)

		if header.Number == 0 {
			break
		}

		if header, err = db.Header(header.ParentHash); err != nil {
			return err
		}
	}

	return nil
}
