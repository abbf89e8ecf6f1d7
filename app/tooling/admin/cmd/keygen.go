package cmd

import (
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ardanlabs/powchain/foundation/keystore"
	"github.com/spf13/cobra"
)

var (
	keysFolder string
	keyName    string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new author key pair in the key folder",
	RunE:  keygenRun,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keysFolder, "keys", "k", "zblock/keys/", "Path to the directory with private keys.")
	keygenCmd.Flags().StringVarP(&keyName, "name", "n", keystore.DefaultName, "Name of the key file without extension.")
}

func keygenRun(cmd *cobra.Command, args []string) error {
	ks, err := keystore.New(keysFolder)
	if err != nil {
		return err
	}

	author, path, err := ks.Generate(keyName)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "author: %s\nfile:   %s\n", signature.AuthorString(author), path)
	return nil
}
