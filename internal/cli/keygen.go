package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mcpsentinel/sentinel/internal/keys"
)

var (
	keygenOutDir          string
	recipientKeygenOutDir string
)

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVar(&keygenOutDir, "out-dir", ".", "Directory to write the keypair into")

	rootCmd.AddCommand(recipientKeygenCmd)
	recipientKeygenCmd.Flags().StringVar(&recipientKeygenOutDir, "out-dir", ".", "Directory to write the keypair into")
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 checkpoint-signing keypair",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := keys.GenerateSigning(keygenOutDir); err != nil {
			return err
		}
		fmt.Println("Generated checkpoint signing keys (Ed25519)")
		fmt.Printf("  Private (KEEP SECRET): %s\n", filepath.Join(keygenOutDir, keys.SigningKeyFile))
		fmt.Printf("  Public  (DISTRIBUTE):  %s\n", filepath.Join(keygenOutDir, keys.SigningPubKeyFile))
		return nil
	},
}

var recipientKeygenCmd = &cobra.Command{
	Use:   "recipient-keygen",
	Short: "Generate an X25519 payload-encryption keypair",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := keys.GenerateRecipient(recipientKeygenOutDir); err != nil {
			return err
		}
		fmt.Println("Generated recipient encryption keys (X25519)")
		fmt.Printf("  Private (KEEP SECRET): %s\n", filepath.Join(recipientKeygenOutDir, keys.RecipientKeyFile))
		fmt.Printf("  Public  (DISTRIBUTE):  %s\n", filepath.Join(recipientKeygenOutDir, keys.RecipientPubFile))
		return nil
	},
}
