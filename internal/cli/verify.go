package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpsentinel/sentinel/internal/audit"
	"github.com/mcpsentinel/sentinel/internal/keys"
)

var (
	verifyLogPath       string
	verifyPubkeyPath    string
	verifyRecipientPriv string
	verifyJSON          bool
)

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyLogPath, "log", "", "Audit log to verify")
	verifyCmd.Flags().StringVar(&verifyPubkeyPath, "pubkey-b64-path", "", "Ed25519 signing public key (base-64 text file)")
	verifyCmd.Flags().StringVar(&verifyRecipientPriv, "decrypt-recipient-privkey-b64-path", "", "X25519 recipient private key; decrypts payload envelopes")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Emit the report as JSON")
	verifyCmd.MarkFlagRequired("log")
	verifyCmd.MarkFlagRequired("pubkey-b64-path")
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify an audit log's hash chain, signatures, and envelopes",
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	pub, err := keys.LoadSigningPub(verifyPubkeyPath)
	if err != nil {
		return err
	}

	var recipientPriv []byte
	if verifyRecipientPriv != "" {
		recipientPriv, err = keys.LoadRecipientKey(verifyRecipientPriv)
		if err != nil {
			return err
		}
	}

	report, err := audit.Verify(verifyLogPath, pub, recipientPriv)
	if err != nil {
		return err
	}

	if verifyJSON {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		fmt.Printf("records checked:      %d\n", report.RecordsChecked)
		fmt.Printf("event range:          %d..%d\n", report.FirstEventID, report.LastEventID)
		fmt.Printf("checkpoints verified: %d\n", report.CheckpointsVerified)
		if report.PayloadsDecrypted > 0 {
			fmt.Printf("payloads decrypted:   %d\n", report.PayloadsDecrypted)
		}
		for _, f := range report.Failures {
			fmt.Printf("FAIL: %s\n", f)
		}
		if report.OK() {
			fmt.Println("OK")
		}
	}

	if !report.OK() {
		return fmt.Errorf("verification failed")
	}
	return nil
}
