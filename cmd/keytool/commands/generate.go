package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/la-ruche/keyserver/internal/keygen"
)

func generateCmd() *cobra.Command {
	var (
		count      int
		firstID    uint32
		deviceID   string
		deviceName string
		secrets    string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print a publish request for a fresh set of device keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := keygen.Generate(count, firstID)
			if err != nil {
				return err
			}

			if secrets != "" {
				data, err := json.MarshalIndent(m.Secrets(), "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(secrets, data, 0o600); err != nil {
					return fmt.Errorf("write secrets: %w", err)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(m.PublishRequest(deviceID, deviceName))
		},
	}
	cmd.Flags().IntVarP(&count, "prekeys", "n", 100, "number of one-time prekeys")
	cmd.Flags().Uint32Var(&firstID, "first-id", 1, "id of the first one-time prekey")
	cmd.Flags().StringVar(&deviceID, "device", "", "existing device id to republish for")
	cmd.Flags().StringVar(&deviceName, "name", "", "name for a new device")
	cmd.Flags().StringVar(&secrets, "secrets", "", "file to write private keys to (mode 0600)")
	return cmd
}
