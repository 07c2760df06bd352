package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/la-ruche/keyserver/internal/keygen"
)

func verifyCmd() *cobra.Command {
	var (
		file    string
		server  string
		account string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a bundle's signed prekey against its identity key",
		Long: "Reads a bundle from --file (\"-\" for stdin) or fetches one from --server for --account.\n" +
			"Fetching consumes one of the account's one-time prekeys.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				bundle keygen.Bundle
				err    error
			)
			switch {
			case server != "":
				if account == "" {
					return fmt.Errorf("--account is required with --server")
				}
				bundle, err = fetchBundle(server, account)
			case file != "":
				bundle, err = readBundle(cmd.InOrStdin(), file)
			default:
				return fmt.Errorf("one of --file or --server is required")
			}
			if err != nil {
				return err
			}

			if err := bundle.Verify(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signature ok: account %s device %s\n", bundle.UserID, bundle.DeviceID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "bundle JSON file, - for stdin")
	cmd.Flags().StringVar(&server, "server", "", "key server base URL (e.g. http://127.0.0.1:8080)")
	cmd.Flags().StringVar(&account, "account", "", "account id to fetch a bundle for")
	return cmd
}

func readBundle(stdin io.Reader, path string) (keygen.Bundle, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return keygen.Bundle{}, err
		}
		defer f.Close()
		r = f
	}
	var b keygen.Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return keygen.Bundle{}, fmt.Errorf("decode bundle: %w", err)
	}
	return b, nil
}

func fetchBundle(base, account string) (keygen.Bundle, error) {
	u := strings.TrimRight(base, "/") + "/api/v1/keys/" + url.PathEscape(account) + "/bundle"
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(u)
	if err != nil {
		return keygen.Bundle{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return keygen.Bundle{}, fmt.Errorf("get %s: %s", u, resp.Status)
	}
	var b keygen.Bundle
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return keygen.Bundle{}, fmt.Errorf("decode bundle: %w", err)
	}
	return b, nil
}
