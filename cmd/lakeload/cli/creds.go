package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/justapithecus/lakeload/lakeload"
)

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Resolve AWS credentials and report which keys were found",
	Long: `Run one credential resolution against the default provider chain.

Values are never printed. The output lists the keys present, which tells
long-lived credentials (two keys) from temporary ones (three keys).`,
	Args: cobra.NoArgs,
	RunE: showCreds,
}

func init() {
	rootCmd.AddCommand(credsCmd)
}

type credsOutput struct {
	Keys         []string `json:"keys"`
	SessionToken bool     `json:"session_token"`
}

func showCreds(cmd *cobra.Command, args []string) error {
	resolver := lakeload.NewCredentialResolver(cfg.ResolverConfig(), lakeload.WithResolverLogger(logger))
	creds, err := resolver.Resolve(cmd.Context())
	if err != nil {
		return err
	}

	out := credsOutput{Keys: make([]string, 0, len(creds))}
	for k := range creds {
		out.Keys = append(out.Keys, k)
	}
	sort.Strings(out.Keys)
	_, out.SessionToken = creds.SessionToken()

	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	kind := "long-lived"
	if out.SessionToken {
		kind = "temporary"
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s credentials: %s\n", kind, creds)
	return err
}
