package main

import (
	"net/url"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lsa-ts/orgsync/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Prints the merged configuration (defaults, config.yaml, environment) as YAML with secrets redacted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(redactedConfig(cfg))
		if err != nil {
			return eris.Wrap(err, "config: marshal")
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

// redactedConfig returns a copy of the config with credentials masked.
func redactedConfig(c *config.Config) *config.Config {
	out := *c
	if out.TDX.Token != "" {
		out.TDX.Token = "[redacted]"
	}
	if out.Sheet.FTPPass != "" {
		out.Sheet.FTPPass = "[redacted]"
	}
	if out.Store.DatabaseURL != "" {
		out.Store.DatabaseURL = redactDSN(out.Store.DatabaseURL)
	}
	return &out
}

// redactDSN masks the password portion of a postgres URL, leaving the
// host and database visible.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		// Keyword DSNs and unparsable strings pass through untouched.
		return dsn
	}
	return u.Redacted()
}
