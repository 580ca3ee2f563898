// Command dsctl drives a connector through its management API: it creates
// assets, policies and contract definitions, fetches catalogs, negotiates
// contracts, starts transfers and pulls data through EDRs.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/DeBrosOfficial/dataspace/pkg/client"
)

var opts struct {
	managementURL string
	catalogURL    string
	apiKey        string
	timeout       time.Duration
	waitTimeout   time.Duration
	poll          time.Duration
	verbose       bool
}

var rootCmd = &cobra.Command{
	Use:           "dsctl",
	Short:         "Operate a dataspace connector",
	Long:          `dsctl talks to a connector's management API to run contract negotiations and data transfers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := client.DefaultClientConfig()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.managementURL, "url", envOr("DS_MANAGEMENT_URL", def.ManagementURL), "Management API base URL")
	flags.StringVar(&opts.catalogURL, "catalog-url", envOr("DS_CATALOG_URL", def.CatalogURL), "Federated catalog base URL")
	flags.StringVar(&opts.apiKey, "api-key", envOr("DS_API_KEY", def.APIKey), "Management API key")
	flags.DurationVar(&opts.timeout, "timeout", def.Timeout, "Per-request timeout")
	flags.DurationVar(&opts.waitTimeout, "wait-timeout", 2*time.Minute, "How long --wait and wait commands poll")
	flags.DurationVar(&opts.poll, "poll", def.PollInterval, "Poll interval for --wait and wait commands")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log every API call")
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func newClient() (*client.Client, error) {
	return client.NewClient(&client.ClientConfig{
		ManagementURL: opts.managementURL,
		CatalogURL:    opts.catalogURL,
		APIKey:        opts.apiKey,
		Timeout:       opts.timeout,
		PollInterval:  opts.poll,
		QuietMode:     !opts.verbose,
	}, nil)
}

// readJSON decodes a JSON document from a file, or from stdin when path is "-".
func readJSON(cmd *cobra.Command, path string, out any) error {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
