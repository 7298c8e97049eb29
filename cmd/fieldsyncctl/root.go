package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"fieldsync/internal/api"

	"github.com/spf13/cobra"
)

const defaultURL = "http://localhost:8080"

type commandContext struct {
	url      string
	apiKey   string
	header   string
	jsonMode bool
}

func (c *commandContext) client() *api.Client {
	url := strings.TrimSpace(c.url)
	if url == "" {
		url = os.Getenv("FIELDSYNC_URL")
	}
	if url == "" {
		url = defaultURL
	}
	key := c.apiKey
	if key == "" {
		key = os.Getenv("FIELDSYNC_API_KEY")
	}
	return api.NewClient(url, key).WithHeader(c.header)
}

func (c *commandContext) writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "fieldsyncctl",
		Short:         "Inspect and manage a running fieldsync queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&ctx.url, "url", "", "fieldsync API base URL (default $FIELDSYNC_URL or "+defaultURL+")")
	rootCmd.PersistentFlags().StringVar(&ctx.apiKey, "api-key", "", "API key (default $FIELDSYNC_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&ctx.header, "api-key-header", "", "Header carrying the API key")
	rootCmd.PersistentFlags().BoolVar(&ctx.jsonMode, "json", false, "Print raw JSON instead of tables")

	rootCmd.AddCommand(newQueueCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))

	return rootCmd
}
