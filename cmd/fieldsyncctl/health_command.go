package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show downstream service reachability and device state",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ctx.jsonMode {
				return ctx.writeJSON(out, resp)
			}

			rows := [][]string{
				{"directus", upDown(resp.Directus)},
				{"eas", upDown(resp.EAS)},
				{"device online", yesNo(resp.Device.Online)},
				{"device foreground", yesNo(resp.Device.Foreground)},
			}
			fmt.Fprint(out, renderTable([]string{"Check", "State"}, rows, nil))
			if !resp.CheckedAt.IsZero() {
				fmt.Fprintf(out, "Last probe: %s\n", resp.CheckedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func upDown(ok bool) string {
	if ok {
		return "up"
	}
	return "down"
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}
