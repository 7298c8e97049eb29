package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fieldsync/internal/api"
	"fieldsync/internal/models"

	"github.com/spf13/cobra"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the submission queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueExportCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var set string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Queue(cmd.Context())
			if err != nil {
				return err
			}

			var items []*models.QueueItem
			switch set {
			case api.ExportActive:
				items = resp.Active
			case api.ExportCompleted:
				items = resp.Completed
			case api.ExportFailed:
				items = resp.Failed
			case "all":
				items = append(append([]*models.QueueItem{}, resp.Active...), resp.Completed...)
			default:
				return fmt.Errorf("unknown set %q (want active, completed, failed or all)", set)
			}

			out := cmd.OutOrStdout()
			if ctx.jsonMode {
				return ctx.writeJSON(out, items)
			}

			fmt.Fprintf(out, "Active: %d  Completed: %d  Failed: %d  Next batch in: %s\n",
				len(resp.Active), len(resp.Completed), len(resp.Failed),
				time.Duration(resp.NextBatchInSeconds)*time.Second)
			if len(items) == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}
			fmt.Fprint(out, renderTable(
				[]string{"Local ID", "Action", "Date", "Status", "Directus", "EAS", "Linking", "Retries", "Error"},
				buildItemRows(items),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&set, "set", api.ExportActive, "Items to list: active, completed, failed or all")
	return cmd
}

func buildItemRows(items []*models.QueueItem) [][]string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.LocalID,
			it.ActionName,
			it.Date.Local().Format("2006-01-02 15:04"),
			string(it.Status),
			string(it.Directus.Status),
			string(it.EAS.Status),
			string(it.Linking.Status),
			strconv.Itoa(it.TotalRetryCount),
			firstError(it),
		})
	}
	return rows
}

func firstError(it *models.QueueItem) string {
	for _, s := range models.Steps {
		if msg := it.State(s).Error; msg != "" {
			return fmt.Sprintf("%s: %s", s, truncate(msg, 60))
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [localId...]",
		Short: "Run a manual pass over the given items, or every active item",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := ctx.client().Retry(cmd.Context(), args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ctx.jsonMode {
				return ctx.writeJSON(out, res)
			}
			fmt.Fprint(out, renderTable(
				[]string{"Attempted", "Completed", "Failed", "Skipped", "Duration"},
				[][]string{{
					strconv.Itoa(res.Attempted),
					strconv.Itoa(res.Completed),
					strconv.Itoa(res.Failed),
					strconv.Itoa(res.Skipped),
					(time.Duration(res.DurationMs) * time.Millisecond).String(),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed and permanently failed items",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("clearing is irreversible; pass --yes to confirm")
			}
			removed, err := ctx.client().ClearCompleted(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d item(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm removal")
	return cmd
}

func newQueueExportCommand(ctx *commandContext) *cobra.Command {
	var set, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download queue items as an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(output) == "" {
				output = fmt.Sprintf("fieldsync_%s_%s.xlsx", set, time.Now().Format("20060102_150405"))
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}

			if err := ctx.client().Export(cmd.Context(), set, f); err != nil {
				_ = f.Close()
				_ = os.Remove(output)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s items to %s\n", set, output)
			return nil
		},
	}

	cmd.Flags().StringVar(&set, "set", api.ExportFailed, "Items to export: failed, completed or active")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file")
	return cmd
}
