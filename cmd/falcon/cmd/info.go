package cmd

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show recorded pid/uuid/port state for every launched node",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resume(cmd)
			if err != nil {
				return err
			}

			rows := rt.Info()
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("no nodes recorded (nothing launched, or already destroyed)"))
				return nil
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Node", "PID", "UUID", "Port"})
			for _, r := range rows {
				table.Append([]string{r.Node, strconv.Itoa(r.PID), r.UUID, strconv.Itoa(int(r.Port))})
			}
			table.Render()
			return nil
		},
	}
}
