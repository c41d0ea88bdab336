package main

import (
	"github.com/spf13/cobra"

	"contentpilot/internal/app"
)

func newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one dispatch pass and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				rep := a.RunTick(cmd.Context())
				if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
				return rep.Err
			})
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <item-id>",
		Short: "Cancel a pending scheduled item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Dispatcher().Cancel(cmd.Context(), args[0]); err != nil {
					return err
				}
				cmd.Printf("cancelled %s\n", args[0])
				return nil
			})
		},
	}
}
