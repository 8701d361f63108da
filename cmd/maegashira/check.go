package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/guillaumemeyer/maegashira/internal/routing"
)

func newCheckCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a routing table file and report errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("routing table file: %w", err)
			}
			table, err := routing.DecodeBytes(raw)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			if errs := routing.Validate(table); len(errs) > 0 {
				for _, fe := range errs {
					fmt.Fprintln(cmd.ErrOrStderr(), fe.Error())
				}
				return fmt.Errorf("routing table is invalid: %d error(s)", len(errs))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "routing table is valid (%d routes)\n", len(table))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "routing table file (JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
