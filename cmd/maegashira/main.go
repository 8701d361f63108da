package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	obs "github.com/guillaumemeyer/maegashira/internal/infrastructure/observability"
)

func main() {
	root := &cobra.Command{
		Use:           "maegashira",
		Short:         "Dynamic HTTP reverse proxy with a hot-reloadable routing table",
		Version:       obs.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newStartCommand())
	root.AddCommand(newCheckCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
