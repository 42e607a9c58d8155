// Command cellctl is a small operator CLI for inspecting a running
// celld's admin surface. Its one subcommand, status, shows the route
// table, optionally proxied to a named peer cell.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"cell/internal/buildinfo"
	"cell/internal/config"
	"cell/internal/ui"
)

func main() {
	interactive := isTerminal(os.Stdout)
	ui.DetectColorProfile(interactive)

	root := &cobra.Command{
		Use:           "cellctl",
		Short:         "inspect a cell mesh node",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	var adminSock string
	root.PersistentFlags().StringVar(&adminSock, "admin-sock", defaultAdminSock(), "path to the node's admin socket")
	root.AddCommand(statusCmd(&adminSock))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Err(err.Error()))
		os.Exit(1)
	}
}

func defaultAdminSock() string {
	return filepath.Join(config.DefaultDataRoot(), "admin.sock")
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
