package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quota-bridge/portal/internal/config"
	"github.com/quota-bridge/portal/internal/errors"
)

func initCmd() *cobra.Command {
	var (
		dir   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default portal.json",
		Long: `Write portal.json with the built-in defaults, ready for editing.

Examples:
  portal init
  portal init --dir /etc/portal --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(dir, config.ConfigFileName)
			if _, err := os.Stat(path); err == nil && !force {
				return errors.New("P182").WithDetail(path + " already exists")
			}
			if err := config.New().SaveTo(path); err != nil {
				return err
			}
			success(cmd, "Wrote %s", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory to write portal.json into")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}
