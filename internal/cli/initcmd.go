package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rileyhilliard/nbssh/internal/config"
	"github.com/rileyhilliard/nbssh/internal/errors"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot determine home directory",
				"Set HOME and try again")
		}
		dir := filepath.Join(home, config.GlobalConfigDir)
		path := filepath.Join(dir, config.ConfigFileName)

		if _, err := os.Stat(path); err == nil && !initForce {
			return errors.New(errors.ErrConfig,
				"Config file already exists: "+path,
				"Use --force to overwrite it")
		}

		data, err := yaml.Marshal(config.Default())
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to encode default config", "")
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to create config directory: "+dir, "")
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to write config file: "+path, "")
		}

		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
