package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/climbrag/internal/config"
)

var initForce bool

// initCmd writes a default config file
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default " + config.ConfigFileName,
	Long: `Write the default configuration to the --config path, or ./` + config.ConfigFileName + `
when none is given. An existing file is kept unless --force is set. The
OpenAI API key is never written; set ` + config.EnvAPIKey + ` instead.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.ConfigFileName
		}
		if err := config.SaveDefault(path, initForce); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}
