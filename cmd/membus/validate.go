package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/membus/config"
)

var errNoConfig = errors.New("no system description, use --config")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the system description given by --config.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := loadSystem()
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"%s: %d memories, %d generators on bus %s\n",
			configPath, len(s.Memories), len(s.Generators), s.Bus.Name)

		return nil
	},
}

func loadSystem() (*config.System, error) {
	if configPath == "" {
		return nil, errNoConfig
	}

	return config.Load(configPath)
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
