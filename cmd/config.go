package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *cfg
		// Never echo credentials.
		if shown.Extract.Key != "" {
			shown.Extract.Key = "****"
		}
		if shown.Notify.Line.Token != "" {
			shown.Notify.Line.Token = "****"
		}
		if shown.Notify.X.Token != "" {
			shown.Notify.X.Token = "****"
		}

		out, err := yaml.Marshal(shown)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
