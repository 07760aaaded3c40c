package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odavlstudio/insight/internal/detector"
	"github.com/odavlstudio/insight/internal/detector/builtin"
)

var detectorsCmd = &cobra.Command{
	Use:   "detectors",
	Short: "List the registered detectors",
	Run: func(_ *cobra.Command, _ []string) {
		registry := detector.NewRegistry()
		builtin.RegisterAll(registry)
		for _, name := range registry.List() {
			fmt.Println(name)
		}
	},
}

func init() {
	rootCmd.AddCommand(detectorsCmd)
}
