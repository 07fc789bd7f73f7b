package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/pathsense/internal/models"
	"github.com/spf13/cobra"
)

// modelsCmd lists the expected model files and whether they are present.
var modelsCmd = &cobra.Command{
	Use:          "models",
	Short:        "List model files and whether they are installed",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		out := cmd.OutOrStdout()
		for _, m := range models.ListAvailableModels() {
			path := models.ResolveModelPath(cfg.ModelsDir, m.Type, m.Filename)
			status := "missing"
			if models.ValidateModelExists(path) == nil {
				status = "ok"
			}
			_, _ = fmt.Fprintf(out, "%-20s %-13s %-8s %s\n", m.Name, m.Type, status, path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
