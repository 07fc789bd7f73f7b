package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/pathsense/internal/zones"
	"github.com/spf13/cobra"
)

// zonesCmd prints the zone geometry without loading any model.
var zonesCmd = &cobra.Command{
	Use:   "zones",
	Short: "Print the six guidance zones for the analysis grid",
	Long: `Print the rectangles of the six guidance zones for the configured analysis
grid. --aspect sets the camera's width/height ratio after rotation; narrow
frames shrink both bands.

Examples:
  pathsense zones
  pathsense zones --aspect 0.5625 --format json`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		aspect := cfg.Analysis.SourceAspectRatio
		if cmd.Flags().Changed("aspect") {
			aspect, _ = cmd.Flags().GetFloat64("aspect")
		}
		if aspect < 0 {
			return fmt.Errorf("invalid aspect ratio: %g", aspect)
		}
		layout, err := zones.NewLayout(cfg.Analysis.Width, cfg.Analysis.Height, aspect, cfg.Analysis.Zones)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		out := cmd.OutOrStdout()
		switch strings.ToLower(format) {
		case outputFormatJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(layout)
		case outputFormatText:
			_, _ = fmt.Fprintf(out, "grid %dx%d, aspect factor %.3f\n", layout.Width, layout.Height, layout.Aspect)
			for _, z := range zones.All() {
				r := layout.Rects[z]
				_, _ = fmt.Fprintf(out, "%-12s x %d..%d y %d..%d (%d px)\n",
					z, r.Min.X, r.Max.X, r.Min.Y, r.Max.Y, layout.Area(z))
			}
			_, _ = fmt.Fprintf(out, "%-12s %d px\n", "unzoned", layout.ExcludedArea())
			return nil
		default:
			return fmt.Errorf("unsupported output format: %s", format)
		}
	},
}

func init() {
	rootCmd.AddCommand(zonesCmd)
	zonesCmd.Flags().Float64("aspect", 0, "source width/height after rotation (0 = same as grid)")
	zonesCmd.Flags().StringP("format", "f", "text", "output format (text, json)")
}
