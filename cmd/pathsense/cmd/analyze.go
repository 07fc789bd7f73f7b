package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/pathsense/internal/analysis"
	"github.com/MeKo-Tech/pathsense/internal/config"
	"github.com/MeKo-Tech/pathsense/internal/depth"
	"github.com/MeKo-Tech/pathsense/internal/frame"
	"github.com/MeKo-Tech/pathsense/internal/hazard"
	"github.com/MeKo-Tech/pathsense/internal/pipeline"
	"github.com/spf13/cobra"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
)

// analyzeCmd represents the analyze command.
var analyzeCmd = &cobra.Command{
	Use:   "analyze IMAGE|DIR...",
	Short: "Analyze camera frames and print walking directives",
	Long: `Analyze one or more camera frames and print the directive for each.

Directories are searched for supported images (recursively with -r). Depth
comes from --depth files, paired with the images in order, from companion
files named by --depth-suffix, or from the monocular depth model when
--estimate-depth is set. Depth files may be 16-bit
PNG/TIFF in millimetres, 8-bit grayscale or raw little-endian float32 (.f32,
with --depth-width and --depth-height unless square).

Supported image formats: JPEG, PNG, BMP, TIFF

Examples:
  pathsense analyze frame.jpg --depth depth.png
  pathsense analyze a.jpg b.jpg --depth a.f32 --depth b.f32 --depth-width 256 --depth-height 192
  pathsense analyze frame.jpg --estimate-depth --format json --mask-dir out/
  pathsense analyze captures/ -r --depth-suffix _depth --format json`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("no input images provided")
		}

		cfg := GetConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}

		sources, err := discoverSources(cmd, args)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			return errors.New("no input images found")
		}
		if err := checkDepth(sources, cfg.Models.DepthEnabled); err != nil {
			return err
		}
		decode, err := depthDecodeOptions(cmd)
		if err != nil {
			return err
		}

		frames, images, err := loadFrames(sources, decode)
		if err != nil {
			return err
		}

		engine, closers, err := engineFactory(cfg, cfg.Models.DepthEnabled)
		if err != nil {
			return err
		}
		defer closeAll(closers)

		var progress pipeline.Progress = pipeline.NoProgress{}
		if len(frames) > 1 {
			progress = &pipeline.LogProgress{Prefix: "Analysis"}
		}
		outputs, err := pipeline.Batch(contextOrBackground(cmd.Context()), engine, frames, pipeline.BatchConfig{
			Workers:  cfg.Batch.Workers,
			Progress: progress,
		})
		if err != nil {
			return err
		}

		if cfg.Output.MaskDir != "" {
			if err := writeMasks(cfg, outputs, images); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if cfg.Output.File != "" {
			f, err := os.Create(cfg.Output.File)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer func() { _ = f.Close() }()
			out = f
		}
		if err := writeReports(out, cfg.Output.Format, engine, outputs); err != nil {
			return err
		}
		return analyzeStatus(outputs, cfg.Batch.ContinueOnError)
	},
}

// discoverSources expands directories and attaches depth files, either the
// explicit --depth list in order or companions found by --depth-suffix.
func discoverSources(cmd *cobra.Command, args []string) ([]pipeline.Source, error) {
	recursive, _ := cmd.Flags().GetBool("recursive")
	include, _ := cmd.Flags().GetStringSlice("include")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	suffix, _ := cmd.Flags().GetString("depth-suffix")
	sources, err := pipeline.Discover(args, pipeline.DiscoverOptions{
		Recursive:   recursive,
		Include:     include,
		Exclude:     exclude,
		DepthSuffix: suffix,
	})
	if err != nil {
		return nil, err
	}

	depthPaths, _ := cmd.Flags().GetStringSlice("depth")
	if len(depthPaths) == 0 {
		return sources, nil
	}
	if len(depthPaths) != len(sources) {
		return nil, fmt.Errorf("got %d depth files for %d images", len(depthPaths), len(sources))
	}
	for i := range sources {
		sources[i].Depth = depthPaths[i]
	}
	return sources, nil
}

// checkDepth fails when a frame has no depth file and estimation is off.
func checkDepth(sources []pipeline.Source, estimate bool) error {
	if estimate {
		return nil
	}
	for _, s := range sources {
		if s.Depth == "" {
			return fmt.Errorf("no depth provided for %s: pass --depth files, --depth-suffix or --estimate-depth", s.Image)
		}
	}
	return nil
}

// depthDecodeOptions reads the raw-depth flags.
func depthDecodeOptions(cmd *cobra.Command) (depth.DecodeOptions, error) {
	w, _ := cmd.Flags().GetInt("depth-width")
	h, _ := cmd.Flags().GetInt("depth-height")
	scale, _ := cmd.Flags().GetFloat32("depth-scale")
	if w < 0 || h < 0 {
		return depth.DecodeOptions{}, fmt.Errorf("invalid depth size %dx%d", w, h)
	}
	if scale < 0 {
		return depth.DecodeOptions{}, fmt.Errorf("invalid depth scale %g", scale)
	}
	return depth.DecodeOptions{Width: w, Height: h, Scale: scale}, nil
}

// loadFrames reads every image and its paired depth file. Frame IDs are the
// image paths.
func loadFrames(sources []pipeline.Source, opts depth.DecodeOptions) ([]pipeline.Frame, []image.Image, error) {
	frames := make([]pipeline.Frame, len(sources))
	images := make([]image.Image, len(sources))
	for i, src := range sources {
		p := src.Image
		if !frame.IsSupportedImage(p) {
			return nil, nil, fmt.Errorf("unsupported image format: %s", p)
		}
		img, _, err := frame.LoadImage(p)
		if err != nil {
			return nil, nil, err
		}
		in := analysis.Input{Image: img}
		if src.Depth != "" {
			g, err := depth.LoadFile(src.Depth, opts)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", src.Depth, err)
			}
			in.Depth = &g
		}
		frames[i] = pipeline.Frame{ID: p, Input: in}
		images[i] = img
	}
	return frames, images, nil
}

// failedReport is the JSON entry for a frame that could not be analyzed.
type failedReport struct {
	Source    string `json:"source"`
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// writeReports prints one report per output. JSON output is an object for a
// single frame and an array otherwise.
func writeReports(w io.Writer, format string, engine *analysis.Engine, outputs []pipeline.Output) error {
	switch strings.ToLower(format) {
	case outputFormatJSON:
		entries := make([]any, 0, len(outputs))
		for _, o := range outputs {
			if o.Err != nil {
				entries = append(entries, failedReport{Source: o.ID, Error: o.Err.Error(), ErrorType: analysis.Reason(o.Err)})
				continue
			}
			rep := engine.Report(o.Result)
			rep.SourceFilename = o.ID
			entries = append(entries, rep)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(entries) == 1 {
			return enc.Encode(entries[0])
		}
		return enc.Encode(entries)
	case outputFormatText, "":
		for _, o := range outputs {
			if _, err := fmt.Fprintln(w, textLine(o, len(outputs) > 1)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func textLine(o pipeline.Output, prefix bool) string {
	var b strings.Builder
	if prefix {
		b.WriteString(o.ID + ": ")
	}
	if o.Err != nil {
		b.WriteString("error: " + o.Err.Error())
		return b.String()
	}
	r := o.Result
	b.WriteString(r.Directive.Message())
	if r.ProximityValid {
		fmt.Fprintf(&b, " (nearest %.2f m, feedback %s)", r.Proximity, r.Feedback.Level)
	}
	return b.String()
}

// writeMasks stores <stem>_mask.png and <stem>_overlay.png per analyzed frame.
func writeMasks(cfg *config.Config, outputs []pipeline.Output, images []image.Image) error {
	dir := cfg.Output.MaskDir
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create mask directory: %w", err)
	}
	rotation := frame.Rotation(cfg.Analysis.Rotation)
	for i, o := range outputs {
		if o.Err != nil {
			continue
		}
		mask, err := o.Result.MaskImage()
		if err != nil {
			return err
		}
		stem := strings.TrimSuffix(filepath.Base(o.ID), filepath.Ext(o.ID))
		if err := savePNG(filepath.Join(dir, stem+"_mask.png"), mask); err != nil {
			return err
		}
		overlay, err := hazard.Overlay(rotation.Apply(images[i]), mask, cfg.Output.OverlayOpacity)
		if err != nil {
			return err
		}
		if err := savePNG(filepath.Join(dir, stem+"_overlay.png"), overlay); err != nil {
			return err
		}
		slog.Debug("Wrote mask", "frame", o.ID, "dir", dir)
	}
	return nil
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path) //nolint:gosec // G304: output path from user flags
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// analyzeStatus fails when any frame failed, or with continueOnError only
// when every frame failed.
func analyzeStatus(outputs []pipeline.Output, continueOnError bool) error {
	failed := 0
	var first error
	for _, o := range outputs {
		if o.Err != nil {
			failed++
			if first == nil {
				first = o.Err
			}
		}
	}
	switch {
	case failed == 0:
		return nil
	case failed == len(outputs) && failed == 1:
		return first
	case failed == len(outputs) || !continueOnError:
		return fmt.Errorf("%d of %d frames failed: %w", failed, len(outputs), first)
	default:
		return nil
	}
}

func addAnalyzeFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("depth", nil, "depth file per image, in image order (repeat or comma-separate)")
	cmd.Flags().String("depth-suffix", "", "pair IMAGE.ext with IMAGE<suffix>.png/.tif/.f32 (e.g. _depth)")
	cmd.Flags().BoolP("recursive", "r", false, "walk directories recursively")
	cmd.Flags().StringSlice("include", nil, "file name globs to include from directories")
	cmd.Flags().StringSlice("exclude", nil, "file name globs to exclude")
	cmd.Flags().Int("depth-width", 0, "width of raw .f32 depth grids")
	cmd.Flags().Int("depth-height", 0, "height of raw .f32 depth grids")
	cmd.Flags().Float32("depth-scale", 0, "multiply depth samples (0 = format default: 0.001 for 16-bit, 1 otherwise)")
	cmd.Flags().String("depth-units", "meters", "units of supplied depth: meters or disparity")
	cmd.Flags().Bool("estimate-depth", false, "estimate depth with the monocular model when no depth file is given")
	cmd.Flags().StringP("format", "f", "text", "output format (text, json)")
	cmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	cmd.Flags().String("mask-dir", "", "directory to write obstacle masks and overlays")
	cmd.Flags().Float64("overlay-opacity", 0.5, "overlay tint opacity (0..1)")
	cmd.Flags().Float32("threshold", 2.5, "obstacle distance threshold in meters")
	cmd.Flags().String("threshold-mode", "absolute", "threshold mode: absolute or relative")
	cmd.Flags().Float32("relative-threshold", 0.6, "relative threshold as a fraction of the farthest depth")
	cmd.Flags().Float64("aspect", 0, "source width/height after rotation (0 = per frame)")
	cmd.Flags().Int("rotation", 0, "clockwise camera rotation to undo: 0, 90, 180 or 270")
	cmd.Flags().String("labels", "", "YAML class label file")
	cmd.Flags().String("segmentation-model", "", "override segmentation model path")
	cmd.Flags().String("depth-model", "", "override depth model path")
	cmd.Flags().Int("workers", 2, "concurrent analyses for multiple images")
	cmd.Flags().Bool("continue-on-error", true, "only fail when every image failed")
	cmd.Flags().Bool("gpu", false, "enable GPU acceleration using CUDA")
	cmd.Flags().Int("gpu-device", 0, "CUDA device ID to use")
	cmd.Flags().String("gpu-mem-limit", "auto", "GPU memory limit (e.g. 2GB, 512MB, auto)")
}

func bindAnalyzeFlags(cmd *cobra.Command) {
	for _, b := range []struct{ key, flag string }{
		{"analysis.depth_units", "depth-units"},
		{"models.depth_enabled", "estimate-depth"},
		{"output.format", "format"},
		{"output.file", "output"},
		{"output.mask_dir", "mask-dir"},
		{"output.overlay_opacity", "overlay-opacity"},
		{"analysis.threshold_depth", "threshold"},
		{"analysis.threshold_mode", "threshold-mode"},
		{"analysis.relative_threshold", "relative-threshold"},
		{"analysis.source_aspect_ratio", "aspect"},
		{"analysis.rotation", "rotation"},
		{"analysis.labels_file", "labels"},
		{"models.segmentation_path", "segmentation-model"},
		{"models.depth_path", "depth-model"},
		{"batch.workers", "workers"},
		{"batch.continue_on_error", "continue-on-error"},
		{"gpu.enabled", "gpu"},
		{"gpu.device", "gpu-device"},
		{"gpu.memory_limit", "gpu-mem-limit"},
	} {
		mustBind(b.key, cmd.Flags().Lookup(b.flag))
	}
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	addAnalyzeFlags(analyzeCmd)
	bindAnalyzeFlags(analyzeCmd)
}

// contextOrBackground guards commands invoked outside Execute.
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
