package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/pathsense/internal/depth"
	"github.com/MeKo-Tech/pathsense/internal/frame"
)

// DepthExtensions are tried, in order, when pairing a frame with its depth file.
var DepthExtensions = []string{".png", ".tif", ".tiff", depth.RawExtension}

// Source is one image to analyze. Depth is empty when no companion file was
// found.
type Source struct {
	Image string
	Depth string
}

// DiscoverOptions controls Discover.
type DiscoverOptions struct {
	Recursive bool
	// Include and Exclude are base-name globs. Without Include patterns every
	// supported image in a directory is taken.
	Include []string
	Exclude []string
	// DepthSuffix pairs "name.jpg" with "name<suffix>.png" (or .tif/.f32)
	// next to it. Empty disables pairing.
	DepthSuffix string
}

// Discover expands args into sources. Directories are walked for supported
// images; file arguments are kept as given, missing ones included, so the
// loader reports them.
func Discover(args []string, opts DiscoverOptions) ([]Source, error) {
	var images []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			if !matchesAny(arg, opts.Exclude) {
				images = append(images, arg)
			}
			continue
		}
		found, err := discoverInDirectory(arg, opts)
		if err != nil {
			return nil, err
		}
		images = append(images, found...)
	}

	sources := make([]Source, len(images))
	for i, img := range images {
		sources[i] = Source{Image: img, Depth: findDepth(img, opts.DepthSuffix)}
	}
	return sources, nil
}

func discoverInDirectory(dir string, opts DiscoverOptions) ([]string, error) {
	var files []string
	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if !opts.Recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldInclude(path, opts) {
			files = append(files, path)
		}
		return nil
	}
	if err := filepath.Walk(dir, walkFn); err != nil {
		return nil, fmt.Errorf("cannot walk %s: %w", dir, err)
	}
	return files, nil
}

// shouldInclude applies the filters to a file found in a directory. Depth
// companions are never frames themselves.
func shouldInclude(path string, opts DiscoverOptions) bool {
	if !frame.IsSupportedImage(path) || isDepthFile(path, opts.DepthSuffix) {
		return false
	}
	if matchesAny(path, opts.Exclude) {
		return false
	}
	return len(opts.Include) == 0 || matchesAny(path, opts.Include)
}

func isDepthFile(path, suffix string) bool {
	if suffix == "" {
		return false
	}
	return strings.HasSuffix(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), suffix)
}

// findDepth returns the first existing companion of img.
func findDepth(img, suffix string) string {
	if suffix == "" {
		return ""
	}
	stem := strings.TrimSuffix(img, filepath.Ext(img)) + suffix
	for _, ext := range DepthExtensions {
		if info, err := os.Stat(stem + ext); err == nil && !info.IsDir() {
			return stem + ext
		}
	}
	return ""
}

func matchesAny(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
