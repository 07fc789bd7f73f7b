// Package onnx wraps ONNX Runtime: shared library discovery, environment
// initialisation, GPU provider options and single-input/single-output sessions
// used by the segmentation and depth models.
package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// EnvLibraryPath overrides library discovery when set.
const EnvLibraryPath = "PATHSENSE_ONNXRUNTIME_LIB"

var initMu sync.Mutex

// libraryName returns the platform file name of the ONNX Runtime library.
func libraryName(goos string) (string, error) {
	switch goos {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}
}

// candidatePaths lists library locations in lookup order.
func candidatePaths(projectRoot, libName string, useGPU bool) []string {
	var paths []string
	if env := os.Getenv(EnvLibraryPath); env != "" {
		paths = append(paths, env)
	}
	if useGPU {
		paths = append(paths, filepath.Join("/opt/onnxruntime/gpu/lib", libName))
	}
	paths = append(paths,
		filepath.Join("/usr/local/lib", libName),
		filepath.Join("/usr/lib", libName),
		filepath.Join("/opt/onnxruntime/cpu/lib", libName),
	)
	if projectRoot != "" {
		if useGPU {
			paths = append(paths, filepath.Join(projectRoot, "onnxruntime", "gpu", "lib", libName))
		}
		paths = append(paths, filepath.Join(projectRoot, "onnxruntime", "lib", libName))
	}
	return paths
}

// findProjectRoot walks up from dir until it finds a go.mod.
func findProjectRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

// FindLibrary returns the first existing ONNX Runtime library path.
func FindLibrary(useGPU bool) (string, error) {
	libName, err := libraryName(runtime.GOOS)
	if err != nil {
		return "", err
	}
	root := ""
	if cwd, err := os.Getwd(); err == nil {
		root, _ = findProjectRoot(cwd)
	}
	for _, p := range candidatePaths(root, libName, useGPU) {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library %s not found (set %s)", libName, EnvLibraryPath)
}

// InitEnvironment locates the shared library and initialises ONNX Runtime once
// per process. Safe for concurrent use.
func InitEnvironment(useGPU bool) error {
	initMu.Lock()
	defer initMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	path, err := FindLibrary(useGPU)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(path)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}
