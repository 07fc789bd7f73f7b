// Package models resolves the on-disk locations of the ONNX models.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Default model file names.
const (
	// SegmentationADE20K is a 150-class scene parser with a 512×512 input.
	SegmentationADE20K = "segformer_ade20k_512.onnx"
	// DepthMiDaSSmall is a monocular relative-disparity model with a 256×256 input.
	DepthMiDaSSmall = "midas_small_256.onnx"
)

// Model type directories.
const (
	TypeSegmentation = "segmentation"
	TypeDepth        = "depth"
)

// DefaultModelsDir is relative to the project root.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "PATHSENSE_MODELS_DIR"

// ModelInfo describes a known model.
type ModelInfo struct {
	Name        string
	Type        string
	Description string
	Filename    string
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. PATHSENSE_MODELS_DIR, 3. project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath prefers <dir>/<type>/<file> and falls back to a flat <dir>/<file>.
func ResolveModelPath(modelsDir, modelType, filename string) string {
	baseDir := GetModelsDir(modelsDir)
	if modelType != "" {
		organized := filepath.Join(baseDir, modelType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}
	return filepath.Join(baseDir, filename)
}

// GetSegmentationModelPath returns the default segmentation model path.
func GetSegmentationModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeSegmentation, SegmentationADE20K)
}

// GetDepthModelPath returns the default depth model path.
func GetDepthModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, TypeDepth, DepthMiDaSSmall)
}

// ValidateModelExists checks that a model file exists.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns the models pathsense knows about.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "ade20k-segmentation",
			Type:        TypeSegmentation,
			Description: "ADE20K scene parsing, 150 classes",
			Filename:    SegmentationADE20K,
		},
		{
			Name:        "midas-small",
			Type:        TypeDepth,
			Description: "Monocular relative depth (disparity)",
			Filename:    DepthMiDaSSmall,
		},
	}
}
