// Package support holds the godog step definitions for the pathsense CLI
// and HTTP feature tests.
package support

import (
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/pathsense/internal/server"
	"github.com/MeKo-Tech/pathsense/internal/testutil"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	// Command execution state
	LastCommand  string
	LastOutput   string
	LastStderr   string
	LastError    error
	LastExitCode int

	// Test environment
	WorkingDir string
	TempDir    string
	EnvVars    []string
	// Vars are substituted for {name} in commands.
	Vars map[string]string

	// In-process server state
	Server     *server.Server
	HTTPServer *httptest.Server
	Segmenter  *testutil.StaticSegmenter
	Scene      testutil.Scene

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a scenario context rooted at the project directory.
func NewTestContext() (*TestContext, error) {
	root, err := testutil.GetProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}
	tempDir, err := os.MkdirTemp("", "pathsense-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TestContext{
		WorkingDir: root,
		TempDir:    tempDir,
		Vars:       map[string]string{"tmp": tempDir},
	}, nil
}

// Cleanup stops the server and removes the scenario's temp directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []string
	if testCtx.HTTPServer != nil {
		testCtx.HTTPServer.Close()
		testCtx.HTTPServer = nil
	}
	if testCtx.Server != nil {
		if err := testCtx.Server.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		testCtx.Server = nil
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Sprintf("failed to remove temp directory %s: %v", testCtx.TempDir, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AddEnvVar adds an environment variable for command execution.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars = append(testCtx.EnvVars, fmt.Sprintf("%s=%s", name, value))
}

// TempPath returns name inside the scenario's temp directory.
func (testCtx *TestContext) TempPath(name string) string {
	return filepath.Join(testCtx.TempDir, name)
}

func (testCtx *TestContext) substitute(s string) string {
	for k, v := range testCtx.Vars {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}
