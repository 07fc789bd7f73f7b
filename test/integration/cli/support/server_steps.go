package support

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/pathsense/internal/analysis"
	"github.com/MeKo-Tech/pathsense/internal/server"
	"github.com/MeKo-Tech/pathsense/internal/testutil"
	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"
)

const sceneSize = 20

// namedScene returns one of the canned scenes used by the features.
func namedScene(name string) (testutil.Scene, error) {
	floor := testutil.FloorScene(sceneSize, sceneSize, 5)
	switch name {
	case "clear":
		return floor, nil
	case "wall":
		return floor.WithBlock(4, 0, 16, sceneSize, testutil.ClassWall, 1), nil
	case "person":
		return floor.WithBlock(0, 0, sceneSize, sceneSize, testutil.ClassPerson, 0.4), nil
	case "invalid depth":
		return testutil.FloorScene(sceneSize, sceneSize, 0), nil
	default:
		return testutil.Scene{}, fmt.Errorf("unknown scene %q", name)
	}
}

// aSceneOnDisk writes a camera frame and its depth map to the temp dir and
// exposes them as {frame} and {depth}.
func (testCtx *TestContext) aSceneOnDisk(name string) error {
	scene, err := namedScene(name)
	if err != nil {
		return err
	}
	testCtx.Scene = scene

	framePath := testCtx.TempPath("frame.png")
	if err := imaging.Save(testutil.SolidImage(2*sceneSize, 2*sceneSize, color.Gray{Y: 128}), framePath); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	depthPath := testCtx.TempPath("depth.png")
	if err := imaging.Save(testutil.DepthImage(scene.Depth), depthPath); err != nil {
		return fmt.Errorf("failed to write depth map: %w", err)
	}
	testCtx.Vars["frame"] = framePath
	testCtx.Vars["depth"] = depthPath
	return nil
}

// aRunningServer starts an in-process server whose segmenter always returns
// the named scene's classes.
func (testCtx *TestContext) aRunningServer(name string) error {
	if err := testCtx.aSceneOnDisk(name); err != nil {
		return err
	}
	testCtx.Segmenter = testutil.NewStaticSegmenter(testCtx.Scene)

	cfg := analysis.DefaultConfig()
	cfg.Width = sceneSize
	cfg.Height = sceneSize
	cfg.SourceAspectRatio = 1
	cfg.ProximityRadius = 3
	engine, err := analysis.NewEngine(cfg, testCtx.Segmenter)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	srv, err := server.NewServer(engine, server.Config{})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	testCtx.Server = srv
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (testCtx *TestContext) requireServer() error {
	if testCtx.HTTPServer == nil {
		return errors.New("server is not running")
	}
	return nil
}

// iSendRequest issues a body-less request.
func (testCtx *TestContext) iSendRequest(method, path string) error {
	if err := testCtx.requireServer(); err != nil {
		return err
	}
	req, err := http.NewRequest(method, testCtx.HTTPServer.URL+path, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

// iUploadTheFrame posts the current scene to /analyze. The fields table is
// optional extra form values.
func (testCtx *TestContext) iUploadTheFrame(withDepth bool, fields map[string]string) error {
	if err := testCtx.requireServer(); err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	files := map[string]string{"image": testCtx.Vars["frame"]}
	if withDepth {
		files["depth"] = testCtx.Vars["depth"]
	}
	for field, path := range files {
		if err := attachFile(mw, field, path); err != nil {
			return err
		}
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, testCtx.HTTPServer.URL+"/analyze", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return testCtx.do(req)
}

func attachFile(mw *multipart.Writer, field, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: scenario temp file
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	w, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(data)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain '%s'\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, want string) error {
	if got := testCtx.LastHTTPHeaders[name]; got != want {
		return fmt.Errorf("header %s is '%s', want '%s'", name, got, want)
	}
	return nil
}

// RegisterServerSteps registers scene and HTTP steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a "([^"]*)" scene on disk$`, testCtx.aSceneOnDisk)
	sc.Step(`^a pathsense server showing a "([^"]*)" scene$`, testCtx.aRunningServer)
	sc.Step(`^I send a (GET|POST|PUT|DELETE) request to "([^"]*)"$`, testCtx.iSendRequest)
	sc.Step(`^I upload the frame with its depth map$`, func() error {
		return testCtx.iUploadTheFrame(true, nil)
	})
	sc.Step(`^I upload the frame without a depth map$`, func() error {
		return testCtx.iUploadTheFrame(false, nil)
	})
	sc.Step(`^I upload the frame with its depth map as "([^"]*)"$`, func(format string) error {
		return testCtx.iUploadTheFrame(true, map[string]string{"format": format})
	})
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, func(path, want string) error {
		return jsonFieldEquals(testCtx.LastHTTPResponse, path, want)
	})
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the segmenter should have been called (\d+) times?$`, func(n int) error {
		if got := testCtx.Segmenter.Calls(); got != n {
			return fmt.Errorf("segmenter called %d times, want %d", got, n)
		}
		return nil
	})
}
