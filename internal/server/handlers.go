package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/MeKo-Tech/pathsense/internal/analysis"
	"github.com/MeKo-Tech/pathsense/internal/depth"
	"github.com/MeKo-Tech/pathsense/internal/frame"
	"github.com/MeKo-Tech/pathsense/internal/hazard"
	"github.com/MeKo-Tech/pathsense/internal/pipeline"
	"github.com/MeKo-Tech/pathsense/internal/version"
	"github.com/google/uuid"
)

// Supported values of the analyze "format" field.
const (
	formatJSON    = "json"
	formatText    = "text"
	formatMask    = "mask"
	formatOverlay = "overlay"
)

// healthHandler reports liveness and runner counters.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Runner:  s.runner.Stats(),
	})
}

// zonesHandler returns the zone rectangles for an optional ?aspect=w/h.
func (s *Server) zonesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var aspect float64
	if v := r.URL.Query().Get("aspect"); v != "" {
		a, err := strconv.ParseFloat(v, 64)
		if err != nil || a <= 0 {
			writeErrorResponse(w, fmt.Sprintf("Invalid aspect %q", v), http.StatusBadRequest)
			return
		}
		aspect = a
	}
	writeJSON(w, http.StatusOK, s.engine.Layout(aspect))
}

// analyzeHandler analyzes one multipart upload: "image" plus an optional
// "depth" file described by depth_width, depth_height and depth_scale.
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := uuid.NewString()
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB<<20)
	if err := r.ParseMultipartForm(s.maxUploadMB << 20); err != nil {
		writeErrorResponse(w, "File too large or invalid form", http.StatusBadRequest)
		return
	}
	if r.ContentLength > 0 {
		uploadSize.Observe(float64(r.ContentLength))
	}

	format := r.FormValue("format")
	switch format {
	case "":
		format = formatJSON
	case formatJSON, formatText, formatMask, formatOverlay:
	default:
		writeErrorResponse(w, fmt.Sprintf("Unsupported format %q", format), http.StatusBadRequest)
		return
	}

	img, filename, err := readImage(r)
	if err != nil {
		writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	grid, err := readDepth(r)
	if err != nil {
		writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	out, err := s.runner.Do(ctx, pipeline.Frame{ID: requestID, Input: analysis.Input{Image: img, Depth: grid}})
	if err != nil {
		status := statusFor(err)
		analyzeRequests.WithLabelValues(strconv.Itoa(status)).Inc()
		if status >= http.StatusInternalServerError && !errors.Is(err, pipeline.ErrBusy) {
			slog.Error("Analysis failed", "request_id", requestID, "error", err)
		}
		if errors.Is(err, pipeline.ErrBusy) {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, status, AnalyzeResponse{
			RequestID: requestID,
			Error:     err.Error(),
			ErrorType: errorType(err),
		})
		return
	}
	analyzeRequests.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	directivesServed.WithLabelValues(out.Result.Directive.Kind.String()).Inc()

	switch format {
	case formatMask:
		mask, err := out.Result.MaskImage()
		if err != nil {
			writeErrorResponse(w, "Failed to render mask", http.StatusInternalServerError)
			return
		}
		writePNG(w, mask)
	case formatOverlay:
		s.writeOverlay(w, img, out.Result)
	case formatText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Request-ID", requestID)
		_, _ = fmt.Fprintln(w, out.Result.Directive.Message())
	default:
		rep := s.engine.Report(out.Result)
		rep.RequestID = requestID
		rep.SourceFilename = filename
		writeJSON(w, http.StatusOK, AnalyzeResponse{Success: true, RequestID: requestID, Result: &rep})
	}
}

func (s *Server) writeOverlay(w http.ResponseWriter, img image.Image, res *analysis.Result) {
	mask, err := res.MaskImage()
	if err != nil {
		writeErrorResponse(w, "Failed to render mask", http.StatusInternalServerError)
		return
	}
	base := image.Image(res.Preview)
	if res.Preview == nil {
		base = s.engine.Config().Rotation.Apply(img)
	}
	overlay, err := hazard.Overlay(base, mask, s.overlayOpacity)
	if err != nil {
		writeErrorResponse(w, "Failed to render overlay", http.StatusInternalServerError)
		return
	}
	writePNG(w, overlay)
}

// readImage decodes the required "image" form file.
func readImage(r *http.Request) (image.Image, string, error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", errors.New("no image file provided")
	}
	defer func() { _ = file.Close() }()

	if !frame.IsSupportedImage(header.Filename) {
		return nil, "", fmt.Errorf("unsupported image format: %s", filepath.Ext(header.Filename))
	}
	img, _, err := frame.DecodeImage(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, header.Filename, nil
}

// readDepth decodes the optional "depth" form file. A nil grid means the
// engine's depth estimator is used.
func readDepth(r *http.Request) (*depth.Grid, error) {
	file, header, err := r.FormFile("depth")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid depth file: %w", err)
	}
	defer func() { _ = file.Close() }()

	opts, err := depthOptions(r)
	if err != nil {
		return nil, err
	}
	g, err := depth.Decode(file, header.Filename, opts)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func depthOptions(r *http.Request) (depth.DecodeOptions, error) {
	var opts depth.DecodeOptions
	for _, f := range []struct {
		name string
		dst  *int
	}{{"depth_width", &opts.Width}, {"depth_height", &opts.Height}} {
		if v := r.FormValue(f.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return opts, fmt.Errorf("invalid %s %q", f.name, v)
			}
			*f.dst = n
		}
	}
	if v := r.FormValue("depth_scale"); v != "" {
		scale, err := strconv.ParseFloat(v, 32)
		if err != nil || scale <= 0 {
			return opts, fmt.Errorf("invalid depth_scale %q", v)
		}
		opts.Scale = float32(scale)
	}
	return opts, nil
}

// statusFor maps analysis and runner errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrBusy), errors.Is(err, pipeline.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, analysis.ErrInput), errors.Is(err, analysis.ErrDegenerateDepth):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		return "busy"
	case errors.Is(err, pipeline.ErrStopped):
		return "stopped"
	default:
		return analysis.Reason(err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writePNG(w http.ResponseWriter, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, img); err != nil {
		slog.Error("Failed to encode PNG response", "error", err)
	}
}

// writeErrorResponse writes an error response in JSON format.
func writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
