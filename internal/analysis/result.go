package analysis

import (
	"image"
	"time"

	"github.com/MeKo-Tech/pathsense/internal/guidance"
	"github.com/MeKo-Tech/pathsense/internal/hazard"
	"github.com/MeKo-Tech/pathsense/internal/zones"
)

// Timings records where one frame spent its time.
type Timings struct {
	Normalize time.Duration
	Inference time.Duration
	Analysis  time.Duration
	Total     time.Duration
}

// Result is the full outcome of Engine.Analyze.
type Result struct {
	Scene

	// Proximity is the nearest reading in meters inside the centred window.
	Proximity      float32
	ProximityValid bool
	Feedback       guidance.Feedback

	// Preview is nil unless the engine was configured with a preview size.
	Preview     *image.NRGBA
	DepthSource string
	Timings     Timings
}

// MaskImage renders the obstacle mask.
func (s *Scene) MaskImage() (*image.Gray, error) {
	return hazard.RenderMask(s.Mask, s.Width, s.Height)
}

// ObstacleRatio returns the share of obstacle pixels over the whole grid.
func (s *Scene) ObstacleRatio() float64 {
	if len(s.Mask) == 0 {
		return 0
	}
	return float64(hazard.Count(s.Mask)) / float64(len(s.Mask))
}

// ZoneReport is the serialisable form of one zone.
type ZoneReport struct {
	Zone             string  `json:"zone"`
	ObstacleFraction float64 `json:"obstacle_fraction"`
	Blocked          bool    `json:"blocked"`
	DominantClassID  *int32  `json:"dominant_class_id,omitempty"`
	DominantClass    string  `json:"dominant_class,omitempty"`
}

// Report is the serialisable summary shared by the CLI and the server.
type Report struct {
	Directive      guidance.Directive `json:"directive"`
	Message        string             `json:"message"`
	Zones          []ZoneReport       `json:"zones"`
	ObstacleRatio  float64            `json:"obstacle_ratio"`
	Components     int                `json:"components"`
	Threshold      float32            `json:"threshold"`
	AspectFactor   float64            `json:"aspect_factor"`
	Proximity      *float32           `json:"proximity_m,omitempty"`
	Feedback       guidance.Feedback  `json:"feedback"`
	DepthSource    string             `json:"depth_source"`
	Width          int                `json:"width"`
	Height         int                `json:"height"`
	NormalizeMs    float64            `json:"normalize_ms"`
	InferenceMs    float64            `json:"inference_ms"`
	AnalysisMs     float64            `json:"analysis_ms"`
	TotalMs        float64            `json:"total_ms"`
	RequestID      string             `json:"request_id,omitempty"`
	SourceFilename string             `json:"source,omitempty"`
}

// Report builds the serialisable summary. names resolves dominant classes.
func (r *Result) Report(names guidance.Namer, blockedFraction float64) Report {
	rep := Report{
		Directive:     r.Directive,
		Message:       r.Directive.Message(),
		ObstacleRatio: r.ObstacleRatio(),
		Components:    r.Components,
		Threshold:     r.Threshold,
		AspectFactor:  r.Layout.Aspect,
		Feedback:      r.Feedback,
		DepthSource:   r.DepthSource,
		Width:         r.Width,
		Height:        r.Height,
		NormalizeMs:   ms(r.Timings.Normalize),
		InferenceMs:   ms(r.Timings.Inference),
		AnalysisMs:    ms(r.Timings.Analysis),
		TotalMs:       ms(r.Timings.Total),
	}
	if r.ProximityValid {
		p := r.Proximity
		rep.Proximity = &p
	}
	for _, z := range zones.All() {
		st := r.Zones[z]
		zr := ZoneReport{
			Zone:             z.String(),
			ObstacleFraction: st.ObstacleFraction,
			Blocked:          st.ObstacleFraction > blockedFraction,
		}
		if st.HasObstacles() {
			id := st.DominantClassID
			zr.DominantClassID = &id
			if names != nil {
				if name, ok := names.Name(int(id)); ok {
					zr.DominantClass = name
				}
			}
		}
		rep.Zones = append(rep.Zones, zr)
	}
	return rep
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// Report summarises r using the engine's class names and blocked fraction.
func (e *Engine) Report(r *Result) Report {
	return r.Report(e.cfg.ClassNames, e.cfg.BlockedFraction)
}
