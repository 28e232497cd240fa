package det

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
)

func grayOf(v byte) color.Gray { return color.Gray{Y: v} }

// DebugFrameInfo describes one exported debug frame.
type DebugFrameInfo struct {
	Index      int
	Path       string
	Pts        float64
	R          float64
	TriggersAt string // "TRIGGER" for the trigger frame, empty otherwise
}

// DebugExport is the result of ExportDebugFrames.
type DebugExport struct {
	Frames            []DebugFrameInfo
	FrameWidth        int
	FrameHeight       int
	GateLineX         float64
	GatePixelX        int
	TriggerFrameIndex int // -1 if no trigger frame retained
}

// ExportDebugFrames writes retained debug buffers as indexed grayscale PNGs
// under baseDir/debug_frames_<unix_ms>/frame_NNNN.png and returns their paths.
// Returns ErrNoDebugFrames if nothing has been buffered.
func (d *Detector) ExportDebugFrames(baseDir string) (DebugExport, error) {
	if d.debug == nil || d.debug.len == 0 {
		return DebugExport{}, fmt.Errorf("det: export debug frames: %w", ErrNoDebugFrames)
	}

	entries := d.debug.ordered()

	dirName := fmt.Sprintf("debug_frames_%d", d.Now()/1e6)
	dir := filepath.Join(baseDir, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return DebugExport{}, fmt.Errorf("det: export debug frames: %w", err)
	}

	export := DebugExport{
		FrameWidth:        d.width,
		FrameHeight:       d.height,
		GateLineX:         d.lineX,
		GatePixelX:        d.gateX,
		TriggerFrameIndex: -1,
	}

	for i, e := range entries {
		name := fmt.Sprintf("frame_%04d.png", i)
		path := filepath.Join(dir, name)

		img := image.NewGray(image.Rect(0, 0, e.width, e.height))
		copy(img.Pix, e.luma)
		if err := writePNG(path, img); err != nil {
			return DebugExport{}, fmt.Errorf("det: export debug frames: %w", err)
		}

		triggersAt := ""
		if e.isTrigger {
			triggersAt = "TRIGGER"
			export.TriggerFrameIndex = i
		}

		export.Frames = append(export.Frames, DebugFrameInfo{
			Index:      i,
			Path:       path,
			Pts:        e.pts,
			R:          e.r,
			TriggersAt: triggersAt,
		})
	}

	return export, nil
}

// ExportComposite assembles the slit composite (columns = time, rows = band,
// column 0 = the oldest retained pre-trigger slit) from the frozen
// pre-trigger window plus the accumulated post-trigger slits, and writes it
// to baseDir/composite_<unix_ms>.png.
func (d *Detector) ExportComposite(baseDir string) (string, error) {
	if len(d.preTriggerSlits) == 0 && len(d.postTriggerSlits) == 0 {
		return "", fmt.Errorf("det: export composite: %w", ErrNoDebugFrames)
	}

	slits := make([][]byte, 0, len(d.preTriggerSlits)+len(d.postTriggerSlits))
	slits = append(slits, d.preTriggerSlits...)
	slits = append(slits, d.postTriggerSlits...)

	width := len(slits)
	height := d.bandH
	img := image.NewGray(image.Rect(0, 0, width, height))
	for x, slit := range slits {
		for y := 0; y < height && y < len(slit); y++ {
			img.SetGray(x, y, grayOf(slit[y]))
		}
	}

	path := filepath.Join(baseDir, fmt.Sprintf("composite_%d.png", d.Now()/1e6))
	if err := writePNG(path, img); err != nil {
		return "", fmt.Errorf("det: export composite: %w", err)
	}
	return path, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
