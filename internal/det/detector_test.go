package det

import (
	"image/png"
	"math"
	"os"
	"testing"
)

// testH is chosen large enough (realistic phone-camera scale) that bandH
// comfortably exceeds the minimum-run noise filter at the occupancy
// fractions these tests drive — the 60px/15% floor assumes non-tiny frames.
const testW, testH = 64, 2000

func uniformFrame(luma byte, pts float64) Frame {
	buf := make([]byte, testW*testH)
	for i := range buf {
		buf[i] = luma
	}
	return Frame{Width: testW, Height: testH, Pts: pts, Luma: buf}
}

func bandDims() (bandTop, bandH int) {
	top := int(math.Floor(bandTopFrac * float64(testH)))
	bottom := int(math.Floor(bandBottomFrac * float64(testH)))
	return top, bottom - top
}

// frameWithBand builds a frame where the first fgRows rows of the detection
// band (at the gate column) are fgLuma and everything else is bgLuma, so the
// resulting occupancy r is directly controllable via fgRows.
func frameWithBand(bgLuma, fgLuma byte, fgRows int, pts float64) Frame {
	bandTop, bandH := bandDims()
	buf := make([]byte, testW*testH)
	for i := range buf {
		buf[i] = bgLuma
	}
	gateX := testW / 2
	for row := 0; row < fgRows && row < bandH; row++ {
		y := bandTop + row
		for x := gateX - 1; x <= gateX+1; x++ {
			buf[y*testW+x] = fgLuma
		}
	}
	return Frame{Width: testW, Height: testH, Pts: pts, Luma: buf}
}

func TestCalibrationCompletion(t *testing.T) {
	d := New()
	d.Configure(0.5)

	f := uniformFrame(120, 0)
	if err := d.StartCalibration(f); err != nil {
		t.Fatalf("StartCalibration: %v", err)
	}
	if d.State() != StateCalibrating {
		t.Fatalf("state = %v, want calibrating", d.State())
	}

	var complete bool
	var err error
	for i := 0; i < CalibrationFrames; i++ {
		complete, err = d.Calibrate(f)
		if err != nil {
			t.Fatalf("Calibrate[%d]: %v", i, err)
		}
	}
	if !complete {
		t.Fatalf("expected calibration complete on frame %d", CalibrationFrames)
	}
	if d.State() != StateIdle {
		t.Fatalf("state after calibration = %v, want idle", d.State())
	}
	for i, v := range d.bg {
		if v != 120 {
			t.Fatalf("bg[%d] = %v, want 120", i, v)
		}
	}

	if err := d.Arm(f); err != nil {
		t.Fatalf("Arm after calibration: %v", err)
	}
	if d.State() != StateArmed {
		t.Fatalf("state after arm = %v, want armed", d.State())
	}
}

func TestArmWithoutCalibrationFails(t *testing.T) {
	d := New()
	f := uniformFrame(100, 0)
	if err := d.Arm(f); err == nil {
		t.Fatal("expected error arming without calibration")
	}
}

func calibratedDetector(t *testing.T) *Detector {
	t.Helper()
	d := New()
	d.Configure(0.5)
	f := uniformFrame(0, 0)
	if err := d.StartCalibration(f); err != nil {
		t.Fatalf("StartCalibration: %v", err)
	}
	for i := 0; i < CalibrationFrames; i++ {
		if _, err := d.Calibrate(f); err != nil {
			t.Fatalf("Calibrate: %v", err)
		}
	}
	if err := d.Arm(f); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	return d
}

// TestInterpolateCrossing checks the interpolation arithmetic directly,
// independent of the minimum-run occupancy filter (which, at real band
// sizes, prevents r=0.05 from ever surviving as a non-zero occupancy — see
// TestProcessTwoFrameConfirmation for the integration-level equivalent).
func TestInterpolateCrossing(t *testing.T) {
	got := interpolateCrossing(0.05, 1.000, 0.35, 1.010)
	want := 1.000 + ((0.20 - 0.05) / (0.35 - 0.05) * 0.010)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("interpolateCrossing = %v, want %v", got, want)
	}
}

func TestInterpolateCrossingDegenerate(t *testing.T) {
	// rCurr <= rPrev: degenerate case, triggerPts = ptsCurr.
	got := interpolateCrossing(0.30, 1.000, 0.25, 1.010)
	if got != 1.010 {
		t.Fatalf("degenerate interpolateCrossing = %v, want 1.010", got)
	}
}

// TestProcessTwoFrameConfirmation drives Process() through real occupancy
// computation and checks that a crossing fires on the second consecutive
// above-threshold frame, with triggerPts bounded between the snapshot and
// confirmation PTS.
func TestProcessTwoFrameConfirmation(t *testing.T) {
	d := calibratedDetector(t)
	_, bandH := bandDims()
	rows := func(r float64) int { return int(math.Round(r * float64(bandH))) }

	below := frameWithBand(0, 255, rows(0.10), 1.000)
	res, err := d.Process(below)
	if err != nil {
		t.Fatalf("process below: %v", err)
	}
	if res.Crossed || res.R >= thresholdOn {
		t.Fatalf("expected below-threshold r, got %v", res.R)
	}

	firstAbove := frameWithBand(0, 255, rows(0.35), 1.010)
	res, err = d.Process(firstAbove)
	if err != nil {
		t.Fatalf("process first above: %v", err)
	}
	if res.Crossed {
		t.Fatalf("must not cross on first above-threshold frame (2-frame confirmation)")
	}
	if res.R < thresholdOn {
		t.Fatalf("expected r >= THR_ON, got %v", res.R)
	}

	secondAbove := frameWithBand(0, 255, rows(0.40), 1.020)
	res, err = d.Process(secondAbove)
	if err != nil {
		t.Fatalf("process second above: %v", err)
	}
	if !res.Crossed {
		t.Fatalf("expected crossing on second consecutive above-threshold frame")
	}
	if res.TriggerPts < 1.000 || res.TriggerPts > 1.020 {
		t.Fatalf("triggerPts = %v out of expected [1.000,1.020] range", res.TriggerPts)
	}
	if res.PtsSeconds != 1.020 {
		t.Fatalf("ptsSeconds = %v, want 1.020 (confirmation frame pts)", res.PtsSeconds)
	}
	if res.State != StateTriggered {
		t.Fatalf("state = %v, want triggered", res.State)
	}
}

// TestHysteresis checks that cooldown only rearms after exactly 5
// consecutive low-r frames.
func TestHysteresis(t *testing.T) {
	d := calibratedDetector(t)
	_, bandH := bandDims()

	high := frameWithBand(0, 255, bandH, 0) // r ~ 1.0
	low := frameWithBand(0, 255, 0, 0)       // r = 0

	d.Process(high)
	d.Process(high)
	if d.State() != StateTriggered {
		t.Fatalf("state after two high frames = %v, want triggered", d.State())
	}
	for d.State() == StateTriggered {
		d.Process(low)
	}
	if d.State() != StateCooldown {
		t.Fatalf("state = %v, want cooldown", d.State())
	}

	for i := 0; i < 4; i++ {
		d.Process(low)
		if d.State() != StateCooldown {
			t.Fatalf("rearmed too early after %d low frames", i+1)
		}
	}
	// An interrupting high frame resets the low-streak.
	d.Process(high)
	if d.State() != StateCooldown {
		t.Fatalf("state = %v, want still cooldown after interrupting high frame", d.State())
	}

	for i := 0; i < 4; i++ {
		d.Process(low)
		if d.State() != StateCooldown {
			t.Fatalf("rearmed too early (second attempt) after %d low frames", i+1)
		}
	}
	d.Process(low)
	if d.State() != StateArmed {
		t.Fatalf("state = %v, want armed after exactly 5 consecutive low frames", d.State())
	}
}

func TestOccupancyBounds(t *testing.T) {
	d := calibratedDetector(t)
	_, bandH := bandDims()

	for _, rows := range []int{0, 1, bandH / 2, bandH} {
		f := frameWithBand(0, 255, rows, 0)
		res, err := d.Process(f)
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if res.R < 0 || res.R > 1 {
			t.Fatalf("r = %v out of [0,1] for rows=%d", res.R, rows)
		}
	}
}

func TestConfigureIdempotent(t *testing.T) {
	d := New()
	d.Configure(0.42)
	before := d.lineX
	d.Configure(0.42)
	if d.lineX != before {
		t.Fatalf("Configure not idempotent: %v != %v", d.lineX, before)
	}
	d.Configure(5.0) // out of range, must clamp
	if d.lineX != maxLineX {
		t.Fatalf("Configure did not clamp: %v", d.lineX)
	}
}

func TestResetIsNoOpAfterReset(t *testing.T) {
	d := calibratedDetector(t)
	d.Configure(0.7)
	d.Reset()
	lineX := d.lineX
	d.Reset()
	if d.lineX != lineX || d.State() != StateIdle {
		t.Fatalf("second Reset changed state")
	}
}

func TestExportWithoutFramesFails(t *testing.T) {
	d := New()
	if _, err := d.ExportDebugFrames(t.TempDir()); err == nil {
		t.Fatal("expected ErrNoDebugFrames")
	}
}

func TestProcessOutsideActiveStateReturnsZeroResult(t *testing.T) {
	d := New()
	res, err := d.Process(uniformFrame(0, 0))
	if err != nil {
		t.Fatalf("Process in idle should not error: %v", err)
	}
	if res.Crossed || res.State != StateIdle {
		t.Fatalf("unexpected non-zero result in idle: %+v", res)
	}
}

func TestExportDebugFrames(t *testing.T) {
	d := calibratedDetector(t)
	_, bandH := bandDims()
	d.Process(frameWithBand(0, 255, bandH, 0))
	d.Process(frameWithBand(0, 255, bandH, 1))

	dir := t.TempDir()
	export, err := d.ExportDebugFrames(dir)
	if err != nil {
		t.Fatalf("ExportDebugFrames: %v", err)
	}
	if len(export.Frames) != 2 {
		t.Fatalf("len(Frames) = %d, want 2", len(export.Frames))
	}
	if export.TriggerFrameIndex != 1 {
		t.Fatalf("TriggerFrameIndex = %d, want 1", export.TriggerFrameIndex)
	}
	if export.Frames[1].TriggersAt != "TRIGGER" {
		t.Fatalf("Frames[1].TriggersAt = %q, want TRIGGER", export.Frames[1].TriggersAt)
	}
	if export.Frames[0].TriggersAt != "" {
		t.Fatalf("Frames[0].TriggersAt = %q, want empty", export.Frames[0].TriggersAt)
	}
}

// TestExportCompositeIncludesFullPreAndPostTriggerWindow drives the ring cap
// and the post-trigger frame count to the same value (both derived from a
// ~30fps estimate) and keeps pushing post-trigger frames well past that
// capacity. If post-trigger frames were still landing in the same bounded
// ring the pre-trigger window lives in, the ring's FIFO eviction would wipe
// out the pre-trigger slits entirely by the time cooldown is reached.
func TestExportCompositeIncludesFullPreAndPostTriggerWindow(t *testing.T) {
	d := calibratedDetector(t)
	_, bandH := bandDims()

	pts := 0.0
	for i := 0; i < 20; i++ {
		pts += 1.0 / 30.0
		if _, err := d.Process(frameWithBand(0, 255, 0, pts)); err != nil {
			t.Fatalf("process warmup: %v", err)
		}
	}
	if err := d.Arm(frameWithBand(0, 255, 0, pts)); err != nil {
		t.Fatalf("re-arm: %v", err)
	}
	if d.ring.cap != 15 {
		t.Fatalf("ring cap = %d, want 15 (fps-derived)", d.ring.cap)
	}

	preTriggerPushes := 0
	for i := 0; i < 10; i++ {
		pts += 1.0 / 30.0
		if _, err := d.Process(frameWithBand(0, 255, 0, pts)); err != nil {
			t.Fatalf("process pre-trigger: %v", err)
		}
		preTriggerPushes++
	}

	pts += 1.0 / 30.0
	if _, err := d.Process(frameWithBand(0, 255, bandH, pts)); err != nil { // 0->1 snapshot
		t.Fatalf("process snapshot frame: %v", err)
	}
	preTriggerPushes++

	pts += 1.0 / 30.0
	res, err := d.Process(frameWithBand(0, 255, bandH, pts)) // confirmation, triggers
	if err != nil {
		t.Fatalf("process trigger frame: %v", err)
	}
	preTriggerPushes++
	if !res.Crossed {
		t.Fatalf("expected crossing on confirmation frame")
	}
	if len(d.preTriggerSlits) != preTriggerPushes {
		t.Fatalf("preTriggerSlits length = %d, want %d", len(d.preTriggerSlits), preTriggerPushes)
	}

	for d.State() == StateTriggered {
		pts += 1.0 / 30.0
		if _, err := d.Process(frameWithBand(0, 255, 0, pts)); err != nil {
			t.Fatalf("process post-trigger: %v", err)
		}
	}
	if d.State() != StateCooldown {
		t.Fatalf("state = %v, want cooldown", d.State())
	}
	if len(d.preTriggerSlits) != preTriggerPushes {
		t.Fatalf("preTriggerSlits changed during post-trigger window: len = %d, want %d", len(d.preTriggerSlits), preTriggerPushes)
	}

	path, err := d.ExportComposite(t.TempDir())
	if err != nil {
		t.Fatalf("ExportComposite: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open composite: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode composite: %v", err)
	}

	wantWidth := preTriggerPushes + d.postTriggerTotal
	if img.Bounds().Dx() != wantWidth {
		t.Fatalf("composite width = %d, want %d (pre=%d + post=%d)", img.Bounds().Dx(), wantWidth, preTriggerPushes, d.postTriggerTotal)
	}
}
