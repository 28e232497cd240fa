package det

import (
	"fmt"
	"math"
	"time"
)

// Detector watches a single gate column ("slit") of a video frame stream and
// reports the moment a subject crosses it, interpolated to sub-frame
// precision from the occupancy values straddling the threshold.
//
// Detector is NOT safe for concurrent use — see package doc.
type Detector struct {
	lineX float64 // gate column fraction, survives Reset

	state State

	width, height              int
	bandTop, bandBottom, bandH int
	gateX                      int

	bg         []float64 // frozen background means, valid once bgValid
	bgSum      []float64
	calSamples int
	bgValid    bool

	sessionStartPts float64

	ring  *slitRing
	debug *debugRing

	// preTriggerSlits is a frozen copy of the ring's contents taken the
	// instant trigger() fires, and postTriggerSlits accumulates the slits
	// seen while triggered. Kept separate from ring (which keeps rolling and
	// would otherwise evict the pre-trigger window before cooldown) so the
	// composite export sees the full pre+post window untouched.
	preTriggerSlits  [][]byte
	postTriggerSlits [][]byte

	// trigger tracking: counts consecutive above-threshold frames
	aboveCount int

	// snapshot taken on the 0->1 aboveCount transition: the frame just before
	// crossing (rPrev/ptsPrev) and the first above-threshold frame (rCurr/
	// ptsCurr). Interpolation at aboveCount==2 always uses this snapshot.
	snapRPrev, snapPtsPrev float64
	snapRCurr, snapPtsCurr float64

	lastR         float64
	lastPts       float64
	haveLastFrame bool

	postTriggerTotal int
	postTriggerCount int

	triggerPts        float64
	triggerPtsSeconds float64
	triggerUptimeNs   int64
	triggerLuma       []byte
	triggerIsRetained bool

	// cooldown hysteresis
	lowStreak int

	// FPS / drop tracking
	ptsHistory  []float64 // ring of inter-frame deltas, len <= fpsWindow
	historyNext int
	historyLen  int
	havePrevPts bool
	prevPts     float64
	frameDrops  uint64

	// Now returns the current nanosecond reading. Overridable for tests;
	// defaults to time.Now().UnixNano(), a wall-clock Unix reading that does
	// not carry time.Time's monotonic component.
	Now func() int64
}

// New creates an idle Detector with default gate line 0.5.
func New() *Detector {
	return &Detector{
		lineX: 0.5,
		state: StateIdle,
		Now:   func() int64 { return time.Now().UnixNano() },
	}
}

// Configure sets the gate column fraction, clamped to [0.1, 0.9]. Idempotent;
// callable in any state.
func (d *Detector) Configure(lineX float64) {
	d.lineX = clamp(lineX, minLineX, maxLineX)
}

// State returns the current lifecycle state.
func (d *Detector) State() State { return d.state }

// StartCalibration latches frame dimensions, sizes all buffers, zeroes the
// background accumulator, and transitions to calibrating.
func (d *Detector) StartCalibration(frame Frame) error {
	if err := d.validateFrame(frame); err != nil {
		return err
	}

	d.width = frame.Width
	d.height = frame.Height
	d.bandTop = int(math.Floor(bandTopFrac * float64(frame.Height)))
	d.bandBottom = int(math.Floor(bandBottomFrac * float64(frame.Height)))
	d.bandH = d.bandBottom - d.bandTop
	d.gateX = clampInt(int(math.Floor(d.lineX*float64(frame.Width))), 0, frame.Width-1)

	d.bg = make([]float64, d.bandH)
	d.bgSum = make([]float64, d.bandH)
	d.calSamples = 0
	d.bgValid = false

	d.debug = newDebugRing(debugBufferCapacity)

	d.state = StateCalibrating
	return nil
}

// Calibrate feeds one frame into the background accumulator. On the
// CalibrationFrames-th sample it divides to produce bg and transitions to
// idle (ready to arm). Fails with ErrWrongState outside calibrating.
func (d *Detector) Calibrate(frame Frame) (complete bool, err error) {
	if d.state != StateCalibrating {
		return false, fmt.Errorf("det: calibrate: %w", ErrWrongState)
	}
	if frame.Width != d.width || frame.Height != d.height {
		return false, fmt.Errorf("det: calibrate: %w", ErrInvalidFrame)
	}

	slit := extractSlit(frame, d.gateX, d.bandTop, d.bandH)
	for i, v := range slit {
		d.bgSum[i] += float64(v)
	}
	d.calSamples++
	d.debug.push(frame, 0, false)

	if d.calSamples < CalibrationFrames {
		return false, nil
	}

	for i := range d.bg {
		d.bg[i] = d.bgSum[i] / float64(d.calSamples)
	}
	d.bgValid = true
	d.state = StateIdle
	return true, nil
}

// Arm requires a valid background, captures sessionStartPts, resets ring
// buffers/counters/FPS tracker, and transitions to armed.
func (d *Detector) Arm(frame Frame) error {
	if !d.bgValid {
		return fmt.Errorf("det: arm: %w", ErrNotCalibrated)
	}
	if frame.Width != d.width || frame.Height != d.height {
		return fmt.Errorf("det: arm: %w", ErrInvalidFrame)
	}

	d.sessionStartPts = frame.Pts

	ringCap := int(math.Ceil(0.5 * referenceIntervalHz))
	if fps := d.estimateFPS(); fps > 0 {
		ringCap = int(math.Ceil(0.5 * fps))
	}
	if ringCap < 1 {
		ringCap = 1
	}
	d.ring = newSlitRing(ringCap)

	d.aboveCount = 0
	d.haveLastFrame = false
	d.lowStreak = 0
	d.postTriggerCount = 0
	d.postTriggerTotal = 0
	d.triggerLuma = nil
	d.triggerIsRetained = false

	d.ptsHistory = make([]float64, fpsWindow)
	d.historyNext = 0
	d.historyLen = 0
	d.havePrevPts = false
	d.frameDrops = 0

	d.preTriggerSlits = nil
	d.postTriggerSlits = nil
	d.debug.reset()

	d.state = StateArmed
	return nil
}

// Process is the main per-frame routine. It must never block.
func (d *Detector) Process(frame Frame) (Result, error) {
	switch d.state {
	case StateArmed, StateTriggered, StateCooldown:
		// active states, fall through
	default:
		return Result{State: d.state}, nil
	}
	if frame.Width != d.width || frame.Height != d.height {
		return Result{State: d.state}, fmt.Errorf("det: process: %w", ErrInvalidFrame)
	}

	d.trackFPS(frame.Pts)

	slit := extractSlit(frame, d.gateX, d.bandTop, d.bandH)
	r, points := occupancy(slit, d.bg, d.bandTop, d.height)

	res := Result{
		R:               r,
		State:           d.state,
		ElapsedSeconds:  frame.Pts - d.sessionStartPts,
		FPS:             d.estimateFPS(),
		FrameDrops:      d.frameDrops,
		DetectionPoints: points,
	}

	switch d.state {
	case StateArmed:
		d.processArmed(frame, r, slit, &res)
	case StateTriggered:
		d.processTriggered(frame, slit, &res)
	case StateCooldown:
		d.processCooldown(r)
		res.State = d.state
	}

	isTrigger := res.Crossed
	d.debug.push(frame, r, isTrigger)
	if isTrigger {
		d.triggerLuma = append([]byte(nil), frame.Luma...)
		d.triggerIsRetained = true
	}

	return res, nil
}

func (d *Detector) processArmed(frame Frame, r float64, slit []byte, res *Result) {
	d.ring.push(slit, frame.Pts)

	switch {
	case d.aboveCount == 0 && r >= thresholdOn:
		// Transition 0 -> 1: snapshot (rPrev, ptsPrev, rCurr, ptsCurr) using
		// the previous frame as "before crossing" (degenerates to the
		// current frame if this is the very first frame seen while armed).
		prevR, prevPts := r, frame.Pts
		if d.haveLastFrame {
			prevR, prevPts = d.lastR, d.lastPts
		}
		d.snapRPrev, d.snapPtsPrev = prevR, prevPts
		d.snapRCurr, d.snapPtsCurr = r, frame.Pts
		d.aboveCount = 1

	case d.aboveCount >= 1 && r >= thresholdOn:
		d.aboveCount++
		if d.aboveCount == 2 {
			d.trigger(frame, res)
		}

	default:
		d.aboveCount = 0
	}

	d.lastR, d.lastPts, d.haveLastFrame = r, frame.Pts, true
}

// trigger computes the interpolated crossing from the 0->1 snapshot and
// transitions armed -> triggered.
func (d *Detector) trigger(frame Frame, res *Result) {
	d.triggerPts = interpolateCrossing(d.snapRPrev, d.snapPtsPrev, d.snapRCurr, d.snapPtsCurr)
	d.triggerPtsSeconds = frame.Pts
	d.triggerUptimeNs = d.Now()

	fps := d.estimateFPS()
	if fps <= 0 {
		fps = referenceIntervalHz
	}
	d.postTriggerTotal = int(math.Floor(0.5 * fps))
	d.postTriggerCount = 0

	// Freeze the pre-trigger window now, before any more pushes land in the
	// ring and start evicting it.
	d.preTriggerSlits, _ = d.ring.ordered()
	d.postTriggerSlits = make([][]byte, 0, d.postTriggerTotal)

	d.state = StateTriggered

	res.Crossed = true
	res.TriggerPts = d.triggerPts
	res.PtsSeconds = d.triggerPtsSeconds
	res.UptimeNanos = d.triggerUptimeNs
	res.State = d.state
	res.PostTriggerTotal = d.postTriggerTotal
	res.PostTriggerCount = d.postTriggerCount
}

func (d *Detector) processTriggered(frame Frame, slit []byte, res *Result) {
	d.postTriggerSlits = append(d.postTriggerSlits, slit)
	d.postTriggerCount++
	res.PostTriggerCount = d.postTriggerCount
	res.PostTriggerTotal = d.postTriggerTotal

	if d.postTriggerCount >= d.postTriggerTotal {
		d.state = StateCooldown
		d.lowStreak = 0
	}
	res.State = d.state
}

func (d *Detector) processCooldown(r float64) {
	if r < thresholdOff {
		d.lowStreak++
	} else {
		d.lowStreak = 0
	}
	if d.lowStreak >= cooldownLowStreak {
		d.state = StateArmed
		d.ring.reset()
		d.preTriggerSlits = nil
		d.postTriggerSlits = nil
		d.aboveCount = 0
		d.haveLastFrame = false
	}
}

// Reset clears every field except lineX, which survives across crossings.
func (d *Detector) Reset() {
	lineX := d.lineX
	*d = Detector{}
	d.lineX = lineX
	d.state = StateIdle
	d.Now = func() int64 { return time.Now().UnixNano() }
}

func (d *Detector) validateFrame(frame Frame) error {
	if frame.Width < 64 || frame.Height < 64 {
		return fmt.Errorf("det: frame %dx%d below minimum 64x64: %w", frame.Width, frame.Height, ErrInvalidFrame)
	}
	if len(frame.Luma) != frame.Width*frame.Height {
		return fmt.Errorf("det: frame buffer size mismatch: %w", ErrInvalidFrame)
	}
	return nil
}

func (d *Detector) estimateFPS() float64 {
	if d.historyLen == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < d.historyLen; i++ {
		sum += d.ptsHistory[i]
	}
	if sum <= 0 {
		return 0
	}
	return float64(d.historyLen) / sum
}

// trackFPS keeps the last fpsWindow inter-frame PTS deltas and counts drops.
func (d *Detector) trackFPS(pts float64) {
	if !d.havePrevPts {
		d.prevPts = pts
		d.havePrevPts = true
		return
	}

	delta := pts - d.prevPts
	d.prevPts = pts
	if delta <= 0 {
		return
	}

	referenceInterval := 1.0 / referenceIntervalHz
	if delta > dropFactor*referenceInterval {
		d.frameDrops++
	}

	d.ptsHistory[d.historyNext] = delta
	d.historyNext = (d.historyNext + 1) % fpsWindow
	if d.historyLen < fpsWindow {
		d.historyLen++
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
