// Package det implements the slit-scan crossing detector.
//
// # Overview
//
// Detector watches a narrow vertical "gate" column of a video frame and reports
// the sub-frame-accurate timestamp at which a moving subject crosses it. It does
// this by averaging luma over a band of rows at the gate column into a "slit",
// comparing the slit against a calibrated background, and tracking the fraction
// of the band that differs from background ("occupancy", r).
//
// # State machine
//
//	idle -> calibrating -> armed -> triggered -> cooldown -> armed (rearm)
//
// The machine is terminal only on an explicit Reset.
//
// # Basic usage
//
//	d := det.New()
//	d.Configure(0.5)
//	d.StartCalibration(firstFrame)
//	for i := 0; i < det.CalibrationFrames; i++ {
//	    d.Calibrate(frame)
//	}
//	d.Arm(frame)
//	for frame := range frames {
//	    res, err := d.Process(frame)
//	    if res.Crossed {
//	        // res.TriggerPts, res.PtsSeconds, res.UptimeNanos hand off to session.
//	    }
//	}
//
// # Thread safety
//
// Detector is NOT safe for concurrent use. Per design, it is owned exclusively
// by a single "camera thread" that calls Process once per frame and must never
// block; callers on other goroutines communicate via a bounded channel rather
// than calling into Detector directly. See internal/session for the SPSC
// plumbing that crosses this boundary.
package det
