package det

import "math"

// interpolateCrossing linearly interpolates the crossing PTS across the
// on-threshold between the snapshot taken at the 0->1 aboveCount transition
// (rPrev/ptsPrev) and the first above-threshold frame (rCurr/ptsCurr).
func interpolateCrossing(rPrev, ptsPrev, rCurr, ptsCurr float64) float64 {
	if rCurr > rPrev && rCurr > thresholdOn {
		alpha := clamp((thresholdOn-rPrev)/(rCurr-rPrev), 0, 1)
		return ptsPrev + alpha*(ptsCurr-ptsPrev)
	}
	return ptsCurr
}

// extractSlit averages slitWidth columns around gateX for each row of the
// band, using integer division — no dithering.
func extractSlit(frame Frame, gateX, bandTop, bandH int) []byte {
	half := slitWidth / 2
	colLo := clampInt(gateX-half, 0, frame.Width-1)
	colHi := clampInt(gateX+half, 0, frame.Width-1)
	n := colHi - colLo + 1

	slit := make([]byte, bandH)
	for row := 0; row < bandH; row++ {
		y := bandTop + row
		rowOff := y * frame.Width
		sum := 0
		for x := colLo; x <= colHi; x++ {
			sum += int(frame.Luma[rowOff+x])
		}
		slit[row] = byte(sum / n)
	}
	return slit
}

// occupancy computes r (longest contiguous foreground run / bandH, or 0 below
// the minimum-run noise filter) and the normalized detection points.
func occupancy(slit []byte, bg []float64, bandTop, height int) (r float64, points []float64) {
	bandH := len(slit)
	fg := make([]bool, bandH)
	for i, v := range slit {
		if math.Abs(float64(v)-bg[i]) >= foregroundThreshold {
			fg[i] = true
		}
	}

	longestRun := 0
	current := 0
	for _, on := range fg {
		if on {
			current++
			if current > longestRun {
				longestRun = current
			}
		} else {
			current = 0
		}
	}

	minRun := minRunPixels
	if frac := int(math.Floor(minRunFrac * float64(bandH))); frac > minRun {
		minRun = frac
	}

	if longestRun < minRun {
		r = 0
	} else {
		r = float64(longestRun) / float64(bandH)
	}

	for i, on := range fg {
		if on {
			points = append(points, float64(i+bandTop)/float64(height))
		}
	}

	return r, points
}
