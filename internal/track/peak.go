package track

// ComputeMaxInterp returns the sub-sample position of the maximum of data
// using a three-point quadratic fit around the largest sample. At either
// end of the sequence, or when the three samples are collinear, the
// integer index is returned. data must not be empty.
func ComputeMaxInterp(data []float64) float64 {
	iMax := 0
	vMax := data[0]
	for i, v := range data[1:] {
		if v > vMax {
			vMax = v
			iMax = i + 1
		}
	}
	if iMax == 0 || iMax == len(data)-1 {
		return float64(iMax)
	}

	prev, next := data[iMax-1], data[iMax+1]
	denom := prev - 2*vMax + next
	if denom == 0 {
		return float64(iMax)
	}
	return float64(iMax) + 0.5*(prev-next)/denom
}

// KeepInsideBoundaries moves center so that a window of the given radius
// around it stays within a width x height image. It reports whether any
// axis had to be moved.
func KeepInsideBoundaries(center *Point2, radius float64, width, height int) bool {
	w, h := float64(width), float64(height)
	hit := center.X+radius >= w ||
		center.X-radius < 0 ||
		center.Y+radius >= h ||
		center.Y-radius < 0

	if center.X-radius < 0 {
		center.X = radius
	}
	if center.Y-radius < 0 {
		center.Y = radius
	}
	if center.X+radius >= w {
		center.X = w - radius - 1
	}
	if center.Y+radius >= h {
		center.Y = h - radius - 1
	}
	return hit
}
