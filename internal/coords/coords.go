// Package coords maps normalized landmark coordinates into container space.
package coords

import "math"

// Point is a 2-D point in normalized [0,1] space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a pixel extent.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// valid reports whether both dimensions are finite and positive.
func (s Size) valid() bool {
	return s.Width > 0 && s.Height > 0 && !math.IsInf(s.Width, 0) && !math.IsInf(s.Height, 0)
}

// MapOptions controls ToContainer.
type MapOptions struct {
	// Mirrored flips the x axis (selfie view).
	Mirrored bool
	// Clamp restricts the result to [0,1] on both axes.
	Clamp bool
}

// DefaultMapOptions mirrors and clamps.
func DefaultMapOptions() MapOptions {
	return MapOptions{Mirrored: true, Clamp: true}
}

// ToContainer maps a normalized point in video space into normalized
// container space, assuming the video is drawn with object-cover scaling:
// scaled up until it covers the container, centred, and cropped.
//
// A zero-sized video or container degrades to the identity mapping with only
// mirroring and clamping applied.
func ToContainer(p Point, video, container Size, opts MapOptions) Point {
	x := p.X
	if opts.Mirrored {
		x = Mirror(x)
	}
	out := Point{X: x, Y: p.Y}

	if video.valid() && container.valid() {
		scale := math.Max(container.Width/video.Width, container.Height/video.Height)
		offsetX := (container.Width - video.Width*scale) / 2
		offsetY := (container.Height - video.Height*scale) / 2

		out.X = (x*video.Width*scale + offsetX) / container.Width
		out.Y = (p.Y*video.Height*scale + offsetY) / container.Height
	}

	if opts.Clamp {
		out.X = Clamp01(out.X)
		out.Y = Clamp01(out.Y)
	}
	return out
}

// Mirror flips a normalized coordinate around the centre line.
func Mirror(v float64) float64 {
	return 1 - v
}

// Clamp01 restricts v to [0,1]. NaN clamps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
