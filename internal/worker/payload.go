package worker

import (
	"bytes"
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when a payload carries no pixels.
var ErrEmptyFrame = errors.New("empty frame payload")

// FramePayload carries one frame in one of three forms: an owned Mat
// (in-process bitmap transfer), JPEG bytes (bitmap over a stream) or a raw
// pixel copy (imageData).
type FramePayload struct {
	Mat     *gocv.Mat `json:"-"`
	Encoded []byte    `json:"encoded,omitempty"`
	Pixels  []byte    `json:"pixels,omitempty"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	MatType int       `json:"matType,omitempty"`
}

// BitmapPayload takes ownership of mat. The caller must not use or close it
// afterwards.
func BitmapPayload(mat *gocv.Mat) FramePayload {
	return FramePayload{
		Mat:     mat,
		Width:   mat.Cols(),
		Height:  mat.Rows(),
		MatType: int(mat.Type()),
	}
}

// ImageDataPayload copies mat's pixels. The caller keeps ownership of mat.
func ImageDataPayload(mat gocv.Mat) FramePayload {
	return FramePayload{
		Pixels:  mat.ToBytes(),
		Width:   mat.Cols(),
		Height:  mat.Rows(),
		MatType: int(mat.Type()),
	}
}

// Decode returns the frame as a Mat owned by the caller.
func (p FramePayload) Decode() (gocv.Mat, error) {
	switch {
	case p.Mat != nil:
		return *p.Mat, nil
	case len(p.Encoded) > 0:
		mat, err := gocv.IMDecode(p.Encoded, gocv.IMReadColor)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("decode bitmap: %w", err)
		}
		if mat.Empty() {
			mat.Close()
			return gocv.Mat{}, ErrEmptyFrame
		}
		return mat, nil
	case len(p.Pixels) > 0:
		mat, err := gocv.NewMatFromBytes(p.Height, p.Width, gocv.MatType(p.MatType), p.Pixels)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("decode image data: %w", err)
		}
		return mat, nil
	}
	return gocv.Mat{}, ErrEmptyFrame
}

// Release frees an owned Mat that was never delivered.
func (p FramePayload) Release() {
	if p.Mat != nil {
		p.Mat.Close()
	}
}

// forWire replaces an owned Mat with its JPEG encoding, releasing the Mat.
func (p FramePayload) forWire() (FramePayload, error) {
	if p.Mat == nil {
		return p, nil
	}
	defer p.Mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *p.Mat)
	if err != nil {
		return FramePayload{}, fmt.Errorf("encode bitmap: %w", err)
	}
	defer buf.Close()

	return FramePayload{
		Encoded: bytes.Clone(buf.GetBytes()),
		Width:   p.Width,
		Height:  p.Height,
	}, nil
}
