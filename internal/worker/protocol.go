// Package worker defines the message protocol between the tracking runtime
// and an inference worker, the transports that carry it, and the worker loop.
package worker

import (
	"errors"
	"time"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/filter"
	"github.com/ayusman/mudra/internal/frame"
	"github.com/ayusman/mudra/internal/gesture"
)

// Type discriminates protocol messages.
type Type string

const (
	// Main to worker.
	TypeInit    Type = "init"
	TypeFrame   Type = "frame"
	TypeDispose Type = "dispose"

	// Worker to main.
	TypeInitResult  Type = "init:result"
	TypeFrameResult Type = "frame:result"
	TypeError       Type = "error"
)

// TransferMode says how a frame's pixels travel to the worker.
type TransferMode string

const (
	// TransferImageData copies raw pixels into the message.
	TransferImageData TransferMode = "imageData"
	// TransferBitmap hands the frame itself to the worker. In-process the
	// Mat moves without a copy; over a stream it is JPEG encoded.
	TransferBitmap TransferMode = "bitmap"
)

var (
	// ErrClosed is returned by a transport after Close.
	ErrClosed = errors.New("worker transport closed")
	// ErrUnknownType is returned when decoding a message with an unknown type.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMalformed is returned when a message's body does not match its type.
	ErrMalformed = errors.New("malformed message")
)

// ConfidenceThresholds groups the detector's confidence cut-offs.
type ConfidenceThresholds struct {
	Detection float64 `json:"detection"`
	Presence  float64 `json:"presence"`
	Tracking  float64 `json:"tracking"`
}

// InitRequest configures the worker's detector and frame builder.
type InitRequest struct {
	NumHands             int                   `json:"numHands"`
	ConfidenceThresholds ConfidenceThresholds  `json:"confidenceThresholds"`
	DelegatePreference   detector.Delegate     `json:"delegatePreference"`
	ModelAssetPath       string                `json:"modelAssetPath"`
	RuntimeBasePath      string                `json:"runtimeBasePath"`
	PinchOptions         *gesture.PinchOptions `json:"pinchOptions,omitempty"`
	ResetPinchOnNoHand   *bool                 `json:"resetPinchOnNoHand,omitempty"`
	Smoothing            *filter.Params        `json:"smoothing,omitempty"`
}

// NewInitRequest builds an init request from the detector and builder settings.
func NewInitRequest(cfg detector.Config, opts frame.Options) InitRequest {
	pinch := opts.Pinch
	smoothing := opts.Smoothing
	reset := opts.ResetPinchOnNoHand
	return InitRequest{
		NumHands: cfg.NumHands,
		ConfidenceThresholds: ConfidenceThresholds{
			Detection: cfg.MinDetectionConfidence,
			Presence:  cfg.MinPresenceConfidence,
			Tracking:  cfg.MinTrackingConfidence,
		},
		DelegatePreference: cfg.Delegate,
		ModelAssetPath:     cfg.ModelAssetPath,
		RuntimeBasePath:    cfg.RuntimeBasePath,
		PinchOptions:       &pinch,
		ResetPinchOnNoHand: &reset,
		Smoothing:          &smoothing,
	}
}

// DetectorConfig extracts the detector configuration.
func (r InitRequest) DetectorConfig() detector.Config {
	return detector.Config{
		NumHands:               r.NumHands,
		MinDetectionConfidence: r.ConfidenceThresholds.Detection,
		MinPresenceConfidence:  r.ConfidenceThresholds.Presence,
		MinTrackingConfidence:  r.ConfidenceThresholds.Tracking,
		Delegate:               r.DelegatePreference,
		ModelAssetPath:         r.ModelAssetPath,
		RuntimeBasePath:        r.RuntimeBasePath,
	}
}

// FrameOptions extracts builder options, using defaults for omitted fields.
func (r InitRequest) FrameOptions() frame.Options {
	opts := frame.DefaultOptions()
	if r.PinchOptions != nil {
		opts.Pinch = *r.PinchOptions
	}
	if r.Smoothing != nil {
		opts.Smoothing = *r.Smoothing
	}
	if r.ResetPinchOnNoHand != nil {
		opts.ResetPinchOnNoHand = *r.ResetPinchOnNoHand
	}
	return opts
}

// InitResult reports whether the worker initialized.
type InitResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// FrameRequest submits one frame for processing.
type FrameRequest struct {
	ID           uint64       `json:"id"`
	SentAt       time.Time    `json:"sentAt"`
	TransferMode TransferMode `json:"transferMode"`
	Frame        FramePayload `json:"frame"`
}

// FrameResult answers the FrameRequest with the same ID.
type FrameResult struct {
	ID           uint64                  `json:"id"`
	OK           bool                    `json:"ok"`
	Frame        *frame.TrackedHandFrame `json:"frame,omitempty"`
	Error        string                  `json:"error,omitempty"`
	ProcessingMs float64                 `json:"processingMs"`
}

// ErrorMessage reports a worker-level failure not tied to a frame.
type ErrorMessage struct {
	Error string `json:"error"`
}

// Message is the tagged union carried by a Transport. Exactly the field
// matching Type is set; dispose carries no body.
type Message struct {
	Type        Type
	Init        *InitRequest
	Frame       *FrameRequest
	InitResult  *InitResult
	FrameResult *FrameResult
	Error       *ErrorMessage
}

// NewInit wraps an init request.
func NewInit(r InitRequest) Message {
	return Message{Type: TypeInit, Init: &r}
}

// NewFrame wraps a frame request.
func NewFrame(r FrameRequest) Message {
	return Message{Type: TypeFrame, Frame: &r}
}

// NewDispose returns a dispose message.
func NewDispose() Message {
	return Message{Type: TypeDispose}
}

// NewInitResult wraps an init result.
func NewInitResult(ok bool, message string) Message {
	return Message{Type: TypeInitResult, InitResult: &InitResult{OK: ok, Message: message}}
}

// NewFrameResult wraps a frame result.
func NewFrameResult(r FrameResult) Message {
	return Message{Type: TypeFrameResult, FrameResult: &r}
}

// NewError wraps a worker error.
func NewError(err error) Message {
	return Message{Type: TypeError, Error: &ErrorMessage{Error: err.Error()}}
}

// Validate checks that the body matching Type is present.
func (m Message) Validate() error {
	var ok bool
	switch m.Type {
	case TypeInit:
		ok = m.Init != nil
	case TypeFrame:
		ok = m.Frame != nil
	case TypeDispose:
		ok = true
	case TypeInitResult:
		ok = m.InitResult != nil
	case TypeFrameResult:
		ok = m.FrameResult != nil
	case TypeError:
		ok = m.Error != nil
	default:
		return ErrUnknownType
	}
	if !ok {
		return ErrMalformed
	}
	return nil
}
