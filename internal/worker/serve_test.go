package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/frame"
	"github.com/ayusman/mudra/internal/gesture"
)

type harness struct {
	main   Transport
	served chan error
}

func startWorker(t *testing.T, factory detector.Factory) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	mainEnd, workerEnd := Pipe()

	h := &harness{main: mainEnd, served: make(chan error, 1)}
	go func() { h.served <- Serve(ctx, workerEnd, factory, nil) }()

	t.Cleanup(func() {
		cancel()
		mainEnd.Close()
	})
	return h
}

func (h *harness) recv(t *testing.T) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := h.main.Receive(ctx)
	require.NoError(t, err)
	return m
}

func (h *harness) init(t *testing.T) {
	t.Helper()
	require.NoError(t, h.main.Send(NewInit(NewInitRequest(detector.DefaultConfig(), frame.DefaultOptions()))))
	reply := h.recv(t)
	require.Equal(t, TypeInitResult, reply.Type)
	require.True(t, reply.InitResult.OK, reply.InitResult.Message)
}

func sendFrame(t *testing.T, tr Transport, id uint64, mode TransferMode) {
	t.Helper()
	mat := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	var payload FramePayload
	if mode == TransferBitmap {
		payload = BitmapPayload(&mat)
	} else {
		payload = ImageDataPayload(mat)
		mat.Close()
	}
	require.NoError(t, tr.Send(NewFrame(FrameRequest{
		ID:           id,
		SentAt:       time.Now(),
		TransferMode: mode,
		Frame:        payload,
	})))
}

func TestServe_FrameLifecycle(t *testing.T) {
	mock := detector.NewMockDetector()
	mock.SetHands([]detector.HandLandmarks{detector.PinchLandmarks(0.02)})
	h := startWorker(t, detector.MockFactory(mock))

	h.init(t)

	for i, mode := range []TransferMode{TransferBitmap, TransferImageData} {
		id := uint64(i + 1)
		sendFrame(t, h.main, id, mode)

		reply := h.recv(t)
		require.Equal(t, TypeFrameResult, reply.Type)
		res := reply.FrameResult
		assert.Equal(t, id, res.ID)
		require.True(t, res.OK, res.Error)
		require.NotNil(t, res.Frame)
		assert.Equal(t, 1, res.Frame.HandCount)
		assert.True(t, res.Frame.Pinch.State.IsPinching)
		assert.GreaterOrEqual(t, res.ProcessingMs, 0.0)
	}

	// Pinch state persists across frames inside the worker.
	sendFrame(t, h.main, 3, TransferImageData)
	third := h.recv(t).FrameResult
	require.True(t, third.OK, third.Error)
	assert.Equal(t, gesture.TransitionContinue, third.Frame.Pinch.Transition)

	require.NoError(t, h.main.Send(NewDispose()))
	select {
	case err := <-h.served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after dispose")
	}
	assert.True(t, mock.Closed(), "dispose closes the detector")
}

func TestServe_FrameBeforeInit(t *testing.T) {
	h := startWorker(t, detector.MockFactory(detector.NewMockDetector()))

	sendFrame(t, h.main, 9, TransferImageData)
	reply := h.recv(t)

	require.Equal(t, TypeFrameResult, reply.Type)
	assert.Equal(t, uint64(9), reply.FrameResult.ID)
	assert.False(t, reply.FrameResult.OK)
	assert.Contains(t, reply.FrameResult.Error, ErrNotInitialized.Error())
}

func TestServe_InitFailure(t *testing.T) {
	failing := func(detector.Config) (detector.Detector, error) {
		return nil, errors.New("model asset not found")
	}
	h := startWorker(t, failing)

	require.NoError(t, h.main.Send(NewInit(InitRequest{NumHands: 1})))
	reply := h.recv(t)

	require.Equal(t, TypeInitResult, reply.Type)
	assert.False(t, reply.InitResult.OK)
	assert.Equal(t, "model asset not found", reply.InitResult.Message)
}

func TestServe_InvalidPinchOptionsFailInit(t *testing.T) {
	h := startWorker(t, detector.MockFactory(detector.NewMockDetector()))

	bad := gesture.PinchOptions{StartThreshold: 0.1, ReleaseThreshold: 0.05}
	require.NoError(t, h.main.Send(NewInit(InitRequest{NumHands: 1, PinchOptions: &bad})))
	reply := h.recv(t)

	assert.False(t, reply.InitResult.OK)
	assert.Contains(t, reply.InitResult.Message, "invalid pinch options")
}

func TestServe_DetectErrorFailsFrameOnly(t *testing.T) {
	mock := detector.NewMockDetector()
	h := startWorker(t, detector.MockFactory(mock))
	h.init(t)

	mock.SetError(errors.New("inference failed"))
	sendFrame(t, h.main, 1, TransferImageData)
	reply := h.recv(t)
	assert.False(t, reply.FrameResult.OK)
	assert.Contains(t, reply.FrameResult.Error, "inference failed")

	mock.SetError(nil)
	sendFrame(t, h.main, 2, TransferImageData)
	reply = h.recv(t)
	assert.True(t, reply.FrameResult.OK, "worker keeps running after a failed frame")
}

func TestServe_UnexpectedMessages(t *testing.T) {
	h := startWorker(t, detector.MockFactory(detector.NewMockDetector()))

	tests := []struct {
		name string
		msg  Message
	}{
		{name: "reply type sent to worker", msg: NewInitResult(true, "")},
		{name: "missing body", msg: Message{Type: TypeFrame}},
		{name: "unknown type", msg: Message{Type: "resize"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, h.main.Send(tt.msg))
			reply := h.recv(t)
			assert.Equal(t, TypeError, reply.Type)
			assert.NotEmpty(t, reply.Error.Error)
		})
	}
}

type panicDetector struct{}

func (panicDetector) Detect(*gocv.Mat) ([]detector.HandLandmarks, error) { panic("nil model") }
func (panicDetector) Close() error                                         { return nil }

func TestServe_RecoversPanic(t *testing.T) {
	h := startWorker(t, func(detector.Config) (detector.Detector, error) { return panicDetector{}, nil })
	h.init(t)

	sendFrame(t, h.main, 1, TransferImageData)
	reply := h.recv(t)

	require.Equal(t, TypeError, reply.Type)
	assert.Contains(t, reply.Error.Error, "nil model")
}

func TestServe_ReturnsWhenTransportCloses(t *testing.T) {
	h := startWorker(t, detector.MockFactory(detector.NewMockDetector()))
	require.NoError(t, h.main.Close())

	select {
	case err := <-h.served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after close")
	}
}

func TestPipe_ClosedEndsReject(t *testing.T) {
	a, b := Pipe()
	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.Send(NewDispose()), ErrClosed)
	_, err := b.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInProcess_Spawn(t *testing.T) {
	mock := detector.NewMockDetector()
	sp := InProcess{Factory: detector.MockFactory(mock)}
	assert.True(t, sp.SupportsBitmap())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr, err := sp.Spawn(ctx)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Send(NewInit(InitRequest{NumHands: 1})))
	rctx, rcancel := context.WithTimeout(ctx, 2*time.Second)
	defer rcancel()
	reply, err := tr.Receive(rctx)
	require.NoError(t, err)
	assert.True(t, reply.InitResult.OK)
}
