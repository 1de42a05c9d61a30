package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/tracking"
	"github.com/ayusman/mudra/internal/worker"
)

func TestDefault_IsValidAndMatchesRuntimeDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	rt, err := cfg.ToRuntime()
	require.NoError(t, err)
	assert.Equal(t, tracking.DefaultConfig(), rt)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mudra.yaml")
	yaml := `
runtime:
  mode: worker
  target_fps: 60
  transfer_mode: imageData
  reset_pinch_on_no_hand: false
pinch:
  start_threshold: 0.04
  release_threshold: 0.06
  index_a: 4
  index_b: 8
detector:
  num_hands: 2
  model_asset_path: models/hand_landmarker.task
worker:
  kind: process
  path: ./mudra-worker
  args: ["-log-level", "debug"]
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	rt, err := cfg.ToRuntime()
	require.NoError(t, err)
	assert.Equal(t, tracking.ModeWorker, rt.Mode)
	assert.Equal(t, 60.0, rt.TargetFPS)
	assert.Equal(t, worker.TransferImageData, rt.TransferMode)
	assert.False(t, rt.ResetPinchOnNoHand)
	assert.Equal(t, 0.04, rt.Pinch.StartThreshold)
	assert.Equal(t, 2, rt.Detector.NumHands)
	assert.Equal(t, "models/hand_landmarker.task", rt.Detector.ModelAssetPath)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Smoothing, rt.Smoothing)
	assert.Equal(t, detector.DefaultConfig().MinDetectionConfidence, rt.Detector.MinDetectionConfidence)
	assert.Equal(t, Default().Camera, cfg.Camera)
	assert.Equal(t, Default().Server, cfg.Server)

	sp := cfg.Spawner(nil, nil)
	proc, ok := sp.(worker.Process)
	require.True(t, ok, "kind=process spawns the worker binary")
	assert.Equal(t, "./mudra-worker", proc.Path)
	assert.Equal(t, []string{"-log-level", "debug"}, proc.Args)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "syntax", yaml: "runtime: [", want: "failed to parse"},
		{name: "unknown mode", yaml: "runtime:\n  mode: gpu", want: "unknown mode"},
		{name: "zero fps", yaml: "runtime:\n  target_fps: 0", want: "target fps"},
		{name: "inverted pinch", yaml: "pinch:\n  start_threshold: 0.1\n  release_threshold: 0.05", want: "pinch"},
		{name: "process without path", yaml: "worker:\n  kind: process", want: "worker.path"},
		{name: "unknown worker kind", yaml: "worker:\n  kind: thread", want: "worker.kind"},
		{name: "bad camera", yaml: "camera:\n  fps: -1", want: "camera"},
		{name: "server without addr", yaml: "server:\n  addr: \"\"", want: "server.addr"},
		{name: "no store path", yaml: "store:\n  path: \"\"", want: "store.path"},
		{name: "bad log level", yaml: "log:\n  level: loud", want: "log.level"},
		{name: "bad log format", yaml: "log:\n  format: xml", want: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSpawner_DefaultsToInProcess(t *testing.T) {
	cfg := Default()
	_, ok := cfg.Spawner(detector.MockFactory(detector.NewMockDetector()), nil).(worker.InProcess)
	assert.True(t, ok)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Log = LogConfig{Level: "warn", Format: "json"}

	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "mode", "worker")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), "json handler: %s", out)
	assert.Contains(t, out, `"mode":"worker"`)
}
