package tracking

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ayusman/mudra/internal/worker"
)

func TestResolveMode(t *testing.T) {
	full := Capabilities{Worker: true, TransferableBitmap: true}

	tests := []struct {
		name   string
		mutate func(*Config)
		caps   Capabilities
		want   Resolution
	}{
		{
			name: "default prefers worker",
			caps: full,
			want: Resolution{Mode: ModeWorker, Reason: ReasonDefaultWorker},
		},
		{
			name:   "requested worker",
			mutate: func(c *Config) { c.Mode = ModeWorker },
			caps:   full,
			want:   Resolution{Mode: ModeWorker, Reason: ReasonRequestedWorker},
		},
		{
			name:   "requested main thread",
			mutate: func(c *Config) { c.Mode = ModeMainThread },
			caps:   full,
			want:   Resolution{Mode: ModeMainThread, Reason: ReasonRequestedMain},
		},
		{
			name:   "force wins over requested worker",
			mutate: func(c *Config) { c.Mode = ModeWorker; c.ForceMainThread = true },
			caps:   full,
			want:   Resolution{Mode: ModeMainThread, Reason: ReasonForced},
		},
		{
			name:   "requested main thread wins over disable switch",
			mutate: func(c *Config) { c.Mode = ModeMainThread; c.WorkerDisabled = true },
			caps:   full,
			want:   Resolution{Mode: ModeMainThread, Reason: ReasonRequestedMain},
		},
		{
			name:   "disable switch beats requested worker",
			mutate: func(c *Config) { c.Mode = ModeWorker; c.WorkerDisabled = true },
			caps:   full,
			want:   Resolution{Mode: ModeMainThread, Reason: ReasonWorkerDisabled},
		},
		{
			name:   "no worker support",
			mutate: func(c *Config) { c.Mode = ModeWorker },
			caps:   Capabilities{TransferableBitmap: true},
			want:   Resolution{Mode: ModeMainThread, Reason: ReasonNoWorker},
		},
		{
			name: "no transferable bitmap",
			caps: Capabilities{Worker: true},
			want: Resolution{Mode: ModeMainThread, Reason: ReasonNoBitmap},
		},
		{
			name:   "disable switch reported before capabilities",
			mutate: func(c *Config) { c.WorkerDisabled = true },
			caps:   Capabilities{},
			want:   Resolution{Mode: ModeMainThread, Reason: ReasonWorkerDisabled},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			assert.Equal(t, tt.want, ResolveMode(cfg, tt.caps))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "gpu" }, wantErr: true},
		{name: "unknown transfer mode", mutate: func(c *Config) { c.TransferMode = "shared" }, wantErr: true},
		{name: "image data transfer", mutate: func(c *Config) { c.TransferMode = worker.TransferImageData }},
		{name: "zero fps", mutate: func(c *Config) { c.TargetFPS = 0 }, wantErr: true},
		{name: "bad smoothing", mutate: func(c *Config) { c.Smoothing.MinCutoff = 0 }, wantErr: true},
		{name: "inverted pinch thresholds", mutate: func(c *Config) { c.Pinch.ReleaseThreshold = 0.01 }, wantErr: true},
		{name: "bad detector", mutate: func(c *Config) { c.Detector.NumHands = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}
