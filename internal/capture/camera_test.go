package capture

import (
	"errors"
	"testing"

	"github.com/ayusman/mudra/internal/coords"
)

func TestNewCamera(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantFPS int
	}{
		{
			name:    "default config",
			cfg:     DefaultConfig(),
			wantFPS: DefaultFPS,
		},
		{
			name:    "device 1 at 60 fps",
			cfg:     Config{DeviceID: 1, Width: 1280, Height: 720, FPS: 60},
			wantFPS: 60,
		},
		{
			name:    "zero fps falls back to default",
			cfg:     Config{DeviceID: 2, Width: 640, Height: 480},
			wantFPS: DefaultFPS,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := NewCamera(tt.cfg)

			if cam == nil {
				t.Fatal("NewCamera returned nil")
			}

			if got := cam.FPS(); got != tt.wantFPS {
				t.Errorf("FPS() = %d, want %d", got, tt.wantFPS)
			}

			// Camera should not be running initially
			if cam.IsOpen() {
				t.Error("camera should not be running initially")
			}

			want := coords.Size{Width: float64(tt.cfg.Width), Height: float64(tt.cfg.Height)}
			if got := cam.Size(); got != want {
				t.Errorf("Size() = %+v, want %+v before the first read", got, want)
			}
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
		{name: "negative device", mutate: func(c *Config) { c.DeviceID = -1 }, wantErr: true},
		{name: "zero width", mutate: func(c *Config) { c.Width = 0 }, wantErr: true},
		{name: "zero fps", mutate: func(c *Config) { c.FPS = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestCamera_SetFPS(t *testing.T) {
	cam := NewCamera(DefaultConfig())

	tests := []struct {
		name    string
		fps     int
		wantFPS int
	}{
		{
			name:    "set to 10",
			fps:     10,
			wantFPS: 10,
		},
		{
			name:    "set to 1",
			fps:     1,
			wantFPS: 1,
		},
		{
			name:    "set to 0 should keep previous",
			fps:     0,
			wantFPS: 1, // Previous value
		},
		{
			name:    "set to negative should keep previous",
			fps:     -5,
			wantFPS: 1, // Previous value
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam.SetFPS(tt.fps)

			got := cam.FPS()
			if got != tt.wantFPS {
				t.Errorf("FPS() = %d, want %d", got, tt.wantFPS)
			}
		})
	}
}

func TestCamera_OpenClose_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cam := NewCamera(DefaultConfig())

	err := cam.Open()
	if err != nil {
		t.Skipf("skipping test - camera not available: %v", err)
	}

	if !cam.IsOpen() {
		t.Error("IsOpen() should return true after Open()")
	}

	mat, err := cam.ReadFrame()
	if err != nil {
		t.Errorf("ReadFrame() failed: %v", err)
	} else {
		if mat == nil {
			t.Error("ReadFrame() returned nil mat")
		} else if mat.Empty() {
			t.Error("ReadFrame() returned empty mat")
		} else {
			got := cam.Size()
			if got.Width != float64(mat.Cols()) || got.Height != float64(mat.Rows()) {
				t.Errorf("Size() = %+v, want %dx%d", got, mat.Cols(), mat.Rows())
			}
			mat.Close()
		}
	}

	err = cam.Close()
	if err != nil {
		t.Errorf("Close() failed: %v", err)
	}

	if cam.IsOpen() {
		t.Error("IsOpen() should return false after Close()")
	}
}

func TestCamera_ReadFrame_NotOpened(t *testing.T) {
	cam := NewCamera(DefaultConfig())

	_, err := cam.ReadFrame()
	if !errors.Is(err, ErrCameraNotOpen) {
		t.Errorf("ReadFrame() error = %v, want ErrCameraNotOpen", err)
	}
}

func TestCamera_Close_NotOpened(t *testing.T) {
	cam := NewCamera(DefaultConfig())

	// Close on not opened camera should not panic and return nil
	err := cam.Close()
	if err != nil {
		t.Errorf("Close() on not opened camera should return nil, got: %v", err)
	}
}
