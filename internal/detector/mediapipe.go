package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// idleShutdown is how long the Python service may sit unused before it is stopped.
const idleShutdown = 30 * time.Second

const serviceScript = "mediapipe_service.py"

// MediaPipeDetector implements Detector using a Python MediaPipe subprocess.
type MediaPipeDetector struct {
	config    Config
	script    string
	python    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewMediaPipeDetector creates a new MediaPipe detector.
// The Python process is started lazily on first detection.
func NewMediaPipeDetector(config Config) (*MediaPipeDetector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	scriptPath := findMediaPipeScript(config.RuntimeBasePath)
	if scriptPath == "" {
		return nil, fmt.Errorf("%s not found", serviceScript)
	}

	pythonPath := findVenvPython(config.RuntimeBasePath)
	if pythonPath == "" {
		pythonPath = "python3"
	}

	return &MediaPipeDetector{
		config: config,
		script: scriptPath,
		python: pythonPath,
	}, nil
}

// MediaPipeFactory is a Factory backed by NewMediaPipeDetector.
func MediaPipeFactory(cfg Config) (Detector, error) {
	return NewMediaPipeDetector(cfg)
}

// Detect analyzes a frame and returns detected hand landmarks.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	// Encode frame as JPEG
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	// Write length (4 bytes big-endian) + data
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := d.stdin.Write(length); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := d.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	result, err := decodeHands([]byte(line))
	if err != nil {
		return nil, err
	}

	d.resetIdleTimer()

	return result, nil
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

// args renders the detector configuration as service flags.
func (d *MediaPipeDetector) args() []string {
	args := []string{
		d.script,
		"--num-hands", strconv.Itoa(d.config.NumHands),
		"--min-detection-confidence", strconv.FormatFloat(d.config.MinDetectionConfidence, 'f', -1, 64),
		"--min-presence-confidence", strconv.FormatFloat(d.config.MinPresenceConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(d.config.MinTrackingConfidence, 'f', -1, 64),
	}
	if d.config.Delegate != "" {
		args = append(args, "--delegate", string(d.config.Delegate))
	}
	if d.config.ModelAssetPath != "" {
		args = append(args, "--model", d.config.ModelAssetPath)
	}
	return args
}

func (d *MediaPipeDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	d.cmd = exec.Command(d.python, d.args()...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// stdout carries the protocol; the service logs on stderr.
	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start mediapipe service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	slog.Info("mediapipe service started",
		"script", d.script,
		"pid", d.cmd.Process.Pid,
		"num_hands", d.config.NumHands,
		"delegate", d.config.Delegate)

	return nil
}

func (d *MediaPipeDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	slog.Debug("mediapipe service stopped", "error", err)
	return err
}

func (d *MediaPipeDetector) resetIdleTimer() {
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(idleShutdown, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

// findMediaPipeScript looks for the service script under base first, then in
// the usual locations relative to the working directory and executable.
func findMediaPipeScript(base string) string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	var candidates []string
	if base != "" {
		candidates = append(candidates,
			filepath.Join(base, serviceScript),
			filepath.Join(base, "scripts", serviceScript),
		)
	}
	candidates = append(candidates,
		filepath.Join("scripts", serviceScript),
		filepath.Join("..", "scripts", serviceScript),
		filepath.Join(execDir, "scripts", serviceScript),
		filepath.Join(os.Getenv("HOME"), ".mudra", "scripts", serviceScript),
	)

	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython(base string) string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	var candidates []string
	if base != "" {
		candidates = append(candidates, filepath.Join(base, "venv", "bin", "python"))
	}
	candidates = append(candidates,
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".mudra/venv/bin/python"),
	)

	return firstExisting(candidates)
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// decodeHands parses one service reply. Hands missing landmarks are dropped
// so callers can index every landmark of a returned hand.
func decodeHands(line []byte) ([]HandLandmarks, error) {
	var response struct {
		Hands []jsonHand `json:"hands"`
		Error string     `json:"error,omitempty"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("mediapipe service: %s", response.Error)
	}

	result := make([]HandLandmarks, 0, len(response.Hands))
	for _, h := range response.Hands {
		hand := h.toHandLandmarks()
		if !hand.Complete() {
			continue
		}
		result = append(result, hand)
	}
	return result, nil
}

// jsonHand represents the JSON structure from the Python service.
type jsonHand struct {
	Points     []Point3D `json:"points"`
	Handedness string    `json:"handedness"`
	Score      float64   `json:"score"`
}

func (h jsonHand) toHandLandmarks() HandLandmarks {
	n := len(h.Points)
	if n > NumLandmarks {
		n = NumLandmarks
	}
	points := make([]Point3D, n)
	copy(points, h.Points[:n])

	return HandLandmarks{
		Points:     points,
		Handedness: h.Handedness,
		Score:      h.Score,
	}
}
