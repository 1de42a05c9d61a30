package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/tray"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	headless := flag.Bool("headless", false, "run without the system tray")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mudra: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := run(&cfg, logger, *headless); err != nil {
		logger.Error("mudra failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, headless bool) error {
	trackingCfg, err := cfg.ToRuntime()
	if err != nil {
		return err
	}

	dataDir, err := dataDir()
	if err != nil {
		return err
	}

	dbPath := cfg.Store.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(dataDir, dbPath)
	}
	st, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", "path", st.Path())

	camera := capture.NewSharedCamera(capture.NewCamera(cfg.Camera))
	hub := server.NewFrameHub(logger)
	defer hub.Close()

	var t *tray.Tray
	if !headless {
		t = tray.New()
	}

	a, err := app.New(app.Config{
		Tracking: trackingCfg,
		Camera:   camera,
		Store:    st,
		Factory:  detector.MediaPipeFactory,
		Spawner:  cfg.Spawner(detector.MediaPipeFactory, logger),
		Logger:   logger,
		OnFrame:  hub.Publish,
		OnStatus: func(s app.Status) {
			if t != nil {
				t.Update(s)
			}
		},
	})
	if err != nil {
		return err
	}
	defer a.Stop()

	if err := a.Start(); err != nil {
		logger.Error("tracking did not start", "error", err)
	}

	dashboardURL := ""
	if cfg.Server.Enabled {
		webDir := findWebDir(dataDir)
		if webDir != "" {
			logger.Info("serving static files", "dir", webDir)
		}
		srv := server.New(server.Config{
			StaticDir: webDir,
			Store:     st,
			Preview:   camera,
			Runtime:   a,
			Frames:    hub,
			Logger:    logger,
		})
		dashboardURL = "http://" + dashboardHost(cfg.Server.Addr)
		go func() {
			logger.Info("starting server", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(cfg.Server.Addr); err != nil {
				logger.Error("server failed", "error", err)
			}
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	if t == nil {
		sig := <-sigs
		logger.Info("shutting down", "signal", sig.String())
		return nil
	}

	t.OnToggle(func(enabled bool) {
		if err := a.SetEnabled(enabled); err != nil {
			logger.Error("toggle tracking failed", "error", err)
		}
	})
	t.OnDashboard(func() {
		if dashboardURL == "" {
			logger.Warn("dashboard unavailable: server disabled")
			return
		}
		if err := openBrowser(dashboardURL); err != nil {
			logger.Warn("open dashboard failed", "url", dashboardURL, "error", err)
		}
	})
	t.Update(a.Status())

	go func() {
		sig := <-sigs
		logger.Info("shutting down", "signal", sig.String())
		t.Quit()
	}()
	t.Run()
	return nil
}

func dataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(homeDir, ".mudra")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dir, nil
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeWebDir := filepath.Join(dataDir, "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}

// dashboardHost turns a listen address into something a browser can reach.
func dashboardHost(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
