package startup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"chromi/internal/logging"

	"github.com/caarlos0/env/v10"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// Queue and token backends.
const (
	BackendNone   = "none"
	BackendLocal  = "local"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration. It is built once at startup
// and passed explicitly to every component that needs it.
type Config struct {
	Port           string `env:"PORT" envDefault:"8000"`
	MetricsPort    string `env:"METRICS_PORT" envDefault:"9090"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	WorkDir        string `env:"WORK_DIR" envDefault:"./media"`
	StaticDir      string `env:"STATIC_DIR" envDefault:"./static"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"104857600"`

	FFmpegPath       string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath      string        `env:"FFPROBE_PATH" envDefault:"ffprobe"`
	TranscodeTimeout time.Duration `env:"TRANSCODE_TIMEOUT" envDefault:"120s"`
	GIFFPS           int           `env:"GIF_FPS" envDefault:"15"`
	GIFMaxWidth      int           `env:"GIF_MAX_WIDTH" envDefault:"1280"`
	GIFMaxHeight     int           `env:"GIF_MAX_HEIGHT" envDefault:"720"`
	FallbackEnabled  bool          `env:"FALLBACK_ENABLED" envDefault:"true"`
	VipsEnabled      bool          `env:"VIPS_ENABLED" envDefault:"false"`

	TokenBackend  string        `env:"TOKEN_BACKEND" envDefault:"memory"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" envDefault:"600s"`
	TokenCapacity int           `env:"TOKEN_CAPACITY" envDefault:"1024"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`

	QueueBackend string `env:"QUEUE_BACKEND" envDefault:"none"`
	UseRQ        bool   `env:"USE_RQ" envDefault:"false"`
	QueueWorkers int    `env:"QUEUE_WORKERS" envDefault:"0"`
	RedisURL     string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	LogStaticFiles  bool   `env:"LOG_STATIC_FILES" envDefault:"false"`
	LogHealthChecks bool   `env:"LOG_HEALTH_CHECKS" envDefault:"true"`
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Derived paths
	UploadDir    string
	ConvertedDir string

	// Feature flag based on directory availability
	TranscodingEnabled bool
}

// Parse reads the configuration from environ (or the process environment when
// environ is nil), applies defaults and validates it. It performs no I/O.
func Parse(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OrphanAge is how old a work file must be before nobody can still own it:
// the token lifetime plus a primary and a fallback attempt. Queued jobs
// still waiting after this long have lost their upload.
func (c *Config) OrphanAge() time.Duration {
	return c.TokenTTL + 2*c.TranscodeTimeout
}

func (c *Config) normalize() error {
	c.QueueBackend = strings.ToLower(strings.TrimSpace(c.QueueBackend))
	c.TokenBackend = strings.ToLower(strings.TrimSpace(c.TokenBackend))

	// USE_RQ is the switch older deployments used for the Redis queue.
	if c.UseRQ && c.QueueBackend == BackendNone {
		c.QueueBackend = BackendRedis
	}

	switch c.QueueBackend {
	case BackendNone, BackendLocal, BackendRedis:
	default:
		return fmt.Errorf("invalid QUEUE_BACKEND %q (want none, local or redis)", c.QueueBackend)
	}

	switch c.TokenBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("invalid TOKEN_BACKEND %q (want memory or redis)", c.TokenBackend)
	}

	// Tokens minted by a separate worker process must be visible to the server.
	if c.QueueBackend == BackendRedis && c.TokenBackend != BackendRedis {
		c.TokenBackend = BackendRedis
	}

	if c.TranscodeTimeout <= 0 {
		return errors.New("TRANSCODE_TIMEOUT must be positive")
	}
	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	if c.GIFFPS <= 0 || c.GIFMaxWidth <= 0 || c.GIFMaxHeight <= 0 {
		return errors.New("GIF_FPS, GIF_MAX_WIDTH and GIF_MAX_HEIGHT must be positive")
	}
	if c.TokenCapacity <= 0 {
		c.TokenCapacity = 1024
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}

	c.UploadDir = filepath.Join(c.WorkDir, "uploads")
	c.ConvertedDir = filepath.Join(c.WorkDir, "converted")
	return nil
}

// LoadConfig loads an optional .env file, parses the environment and prepares
// the working directories.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn("Failed to load .env file: %v", err)
	}

	cfg, err := Parse(nil)
	if err != nil {
		return nil, err
	}

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  PORT:                %s", cfg.Port)
	logging.Info("  METRICS_PORT:        %s", cfg.MetricsPort)
	logging.Info("  METRICS_ENABLED:     %v", cfg.MetricsEnabled)
	logging.Info("  WORK_DIR:            %s", cfg.WorkDir)
	logging.Info("  MAX_UPLOAD_BYTES:    %s", formatBytesStartup(cfg.MaxUploadBytes))
	logging.Info("  TRANSCODE_TIMEOUT:   %v", cfg.TranscodeTimeout)
	logging.Info("  GIF:                 %d fps, max %dx%d", cfg.GIFFPS, cfg.GIFMaxWidth, cfg.GIFMaxHeight)
	logging.Info("  FALLBACK_ENABLED:    %v", cfg.FallbackEnabled)
	logging.Info("  TOKEN_BACKEND:       %s", cfg.TokenBackend)
	logging.Info("  TOKEN_TTL:           %v", cfg.TokenTTL)
	logging.Info("  QUEUE_BACKEND:       %s", cfg.QueueBackend)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work directory path: %w", err)
	}
	cfg.WorkDir = workDir
	cfg.UploadDir = filepath.Join(workDir, "uploads")
	cfg.ConvertedDir = filepath.Join(workDir, "converted")
	logging.Info("  Work directory (absolute): %s", workDir)

	if err := ensureDirectory(workDir, "work"); err != nil {
		return nil, fmt.Errorf("work directory error: %w", err)
	}

	cfg.TranscodingEnabled = setupOptionalDir(cfg.UploadDir, "uploads") &&
		setupOptionalDir(cfg.ConvertedDir, "converted")

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Conversion:  %s", enabledString(cfg.TranscodingEnabled))
	logging.Info("    Async queue: %s", enabledString(cfg.QueueBackend != BackendNone))
	logging.Info("    Metrics:     %s", enabledString(cfg.MetricsEnabled))
	logging.Info("    Tracing:     %s", enabledString(cfg.OTLPEndpoint != ""))

	return cfg, nil
}

func setupOptionalDir(path, name string) bool {
	logging.Debug("  Setting up %s directory: %s", name, path)

	if err := os.MkdirAll(path, 0o755); err != nil {
		logging.Warn("    Failed to create %s directory: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}

	if err := testWriteAccess(path); err != nil {
		logging.Warn("    %s directory is not writable: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}

	logging.Debug("    [OK] %s directory ready", name)
	return true
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// MemoryConfig mirrors memory.Limit for startup logging.
type MemoryConfig struct {
	Configured     bool
	Source         string
	ContainerLimit int64
	GoMemLimit     int64
	Ratio          float64
}

// LogMemoryConfig logs the GOMEMLIMIT configuration
func LogMemoryConfig(mc MemoryConfig) {
	if !mc.Configured {
		logging.Info("  Memory limit: not configured (set MEMORY_LIMIT or GOMEMLIMIT)")
		return
	}

	switch mc.Source {
	case "GOMEMLIMIT":
		logging.Info("  Memory limit: %s (GOMEMLIMIT)", formatBytesStartup(mc.GoMemLimit))
	default:
		logging.Info("  Memory limit: %s of %s container limit (%.0f%%)",
			formatBytesStartup(mc.GoMemLimit), formatBytesStartup(mc.ContainerLimit), mc.Ratio*100)
	}
}

// LogTranscoderInit logs transcoder initialization and checks FFmpeg
func LogTranscoderInit(cfg *Config) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("TRANSCODER INITIALIZATION")
	logging.Info("------------------------------------------------------------")

	if !cfg.TranscodingEnabled {
		logging.Warn("  Conversion disabled (work directory not writable)")
		logging.Warn("  Every /convert request will fail")
		return
	}

	if err := CheckBinary(cfg.FFmpegPath); err != nil {
		logging.Warn("  FFmpeg check failed: %v", err)
		logging.Warn("  Conversions will fail until ffmpeg is on PATH")
	} else {
		logging.Info("  [OK] FFmpeg is available")
	}

	if err := CheckBinary(cfg.FFprobePath); err != nil {
		logging.Warn("  FFprobe check failed: %v", err)
		logging.Warn("  Start time will only be validated after conversion")
	} else {
		logging.Info("  [OK] FFprobe is available")
	}

	if cfg.FallbackEnabled {
		logging.Info("  Fallback frame encoder: ENABLED")
	}
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			// Catch-all handlers registered with PathPrefix have a template;
			// anything else without one is skipped.
			return nil
		}

		methods, err := route.GetMethods()
		if err != nil {
			// Route might not have methods specified (e.g., static file server)
			methods = []string{"*"}
		}

		name := route.GetName()

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   name,
			})
		}

		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logStaticFiles, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		// Group routes by prefix for cleaner output
		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}

			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logStaticFiles {
		logging.Info("    Static file logging: ON")
	} else {
		logging.Info("    Static file logging: OFF (set LOG_STATIC_FILES=true to enable)")
	}
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Application:   http://0.0.0.0:%s", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
   CHROMI  -  video clip to looping GIF background
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

// CheckBinary verifies that an external tool is on PATH and answers -version.
func CheckBinary(name string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", name)
	}
	logging.Debug("  %s path: %s", name, path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return fmt.Errorf("failed to get %s version: %w", name, err)
	}

	if line, _, _ := strings.Cut(string(output), "\n"); line != "" {
		logging.Debug("  %s version: %s", name, strings.TrimSpace(line))
	}

	return nil
}

func formatBytesStartup(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
