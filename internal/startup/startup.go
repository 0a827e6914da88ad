// Package startup loads configuration from the environment, validates the
// runtime prerequisites, and logs the startup sequence.
package startup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"media-pipeline/internal/convert"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/reconcile"
	"media-pipeline/internal/storage"
	"media-pipeline/internal/transcode"
	"media-pipeline/internal/workers"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
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

// StorageBackend selects the object store implementation.
type StorageBackend string

const (
	BackendLocal StorageBackend = "local"
	BackendMinio StorageBackend = "minio"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	MetricsPort string

	DataDir      string
	WorkDir      string
	DatabasePath string

	Backend      StorageBackend
	StorageDir   string
	BaseURL      string
	Minio        storage.MinioConfig
	MaxUploadMB  int64
	VideoEnabled bool

	Transcode transcode.Config
	Convert   convert.Config
	// ConvertFallback selects the pure-Go JPEG encoder instead of libvips,
	// for hosts where libvips cannot be installed.
	ConvertFallback bool

	ReconcileInterval time.Duration
	Reconcile         reconcile.Options
}

// LoadConfig loads and validates configuration from environment variables.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		MetricsPort: getEnv("METRICS_PORT", "9090"),
		DataDir:     getEnv("DATA_DIR", "/data"),
		WorkDir:     getEnv("WORK_DIR", os.TempDir()),
		Backend:     StorageBackend(strings.ToLower(getEnv("STORAGE_BACKEND", "local"))),
		StorageDir:  getEnv("STORAGE_DIR", "/objects"),
		BaseURL:     getEnv("STORAGE_BASE_URL", "/objects"),
		MaxUploadMB: int64(getEnvInt("MAX_UPLOAD_MB", 2048)),
	}
	cfg.DatabasePath = filepath.Join(cfg.DataDir, "pipeline.db")

	cfg.Minio = storage.MinioConfig{
		Endpoint:        getEnv("MINIO_ENDPOINT", ""),
		AccessKeyID:     getEnv("MINIO_ACCESS_KEY", ""),
		SecretAccessKey: getEnv("MINIO_SECRET_KEY", ""),
		Bucket:          getEnv("MINIO_BUCKET", "media-pipeline"),
		UseSSL:          getEnvBool("MINIO_USE_SSL", false),
		PublicBaseURL:   getEnv("MINIO_PUBLIC_URL", ""),
	}

	cfg.Transcode = transcode.Config{
		Concurrency:        getEnvInt("TRANSCODE_WORKERS", workers.ForCPU(8)),
		JobTimeout:         getEnvDuration("TRANSCODE_TIMEOUT", 30*time.Minute),
		MaxStartsPerMinute: getEnvInt("TRANSCODE_MAX_STARTS_PER_MINUTE", 0),
		DelayRequeue:       getEnvDuration("TRANSCODE_DELAY_REQUEUE", 5*time.Second),
	}

	cfg.Convert = convert.DefaultConfig()
	cfg.Convert.Concurrency = getEnvInt("CONVERT_WORKERS", workers.ForCPU(4))
	cfg.Convert.ClaimDelay = getEnvDuration("CONVERT_CLAIM_DELAY", 500*time.Millisecond)
	cfg.Convert.TaskTimeout = getEnvDuration("CONVERT_TIMEOUT", 5*time.Minute)
	cfg.Convert.Normal.Enabled = getEnvBool("CONVERT_NORMAL_ENABLED", true)
	cfg.Convert.Normal.Quality = getEnvInt("CONVERT_NORMAL_QUALITY", 80)
	cfg.Convert.Large.Enabled = getEnvBool("CONVERT_LARGE_ENABLED", true)
	cfg.Convert.Large.Quality = getEnvInt("CONVERT_LARGE_QUALITY", 65)
	cfg.Convert.Animated.Enabled = getEnvBool("CONVERT_ANIMATED_ENABLED", true)
	cfg.Convert.Animated.Quality = getEnvInt("CONVERT_ANIMATED_QUALITY", 70)
	cfg.Convert.LargeThresholdBytes = int64(getEnvInt("CONVERT_LARGE_THRESHOLD_MB", 5)) * 1024 * 1024
	cfg.Convert.Effort = getEnvInt("CONVERT_EFFORT", 4)
	cfg.ConvertFallback = getEnvBool("CONVERT_FALLBACK_JPEG", false)
	if cfg.ConvertFallback {
		// The fallback encoder cannot preserve animation frames.
		cfg.Convert.Animated.Enabled = false
	}

	cfg.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", 6*time.Hour)
	cfg.Reconcile = reconcile.Options{
		DryRun:  getEnvBool("RECONCILE_DRY_RUN", true),
		MinAge:  getEnvDuration("RECONCILE_MIN_AGE", time.Hour),
		MaxSize: int64(getEnvInt("RECONCILE_MAX_SIZE_MB", 1024)) * 1024 * 1024,
	}

	logging.Info("  PORT:                %s", cfg.Port)
	logging.Info("  METRICS_PORT:        %s", cfg.MetricsPort)
	logging.Info("  DATA_DIR:            %s", cfg.DataDir)
	logging.Info("  WORK_DIR:            %s", cfg.WorkDir)
	logging.Info("  STORAGE_BACKEND:     %s", cfg.Backend)
	if cfg.Backend == BackendMinio {
		logging.Info("  MINIO_ENDPOINT:      %s", cfg.Minio.Endpoint)
		logging.Info("  MINIO_BUCKET:        %s", cfg.Minio.Bucket)
	} else {
		logging.Info("  STORAGE_DIR:         %s", cfg.StorageDir)
	}
	logging.Info("  STORAGE_BASE_URL:    %s", cfg.BaseURL)
	logging.Info("  MAX_UPLOAD_MB:       %d", cfg.MaxUploadMB)
	logging.Info("  TRANSCODE_WORKERS:   %d", cfg.Transcode.Concurrency)
	logging.Info("  TRANSCODE_TIMEOUT:   %s", cfg.Transcode.JobTimeout)
	logging.Info("  CONVERT_WORKERS:     %d", cfg.Convert.Concurrency)
	logging.Info("  CONVERT_CLAIM_DELAY: %s", cfg.Convert.ClaimDelay)
	if cfg.ConvertFallback {
		logging.Info("  CONVERT_FALLBACK_JPEG: true (animated conversion disabled)")
	}
	logging.Info("  RECONCILE_INTERVAL:  %s", cfg.ReconcileInterval)
	logging.Info("  RECONCILE_DRY_RUN:   %v", cfg.Reconcile.DryRun)
	logging.Info("  LOG_LEVEL:           %s", logging.GetLevel())
	logging.Info("")

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	logging.Info("------------------------------------------------------------")
	logging.Info("VALIDATION")
	logging.Info("------------------------------------------------------------")

	switch cfg.Backend {
	case BackendLocal:
		if err := ensureDirectory(cfg.StorageDir, "storage"); err != nil {
			return fmt.Errorf("storage directory %s: %w", cfg.StorageDir, err)
		}
		if err := testWriteAccess(cfg.StorageDir); err != nil {
			return fmt.Errorf("storage directory %s not writable: %w", cfg.StorageDir, err)
		}
	case BackendMinio:
		if cfg.Minio.Endpoint == "" {
			return fmt.Errorf("STORAGE_BACKEND=minio requires MINIO_ENDPOINT")
		}
		if cfg.Minio.AccessKeyID == "" || cfg.Minio.SecretAccessKey == "" {
			return fmt.Errorf("STORAGE_BACKEND=minio requires MINIO_ACCESS_KEY and MINIO_SECRET_KEY")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q (want local or minio)", cfg.Backend)
	}

	if err := ensureDirectory(cfg.DataDir, "data"); err != nil {
		return fmt.Errorf("data directory %s: %w", cfg.DataDir, err)
	}
	if err := testWriteAccess(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory %s not writable: %w", cfg.DataDir, err)
	}
	if err := ensureDirectory(cfg.WorkDir, "work"); err != nil {
		return fmt.Errorf("work directory %s: %w", cfg.WorkDir, err)
	}

	cfg.VideoEnabled = true
	if err := checkFFmpeg(); err != nil {
		logging.Warn("  FFmpeg unavailable, video transcoding disabled: %v", err)
		cfg.VideoEnabled = false
	} else {
		logging.Info("  [OK] FFmpeg available")
	}

	logging.Info("  [OK] Configuration valid")
	logging.Info("")
	return nil
}

// LogServerStarted announces the listening sockets.
func LogServerStarted(port, metricsPort string) {
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER READY")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Application:  http://0.0.0.0:%s", port)
	logging.Info("  Metrics:      http://0.0.0.0:%s/metrics", metricsPort)
	logging.Info("")
}

// LogShutdownInitiated marks the start of graceful shutdown.
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN (%s)", signal)
	logging.Info("------------------------------------------------------------")
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
    __  ___         ___       ____  _            ___
   /  |/  /__  ____/ (_)___ _/ __ \(_)___  ___  / (_)___  ___
  / /|_/ / _ \/ __  / / __ '/ /_/ / / __ \/ _ \/ / / __ \/ _ \
 / /  / /  __/ /_/ / / /_/ / ____/ / /_/ /  __/ / / / / /  __/
/_/  /_/\___/\__,_/_/\__,_/_/   /_/ .___/\___/_/_/_/ /_/\___/
                                 /_/
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

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}
	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
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
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
		// Don't return error since write access was confirmed
	}
	return nil
}

func checkFFmpeg() error {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not found in PATH")
	}
	logging.Debug("  FFmpeg path: %s", path)

	if _, err := exec.LookPath("ffprobe"); err != nil {
		return fmt.Errorf("ffprobe not found in PATH")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", "-version")
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		logging.Debug("  FFmpeg version: %s", strings.TrimSpace(lines[0]))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("Invalid duration value for %s: %q, using default: %s", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// NewObjectStore builds the configured storage backend.
func NewObjectStore(ctx context.Context, cfg *Config) (storage.ObjectStore, error) {
	switch cfg.Backend {
	case BackendMinio:
		return storage.NewMinioStore(ctx, cfg.Minio)
	default:
		return storage.NewLocalStore(cfg.StorageDir, cfg.BaseURL)
	}
}
