package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string `json:"-"`
	DatabaseDbname   string
	DatabaseSslmode  string
	DocumentPath     string // absolute path documents may be opened from
	OutputPath       string // absolute path file renders are written under
	RenderConfig
	MaintenanceInterval int // minutes between maintenance runs
	DocumentIdle        int // minutes before an unused document is closed
	RenderHistoryDays   int
}

// RenderConfig holds the settings shared by the server and the CLI
type RenderConfig struct {
	Engine          string
	AsyncMode       string
	MaxPixels       int64
	MaxParallel     int64
	DefaultPPI      float64
	InstanceTimeout time.Duration
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvFloat gets a positive float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		return defaultValue
	}
	return f
}

// getEnvDuration reads a whole number of seconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	secs := getEnvInt(key, -1)
	if secs < 0 {
		return defaultValue
	}
	return time.Duration(secs) * time.Second
}

// loadRenderConfig reads the rendering settings
func loadRenderConfig() RenderConfig {
	return RenderConfig{
		Engine:          getEnv("PDF_ENGINE", "pdfium"),
		AsyncMode:       getEnv("RENDER_ASYNC_MODE", "auto"),
		MaxPixels:       int64(getEnvInt("RENDER_MAX_PIXELS", 100_000_000)),
		MaxParallel:     int64(getEnvInt("RENDER_MAX_PARALLEL", 4)),
		DefaultPPI:      getEnvFloat("RENDER_DEFAULT_PPI", 72),
		InstanceTimeout: getEnvDuration("PDFIUM_INSTANCE_TIMEOUT_SECONDS", 30*time.Second),
	}
}

// absDir resolves a directory setting to an absolute path
func absDir(key, defaultValue string, logger *slog.Logger) string {
	rel := filepath.ToSlash(getEnv(key, defaultValue))
	abs, err := filepath.Abs(rel)
	if err != nil {
		logger.Error("Failed creating absolute path", "key", key, "path", rel, "error", err)
		return rel
	}
	return abs
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	serverConfigLive := ServerConfig{}

	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	// Server configuration
	serverConfigLive.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	serverConfigLive.ListenAddrIP = getEnv("SERVER_ADDR", "")

	// Database configuration
	serverConfigLive.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	serverConfigLive.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	serverConfigLive.DatabasePort = getEnv("DATABASE_PORT", "5432")
	serverConfigLive.DatabaseUser = getEnv("DATABASE_USER", "pdfpage")
	serverConfigLive.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	serverConfigLive.DatabaseDbname = getEnv("DATABASE_NAME", "pdfpage")
	serverConfigLive.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "")

	logger.Info("Database configuration loaded", "type", serverConfigLive.DatabaseType)

	serverConfigLive.DocumentPath = absDir("DOCUMENT_PATH", "documents", logger)
	serverConfigLive.OutputPath = absDir("OUTPUT_PATH", "renders", logger)
	if err := os.MkdirAll(serverConfigLive.OutputPath, os.ModePerm); err != nil {
		logger.Error("Unable to create output directory", "path", serverConfigLive.OutputPath, "error", err)
	}

	serverConfigLive.RenderConfig = loadRenderConfig()
	serverConfigLive.MaintenanceInterval = getEnvInt("MAINTENANCE_INTERVAL_MINUTES", 5)
	serverConfigLive.DocumentIdle = getEnvInt("DOCUMENT_IDLE_MINUTES", 30)
	serverConfigLive.RenderHistoryDays = getEnvInt("RENDER_HISTORY_DAYS", 30)

	fmt.Println("\n========================================")
	fmt.Println("   pdfpage - PDF page rendering service")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
		if ip, err := GetPreferredOutboundIP(); err == nil {
			fmt.Printf("Reachable at: http://%s:%s\n", ip, serverConfigLive.ListenAddrPort)
		}
	}
	fmt.Printf("Detailed logs: %s\n", getEnv("LOG_FILE", "pdfpage.log"))
	fmt.Println("Initializing...")

	logger.Info("Render configuration loaded",
		"engine", serverConfigLive.Engine,
		"asyncMode", serverConfigLive.AsyncMode,
		"maxPixels", serverConfigLive.MaxPixels,
		"maxParallel", serverConfigLive.MaxParallel,
		"documentPath", serverConfigLive.DocumentPath,
		"outputPath", serverConfigLive.OutputPath)

	return serverConfigLive, logger
}

// SetupCLI loads configuration for the one-shot command line renderer.
// Logs go to stderr unless LOG_OUTPUT says otherwise.
func SetupCLI() (RenderConfig, *slog.Logger) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	if os.Getenv("LOG_OUTPUT") == "" {
		os.Setenv("LOG_OUTPUT", "stderr")
	}
	if os.Getenv("LOG_LEVEL") == "" && !getEnvBool("PDFRENDER_VERBOSE", false) {
		os.Setenv("LOG_LEVEL", "warn")
	}
	logger := setupLogging()
	Logger = logger

	return loadRenderConfig(), logger
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "debug")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "file")
	var logWriter io.Writer

	switch logOutput {
	case "stdout":
		logWriter = os.Stdout
	case "stderr":
		logWriter = os.Stderr
	default:
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "pdfpage.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}

// GetPreferredOutboundIP gets preferred outbound IP of this machine
func GetPreferredOutboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP, nil
}

// CheckDirectory verifies that a directory exists and is writable
func CheckDirectory(path string, logger *slog.Logger) error {
	info, err := os.Stat(path)
	if err != nil {
		logger.Error("Cannot find directory at location specified", "path", path)
		return err
	}
	if !info.IsDir() {
		logger.Error("Path is not a directory", "path", path)
		return fmt.Errorf("%s is not a directory", path)
	}
	tmp, err := os.CreateTemp(path, ".write-check-*")
	if err != nil {
		logger.Error("Directory is not writable", "path", path, "error", err)
		return err
	}
	tmp.Close()
	os.Remove(tmp.Name())
	logger.Debug("Directory found and writable", "path", path)
	return nil
}
