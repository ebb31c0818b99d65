package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/drummonds/pdfpage/config"
	"github.com/drummonds/pdfpage/database"
	"github.com/drummonds/pdfpage/pdfdoc"
	"github.com/drummonds/pdfpage/pdfengine"
	_ "github.com/drummonds/pdfpage/pdfengine/fake"
	"github.com/drummonds/pdfpage/server"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	database.Logger = Logger
	config.Logger = Logger
	server.Logger = Logger
	pdfdoc.Logger = Logger
	pdfengine.Logger = Logger
}

// openEngine applies the render settings and creates the configured engine.
// The settings must be in place before the first document is opened.
func openEngine(renderConfig config.RenderConfig) (pdfengine.Engine, error) {
	mode, err := pdfdoc.ParseAsyncMode(renderConfig.AsyncMode)
	if err != nil {
		return nil, err
	}
	pdfdoc.DefaultAsyncMode = mode
	if renderConfig.MaxParallel > 0 {
		pdfdoc.MaxParallelRenders = renderConfig.MaxParallel
	}
	if renderConfig.InstanceTimeout > 0 {
		pdfengine.PDFiumInstanceTimeout = renderConfig.InstanceTimeout
	}
	return pdfengine.New(renderConfig.Engine)
}

// newEcho creates the echo instance with middleware and the error handler
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Custom 404 handler
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		// the request logger has already handled it
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}

		if code == http.StatusNotFound {
			// Check if this is an API request
			if strings.HasPrefix(c.Request().URL.Path, "/api/") {
				c.JSON(http.StatusNotFound, map[string]string{
					"error":   "Not Found",
					"message": "The requested API endpoint does not exist",
					"path":    c.Request().URL.Path,
				})
				return
			}
			c.HTML(http.StatusNotFound, `<!DOCTYPE html>
<html>
<head><title>404 - Not Found</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 50px;">
	<h1>404 - Page Not Found</h1>
	<p>This server only answers under /api/.</p>
</body>
</html>`)
			return
		}

		// For other errors, use default handler
		e.DefaultHTTPErrorHandler(err, c)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				Logger.Warn("Request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			Logger.Debug("Request", attrs...)
			return nil
		},
	}))
	return e
}

func main() {
	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	// Show info banner if using ephemeral database
	if serverConfig.DatabaseType == "ephemeral" {
		fmt.Println("\n" + strings.Repeat("=", 50))
		fmt.Println("EPHEMERAL DATABASE MODE")
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println("• Database will be destroyed on exit")
		fmt.Println("• Render history is not kept between runs")
		fmt.Println(strings.Repeat("=", 50) + "\n")
	}

	Logger.Info("Setting up database", "type", serverConfig.DatabaseType)
	db, err := database.NewRepository(serverConfig)
	if err != nil {
		Logger.Error("Failed to set up database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	Logger.Info("Database setup complete")

	engine, err := openEngine(serverConfig.RenderConfig)
	if err != nil {
		Logger.Error("Failed to initialize PDF engine", "engine", serverConfig.Engine, "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	e := newEcho()
	serverHandler := server.NewServerHandler(db, e, serverConfig, engine)
	if err := serverHandler.StartupChecks(); err != nil {
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}
	Logger.Info("Startup checks complete")
	serverHandler.RegisterRoutes()

	schedules, err := serverHandler.InitializeSchedules()
	if err != nil {
		Logger.Error("Failed to initialize schedules", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serverConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}
	startErr := make(chan error, 1)
	go func() { startErr <- startServer(e, &serverConfig) }()

	select {
	case err := <-startErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Error("Failed to start server", "error", err)
		}
	case <-ctx.Done():
		Logger.Info("Shutting down")
	}

	<-schedules.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		Logger.Warn("HTTP server did not shut down cleanly", "error", err)
	}
	serverHandler.Shutdown()
}

// startServer starts echo, trying the next port when the configured one is taken
func startServer(e *echo.Echo, serverConfig *config.ServerConfig) error {
	maxRetries := 5
	startPort := serverConfig.ListenAddrPort

	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)

		err := e.Start(addr)
		if err == nil || !isAddressInUse(err) {
			return err
		}
		Logger.Warn("Port already in use, trying next port",
			"port", serverConfig.ListenAddrPort,
			"attempt", attempt+1,
			"max_attempts", maxRetries)

		// Increment port for next attempt
		portNum := 0
		fmt.Sscanf(serverConfig.ListenAddrPort, "%d", &portNum)
		portNum++
		serverConfig.ListenAddrPort = fmt.Sprintf("%d", portNum)
		if serverConfig.ListenAddrPort != startPort {
			Logger.Warn("Server will use an alternative port due to conflicts",
				"requested_port", startPort,
				"next_port", serverConfig.ListenAddrPort)
		}
	}
	return fmt.Errorf("no available port after %d attempts starting at %s", maxRetries, startPort)
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "address already in use")
}
