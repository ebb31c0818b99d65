package server

import (
	"fmt"
	"os"

	"github.com/drummonds/pdfpage/config"
	"github.com/drummonds/pdfpage/database"
)

// StartupChecks performs all the checks to make sure everything works
func (serverHandler *ServerHandler) StartupChecks() error {
	serverConfig := serverHandler.ServerConfig
	if err := ensureDirectory("document", serverConfig.DocumentPath); err != nil {
		return err
	}
	if err := ensureDirectory("output", serverConfig.OutputPath); err != nil {
		return err
	}
	if err := config.CheckDirectory(serverConfig.OutputPath, Logger); err != nil {
		return fmt.Errorf("output path is not usable: %w", err)
	}
	engineChecks(serverHandler)
	return staleDocumentChecks(serverHandler.DB)
}

// ensureDirectory creates a configured directory when it does not exist yet
func ensureDirectory(kind, path string) error {
	if path == "" {
		Logger.Warn("Path not configured", "kind", kind)
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			Logger.Info("Creating directory", "kind", kind, "path", path)
			if err := os.MkdirAll(path, 0755); err != nil {
				Logger.Error("Failed to create directory", "kind", kind, "path", path, "error", err)
				return err
			}
			return nil
		}
		Logger.Error("Error checking directory", "kind", kind, "path", path, "error", err)
		return err
	}

	if !info.IsDir() {
		Logger.Error("Path exists but is not a directory", "kind", kind, "path", path)
		return fmt.Errorf("%s path is not a directory: %s", kind, path)
	}
	Logger.Info("Directory exists", "kind", kind, "path", path)
	return nil
}

func engineChecks(serverHandler *ServerHandler) {
	caps := serverHandler.Engine.Capabilities()
	Logger.Info("PDF engine ready", "engine", serverHandler.Engine.Name(), "nativeAsync", caps.NativeAsync)
	if !caps.NativeAsync {
		Logger.Info("Engine renders are deferred onto a single loop", "engine", serverHandler.Engine.Name())
	}
}

// staleDocumentChecks closes registry entries left open by a previous run;
// their engine handles did not survive the restart
func staleDocumentChecks(db database.Repository) error {
	n, err := db.MarkAllDocumentsClosed(database.ClosedByRestart)
	if err != nil {
		Logger.Error("Unable to close stale documents", "error", err)
		return err
	}
	if n > 0 {
		Logger.Info("Closed documents left open by a previous run", "count", n)
	}
	return nil
}
