package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/drummonds/pdfpage/config"
	"github.com/drummonds/pdfpage/database"
	"github.com/drummonds/pdfpage/imagecodec"
	"github.com/drummonds/pdfpage/pdfdoc"
	"github.com/drummonds/pdfpage/pdfengine"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	DB           database.Repository
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Engine       pdfengine.Engine

	docs *registry
}

// NewServerHandler wires a handler around an engine and a repository
func NewServerHandler(db database.Repository, e *echo.Echo, serverConfig config.ServerConfig, engine pdfengine.Engine) *ServerHandler {
	return &ServerHandler{
		DB:           db,
		Echo:         e,
		ServerConfig: serverConfig,
		Engine:       engine,
		docs:         newRegistry(),
	}
}

// RegisterRoutes adds the API routes to the echo instance
func (serverHandler *ServerHandler) RegisterRoutes() {
	e := serverHandler.Echo
	e.GET("/api/health", serverHandler.Health)

	e.POST("/api/documents", serverHandler.OpenDocument)
	e.GET("/api/documents", serverHandler.ListDocuments)
	e.GET("/api/documents/:id", serverHandler.GetDocument)
	e.DELETE("/api/documents/:id", serverHandler.CloseDocument)
	e.GET("/api/documents/:id/renders", serverHandler.GetRenders)

	pages := e.Group("/api/documents/:id/pages/:num")
	pages.GET("", serverHandler.GetPage)
	pages.GET("/search", serverHandler.SearchPage)
	pages.GET("/words", serverHandler.GetWords)
	pages.POST("/annotations", serverHandler.AddAnnotations)
	pages.DELETE("/annotations", serverHandler.DeleteAnnotations)
	pages.GET("/render", serverHandler.RenderPage)
	pages.POST("/render", serverHandler.RenderPageToFile)
}

// Health reports liveness and the engine in use
func (serverHandler *ServerHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"engine":        serverHandler.Engine.Name(),
		"nativeAsync":   serverHandler.Engine.Capabilities().NativeAsync,
		"openDocuments": serverHandler.docs.len(),
	})
}

// closeDocument closes an open document and records why
func (serverHandler *ServerHandler) closeDocument(id ulid.ULID, reason string) bool {
	o, ok := serverHandler.docs.remove(id)
	if !ok {
		return false
	}
	if err := o.doc.Close(); err != nil {
		Logger.Warn("Engine reported an error closing document", "id", id.String(), "error", err)
	}
	if err := serverHandler.DB.MarkDocumentClosed(id, reason, time.Now()); err != nil {
		Logger.Error("Unable to record document close", "id", id.String(), "error", err)
	}
	Logger.Info("Closed document", "id", id.String(), "reason", reason)
	return true
}

// Shutdown closes every open document
func (serverHandler *ServerHandler) Shutdown() {
	for _, id := range serverHandler.docs.all() {
		serverHandler.closeDocument(id, database.ClosedByShutdown)
	}
}

// errorResponse writes {"error": msg} with a status derived from err
func errorResponse(c echo.Context, err error) error {
	return c.JSON(statusFor(err), map[string]interface{}{
		"error": err.Error(),
	})
}

// statusFor maps document errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, pdfdoc.ErrPageRange), errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pdfdoc.ErrClosedDocument):
		return http.StatusGone
	case errors.Is(err, pdfdoc.ErrOutputTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, pdfdoc.ErrOpen),
		errors.Is(err, pdfdoc.ErrOutputStream),
		errors.Is(err, pdfdoc.ErrUnsupportedFormat),
		errors.Is(err, pdfdoc.ErrInvalidPPI),
		errors.Is(err, pdfdoc.ErrInvalidOption),
		errors.Is(err, pdfdoc.ErrInvalidSlice),
		errors.Is(err, pdfdoc.ErrInvalidAnnotation),
		errors.Is(err, imagecodec.ErrCompressionUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorKind names the error class stored with failed renders
func errorKind(err error) string {
	var docErr *pdfdoc.Error
	if errors.As(err, &docErr) {
		return docErr.Kind.Error()
	}
	if errors.Is(err, imagecodec.ErrCompressionUnavailable) {
		return "encoder error"
	}
	return "engine error"
}
