package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/drummonds/pdfpage/database"
	"github.com/drummonds/pdfpage/pdfdoc"
)

// errInvalidRequest marks malformed requests that never reach the document model
var errInvalidRequest = errors.New("invalid request")

func invalidRequest(msg string) error {
	return fmt.Errorf("%w: %s", errInvalidRequest, msg)
}

type openRequest struct {
	Path          string `json:"path"`
	UserPassword  string `json:"userPassword"`
	OwnerPassword string `json:"ownerPassword"`
}

type documentResponse struct {
	database.Document
	IsOpen bool                `json:"open"`
	Info   *pdfdoc.DocumentInfo `json:"info,omitempty"`
}

// resolveWithin maps a client supplied relative path into root. Any ".."
// segments are cleaned away against a virtual root so the result cannot
// leave root.
func resolveWithin(root, rel string) string {
	cleaned := path.Clean("/" + filepath.ToSlash(rel))
	return filepath.Join(root, filepath.FromSlash(cleaned))
}

// OpenDocument opens a PDF, either uploaded as the multipart field "pdf" or
// named by a JSON body relative to the document path
func (serverHandler *ServerHandler) OpenDocument(c echo.Context) error {
	request := c.Request()
	cfg := serverHandler.ServerConfig

	var (
		doc  *pdfdoc.Document
		data []byte
		name string
		src  string
		err  error
	)
	opts := []pdfdoc.Option{pdfdoc.WithMaxPixels(cfg.MaxPixels)}

	if strings.HasPrefix(request.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		file, fileHeader, ferr := request.FormFile("pdf")
		if ferr != nil {
			return errorResponse(c, invalidRequest("multipart field 'pdf' is required"))
		}
		defer file.Close()
		data, err = io.ReadAll(file)
		if err != nil {
			Logger.Error("Unable to read uploaded file", "name", fileHeader.Filename, "error", err)
			return errorResponse(c, err)
		}
		name = fileHeader.Filename
		opts = append(opts, pdfdoc.WithPasswords(request.FormValue("userPassword"), request.FormValue("ownerPassword")))
		doc, err = pdfdoc.OpenBytes(serverHandler.Engine, data, opts...)
	} else {
		var body openRequest
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			return errorResponse(c, invalidRequest("body must be a JSON object"))
		}
		if body.Path == "" {
			return errorResponse(c, invalidRequest("'path' can't be empty"))
		}
		src = resolveWithin(cfg.DocumentPath, body.Path)
		name = filepath.Base(src)
		opts = append(opts, pdfdoc.WithPasswords(body.UserPassword, body.OwnerPassword))
		doc, err = pdfdoc.OpenFile(serverHandler.Engine, src, opts...)
		if err == nil {
			data, _ = os.ReadFile(src)
		}
	}
	if err != nil {
		Logger.Warn("Unable to open document", "name", name, "error", err)
		return errorResponse(c, err)
	}

	now := time.Now().UTC()
	id, err := database.CalculateUUID(now)
	if err != nil {
		doc.Close()
		return errorResponse(c, err)
	}
	info := doc.Info()
	record := database.Document{
		ID:         id,
		Name:       name,
		Path:       src,
		Hash:       database.CalculateHash(data),
		Engine:     serverHandler.Engine.Name(),
		PageCount:  info.PageCount,
		PDFVersion: info.PDFVersion,
		Encrypted:  info.IsEncrypted,
		Linearized: info.IsLinearized,
		OpenedAt:   now,
	}
	if err := serverHandler.DB.SaveDocument(&record); err != nil {
		Logger.Error("Unable to save document record", "name", name, "error", err)
		doc.Close()
		return errorResponse(c, err)
	}

	serverHandler.docs.add(&openDocument{doc: doc, record: record, lastUsed: now})
	Logger.Info("Opened document", "id", id.String(), "name", name, "pages", info.PageCount)
	return c.JSON(http.StatusCreated, documentResponse{Document: record, IsOpen: true, Info: &info})
}

// ListDocuments lists open documents, or every known document with ?all=true
func (serverHandler *ServerHandler) ListDocuments(c echo.Context) error {
	all, _ := strconv.ParseBool(c.QueryParam("all"))
	docs, err := serverHandler.DB.ListDocuments(!all)
	if err != nil {
		Logger.Error("Unable to list documents", "error", err)
		return errorResponse(c, err)
	}
	response := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		response = append(response, documentResponse{Document: d, IsOpen: serverHandler.docs.has(d.ID)})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"documents": response,
	})
}

// GetDocument returns the registry entry of a document and, while it is
// open, its live attributes
func (serverHandler *ServerHandler) GetDocument(c echo.Context) error {
	record, _, err := database.FetchDocument(c.Param("id"), serverHandler.DB)
	if err != nil {
		return errorResponse(c, err)
	}
	response := documentResponse{Document: record}
	if o, ok := serverHandler.docs.get(record.ID); ok {
		info := o.doc.Info()
		response.IsOpen = true
		response.Info = &info
	}
	return c.JSON(http.StatusOK, response)
}

// CloseDocument closes a document. Pages handed out earlier fail from now on.
func (serverHandler *ServerHandler) CloseDocument(c echo.Context) error {
	record, _, err := database.FetchDocument(c.Param("id"), serverHandler.DB)
	if err != nil {
		return errorResponse(c, err)
	}
	if !serverHandler.closeDocument(record.ID, database.ClosedByClient) {
		return errorResponse(c, closedDocument(record.ID))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"closed": record.ID.String(),
	})
}

func closedDocument(id ulid.ULID) error {
	return fmt.Errorf("%w: document %s is closed", pdfdoc.ErrClosedDocument, id)
}

// lookupPage resolves the :id and :num parameters. The returned id is set
// whenever the document is known, even if the page lookup failed.
func (serverHandler *ServerHandler) lookupPage(c echo.Context) (ulid.ULID, *pdfdoc.Page, error) {
	record, _, err := database.FetchDocument(c.Param("id"), serverHandler.DB)
	if err != nil {
		return ulid.ULID{}, nil, err
	}
	o, ok := serverHandler.docs.get(record.ID)
	if !ok {
		return record.ID, nil, closedDocument(record.ID)
	}
	num, err := strconv.Atoi(c.Param("num"))
	if err != nil {
		return record.ID, nil, invalidRequest("page number must be an integer")
	}
	page, err := o.doc.GetPage(num)
	if err != nil {
		return record.ID, nil, err
	}
	return record.ID, page, nil
}

// GetPage returns the page attributes
func (serverHandler *ServerHandler) GetPage(c echo.Context) error {
	_, page, err := serverHandler.lookupPage(c)
	if err != nil {
		return errorResponse(c, err)
	}
	info, err := page.Info()
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// SearchPage finds every occurrence of ?text= on the page
func (serverHandler *ServerHandler) SearchPage(c echo.Context) error {
	_, page, err := serverHandler.lookupPage(c)
	if err != nil {
		return errorResponse(c, err)
	}
	text := c.QueryParam("text")
	if text == "" {
		return errorResponse(c, invalidRequest("'text' query parameter is required"))
	}
	matches, err := page.FindText(text)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"text":    text,
		"matches": matches,
	})
}

// GetWords returns the page words in reading order
func (serverHandler *ServerHandler) GetWords(c echo.Context) error {
	_, page, err := serverHandler.lookupPage(c)
	if err != nil {
		return errorResponse(c, err)
	}
	words, err := page.WordList()
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"words": words,
	})
}

// AddAnnotations adds highlights from a rectangle or a list of rectangles
func (serverHandler *ServerHandler) AddAnnotations(c echo.Context) error {
	_, page, err := serverHandler.lookupPage(c)
	if err != nil {
		return errorResponse(c, err)
	}
	var body interface{}
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return errorResponse(c, invalidRequest("body must be a rectangle or a list of rectangles"))
	}
	rects, err := pdfdoc.ParseRects(body)
	if err != nil {
		return errorResponse(c, err)
	}
	if err := page.AddAnnot(rects...); err != nil {
		return errorResponse(c, err)
	}
	return serverHandler.annotationCount(c, page)
}

// DeleteAnnotations removes the highlights added through the API
func (serverHandler *ServerHandler) DeleteAnnotations(c echo.Context) error {
	_, page, err := serverHandler.lookupPage(c)
	if err != nil {
		return errorResponse(c, err)
	}
	if err := page.DeleteAnnots(); err != nil {
		return errorResponse(c, err)
	}
	return serverHandler.annotationCount(c, page)
}

func (serverHandler *ServerHandler) annotationCount(c echo.Context, page *pdfdoc.Page) error {
	n, err := page.NumAnnots()
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"numAnnots": n,
	})
}
