package server

import (
	"encoding/json"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/drummonds/pdfpage/database"
	"github.com/drummonds/pdfpage/imagecodec"
	"github.com/drummonds/pdfpage/pdfdoc"
)

type renderFileRequest struct {
	Path    string                 `json:"path"`
	Format  string                 `json:"format"`
	PPI     *float64               `json:"ppi"`
	Options map[string]interface{} `json:"options"`
}

// queryOptions turns render query parameters into the loosely typed map
// pdfdoc.ParseOptions checks. Values that do not parse are passed through as
// strings so the type check reports them.
func queryOptions(c echo.Context) (map[string]interface{}, error) {
	params := c.QueryParams()
	raw := map[string]interface{}{}

	if vals, ok := params["quality"]; ok {
		if q, err := strconv.Atoi(vals[0]); err == nil {
			raw["quality"] = q
		} else {
			raw["quality"] = vals[0]
		}
	}
	if vals, ok := params["compression"]; ok {
		raw["compression"] = vals[0]
	}
	if vals, ok := params["progressive"]; ok {
		if b, err := strconv.ParseBool(vals[0]); err == nil {
			raw["progressive"] = b
		} else {
			raw["progressive"] = vals[0]
		}
	}
	if vals, ok := params["slice"]; ok {
		s, err := pdfdoc.ParseSlice(vals[0])
		if err != nil {
			return raw, err
		}
		raw["slice"] = s
	}
	return raw, nil
}

// ppiParam reads ?ppi=, falling back to the configured default. Unparsable
// values become NaN so the render reports the PPI error.
func (serverHandler *ServerHandler) ppiParam(c echo.Context) float64 {
	v := c.QueryParam("ppi")
	if v == "" {
		return serverHandler.ServerConfig.DefaultPPI
	}
	ppi, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return math.NaN()
	}
	return ppi
}

// RenderPage renders a page into the response body
func (serverHandler *ServerHandler) RenderPage(c echo.Context) error {
	start := time.Now()
	format := c.QueryParam("format")
	if format == "" {
		format = string(imagecodec.PNG)
	}
	ppi := serverHandler.ppiParam(c)

	docID, page, err := serverHandler.lookupPage(c)
	if err != nil {
		serverHandler.recordRender(docID, c.Param("num"), pdfdoc.TargetBuffer, format, ppi, nil, nil, err, start)
		return errorResponse(c, err)
	}
	raw, err := queryOptions(c)
	if err != nil {
		serverHandler.recordRender(docID, c.Param("num"), pdfdoc.TargetBuffer, format, ppi, raw, nil, err, start)
		return errorResponse(c, err)
	}
	opts, err := pdfdoc.ParseOptions(raw)
	if err != nil {
		serverHandler.recordRender(docID, c.Param("num"), pdfdoc.TargetBuffer, format, ppi, raw, nil, err, start)
		return errorResponse(c, err)
	}

	res, err := page.RenderToBufferAsync(format, ppi, opts).Wait(c.Request().Context())
	serverHandler.recordRender(docID, c.Param("num"), pdfdoc.TargetBuffer, format, ppi, raw, res, err, start)
	if err != nil {
		return errorResponse(c, err)
	}

	f, _ := imagecodec.ParseFormat(format)
	header := c.Response().Header()
	header.Set("X-Render-Width", strconv.Itoa(res.Width))
	header.Set("X-Render-Height", strconv.Itoa(res.Height))
	return c.Blob(http.StatusOK, f.ContentType(), res.Data)
}

// RenderPageToFile renders a page into a file below the output path
func (serverHandler *ServerHandler) RenderPageToFile(c echo.Context) error {
	start := time.Now()
	var body renderFileRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return errorResponse(c, invalidRequest("body must be a JSON object"))
	}
	if body.Format == "" {
		body.Format = string(imagecodec.PNG)
	}
	ppi := serverHandler.ServerConfig.DefaultPPI
	if body.PPI != nil {
		ppi = *body.PPI
	}

	docID, page, err := serverHandler.lookupPage(c)
	if err != nil {
		serverHandler.recordRender(docID, c.Param("num"), pdfdoc.TargetFile, body.Format, ppi, body.Options, nil, err, start)
		return errorResponse(c, err)
	}
	opts, err := pdfdoc.ParseOptions(body.Options)
	if err != nil {
		serverHandler.recordRender(docID, c.Param("num"), pdfdoc.TargetFile, body.Format, ppi, body.Options, nil, err, start)
		return errorResponse(c, err)
	}

	target := ""
	if body.Path != "" {
		target = resolveWithin(serverHandler.ServerConfig.OutputPath, body.Path)
	}
	// nothing is created under the output path for a request that will be rejected
	if err := page.CheckRender(pdfdoc.TargetFile, target, body.Format, ppi, opts); err != nil {
		serverHandler.recordRender(docID, c.Param("num"), pdfdoc.TargetFile, body.Format, ppi, body.Options, nil, err, start)
		return errorResponse(c, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		Logger.Warn("Unable to create output directory", "path", target, "error", err)
	}

	res, err := page.RenderToFileAsync(target, body.Format, ppi, opts).Wait(c.Request().Context())
	serverHandler.recordRender(docID, c.Param("num"), pdfdoc.TargetFile, body.Format, ppi, body.Options, res, err, start)
	if err != nil {
		return errorResponse(c, err)
	}

	out := *res
	if rel, err := filepath.Rel(serverHandler.ServerConfig.OutputPath, res.Path); err == nil {
		out.Path = filepath.ToSlash(rel)
	}
	return c.JSON(http.StatusOK, out)
}

// recordRender stores the outcome of a render in the history. Renders of
// unknown documents are not recorded.
func (serverHandler *ServerHandler) recordRender(docID ulid.ULID, num string, target pdfdoc.Target, format string, ppi float64,
	raw map[string]interface{}, res *pdfdoc.RenderResult, renderErr error, start time.Time) {
	if docID == (ulid.ULID{}) {
		return
	}
	rec := &database.RenderRecord{
		DocumentID: docID,
		Target:     string(target),
		Format:     format,
		DurationMS: time.Since(start).Milliseconds(),
	}
	rec.Page, _ = strconv.Atoi(num)
	if !math.IsNaN(ppi) && !math.IsInf(ppi, 0) {
		rec.PPI = ppi
	}
	if len(raw) > 0 {
		if b, err := json.Marshal(raw); err == nil {
			rec.Options = string(b)
		}
	}
	if renderErr != nil {
		rec.Error = renderErr.Error()
		rec.ErrorKind = errorKind(renderErr)
	} else {
		rec.Path = res.Path
		rec.Width, rec.Height = res.Width, res.Height
		rec.Bytes = len(res.Data)
	}
	if err := serverHandler.DB.RecordRender(rec); err != nil {
		Logger.Error("Unable to record render", "document", docID.String(), "error", err)
	}
	Logger.Debug("Render finished", "document", docID.String(), "page", rec.Page, "format", format,
		"target", string(target), "durationMs", rec.DurationMS, "error", rec.Error)
}

// GetRenders returns the render history of a document, newest first
func (serverHandler *ServerHandler) GetRenders(c echo.Context) error {
	record, _, err := database.FetchDocument(c.Param("id"), serverHandler.DB)
	if err != nil {
		return errorResponse(c, err)
	}
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	renders, err := serverHandler.DB.GetRenders(record.ID, limit)
	if err != nil {
		Logger.Error("Unable to fetch render history", "document", record.ID.String(), "error", err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"renders": renders,
	})
}
