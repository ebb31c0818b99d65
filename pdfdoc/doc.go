// Package pdfdoc is a document and page model over a pluggable PDF engine.
//
// A Document owns one open engine handle. Pages are lightweight views that
// stay valid only while their Document is open: after Close every page
// operation except Num fails with ErrClosedDocument.
//
// Coordinates come in two flavours. Absolute rectangles (geometry.AbsRect)
// are points in the unrotated page space, as stored in the file. Relative
// rectangles (geometry.RelRect) describe the page as a viewer shows it, with
// its rotation applied, scaled to the unit square with a bottom-left origin.
// Text search results, words and annotations use relative rectangles.
//
// Rendering has three calling conventions over one blocking operation:
//
//	res, err := page.RenderToBuffer("png", 144, pdfdoc.RenderOptions{})
//
//	page.RenderToBufferCallback("png", 144, opts, func(res *pdfdoc.RenderResult, err error) {
//		...
//	})
//
//	fut := page.RenderToBufferAsync("png", 144, opts)
//	res, err := fut.Wait(ctx)
//
// Callbacks never run on the caller's goroutine. Whether they run on a
// goroutine per render or on a single FIFO loop depends on the engine's
// capabilities, see SchedulerFor.
package pdfdoc

import (
	"io"
	"log/slog"
)

// Logger is global since we will need it everywhere
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
