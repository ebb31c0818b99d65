package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"
	"os"

	"github.com/drummonds/pdfpage/geometry"
	"github.com/drummonds/pdfpage/imagecodec"
)

// Target is where a render is written.
type Target string

const (
	TargetFile   Target = "file"
	TargetBuffer Target = "buffer"
)

// RenderResult describes a finished render. Path is set for file targets,
// Data for buffer targets.
type RenderResult struct {
	Type   Target `json:"type"`
	Path   string `json:"path,omitempty"`
	Format string `json:"format"`
	Data   []byte `json:"-"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// RenderToFile renders the page into the file at path.
func (p *Page) RenderToFile(path, format string, ppi float64, opts RenderOptions) (*RenderResult, error) {
	return p.Render(TargetFile, path, format, ppi, opts)
}

// RenderToBuffer renders the page into memory.
func (p *Page) RenderToBuffer(format string, ppi float64, opts RenderOptions) (*RenderResult, error) {
	return p.Render(TargetBuffer, "", format, ppi, opts)
}

// renderJob is a validated render request.
type renderJob struct {
	target  Target
	path    string
	format  imagecodec.Format
	ppi     float64
	encode  imagecodec.Options
	slice   geometry.Slice
	size    image.Point
	region  image.Rectangle
	maxArea int64
}

// Render runs the whole pipeline on the calling goroutine: validation,
// sizing, rasterization of the requested region, encoding and output.
func (p *Page) Render(target Target, path, format string, ppi float64, opts RenderOptions) (*RenderResult, error) {
	release, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	job, err := p.prepare(target, path, format, ppi, opts)
	if err != nil {
		return nil, err
	}

	img, err := p.doc.handle.Rasterize(p.num, job.size, job.region)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imagecodec.Encode(&buf, img, job.format, job.encode); err != nil {
		return nil, err
	}

	res := &RenderResult{
		Type:   target,
		Format: format,
		Width:  job.region.Dx(),
		Height: job.region.Dy(),
	}
	if target == TargetFile {
		if err := writeOutput(path, buf.Bytes()); err != nil {
			return nil, err
		}
		res.Path = path
	} else {
		res.Data = buf.Bytes()
	}
	Logger.Debug("Rendered page", "page", p.num, "target", string(target), "format", format,
		"ppi", ppi, "width", res.Width, "height", res.Height, "bytes", buf.Len())
	return res, nil
}

// CheckRender runs the validation of Render without rendering anything, so
// callers can reject a request before preparing its output location.
func (p *Page) CheckRender(target Target, path, format string, ppi float64, opts RenderOptions) error {
	release, err := p.acquire()
	if err != nil {
		return err
	}
	defer release()
	_, err = p.prepare(target, path, format, ppi, opts)
	return err
}

// prepare validates the request in a fixed order and computes the raster
// geometry. The first failing check wins.
func (p *Page) prepare(target Target, path, format string, ppi float64, opts RenderOptions) (*renderJob, error) {
	job := &renderJob{
		target:  target,
		path:    path,
		ppi:     ppi,
		encode:  imagecodec.DefaultOptions(),
		slice:   geometry.FullSlice,
		maxArea: p.doc.maxPixels,
	}

	if target != TargetFile && target != TargetBuffer {
		return nil, fmt.Errorf("unknown render target %q", target)
	}

	f, err := imagecodec.ParseFormat(format)
	if err != nil {
		return nil, newError(ErrUnsupportedFormat, msgFormat, err)
	}
	job.format = f

	if !(ppi > 0) || math.IsInf(ppi, 0) {
		return nil, newError(ErrInvalidPPI, msgPPI, nil)
	}

	if opts.Quality != nil {
		if *opts.Quality < 0 || *opts.Quality > 100 {
			return nil, newError(ErrInvalidOption, msgQualityRange, nil)
		}
		job.encode.Quality = *opts.Quality
	}

	if opts.Compression != nil {
		c := imagecodec.Compression(*opts.Compression)
		if c == "" {
			return nil, newError(ErrInvalidOption, msgCompressionEmpty, nil)
		}
		if !c.Known() {
			return nil, newError(ErrInvalidOption, msgCompressionValue, nil)
		}
		if f == imagecodec.TIFF {
			job.encode.Compression = c
		}
	}

	if opts.Progressive != nil {
		job.encode.Progressive = *opts.Progressive
	}

	if opts.Slice != nil {
		if err := opts.Slice.Validate(); err != nil {
			return nil, newError(ErrInvalidSlice, msgSliceRange, err)
		}
		job.slice = *opts.Slice
	}

	if target == TargetFile && path == "" {
		return nil, newError(ErrOutputStream, msgPathEmpty, nil)
	}

	// Check the area in floating point first so absurd PPI values cannot
	// overflow the integer raster size.
	w, h := p.size()
	scale := ppi / geometry.PointsPerInch
	if w*scale*job.slice.W*h*scale*job.slice.H > float64(job.maxArea) {
		return nil, newError(ErrOutputTooLarge, msgTooBig, nil)
	}
	// A tiny slice can pass the area check while the full page does not fit in an int.
	if w*scale > math.MaxInt32 || h*scale > math.MaxInt32 {
		return nil, newError(ErrOutputTooLarge, msgTooBig, nil)
	}
	job.size = geometry.PixelSize(w, h, ppi)
	job.size.X, job.size.Y = max(job.size.X, 1), max(job.size.Y, 1)
	job.region = geometry.SliceToAbsPixels(job.slice, job.size.X, job.size.Y)
	if int64(job.region.Dx())*int64(job.region.Dy()) > job.maxArea {
		return nil, newError(ErrOutputTooLarge, msgTooBig, nil)
	}
	return job, nil
}

// writeOutput writes data to path, removing the file again on any failure.
func writeOutput(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return newError(ErrOutputStream, msgOutputStream, err)
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(path)
		return newError(ErrOutputStream, msgOutputStream, err)
	}
	return nil
}
