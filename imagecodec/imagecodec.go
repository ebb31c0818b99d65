// Package imagecodec writes rendered pages as PNG, JPEG or TIFF.
package imagecodec

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"
)

// Logger is global since we will need it everywhere
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Format is an output image format.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	TIFF Format = "tiff"
)

// DefaultQuality is the JPEG quality used when none is requested.
const DefaultQuality = 100

var (
	ErrUnknownFormat          = errors.New("unknown image format")
	ErrCompressionUnavailable = errors.New("tiff compression method not available")
)

// ParseFormat accepts png, jpeg and tiff.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case PNG, JPEG, TIFF:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType is the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case TIFF:
		return "image/tiff"
	default:
		return "image/png"
	}
}

// Extension returns the usual file extension for f, with the dot.
func (f Format) Extension() string {
	switch f {
	case JPEG:
		return ".jpg"
	case TIFF:
		return ".tif"
	default:
		return ".png"
	}
}

// Compression names a TIFF compression method.
type Compression string

// The TIFF compression names understood by libtiff based tools.
const (
	CompressionNone      Compression = "none"
	CompressionCCITTRLE  Compression = "ccittrle"
	CompressionCCITTFax3 Compression = "ccittfax3"
	CompressionCCITTT4   Compression = "ccittt4"
	CompressionCCITTFax4 Compression = "ccittfax4"
	CompressionCCITTT6   Compression = "ccittt6"
	CompressionLZW       Compression = "lzw"
	CompressionOJPEG     Compression = "ojpeg"
	CompressionJPEG      Compression = "jpeg"
	CompressionNeXT      Compression = "next"
	CompressionPackBits  Compression = "packbits"
	CompressionCCITTRLEW Compression = "ccittrlew"
	CompressionDeflate   Compression = "deflate"
	CompressionADeflate  Compression = "adeflate"
	CompressionDCS       Compression = "dcs"
	CompressionJBIG      Compression = "jbig"
	CompressionJP2000    Compression = "jp2000"
)

var knownCompressions = map[Compression]bool{
	CompressionNone: true, CompressionCCITTRLE: true, CompressionCCITTFax3: true,
	CompressionCCITTT4: true, CompressionCCITTFax4: true, CompressionCCITTT6: true,
	CompressionLZW: true, CompressionOJPEG: true, CompressionJPEG: true,
	CompressionNeXT: true, CompressionPackBits: true, CompressionCCITTRLEW: true,
	CompressionDeflate: true, CompressionADeflate: true, CompressionDCS: true,
	CompressionJBIG: true, CompressionJP2000: true,
}

// Known reports whether c is a recognized compression name.
func (c Compression) Known() bool {
	return knownCompressions[c]
}

// tiffCompression maps c onto what x/image/tiff can write.
func (c Compression) tiffCompression() (tiff.CompressionType, error) {
	switch c {
	case CompressionNone:
		return tiff.Uncompressed, nil
	case CompressionDeflate, CompressionADeflate:
		return tiff.Deflate, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrCompressionUnavailable, c)
}

// Options tune the encoders. Fields that do not apply to the chosen format are ignored.
type Options struct {
	// Quality is the JPEG quality, 0 to 100.
	Quality int
	// Progressive asks for progressive JPEG. The Go encoder writes baseline
	// JPEG only, so it is recorded but has no effect on the output.
	Progressive bool
	// Compression is the TIFF compression; empty means deflate with predictor.
	Compression Compression
}

// DefaultOptions returns the options used when a caller sets none.
func DefaultOptions() Options {
	return Options{Quality: DefaultQuality}
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img image.Image, format Format, opts Options) error {
	switch format {
	case PNG:
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
	case JPEG:
		if opts.Progressive {
			Logger.Debug("Progressive JPEG requested, writing baseline")
		}
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(opts.Quality))
	case TIFF:
		if opts.Compression == "" {
			return imaging.Encode(w, img, imaging.TIFF)
		}
		ct, err := opts.Compression.tiffCompression()
		if err != nil {
			return err
		}
		return tiff.Encode(w, img, &tiff.Options{Compression: ct, Predictor: ct == tiff.Deflate})
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, string(format))
}
