// Command pdfrender opens a PDF once and prints its attributes, searches a
// page or renders it to an image.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/drummonds/pdfpage/config"
	"github.com/drummonds/pdfpage/pdfdoc"
	"github.com/drummonds/pdfpage/pdfengine"
	_ "github.com/drummonds/pdfpage/pdfengine/fake"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	config.Logger = Logger
	pdfdoc.Logger = Logger
	pdfengine.Logger = Logger
}

type options struct {
	in          string
	password    string
	engine      string
	page        int
	info        bool
	find        string
	words       bool
	format      string
	ppi         float64
	out         string
	quality     int
	compression string
	progressive bool
	slice       string
	async       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one invocation and returns the exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	renderConfig, logger := config.SetupCLI()
	injectGlobals(logger)

	var o options
	fs := flag.NewFlagSet("pdfrender", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.in, "in", "", "PDF file to open")
	fs.StringVar(&o.password, "password", "", "user or owner password")
	fs.StringVar(&o.engine, "engine", renderConfig.Engine, "PDF engine: pdfium, mupdf or fake")
	fs.IntVar(&o.page, "page", 1, "page number, starting at 1")
	fs.BoolVar(&o.info, "info", false, "print document and page attributes as JSON")
	fs.StringVar(&o.find, "find", "", "print the relative boxes of every occurrence of this text")
	fs.BoolVar(&o.words, "words", false, "print the words of the page")
	fs.StringVar(&o.format, "format", "png", "output format: png, jpeg or tiff")
	fs.Float64Var(&o.ppi, "ppi", renderConfig.DefaultPPI, "pixels per inch")
	fs.StringVar(&o.out, "out", "-", "output file, - for stdout")
	fs.IntVar(&o.quality, "quality", 0, "JPEG quality, 0 - 100")
	fs.StringVar(&o.compression, "compression", "", "TIFF compression")
	fs.BoolVar(&o.progressive, "progressive", false, "progressive JPEG")
	fs.StringVar(&o.slice, "slice", "", "relative region x,y,w,h")
	fs.BoolVar(&o.async, "async", false, "render through the scheduler instead of the calling goroutine")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if o.in == "" {
		fmt.Fprintln(stderr, "pdfrender: -in is required")
		fs.Usage()
		return 2
	}

	raw := map[string]any{}
	var sliceErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "quality":
			raw["quality"] = o.quality
		case "compression":
			raw["compression"] = o.compression
		case "progressive":
			raw["progressive"] = o.progressive
		case "slice":
			raw["slice"], sliceErr = pdfdoc.ParseSlice(o.slice)
		}
	})
	if sliceErr != nil {
		fmt.Fprintln(stderr, "pdfrender:", sliceErr)
		return 1
	}

	renderConfig.Engine = o.engine
	if err := execute(ctx, renderConfig, o, raw, stdout); err != nil {
		fmt.Fprintln(stderr, "pdfrender:", err)
		return 1
	}
	return 0
}

// openEngine applies the render settings and creates the configured engine
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

func execute(ctx context.Context, renderConfig config.RenderConfig, o options, raw map[string]any, stdout io.Writer) error {
	engine, err := openEngine(renderConfig)
	if err != nil {
		return err
	}
	defer engine.Close()

	doc, err := pdfdoc.OpenFile(engine, o.in,
		pdfdoc.WithPasswords(o.password, o.password),
		pdfdoc.WithMaxPixels(renderConfig.MaxPixels))
	if err != nil {
		return err
	}
	defer doc.Close()

	page, err := doc.GetPage(o.page)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	switch {
	case o.info:
		info, err := page.Info()
		if err != nil {
			return err
		}
		return enc.Encode(map[string]any{"document": doc.Info(), "page": info})
	case o.find != "":
		matches, err := page.FindText(o.find)
		if err != nil {
			return err
		}
		return enc.Encode(matches)
	case o.words:
		words, err := page.WordList()
		if err != nil {
			return err
		}
		return enc.Encode(words)
	}

	opts, err := pdfdoc.ParseOptions(raw)
	if err != nil {
		return err
	}
	var res *pdfdoc.RenderResult
	switch {
	case o.out == "-" && o.async:
		res, err = page.RenderToBufferAsync(o.format, o.ppi, opts).Wait(ctx)
	case o.out == "-":
		res, err = page.RenderToBuffer(o.format, o.ppi, opts)
	case o.async:
		res, err = page.RenderToFileAsync(o.out, o.format, o.ppi, opts).Wait(ctx)
	default:
		res, err = page.RenderToFile(o.out, o.format, o.ppi, opts)
	}
	if err != nil {
		var docErr *pdfdoc.Error
		if errors.As(err, &docErr) {
			return docErr
		}
		return fmt.Errorf("render failed: %w", err)
	}
	Logger.Info("Rendered page", "page", o.page, "format", res.Format, "width", res.Width, "height", res.Height)
	if o.out == "-" {
		_, err = stdout.Write(res.Data)
	}
	return err
}
