package annotate

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jung-kurt/gofpdf"
	"github.com/jung-kurt/gofpdf/contrib/gofpdi"
	"github.com/rs/zerolog"
)

// ErrMergeFailed indicates that either input could not be decoded or the
// composite document could not be produced.
var ErrMergeFailed = errors.New("annotation merge failed")

// Engine composites a raster annotation layer onto a source document.
type Engine interface {
	Merge(source, overlay []byte) ([]byte, error)
}

// PDF merges a PNG or JPEG annotation raster onto the first page of a PDF
// document. The raster is stretched to the page's native MediaBox, so it
// must be captured at the rendered page's aspect ratio to avoid distortion.
// Remaining pages are carried over untouched and the inputs are not mutated.
type PDF struct {
	logger zerolog.Logger
}

// NewPDF constructs the PDF merge engine.
func NewPDF(logger zerolog.Logger) *PDF {
	return &PDF{logger: logger.With().Str("component", "annotate").Logger()}
}

// Merge returns a new document with the overlay composited full-bleed onto
// page 1. Page count and page sizes of the source are preserved.
func (e *PDF) Merge(source, overlay []byte) (out []byte, err error) {
	// The page importer reports malformed documents by panicking.
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrMergeFailed, r)
		}
	}()

	if len(source) == 0 {
		return nil, fmt.Errorf("%w: empty source document", ErrMergeFailed)
	}

	imageType, err := overlayImageType(overlay)
	if err != nil {
		return nil, err
	}

	reader := io.ReadSeeker(bytes.NewReader(source))
	importer := gofpdi.NewImporter()
	pdf := gofpdf.NewCustom(&gofpdf.InitType{UnitStr: "pt"})

	firstPage := importer.ImportPageFromStream(pdf, &reader, 1, "/MediaBox")
	sizes := importer.GetPageSizes()
	pageCount := len(sizes)
	if pageCount == 0 {
		return nil, fmt.Errorf("%w: source has no pages", ErrMergeFailed)
	}

	width, height, err := pageSize(sizes, 1)
	if err != nil {
		return nil, err
	}

	addPage(pdf, width, height)
	importer.UseImportedTemplate(pdf, firstPage, 0, 0, width, height)

	options := gofpdf.ImageOptions{ImageType: imageType}
	pdf.RegisterImageOptionsReader("annotation-overlay", options, bytes.NewReader(overlay))
	pdf.ImageOptions("annotation-overlay", 0, 0, width, height, false, options, 0, "")

	for page := 2; page <= pageCount; page++ {
		template := importer.ImportPageFromStream(pdf, &reader, page, "/MediaBox")
		w, h, err := pageSize(importer.GetPageSizes(), page)
		if err != nil {
			return nil, err
		}
		addPage(pdf, w, h)
		importer.UseImportedTemplate(pdf, template, 0, 0, w, h)
	}

	if pdf.Error() != nil {
		return nil, fmt.Errorf("%w: %v", ErrMergeFailed, pdf.Error())
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMergeFailed, err)
	}

	e.logger.Debug().Int("pages", pageCount).Int("bytes", buf.Len()).Msg("annotation merged")

	return buf.Bytes(), nil
}

// PageCount reports the number of pages in a PDF document.
func PageCount(document []byte) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			count = 0
			err = fmt.Errorf("%w: %v", ErrMergeFailed, r)
		}
	}()

	reader := io.ReadSeeker(bytes.NewReader(document))
	importer := gofpdi.NewImporter()
	probe := gofpdf.NewCustom(&gofpdf.InitType{UnitStr: "pt"})
	importer.ImportPageFromStream(probe, &reader, 1, "/MediaBox")

	return len(importer.GetPageSizes()), nil
}

func overlayImageType(overlay []byte) (string, error) {
	if len(overlay) == 0 {
		return "", fmt.Errorf("%w: empty annotation raster", ErrMergeFailed)
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(overlay)); err != nil {
		return "", fmt.Errorf("%w: undecodable annotation raster", ErrMergeFailed)
	}

	detected := mimetype.Detect(overlay)
	switch {
	case detected.Is("image/png"):
		return "PNG", nil
	case detected.Is("image/jpeg"):
		return "JPG", nil
	default:
		return "", fmt.Errorf("%w: unsupported raster type %s", ErrMergeFailed, detected.String())
	}
}

func pageSize(sizes map[int]map[string]map[string]float64, page int) (float64, float64, error) {
	box, ok := sizes[page]["/MediaBox"]
	if !ok {
		return 0, 0, fmt.Errorf("%w: page %d has no media box", ErrMergeFailed, page)
	}
	width, height := box["w"], box["h"]
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: page %d has invalid dimensions", ErrMergeFailed, page)
	}
	return width, height, nil
}

func addPage(pdf *gofpdf.Fpdf, width, height float64) {
	orientation := "P"
	size := gofpdf.SizeType{Wd: width, Ht: height}
	if width > height {
		orientation = "L"
		size = gofpdf.SizeType{Wd: height, Ht: width}
	}
	pdf.AddPageFormat(orientation, size)
}
