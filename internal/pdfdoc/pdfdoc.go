// Package pdfdoc opens scanned chart documents (PDFs or single images)
// behind one page-oriented interface. PDF page counts come from pdfcpu;
// text extraction and rendering shell out to poppler-utils, which handle
// scanned input far better than pure-Go renderers.
package pdfdoc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Supported file extensions and their mime types.
var mimeByExt = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// MimeForFile returns the mime type for a supported filename, or an error
// for unsupported extensions.
func MimeForFile(name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	mime, ok := mimeByExt[ext]
	if !ok {
		return "", fmt.Errorf("unsupported file type %q", ext)
	}
	return mime, nil
}

// IsSupported reports whether the filename has a supported extension.
func IsSupported(name string) bool {
	_, err := MimeForFile(name)
	return err == nil
}

// IsPDF reports whether the filename names a PDF.
func IsPDF(name string) bool {
	return strings.ToLower(filepath.Ext(name)) == ".pdf"
}

// PDF is a multi-page PDF document on disk.
type PDF struct {
	path      string
	pageCount int
}

// OpenPDF validates the file and reads its page count.
func OpenPDF(path string) (*PDF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	pageCount, err := api.PageCount(f, nil)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to get page count for %s: %w", filepath.Base(path), err)
	}
	return &PDF{path: path, pageCount: pageCount}, nil
}

// Path returns the underlying file path.
func (p *PDF) Path() string { return p.path }

// PageCount returns the number of pages.
func (p *PDF) PageCount() int { return p.pageCount }

// PageText extracts one page's text layer using pdftotext (poppler-utils).
// Pages are 1-based. Image-only pages return empty text, not an error.
func (p *PDF) PageText(ctx context.Context, page int) (string, error) {
	pageStr := fmt.Sprintf("%d", page)
	// -layout preserves column structure, which the page scorer's
	// keyword and rank-token heuristics depend on. "-" writes to stdout.
	cmd := exec.CommandContext(ctx, "pdftotext",
		"-f", pageStr,
		"-l", pageStr,
		"-layout",
		p.path,
		"-",
	)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext failed for page %d: %w", page, err)
	}
	return string(out), nil
}

// RenderPage renders one page to PNG bytes at the given DPI using
// pdftoppm (poppler-utils). Pages are 1-based.
func (p *PDF) RenderPage(ctx context.Context, page, dpi int) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "chartdesk-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := fmt.Sprintf("%d", page)

	// -png: output PNG format
	// -f N / -l N: single-page range
	// -r: resolution in DPI
	// -singlefile: don't add a page number suffix
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", fmt.Sprintf("%d", dpi),
		"-singlefile",
		p.path,
		outputPrefix,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed for page %d: %w (output: %s)", page, err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}

// ImageFile is a single-image document. It satisfies the same page
// interface as PDF so the pipeline can treat both uniformly.
type ImageFile struct {
	path string
	mime string
}

// OpenImage validates the file exists and has a supported image type.
func OpenImage(path string) (*ImageFile, error) {
	mime, err := MimeForFile(path)
	if err != nil {
		return nil, err
	}
	if mime == "application/pdf" {
		return nil, fmt.Errorf("%s is a PDF, not an image", filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	return &ImageFile{path: path, mime: mime}, nil
}

// Path returns the underlying file path.
func (i *ImageFile) Path() string { return i.path }

// Mime returns the image mime type.
func (i *ImageFile) Mime() string { return i.mime }

// PageCount is always 1 for a single image.
func (i *ImageFile) PageCount() int { return 1 }

// PageText reports that images carry no text layer.
func (i *ImageFile) PageText(ctx context.Context, page int) (string, error) {
	return "", fmt.Errorf("image file has no text layer")
}

// RenderPage returns the raw image bytes. The dpi argument is ignored.
func (i *ImageFile) RenderPage(ctx context.Context, page, dpi int) ([]byte, error) {
	if page != 1 {
		return nil, fmt.Errorf("image file has no page %d", page)
	}
	data, err := os.ReadFile(i.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}
