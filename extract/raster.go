package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
)

// Rasterizer renders PDF pages to images for recognition. Implementations
// must return one PNG per page in ascending page order.
type Rasterizer interface {
	RenderPages(ctx context.Context, pdf []byte, dpi int) ([][]byte, error)
}

// PopplerRasterizer renders pages through the pdftoppm binary.
type PopplerRasterizer struct {
	// Binary overrides the executable path; defaults to "pdftoppm" on PATH.
	Binary string
}

func (r *PopplerRasterizer) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return "pdftoppm"
}

// Available reports whether the pdftoppm binary can be executed.
func (r *PopplerRasterizer) Available() bool {
	return exec.Command(r.binary(), "-v").Run() == nil
}

// RenderPages writes the PDF to a temp directory and renders every page as a
// PNG at the requested resolution.
func (r *PopplerRasterizer) RenderPages(ctx context.Context, pdf []byte, dpi int) ([][]byte, error) {
	dir, err := os.MkdirTemp("", "docfides-raster-")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(src, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("writing temp pdf: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.binary(),
		"-png", "-r", strconv.Itoa(dpi), src, filepath.Join(dir, "page"))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm: %v: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	matches, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("no pages rendered")
	}
	// pdftoppm zero-pads page numbers, so lexical order is page order.
	sort.Strings(matches)

	pages := make([][]byte, 0, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("reading rendered page: %w", err)
		}
		pages = append(pages, data)
	}
	return pages, nil
}
