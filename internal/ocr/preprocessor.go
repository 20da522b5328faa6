// Package ocr prepares receipt photos before they are sent to the vision model.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/finguru/finguru-service/internal/common"
)

// Preprocessor enhances receipt images with ImageMagick. Every failure returns
// the original bytes; preprocessing never blocks extraction.
type Preprocessor struct {
	binary string // "magick" (ImageMagick 7), "convert" (6) or empty when unavailable
	log    *slog.Logger
}

// NewPreprocessor looks up ImageMagick on PATH
func NewPreprocessor(logger *slog.Logger) *Preprocessor {
	p := &Preprocessor{log: common.OrDefault(logger)}
	// Try 'magick' first (ImageMagick 7), fallback to 'convert' (ImageMagick 6)
	for _, bin := range []string{"magick", "convert"} {
		if _, err := exec.LookPath(bin); err == nil {
			p.binary = bin
			break
		}
	}
	return p
}

// Available reports whether ImageMagick was found
func (p *Preprocessor) Available() bool {
	return p != nil && p.binary != ""
}

// receiptArgs is the enhancement pipeline between the input and output paths:
// resize (if too large), grayscale, contrast, denoise, sharpen.
var receiptArgs = []string{
	"-auto-orient",
	"-resize", "2000x2000>",
	"-colorspace", "Gray",
	"-normalize",
	"-contrast-stretch", "2%x1%",
	"-despeckle",
	"-sharpen", "0x1",
	"-quality", "92",
}

// Process returns an enhanced JPEG and its media type, or the input unchanged.
func (p *Preprocessor) Process(ctx context.Context, image []byte, mediaType string) ([]byte, string) {
	if !p.Available() || len(image) == 0 {
		return image, mediaType
	}
	out, err := p.run(ctx, image)
	if err != nil {
		p.log.Warn("ocr.preprocess.failed", "error", err, "bytes", len(image))
		return image, mediaType
	}
	p.log.Debug("ocr.preprocess.done", "in_bytes", len(image), "out_bytes", len(out))
	return out, "image/jpeg"
}

// run writes the image to a private temp dir, which is removed on every path.
func (p *Preprocessor) run(ctx context.Context, image []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "finguru-preprocess-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in, err := os.CreateTemp(dir, "in-*")
	if err != nil {
		return nil, fmt.Errorf("temp input: %w", err)
	}
	if _, err := in.Write(image); err != nil {
		in.Close()
		return nil, fmt.Errorf("write input: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("close input: %w", err)
	}
	outPath := in.Name() + ".out.jpg"

	args := append([]string{in.Name()}, receiptArgs...)
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, p.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", p.binary, err, bytes.TrimSpace(stderr.Bytes()))
	}

	processed, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	if len(processed) == 0 {
		return nil, fmt.Errorf("empty output")
	}
	return processed, nil
}
