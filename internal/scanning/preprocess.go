package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"log/slog"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WEBP decoder
)

const (
	defaultMinHeight = 1200
	defaultContrast  = 20
	defaultSharpen   = 1.0
)

// Artifact is a preprocessed image written to a temporary file.
// Callers must call Release once OCR has finished.
type Artifact struct {
	Data []byte
	Path string
}

// Release removes the intermediate file. Safe to call more than once.
func (a *Artifact) Release() {
	if a == nil || a.Path == "" {
		return
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		slog.Warn("removing preprocessed image", "path", a.Path, "error", err)
	}
	a.Path = ""
}

// Preprocessor prepares uploaded images for OCR: grayscale, upscaling of
// small scans, contrast and sharpening.
type Preprocessor struct {
	artifactDir string
	minHeight   int
	contrast    float64
	sharpen     float64
}

// PreprocessorOption configures a Preprocessor
type PreprocessorOption func(*Preprocessor)

// WithMinHeight sets the height below which images are upscaled. 0 disables.
func WithMinHeight(h int) PreprocessorOption {
	return func(p *Preprocessor) { p.minHeight = h }
}

// WithContrast sets the contrast adjustment in percent (-100..100).
func WithContrast(pct float64) PreprocessorOption {
	return func(p *Preprocessor) { p.contrast = pct }
}

// WithSharpen sets the sharpening sigma. 0 disables.
func WithSharpen(sigma float64) PreprocessorOption {
	return func(p *Preprocessor) { p.sharpen = sigma }
}

// NewPreprocessor creates a Preprocessor writing intermediates under artifactDir.
// An empty artifactDir uses the system temp directory.
func NewPreprocessor(artifactDir string, opts ...PreprocessorOption) (*Preprocessor, error) {
	if artifactDir == "" {
		artifactDir = os.TempDir()
	}
	if err := os.MkdirAll(artifactDir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	p := &Preprocessor{
		artifactDir: artifactDir,
		minHeight:   defaultMinHeight,
		contrast:    defaultContrast,
		sharpen:     defaultSharpen,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Preprocess decodes imageData and produces an OCR-friendly PNG.
//
// Bytes that are not a decodable image fail. If the enhanced image cannot be
// encoded the original bytes are used instead.
func (p *Preprocessor) Preprocess(imageData []byte) (*Artifact, error) {
	img, err := imaging.Decode(bytes.NewReader(imageData), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	data, err := encodePNG(p.enhance(img))
	if err != nil {
		slog.Warn("encoding preprocessed image, using original", "error", err)
		data = imageData
	}

	f, err := os.CreateTemp(p.artifactDir, "preprocessed-*.png")
	if err != nil {
		return nil, fmt.Errorf("creating intermediate file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("writing intermediate file: %w", err)
	}

	return &Artifact{Data: data, Path: f.Name()}, nil
}

func (p *Preprocessor) enhance(img image.Image) image.Image {
	out := imaging.Grayscale(img)

	if p.minHeight > 0 && out.Bounds().Dy() < p.minHeight {
		out = imaging.Resize(out, 0, p.minHeight, imaging.Lanczos)
	}
	if p.contrast != 0 {
		out = imaging.AdjustContrast(out, p.contrast)
	}
	if p.sharpen > 0 {
		out = imaging.Sharpen(out, p.sharpen)
	}
	return out
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
