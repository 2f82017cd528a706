package processing

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"

	"artvault/internal/fsutil"
	"artvault/internal/layout"
	"artvault/internal/logger"
	"artvault/internal/models"
)

const dominantColorCount = 5

// Deriver produces the upload-time files of an unanalysed record: the THUMB
// and ANALYSE copies and the QC sidecar.
type Deriver struct {
	opts Options
	log  *logger.Logger
}

func NewDeriver(opts Options, log *logger.Logger) *Deriver {
	return &Deriver{opts: opts, log: log.Component("deriver")}
}

// Derive reads original (a file inside dir) and writes
// {SKU}-THUMB.jpg, {SKU}-ANALYSE.jpg and {SKU}-QC.json next to it.
func (d *Deriver) Derive(dir, original, sku string) (*models.QC, error) {
	const op = "processing.Derive"

	src := filepath.Join(dir, original)
	mode, err := colorMode(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	files := layout.UnanalysedFiles{SKU: sku}
	if err := d.opts.saveJPEG(fitLongEdge(img, d.opts.ThumbLongEdge), filepath.Join(dir, files.Thumb())); err != nil {
		return nil, fmt.Errorf("%s: thumb: %w", op, err)
	}
	if err := d.opts.saveJPEG(fitLongEdge(img, d.opts.AnalyseLongEdge), filepath.Join(dir, files.Analyse())); err != nil {
		return nil, fmt.Errorf("%s: analyse: %w", op, err)
	}

	b := img.Bounds()
	qc := &models.QC{
		SKU:            sku,
		Width:          b.Dx(),
		Height:         b.Dy(),
		ColorMode:      mode,
		DominantColors: DominantColors(img, dominantColorCount),
		ThumbFile:      files.Thumb(),
		AnalyseFile:    files.Analyse(),
		GeneratedAt:    time.Now().UTC(),
	}
	if err := fsutil.WriteJSON(filepath.Join(dir, files.QC()), qc); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	d.log.Info("derivatives written", "sku", sku, "width", qc.Width, "height", qc.Height, "mode", mode)
	return qc, nil
}

// colorMode reports the colour model of the encoded image at path using the
// usual short names (RGB, RGBA, L, CMYK, P).
func colorMode(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	// PNG decoders widen opaque truecolour to an RGBA model, so read the
	// colour type from IHDR instead.
	head := make([]byte, pngColorTypeOffset+1)
	if _, err := io.ReadFull(f, head); err == nil && bytes.HasPrefix(head, pngSignature) {
		if mode, ok := pngColorModes[head[pngColorTypeOffset]]; ok {
			return mode, nil
		}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return "", err
	}
	switch cfg.ColorModel {
	case color.GrayModel, color.Gray16Model:
		return "L", nil
	case color.CMYKModel:
		return "CMYK", nil
	case color.YCbCrModel:
		return "RGB", nil
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model:
		return "RGBA", nil
	}
	if _, ok := cfg.ColorModel.(color.Palette); ok {
		return "P", nil
	}
	return "RGB", nil
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// signature (8) + IHDR length and type (8) + width, height, bit depth (9)
const pngColorTypeOffset = 25

var pngColorModes = map[byte]string{
	0: "L",
	2: "RGB",
	3: "P",
	4: "RGBA", // grey + alpha
	6: "RGBA",
}

// Canonical writes src to dst as a JPEG. The source is always decoded with
// its EXIF orientation applied and re-encoded, so the canonical image has the
// same orientation as the THUMB and ANALYSE copies and carries no EXIF tag a
// later reader could apply twice.
func (d *Deriver) Canonical(src, dst string) error {
	const op = "processing.Canonical"

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := d.opts.saveJPEG(img, dst); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
