package processing

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

// Watermarker renders reduced-size public previews with a text mark in the
// bottom-right corner.
type Watermarker struct {
	font *truetype.Font
	opts Options
}

func NewWatermarker(opts Options) (*Watermarker, error) {
	f, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("processing.NewWatermarker: %w", err)
	}
	return &Watermarker{font: f, opts: opts}, nil
}

// Text is the mark drawn on previews of sku.
func (w *Watermarker) Text(sku string) string {
	if w.opts.WatermarkText != "" {
		return w.opts.WatermarkText
	}
	return "© " + sku
}

// Preview writes a watermarked copy of src to dst, long edge at most
// PreviewLongEdge.
func (w *Watermarker) Preview(src, dst, sku string) error {
	const op = "processing.Watermarker.Preview"

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	canvas := imaging.Clone(fitLongEdge(img, w.opts.PreviewLongEdge))
	if err := w.draw(canvas, w.Text(sku)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := w.opts.saveJPEG(canvas, dst); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (w *Watermarker) draw(dst *image.NRGBA, text string) error {
	b := dst.Bounds()
	size := float64(b.Dx()) / 30
	if size < 10 {
		size = 10
	}
	margin := int(size)

	face := truetype.NewFace(w.font, &truetype.Options{Size: size, DPI: 72})
	defer face.Close()
	textWidth := font.MeasureString(face, text).Ceil()

	x := b.Max.X - textWidth - margin
	if x < b.Min.X {
		x = b.Min.X
	}
	y := b.Max.Y - margin

	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(w.font)
	ctx.SetFontSize(size)
	ctx.SetClip(b)
	ctx.SetDst(dst)

	// drop shadow, then the mark
	ctx.SetSrc(image.NewUniform(color.NRGBA{A: 140}))
	if _, err := ctx.DrawString(text, freetype.Pt(x+1, y+1)); err != nil {
		return err
	}
	ctx.SetSrc(image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 180}))
	_, err := ctx.DrawString(text, freetype.Pt(x, y))
	return err
}
