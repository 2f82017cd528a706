package processing

import (
	"image"

	"github.com/disintegration/imaging"

	"artvault/internal/models"
)

// Options are the image sizes and encoder settings shared by the
// derivative, mockup and preview steps.
type Options struct {
	JPEGQuality     int
	ThumbLongEdge   int
	AnalyseLongEdge int
	MockupThumbEdge int
	PreviewLongEdge int
	WatermarkText   string
}

func OptionsFromConfig(cfg *models.Config) Options {
	return Options{
		JPEGQuality:     cfg.JPEGQuality,
		ThumbLongEdge:   cfg.ThumbLongEdge,
		AnalyseLongEdge: cfg.AnalyseLongEdge,
		MockupThumbEdge: cfg.MockupThumbEdge,
		PreviewLongEdge: cfg.PreviewLongEdge,
		WatermarkText:   cfg.WatermarkText,
	}
}

func DefaultOptions() Options {
	return Options{
		JPEGQuality:     95,
		ThumbLongEdge:   2000,
		AnalyseLongEdge: 3800,
		MockupThumbEdge: 500,
		PreviewLongEdge: 1200,
	}
}

// fitLongEdge scales img down so its longer side is at most edge, keeping
// the aspect ratio. Smaller images are returned unchanged.
func fitLongEdge(img image.Image, edge int) image.Image {
	b := img.Bounds()
	if b.Dx() <= edge && b.Dy() <= edge {
		return img
	}
	return imaging.Fit(img, edge, edge, imaging.Lanczos)
}

func (o Options) saveJPEG(img image.Image, path string) error {
	return imaging.Save(img, path, imaging.JPEGQuality(o.JPEGQuality))
}
