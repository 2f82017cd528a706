package processing

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artvault/internal/fsutil"
	"artvault/internal/layout"
	"artvault/internal/logger"
	"artvault/internal/models"
)

func writeImage(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, imaging.Save(imaging.New(w, h, c), path))
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ThumbLongEdge = 40
	opts.AnalyseLongEdge = 80
	opts.MockupThumbEdge = 16
	opts.PreviewLongEdge = 60
	return opts
}

func TestDeriver_Derive(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "image.png"), 200, 100, color.NRGBA{R: 255, A: 255})

	qc, err := NewDeriver(testOptions(), logger.Nop()).Derive(dir, "image.png", "RJC-00001")
	require.NoError(t, err)

	assert.Equal(t, 200, qc.Width)
	assert.Equal(t, 100, qc.Height)
	assert.Equal(t, "RGB", qc.ColorMode, "opaque png has no alpha channel")
	require.NotEmpty(t, qc.DominantColors)
	assert.Equal(t, "Red", qc.DominantColors[0].Name)

	thumb, err := imaging.Open(filepath.Join(dir, "RJC-00001-THUMB.jpg"))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(40, 20), thumb.Bounds().Size())

	analyse, err := imaging.Open(filepath.Join(dir, "RJC-00001-ANALYSE.jpg"))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(80, 40), analyse.Bounds().Size())

	var onDisk models.QC
	require.NoError(t, fsutil.ReadJSON(filepath.Join(dir, "RJC-00001-QC.json"), &onDisk))
	assert.Equal(t, "RJC-00001", onDisk.SKU)
	assert.Equal(t, qc.DominantColors, onDisk.DominantColors)
}

func TestDeriver_NeverUpscales(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "small.jpg"), 30, 20, color.White)

	qc, err := NewDeriver(testOptions(), logger.Nop()).Derive(dir, "small.jpg", "RJC-00002")
	require.NoError(t, err)
	assert.Equal(t, "RGB", qc.ColorMode)

	thumb, err := imaging.Open(filepath.Join(dir, "RJC-00002-THUMB.jpg"))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(30, 20), thumb.Bounds().Size())
}

func TestDeriver_BadImage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not an image"), 0644))

	_, err := NewDeriver(testOptions(), logger.Nop()).Derive(dir, "broken.jpg", "RJC-00003")
	assert.Error(t, err)
}

func TestDominantColors(t *testing.T) {
	img := imaging.New(10, 10, color.NRGBA{B: 255, A: 255})
	left := imaging.New(7, 10, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	img = imaging.Paste(img, left, image.Pt(0, 0))

	colors := DominantColors(img, 5)
	require.Len(t, colors, 2)
	assert.Equal(t, "White", colors[0].Name)
	assert.Equal(t, "#FFFFFF", colors[0].Hex)
	assert.InDelta(t, 0.7, colors[0].Share, 0.05)
	assert.Equal(t, "Blue", colors[1].Name)

	primary, secondary := SuggestColours(colors)
	assert.Equal(t, "White", primary)
	assert.Equal(t, "Blue", secondary)

	assert.Nil(t, DominantColors(imaging.New(4, 4, color.Transparent), 3))
}

func setupCompositor(t *testing.T, artSize image.Point, templateSizes ...image.Point) (*Compositor, layout.Paths, layout.RecordFiles) {
	t.Helper()
	paths := layout.NewPaths(t.TempDir())
	files := layout.RecordFiles{Slug: "sunset", SKU: "RJC-00010"}
	writeImage(t, filepath.Join(paths.Processed, "sunset", files.Image()), artSize.X, artSize.Y, color.NRGBA{R: 200, A: 255})
	for i, size := range templateSizes {
		name := filepath.Join(paths.Mockups, "room-"+string(rune('a'+i))+".png")
		writeImage(t, name, size.X, size.Y, color.NRGBA{G: 200, A: 255})
	}
	return NewCompositor(paths, testOptions(), logger.Nop()), paths, files
}

func repeat(p image.Point, n int) []image.Point {
	out := make([]image.Point, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func TestCompositor_GeneratesAllSlots(t *testing.T) {
	size := image.Pt(32, 24)
	c, paths, files := setupCompositor(t, size, repeat(size, 9)...)

	res, err := c.Generate("sunset")
	require.NoError(t, err)
	assert.True(t, res.Ready)
	assert.Equal(t, "RJC-00010", res.SKU)
	assert.Equal(t, 9, res.Created())

	dir := filepath.Join(paths.Processed, "sunset")
	for slot := 1; slot <= layout.MockupCount; slot++ {
		assert.FileExists(t, filepath.Join(dir, files.Mockup(slot)))
		assert.FileExists(t, filepath.Join(dir, files.MockupThumb(slot)))
		assert.Equal(t, "room-"+string(rune('a'+slot-1))+".png", res.Slots[slot-1].Template)
	}
}

func TestCompositor_Idempotent(t *testing.T) {
	size := image.Pt(32, 24)
	c, paths, files := setupCompositor(t, size, repeat(size, 9)...)

	_, err := c.Generate("sunset")
	require.NoError(t, err)

	dir := filepath.Join(paths.Processed, "sunset")
	before := snapshot(t, dir)

	res, err := c.Generate("sunset")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created())
	for _, s := range res.Slots {
		assert.Equal(t, SlotExists, s.Outcome)
	}
	assert.Equal(t, before, snapshot(t, dir))
	assert.FileExists(t, filepath.Join(dir, files.Mockup(9)))
}

func snapshot(t *testing.T, dir string) map[string]time.Time {
	t.Helper()
	out := map[string]time.Time{}
	require.NoError(t, filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			out[path] = info.ModTime()
		}
		return nil
	}))
	return out
}

func TestCompositor_SkipsMismatchedTemplates(t *testing.T) {
	size := image.Pt(32, 24)
	c, paths, files := setupCompositor(t, size, size, image.Pt(64, 48), size)

	res, err := c.Generate("sunset")
	require.NoError(t, err)
	require.Len(t, res.Slots, 3)
	assert.Equal(t, SlotCreated, res.Slots[0].Outcome)
	assert.Equal(t, SlotMismatch, res.Slots[1].Outcome)
	assert.Equal(t, SlotCreated, res.Slots[2].Outcome)

	dir := filepath.Join(paths.Processed, "sunset")
	assert.NoFileExists(t, filepath.Join(dir, files.Mockup(2)))
	assert.FileExists(t, filepath.Join(dir, files.Mockup(3)))
}

func TestCompositor_AtMostNineTemplates(t *testing.T) {
	size := image.Pt(16, 16)
	c, paths, files := setupCompositor(t, size, repeat(size, 11)...)

	res, err := c.Generate("sunset")
	require.NoError(t, err)
	assert.Len(t, res.Slots, layout.MockupCount)
	assert.NoFileExists(t, filepath.Join(paths.Processed, "sunset", "sunset-RJC-00010-MU-10.jpg"))
	assert.FileExists(t, filepath.Join(paths.Processed, "sunset", files.Mockup(9)))
}

func TestCompositor_FillsMissingThumbForExistingMockup(t *testing.T) {
	size := image.Pt(32, 24)
	c, paths, files := setupCompositor(t, size, size)

	_, err := c.Generate("sunset")
	require.NoError(t, err)
	thumb := filepath.Join(paths.Processed, "sunset", files.MockupThumb(1))
	require.NoError(t, os.Remove(thumb))

	res, err := c.Generate("sunset")
	require.NoError(t, err)
	assert.Equal(t, SlotExists, res.Slots[0].Outcome)
	assert.FileExists(t, thumb)
}

func TestCompositor_NotReady(t *testing.T) {
	paths := layout.NewPaths(t.TempDir())
	c := NewCompositor(paths, testOptions(), logger.Nop())

	res, err := c.Generate("Nothing Here")
	require.NoError(t, err)
	assert.False(t, res.Ready)
	assert.Equal(t, "nothing-here", res.Slug)
	assert.Empty(t, res.Slots)

	_, err = c.Generate("!!!")
	assert.Error(t, err)
}

func TestWatermarker_Preview(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "art.jpg")
	writeImage(t, src, 300, 150, color.NRGBA{R: 20, G: 20, B: 20, A: 255})

	w, err := NewWatermarker(testOptions())
	require.NoError(t, err)
	assert.Equal(t, "© RJC-00001", w.Text("RJC-00001"))

	dst := filepath.Join(dir, "preview.jpg")
	require.NoError(t, w.Preview(src, dst, "RJC-00001"))

	img, err := imaging.Open(dst)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(60, 30), img.Bounds().Size())

	opts := testOptions()
	opts.WatermarkText = "studio"
	w, err = NewWatermarker(opts)
	require.NoError(t, err)
	assert.Equal(t, "studio", w.Text("RJC-00001"))
}

func TestColorMode(t *testing.T) {
	dir := t.TempDir()

	opaque := filepath.Join(dir, "opaque.png")
	writeImage(t, opaque, 8, 8, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	translucent := filepath.Join(dir, "translucent.png")
	writeImage(t, translucent, 8, 8, color.NRGBA{R: 10, A: 128})
	encodePNG := func(name string, img image.Image) string {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, img))
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
		return path
	}
	grey := encodePNG("grey.png", image.NewGray(image.Rect(0, 0, 8, 8)))
	paletted := encodePNG("paletted.png", image.NewPaletted(image.Rect(0, 0, 8, 8), color.Palette{color.Black, color.White}))

	photo := filepath.Join(dir, "photo.jpg")
	writeImage(t, photo, 8, 8, color.White)

	cases := map[string]string{
		opaque:      "RGB",
		translucent: "RGBA",
		grey:        "L",
		paletted:    "P",
		photo:       "RGB",
	}
	for path, want := range cases {
		got, err := colorMode(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, filepath.Base(path))
	}
}

// writeOrientedJPEG writes a w x h JPEG carrying an EXIF orientation tag, as
// phone cameras do.
func writeOrientedJPEG(t *testing.T, path string, w, h int, orientation byte) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, imaging.New(w, h, color.NRGBA{R: 200, A: 255}), nil))

	app1 := []byte{
		0xFF, 0xE1, 0x00, 0x22, // APP1, length 34
		'E', 'x', 'i', 'f', 0, 0,
		'M', 'M', 0x00, 0x2A, 0, 0, 0, 0x08, // big-endian TIFF header, IFD at 8
		0x00, 0x01, // one entry
		0x01, 0x12, 0x00, 0x03, 0, 0, 0, 1, 0x00, orientation, 0, 0, // Orientation, SHORT
		0, 0, 0, 0, // no next IFD
	}
	data := append([]byte{0xFF, 0xD8}, app1...)
	data = append(data, buf.Bytes()[2:]...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestOrientation_ConsistentAcrossDerivatives(t *testing.T) {
	paths := layout.NewPaths(t.TempDir())
	files := layout.RecordFiles{Slug: "portrait", SKU: "RJC-00020"}
	upload := filepath.Join(t.TempDir(), "portrait.jpg")
	writeOrientedJPEG(t, upload, 40, 20, 6)

	d := NewDeriver(testOptions(), logger.Nop())
	qc, err := d.Derive(filepath.Dir(upload), "portrait.jpg", files.SKU)
	require.NoError(t, err)
	assert.Equal(t, 20, qc.Width)
	assert.Equal(t, 40, qc.Height)

	thumb, err := imaging.Open(filepath.Join(filepath.Dir(upload), "RJC-00020-THUMB.jpg"))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(20, 40), thumb.Bounds().Size())

	canonical := filepath.Join(paths.Processed, "portrait", files.Image())
	require.NoError(t, os.MkdirAll(filepath.Dir(canonical), 0755))
	require.NoError(t, d.Canonical(upload, canonical))
	f, err := os.Open(canonical)
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Width)
	assert.Equal(t, 40, cfg.Height)

	// a template sized to the QC dimensions fits the canonical image
	writeImage(t, filepath.Join(paths.Mockups, "room.png"), qc.Width, qc.Height, color.White)
	res, err := NewCompositor(paths, testOptions(), logger.Nop()).Generate("portrait")
	require.NoError(t, err)
	require.Len(t, res.Slots, 1)
	assert.Equal(t, SlotCreated, res.Slots[0].Outcome)
}
