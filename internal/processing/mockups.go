package processing

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/disintegration/imaging"

	"artvault/internal/fsutil"
	"artvault/internal/layout"
	"artvault/internal/logger"
	"artvault/internal/metrics"
	"artvault/internal/models"
	"artvault/internal/naming"
)

type SlotOutcome string

const (
	SlotCreated    SlotOutcome = "created"
	SlotExists     SlotOutcome = "exists"
	SlotMismatch   SlotOutcome = "mismatch"
	SlotUnreadable SlotOutcome = "unreadable"
)

type SlotResult struct {
	Slot     int         `json:"slot"`
	Template string      `json:"template"`
	Outcome  SlotOutcome `json:"outcome"`
}

// MockupResult reports what Generate did. Ready is false when the record
// has no canonical processed image yet.
type MockupResult struct {
	Slug  string       `json:"slug"`
	SKU   string       `json:"sku,omitempty"`
	Ready bool         `json:"ready"`
	Slots []SlotResult `json:"slots,omitempty"`
}

// Created counts the slots written by this run.
func (r *MockupResult) Created() int {
	n := 0
	for _, s := range r.Slots {
		if s.Outcome == SlotCreated {
			n++
		}
	}
	return n
}

// Compositor pastes processed artwork onto the mockup templates.
type Compositor struct {
	paths layout.Paths
	opts  Options
	log   *logger.Logger
}

func NewCompositor(paths layout.Paths, opts Options, log *logger.Logger) *Compositor {
	return &Compositor{paths: paths, opts: opts, log: log.Component("compositor")}
}

// Templates lists up to layout.MockupCount template images, sorted by name.
// A missing templates directory yields none.
func (c *Compositor) Templates() ([]string, error) {
	entries, err := os.ReadDir(c.paths.Mockups)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && layout.IsImageName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) > layout.MockupCount {
		names = names[:layout.MockupCount]
	}
	return names, nil
}

// Generate writes the numbered mockups for slug. Slots whose output already
// exists are left alone and templates whose size differs from the artwork
// are skipped, so repeated runs only fill gaps. A record without a canonical
// image is not an error.
func (c *Compositor) Generate(slug string) (*MockupResult, error) {
	const op = "processing.Compositor.Generate"

	slug = naming.Sanitize(slug)
	if slug == "" {
		return nil, fmt.Errorf("%s: %w", op, naming.ErrEmptySlug)
	}
	result := &MockupResult{Slug: slug}

	dir := c.paths.RecordDir(models.StageProcessed, slug)
	sku, err := layout.FindProcessedSKU(dir, slug)
	switch {
	case os.IsNotExist(err), errors.Is(err, layout.ErrNoSKU), errors.Is(err, layout.ErrAmbiguousSKU):
		c.log.Info("processed image not available, skipping mockups", "slug", slug, "reason", err)
		return result, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	result.SKU = sku
	result.Ready = true

	files := layout.RecordFiles{Slug: slug, SKU: sku}
	if err := os.MkdirAll(filepath.Join(dir, layout.MockupThumbsDir), 0755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	art, err := imaging.Open(filepath.Join(dir, files.Image()), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	templates, err := c.Templates()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(templates) == 0 {
		c.log.Warn("no mockup templates found", "dir", c.paths.Mockups)
	}

	for i, name := range templates {
		slot := i + 1
		outcome, err := c.fillSlot(dir, files, slot, name, art)
		if err != nil {
			return nil, fmt.Errorf("%s: slot %d: %w", op, slot, err)
		}
		metrics.RecordMockupSlot(string(outcome))
		result.Slots = append(result.Slots, SlotResult{Slot: slot, Template: name, Outcome: outcome})
	}

	c.log.Info("mockups generated", "slug", slug, "sku", sku, "created", result.Created(), "templates", len(templates))
	return result, nil
}

func (c *Compositor) fillSlot(dir string, files layout.RecordFiles, slot int, template string, art image.Image) (SlotOutcome, error) {
	out := filepath.Join(dir, files.Mockup(slot))
	thumb := filepath.Join(dir, files.MockupThumb(slot))

	exists, err := fsutil.Exists(out)
	if err != nil {
		return "", err
	}
	if exists {
		return SlotExists, c.ensureThumb(out, thumb)
	}

	bg, err := imaging.Open(filepath.Join(c.paths.Mockups, template))
	if err != nil {
		c.log.Warn("mockup template unreadable", "template", template, "error", err)
		return SlotUnreadable, nil
	}
	if bg.Bounds().Size() != art.Bounds().Size() {
		c.log.Warn("mockup template size differs from artwork, skipping",
			"slot", slot, "template", template,
			"template_size", bg.Bounds().Size().String(), "artwork_size", art.Bounds().Size().String())
		return SlotMismatch, nil
	}

	composite := imaging.Paste(bg, art, image.Pt(0, 0))
	if err := c.opts.saveJPEG(composite, out); err != nil {
		return "", err
	}
	if err := c.opts.saveJPEG(fitLongEdge(composite, c.opts.MockupThumbEdge), thumb); err != nil {
		return "", err
	}
	return SlotCreated, nil
}

// ensureThumb writes the thumbnail of an existing mockup if it is missing.
func (c *Compositor) ensureThumb(mockup, thumb string) error {
	exists, err := fsutil.Exists(thumb)
	if err != nil || exists {
		return err
	}
	img, err := imaging.Open(mockup)
	if err != nil {
		return err
	}
	return c.opts.saveJPEG(fitLongEdge(img, c.opts.MockupThumbEdge), thumb)
}
