// Package lifecycle moves artwork records through their stages:
// unanalysed -> processed -> finalised -> locked. Each transition updates the
// record manifest, the master registry and the journal; moving directories
// is a side effect of the transition, not its definition.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"artvault/internal/fsutil"
	"artvault/internal/layout"
	"artvault/internal/logger"
	"artvault/internal/metrics"
	"artvault/internal/models"
	"artvault/internal/naming"
	"artvault/internal/processing"
	"artvault/internal/queue"
	"artvault/internal/storage"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrWrongStage  = errors.New("record is not in the required stage")
	ErrLocked      = errors.New("record is locked")
	ErrExists      = errors.New("record already exists")
	ErrIncomplete  = errors.New("record is incomplete")
	ErrInvalid     = errors.New("invalid input")
	ErrUnsupported = errors.New("unsupported file type")
)

// searchOrder is the order stage directories are consulted when locating a
// record; later stages win because earlier copies may be left behind.
var searchOrder = []models.Stage{
	models.StageLocked,
	models.StageFinalised,
	models.StageProcessed,
	models.StageUnanalysed,
}

type Deps struct {
	Paths       layout.Paths
	Tracker     *naming.Tracker
	Registry    *storage.Registry
	Journal     storage.Journal
	Jobs        queue.Dispatcher
	Deriver     *processing.Deriver
	Compositor  *processing.Compositor
	Watermarker *processing.Watermarker
	Log         *logger.Logger
}

type Service struct {
	paths       layout.Paths
	tracker     *naming.Tracker
	registry    *storage.Registry
	journal     storage.Journal
	jobs        queue.Dispatcher
	deriver     *processing.Deriver
	compositor  *processing.Compositor
	watermarker *processing.Watermarker
	log         *logger.Logger

	// one transition at a time
	mu sync.Mutex
}

func NewService(d Deps) *Service {
	journal := d.Journal
	if journal == nil {
		journal = storage.NopJournal{}
	}
	return &Service{
		paths:       d.Paths,
		tracker:     d.Tracker,
		registry:    d.Registry,
		journal:     journal,
		jobs:        d.Jobs,
		deriver:     d.Deriver,
		compositor:  d.Compositor,
		watermarker: d.Watermarker,
		log:         d.Log.Component("lifecycle"),
	}
}

// HandleJob runs a background job. It is the queue.Handler for both the
// Kafka consumer and the inline dispatcher.
func (s *Service) HandleJob(ctx context.Context, job queue.Job) error {
	switch job.Kind {
	case queue.KindDerive:
		return s.Derive(ctx, job.Slug)
	case queue.KindMockups:
		_, err := s.Mockups(ctx, job.Slug)
		return err
	}
	return fmt.Errorf("lifecycle.HandleJob: unknown job kind %q", job.Kind)
}

// Ingest stores an uploaded original as a new unanalysed record and queues
// derivative generation.
func (s *Service) Ingest(ctx context.Context, filename string, r io.Reader) (*models.Record, error) {
	rec, err := s.ingest(ctx, filename, r)
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, queue.NewJob(queue.KindDerive, rec.Slug, rec.SKU))
	return rec, nil
}

func (s *Service) ingest(ctx context.Context, filename string, r io.Reader) (*models.Record, error) {
	const op = "lifecycle.Ingest"

	s.mu.Lock()
	defer s.mu.Unlock()

	base := naming.SlugFromFilename(filename)
	if base == "" {
		return nil, fmt.Errorf("%s: %q: %w", op, filename, naming.ErrEmptySlug)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !layout.IsImageName(ext) {
		return nil, fmt.Errorf("%s: %q: %w", op, filename, ErrUnsupported)
	}

	slug, err := s.uniqueSlug(base)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sku, err := s.tracker.Next()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	dir := s.paths.RecordDir(models.StageUnanalysed, slug)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	original := slug + ext
	if err := writeFile(filepath.Join(dir, original), r); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	rec := &models.Record{
		SKU:          sku,
		Slug:         slug,
		Stage:        models.StageUnanalysed,
		OriginalName: filepath.Base(filename),
		OriginalFile: original,
		CreatedAt:    now,
	}
	if err := s.saveManifest(rec, dir); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.registry.Put(models.RegistryEntry{SKU: sku, Slug: slug, Stage: rec.Stage}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.record(ctx, rec, "ingest", rec.OriginalName)
	return rec, nil
}

// IngestFile ingests the file at path and removes it afterwards.
func (s *Service) IngestFile(ctx context.Context, path string) (*models.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.IngestFile: %w", err)
	}
	rec, err := s.Ingest(ctx, filepath.Base(path), f)
	f.Close()
	if err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil {
		s.log.Warn("ingested file not removed", "path", path, "error", err)
	}
	return rec, nil
}

// Derive generates THUMB, ANALYSE and QC files for an unanalysed record.
func (s *Service) Derive(ctx context.Context, slug string) error {
	const op = "lifecycle.Derive"

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, dir, err := s.locate(slug)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := requireStage(rec, models.StageUnanalysed); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.deriver.Derive(dir, rec.OriginalFile, rec.SKU); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.saveManifest(rec, dir); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.record(ctx, rec, "derive", "")
	return nil
}

// Analyse applies the external analysis result and moves the record into the
// processed area, renaming its slug after the analysed title when one is
// given. Mockup generation is queued afterwards.
func (s *Service) Analyse(ctx context.Context, slug string, a models.Analysis) (*models.Record, error) {
	rec, err := s.analyse(ctx, slug, a)
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, queue.NewJob(queue.KindMockups, rec.Slug, rec.SKU))
	return rec, nil
}

func (s *Service) analyse(ctx context.Context, slug string, a models.Analysis) (*models.Record, error) {
	const op = "lifecycle.Analyse"

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, src, err := s.locate(slug)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireStage(rec, models.StageUnanalysed); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	uf := layout.UnanalysedFiles{SKU: rec.SKU}
	for _, name := range []string{uf.Thumb(), uf.Analyse(), uf.QC()} {
		ok, err := fsutil.Exists(filepath.Join(src, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s: %s missing: %w", op, name, ErrIncomplete)
		}
	}

	newSlug := rec.Slug
	if titled := naming.Sanitize(a.Title); titled != "" && titled != rec.Slug {
		if newSlug, err = s.uniqueSlug(titled); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	dst := s.paths.RecordDir(models.StageProcessed, newSlug)
	exists, err := fsutil.Exists(dst)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if exists {
		return nil, fmt.Errorf("%s: %s: %w", op, dst, ErrExists)
	}
	if err := os.MkdirAll(filepath.Join(dst, layout.MockupThumbsDir), 0755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	files := layout.RecordFiles{Slug: newSlug, SKU: rec.SKU}
	if err := s.deriver.Canonical(filepath.Join(src, rec.OriginalFile), filepath.Join(dst, files.Image())); err != nil {
		os.RemoveAll(dst)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	moves := [][2]string{
		{filepath.Join(src, uf.Thumb()), filepath.Join(dst, files.Thumb())},
		{filepath.Join(src, uf.Analyse()), filepath.Join(dst, files.Analyse())},
		{filepath.Join(src, uf.QC()), filepath.Join(dst, files.QC())},
	}
	// until the manifest is written the unanalysed record stays authoritative
	abort := func(cause error) (*models.Record, error) {
		if err := moveAll(reversed(moves)); err != nil {
			s.log.Error("analyse rollback incomplete", "slug", slug, "error", err)
			return nil, fmt.Errorf("%s: %w", op, errors.Join(cause, err))
		}
		os.RemoveAll(dst)
		return nil, fmt.Errorf("%s: %w", op, cause)
	}
	if err := moveAll(moves); err != nil {
		os.RemoveAll(dst)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	oldSlug := rec.Slug
	rec.Slug = newSlug
	rec.Stage = models.StageProcessed
	rec.OriginalFile = files.Image()
	rec.Analysis = &a
	if err := s.saveManifest(rec, dst); err != nil {
		return abort(err)
	}
	if err := os.RemoveAll(src); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.registry.Rename(oldSlug, models.RegistryEntry{SKU: rec.SKU, Slug: rec.Slug, Stage: rec.Stage}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.record(ctx, rec, "analyse", a.Provider)
	return rec, nil
}

// Mockups composites the processed artwork onto the mockup templates and
// pins the template used for every slot written.
func (s *Service) Mockups(ctx context.Context, slug string) (*processing.MockupResult, error) {
	const op = "lifecycle.Mockups"

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, dir, err := s.locate(slug)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireStage(rec, models.StageProcessed); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res, err := s.compositor.Generate(rec.Slug)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !res.Ready {
		return res, nil
	}

	if rec.Mockups == nil {
		rec.Mockups = map[int]string{}
	}
	for _, slot := range res.Slots {
		_, pinned := rec.Mockups[slot.Slot]
		switch {
		case slot.Outcome == processing.SlotCreated:
			rec.Mockups[slot.Slot] = slot.Template
		case slot.Outcome == processing.SlotExists && !pinned:
			rec.Mockups[slot.Slot] = slot.Template
		case slot.Outcome == processing.SlotExists && rec.Mockups[slot.Slot] != slot.Template:
			s.log.Warn("mockup slot was made from a different template",
				"slug", rec.Slug, "slot", slot.Slot, "pinned", rec.Mockups[slot.Slot], "current", slot.Template)
		}
	}
	if err := s.saveManifest(rec, dir); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.record(ctx, rec, "mockups", fmt.Sprintf("created=%d", res.Created()))
	return res, nil
}

// Finalise writes the FINAL listing for a processed record with all nine
// mockups, copies the record into the finalised area and renders its
// watermarked preview. Finalising again replaces the listing.
func (s *Service) Finalise(ctx context.Context, slug string, in models.Listing) (*models.Listing, error) {
	const op = "lifecycle.Finalise"

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, _, err := s.locate(slug)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireStage(rec, models.StageProcessed, models.StageFinalised); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	dir := s.paths.RecordDir(models.StageProcessed, rec.Slug)
	files := layout.RecordFiles{Slug: rec.Slug, SKU: rec.SKU}
	var missing []string
	for i := 1; i <= layout.MockupCount; i++ {
		for _, name := range []string{files.Mockup(i), files.MockupThumb(i)} {
			ok, err := fsutil.Exists(filepath.Join(dir, name))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			if !ok {
				missing = append(missing, filepath.ToSlash(name))
			}
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: missing %s: %w", op, strings.Join(missing, ", "), ErrIncomplete)
	}

	listing := s.completeListing(rec, dir, in)
	if listing.Title == "" {
		return nil, fmt.Errorf("%s: title required: %w", op, ErrInvalid)
	}
	if err := fsutil.WriteJSON(filepath.Join(dir, files.Final()), listing); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec.Stage = models.StageFinalised
	if err := s.saveManifest(rec, dir); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	dst := s.paths.RecordDir(models.StageFinalised, rec.Slug)
	if err := os.RemoveAll(dst); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := fsutil.CopyDir(dir, dst); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.watermarker.Preview(filepath.Join(dst, files.Image()), filepath.Join(dst, files.Preview()), rec.SKU); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	entry := models.RegistryEntry{SKU: rec.SKU, Slug: rec.Slug, Stage: rec.Stage, Listing: listing}
	if err := s.registry.Put(entry); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.record(ctx, rec, "finalise", listing.Title)
	return listing, nil
}

// completeListing fills blank listing fields from the analysis and the QC
// colours.
func (s *Service) completeListing(rec *models.Record, dir string, in models.Listing) *models.Listing {
	l := in
	l.SKU = rec.SKU
	l.Slug = rec.Slug
	if a := rec.Analysis; a != nil {
		if l.Title == "" {
			l.Title = a.Title
		}
		if l.Description == "" {
			l.Description = a.Description
		}
		if len(l.Tags) == 0 {
			l.Tags = a.Tags
		}
		if l.PrimaryColour == "" {
			l.PrimaryColour = a.PrimaryColour
		}
		if l.SecondaryColour == "" {
			l.SecondaryColour = a.SecondaryColour
		}
	}
	l.Title = strings.TrimSpace(l.Title)

	if l.PrimaryColour == "" || l.SecondaryColour == "" {
		var qc models.QC
		files := layout.RecordFiles{Slug: rec.Slug, SKU: rec.SKU}
		if err := fsutil.ReadJSON(filepath.Join(dir, files.QC()), &qc); err != nil {
			s.log.WithRecord(rec.SKU, rec.Slug).Warn("qc unreadable, colours left blank", "error", err)
		} else {
			primary, secondary := processing.SuggestColours(qc.DominantColors)
			if l.PrimaryColour == "" {
				l.PrimaryColour = primary
			}
			if l.SecondaryColour == "" {
				l.SecondaryColour = secondary
			}
		}
	}

	l.Mockups = make([]string, 0, layout.MockupCount)
	for i := 1; i <= layout.MockupCount; i++ {
		l.Mockups = append(l.Mockups, (layout.RecordFiles{Slug: rec.Slug, SKU: rec.SKU}).Mockup(i))
	}
	l.FinalisedAt = time.Now().UTC()
	return &l
}

// Lock moves a finalised record into the locked area. Locked records keep
// their published URLs and refuse further changes.
func (s *Service) Lock(ctx context.Context, slug string) (*models.Record, error) {
	const op = "lifecycle.Lock"

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, src, err := s.locate(slug)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireStage(rec, models.StageFinalised); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	dst := s.paths.RecordDir(models.StageLocked, rec.Slug)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rec.Stage = models.StageLocked
	dirs := []string{dst}
	if processed := s.paths.RecordDir(models.StageProcessed, rec.Slug); dirExists(processed) {
		dirs = append(dirs, processed)
	}
	if err := s.saveManifest(rec, dirs...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	entry, _ := s.registry.Get(rec.Slug)
	now := time.Now().UTC()
	entry.SKU, entry.Slug, entry.Stage, entry.LockedAt = rec.SKU, rec.Slug, rec.Stage, &now
	if err := s.registry.Put(entry); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.record(ctx, rec, "lock", "")
	return rec, nil
}

// Delete removes every directory of an unlocked record and its registry
// entry.
func (s *Service) Delete(ctx context.Context, slug string) error {
	const op = "lifecycle.Delete"

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, _, err := s.locate(slug)
	switch {
	case errors.Is(err, ErrNotFound):
		entry, ok := s.registry.Get(slug)
		if !ok {
			return fmt.Errorf("%s: %w", op, err)
		}
		// registry entry without files
		rec = &models.Record{SKU: entry.SKU, Slug: slug, Stage: entry.Stage}
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}
	if rec.Stage == models.StageLocked {
		return fmt.Errorf("%s: %s: %w", op, slug, ErrLocked)
	}

	for _, stage := range []models.Stage{models.StageUnanalysed, models.StageProcessed, models.StageFinalised} {
		if err := os.RemoveAll(s.paths.RecordDir(stage, rec.Slug)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := s.registry.Delete(rec.Slug); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.record(ctx, rec, "delete", "")
	return nil
}

// Get returns the manifest of slug.
func (s *Service) Get(slug string) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, _, err := s.locate(slug)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.Get: %w", err)
	}
	return rec, nil
}

// History returns the journalled transitions of slug, oldest first.
func (s *Service) History(ctx context.Context, slug string) ([]models.Event, error) {
	rec, err := s.Get(slug)
	if err != nil {
		return nil, err
	}
	events, err := s.journal.Events(ctx, rec.SKU)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.History: %w", err)
	}
	return events, nil
}

// List returns the master registry entries.
func (s *Service) List() []models.RegistryEntry {
	return s.registry.List()
}

// NextSKU issues a SKU without creating a record.
func (s *Service) NextSKU() (string, error) {
	return s.tracker.Next()
}

func (s *Service) dispatch(ctx context.Context, job queue.Job) {
	if s.jobs == nil {
		return
	}
	if err := s.jobs.Dispatch(ctx, job); err != nil {
		s.log.Warn("job not queued", "kind", job.Kind, "slug", job.Slug, "error", err)
	}
}

func (s *Service) record(ctx context.Context, rec *models.Record, action, detail string) {
	metrics.RecordTransition(action)
	log := s.log.WithRecord(rec.SKU, rec.Slug)
	log.Info("record "+action, "stage", rec.Stage)
	ev := models.Event{SKU: rec.SKU, Slug: rec.Slug, Stage: rec.Stage, Action: action, Detail: detail}
	if err := s.journal.Record(ctx, ev); err != nil {
		log.Warn("journal write failed", "action", action, "error", err)
	}
}
