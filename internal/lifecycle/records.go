package lifecycle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"artvault/internal/fsutil"
	"artvault/internal/layout"
	"artvault/internal/models"
	"artvault/internal/naming"
)

const maxSlugSuffix = 1000

// locate finds the record named slug. The manifest decides the stage; the
// returned directory is the one that stage lives in.
func (s *Service) locate(slug string) (*models.Record, string, error) {
	if !naming.IsSlug(slug) {
		return nil, "", fmt.Errorf("%q: %w", slug, ErrNotFound)
	}
	for _, stage := range searchOrder {
		dir := s.paths.RecordDir(stage, slug)
		if !dirExists(dir) {
			continue
		}
		rec, err := readManifest(dir, slug, stage)
		if err != nil {
			return nil, "", err
		}
		home := s.paths.RecordDir(rec.Stage, slug)
		if home != dir && !dirExists(home) {
			return nil, "", fmt.Errorf("%s: manifest says %s but %s is missing: %w", slug, rec.Stage, home, ErrIncomplete)
		}
		return rec, home, nil
	}
	return nil, "", fmt.Errorf("%s: %w", slug, ErrNotFound)
}

// readManifest loads {SKU}-RECORD.json from dir. Records written before
// manifests existed get one reconstructed from their file names.
func readManifest(dir, slug string, stage models.Stage) (*models.Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), "-RECORD.json") {
			continue
		}
		var rec models.Record
		if err := fsutil.ReadJSON(filepath.Join(dir, e.Name()), &rec); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", e.Name(), err)
		}
		return &rec, nil
	}

	rec := &models.Record{Slug: slug, Stage: stage}
	if stage == models.StageUnanalysed {
		sku, err := layout.FindUnanalysedSKU(dir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", slug, err)
		}
		rec.SKU = sku
		for _, e := range entries {
			if !e.IsDir() && layout.IsImageName(e.Name()) && !layout.IsDerivativeName(e.Name()) {
				rec.OriginalFile = e.Name()
				rec.OriginalName = e.Name()
				break
			}
		}
		return rec, nil
	}
	sku, err := layout.FindProcessedSKU(dir, slug)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", slug, err)
	}
	rec.SKU = sku
	rec.OriginalFile = layout.RecordFiles{Slug: slug, SKU: sku}.Image()
	return rec, nil
}

func (s *Service) saveManifest(rec *models.Record, dirs ...string) error {
	rec.UpdatedAt = time.Now().UTC()
	for _, dir := range dirs {
		if err := fsutil.WriteJSON(filepath.Join(dir, layout.ManifestName(rec.SKU)), rec); err != nil {
			return err
		}
	}
	return nil
}

// uniqueSlug returns base, or base-2, base-3... if base is already used by a
// record directory or a registry entry.
func (s *Service) uniqueSlug(base string) (string, error) {
	for n := 1; n < maxSlugSuffix; n++ {
		candidate := base
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d", base, n)
		}
		if !s.slugTaken(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: %w", base, ErrExists)
}

func (s *Service) slugTaken(slug string) bool {
	for _, stage := range searchOrder {
		if dirExists(s.paths.RecordDir(stage, slug)) {
			return true
		}
	}
	_, ok := s.registry.Get(slug)
	return ok
}

// requireStage fails with ErrLocked for locked records and ErrWrongStage
// when rec is in none of stages.
func requireStage(rec *models.Record, stages ...models.Stage) error {
	if rec.Stage == models.StageLocked {
		return fmt.Errorf("%s: %w", rec.Slug, ErrLocked)
	}
	for _, st := range stages {
		if rec.Stage == st {
			return nil
		}
	}
	return fmt.Errorf("%s is %s: %w", rec.Slug, rec.Stage, ErrWrongStage)
}

var rename = os.Rename

// moveAll renames every from/to pair in order. When one fails, the pairs
// already moved are put back before the error is returned.
func moveAll(moves [][2]string) error {
	for i, m := range moves {
		if err := rename(m[0], m[1]); err != nil {
			if rerr := moveAll(reversed(moves[:i])); rerr != nil {
				return errors.Join(err, rerr)
			}
			return err
		}
	}
	return nil
}

// reversed swaps each pair and reverses their order, undoing moveAll.
func reversed(moves [][2]string) [][2]string {
	out := make([][2]string, 0, len(moves))
	for i := len(moves) - 1; i >= 0; i-- {
		out = append(out, [2]string{moves[i][1], moves[i][0]})
	}
	return out
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
