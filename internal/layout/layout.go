// Package layout describes where artwork records live on disk and which
// files each lifecycle stage must contain. Both the integrity validator and
// the mockup compositor derive file names from here.
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"artvault/internal/models"
	"artvault/internal/naming"
)

const (
	UnanalysedDir = "art-processing/unanalysed-artwork"
	ProcessedDir  = "art-processing/processed-artwork"
	FinalisedDir  = "art-processing/finalised-artwork"
	LockedDir     = "art-processing/locked-artwork"
	MockupsDir    = "inputs/mockups"
	InboxDir      = "inputs/inbox"
	SettingsDir   = "settings"
	LogsDir       = "logs"

	MockupThumbsDir = "THUMBS"
	MockupCount     = 9

	ThumbMarker   = "-THUMB"
	AnalyseMarker = "-ANALYSE"
	QCSuffix      = "-QC.json"
)

var (
	ErrNoSKU        = errors.New("no canonical image found")
	ErrAmbiguousSKU = errors.New("more than one canonical image found")
)

// ImageExts are the accepted original image suffixes (lowercase).
var ImageExts = []string{".jpg", ".jpeg", ".png"}

// Paths resolves the fixed directory layout under a base directory.
type Paths struct {
	Root       string
	Unanalysed string
	Processed  string
	Finalised  string
	Locked     string
	Mockups    string
	Inbox      string
	Settings   string
	Logs       string
}

func NewPaths(root string) Paths {
	join := func(rel string) string { return filepath.Join(root, filepath.FromSlash(rel)) }
	return Paths{
		Root:       root,
		Unanalysed: join(UnanalysedDir),
		Processed:  join(ProcessedDir),
		Finalised:  join(FinalisedDir),
		Locked:     join(LockedDir),
		Mockups:    join(MockupsDir),
		Inbox:      join(InboxDir),
		Settings:   join(SettingsDir),
		Logs:       join(LogsDir),
	}
}

// Ensure creates every directory of the layout.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.Unanalysed, p.Processed, p.Finalised, p.Locked, p.Mockups, p.Inbox, p.Settings, p.Logs} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("layout.Ensure: %w", err)
		}
	}
	return nil
}

// StageDir returns the directory holding records of the given stage.
func (p Paths) StageDir(stage models.Stage) string {
	switch stage {
	case models.StageUnanalysed:
		return p.Unanalysed
	case models.StageProcessed:
		return p.Processed
	case models.StageFinalised:
		return p.Finalised
	case models.StageLocked:
		return p.Locked
	}
	return ""
}

// RecordDir is the directory of record slug at stage.
func (p Paths) RecordDir(stage models.Stage, slug string) string {
	return filepath.Join(p.StageDir(stage), slug)
}

// ManifestName is the per-record manifest file, present at every stage.
func ManifestName(sku string) string { return sku + "-RECORD.json" }

// UnanalysedFiles names the derivative files of an unanalysed record.
type UnanalysedFiles struct {
	SKU string
}

func (u UnanalysedFiles) Thumb() string    { return u.SKU + ThumbMarker + ".jpg" }
func (u UnanalysedFiles) Analyse() string  { return u.SKU + AnalyseMarker + ".jpg" }
func (u UnanalysedFiles) QC() string       { return u.SKU + QCSuffix }
func (u UnanalysedFiles) Manifest() string { return ManifestName(u.SKU) }

// RecordFiles names the files of a processed (or finalised/locked) record.
type RecordFiles struct {
	Slug string
	SKU  string
}

func (r RecordFiles) Base() string     { return r.Slug + "-" + r.SKU }
func (r RecordFiles) Image() string    { return r.Base() + ".jpg" }
func (r RecordFiles) Thumb() string    { return r.Base() + ThumbMarker + ".jpg" }
func (r RecordFiles) Analyse() string  { return r.Base() + AnalyseMarker + ".jpg" }
func (r RecordFiles) QC() string       { return r.SKU + QCSuffix }
func (r RecordFiles) Final() string    { return r.SKU + "-FINAL.json" }
func (r RecordFiles) Preview() string  { return r.Base() + "-PREVIEW.jpg" }
func (r RecordFiles) Manifest() string { return ManifestName(r.SKU) }

// MockupLabel is the MU-NN marker for a 1-based slot.
func MockupLabel(slot int) string { return fmt.Sprintf("MU-%02d", slot) }

func (r RecordFiles) Mockup(slot int) string {
	return r.Base() + "-" + MockupLabel(slot) + ".jpg"
}

// MockupThumb is relative to the record directory (it includes THUMBS/).
func (r RecordFiles) MockupThumb(slot int) string {
	return filepath.Join(MockupThumbsDir, r.Base()+"-"+MockupLabel(slot)+ThumbMarker+".jpg")
}

// Required lists every file a complete processed record must hold, relative
// to the record directory.
func (r RecordFiles) Required() []string {
	files := []string{r.Image(), r.Thumb(), r.Analyse(), r.QC()}
	for i := 1; i <= MockupCount; i++ {
		files = append(files, r.Mockup(i))
	}
	for i := 1; i <= MockupCount; i++ {
		files = append(files, r.MockupThumb(i))
	}
	return append(files, r.Final())
}

// IsImageName reports whether name has an accepted image suffix.
func IsImageName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExts {
		if ext == e {
			return true
		}
	}
	return false
}

// IsDerivativeName reports whether name carries a THUMB or ANALYSE marker.
func IsDerivativeName(name string) bool {
	return strings.Contains(name, ThumbMarker) || strings.Contains(name, AnalyseMarker)
}

// FindProcessedSKU derives the SKU of the record in dir from its canonical
// image {slug}-{SKU}.jpg.
func FindProcessedSKU(dir, slug string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(slug) + `-(` + naming.SKUExpr + `)\.jpg$`)
	var skus []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m := pattern.FindStringSubmatch(e.Name()); m != nil {
			skus = append(skus, m[1])
		}
	}
	switch len(skus) {
	case 0:
		return "", ErrNoSKU
	case 1:
		return skus[0], nil
	}
	sort.Strings(skus)
	return "", fmt.Errorf("%w: %s", ErrAmbiguousSKU, strings.Join(skus, ", "))
}

// FindUnanalysedSKU derives the SKU of an unanalysed record from its
// {SKU}-THUMB.jpg or {SKU}-QC.json file.
func FindUnanalysedSKU(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ThumbMarker+".jpg"):
			return strings.TrimSuffix(name, ThumbMarker+".jpg"), nil
		case strings.HasSuffix(name, QCSuffix):
			return strings.TrimSuffix(name, QCSuffix), nil
		case strings.HasSuffix(name, "-RECORD.json"):
			return strings.TrimSuffix(name, "-RECORD.json"), nil
		}
	}
	return "", ErrNoSKU
}

// ListRecordDirs returns the sorted names of the immediate subdirectories
// of root. A missing root yields no records.
func ListRecordDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
