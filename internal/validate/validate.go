// Package validate checks that every artwork record on disk holds the files
// its stage requires. Missing files and directories are reported as
// human-readable strings; only unexpected I/O failures are returned as
// errors.
package validate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"artvault/internal/fsutil"
	"artvault/internal/layout"
)

// Validate checks the unanalysed and processed trees under projectRoot and
// returns all problems found, unanalysed first.
func Validate(projectRoot string) ([]string, error) {
	const op = "validate.Validate"

	paths := layout.NewPaths(projectRoot)
	problems, err := CheckUnanalysed(paths.Unanalysed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	processed, err := CheckProcessed(paths.Processed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return append(problems, processed...), nil
}

// CheckUnanalysed validates every record directory directly under root.
func CheckUnanalysed(root string) ([]string, error) {
	return walkRecords(root, "unanalysed", checkUnanalysedRecord)
}

// CheckProcessed validates every processed record directly under root.
func CheckProcessed(root string) ([]string, error) {
	return walkRecords(root, "processed", checkProcessedRecord)
}

// CheckFinalised applies the processed-record rules to a finalised or
// locked tree.
func CheckFinalised(root string) ([]string, error) {
	return walkRecords(root, "finalised", checkProcessedRecord)
}

var ErrUnknownStage = errors.New("unknown stage")

// Stage runs the check for one stage directory under projectRoot. An empty
// stage runs Validate; finalised and locked use the processed rules.
func Stage(projectRoot, stage string) ([]string, error) {
	paths := layout.NewPaths(projectRoot)
	switch stage {
	case "":
		return Validate(projectRoot)
	case "unanalysed":
		return CheckUnanalysed(paths.Unanalysed)
	case "processed":
		return CheckProcessed(paths.Processed)
	case "finalised":
		return CheckFinalised(paths.Finalised)
	case "locked":
		return walkRecords(paths.Locked, "locked", checkProcessedRecord)
	}
	return nil, fmt.Errorf("validate.Stage: %q: %w", stage, ErrUnknownStage)
}

type expected struct {
	name string // relative to the record directory
	what string // label used in the report
}

type recordCheck func(dir, label string) ([]string, error)

func walkRecords(root, stage string, check recordCheck) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{fmt.Sprintf("%s directory missing: %s", stage, root)}, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return []string{fmt.Sprintf("%s path is not a directory: %s", stage, root)}, nil
	}

	records, err := layout.ListRecordDirs(root)
	if err != nil {
		return nil, err
	}
	var problems []string
	for _, name := range records {
		found, err := check(filepath.Join(root, name), stage+"/"+name)
		if err != nil {
			return nil, err
		}
		problems = append(problems, found...)
	}
	return problems, nil
}

func checkUnanalysedRecord(dir, label string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var originals []string
	var hasThumb, hasAnalyse, hasQC bool
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		switch {
		case strings.HasSuffix(name, layout.QCSuffix):
			hasQC = true
		case strings.Contains(stem, layout.ThumbMarker):
			hasThumb = true
		case strings.Contains(stem, layout.AnalyseMarker):
			hasAnalyse = true
		case layout.IsImageName(name):
			originals = append(originals, name)
		}
	}

	var problems []string
	switch len(originals) {
	case 0:
		problems = append(problems, fmt.Sprintf("%s: original image missing", label))
	case 1:
	default:
		problems = append(problems, fmt.Sprintf("%s: ambiguous original image (%s)", label, strings.Join(originals, ", ")))
	}
	if !hasThumb {
		problems = append(problems, fmt.Sprintf("%s: THUMB missing (expected {SKU}-THUMB.jpg)", label))
	}
	if !hasAnalyse {
		problems = append(problems, fmt.Sprintf("%s: ANALYSE missing (expected {SKU}-ANALYSE.jpg)", label))
	}
	if !hasQC {
		problems = append(problems, fmt.Sprintf("%s: QC JSON missing (expected {SKU}-QC.json)", label))
	}
	return problems, nil
}

func checkProcessedRecord(dir, label string) ([]string, error) {
	slug := filepath.Base(dir)
	sku, err := layout.FindProcessedSKU(dir, slug)
	switch {
	case errors.Is(err, layout.ErrNoSKU):
		return []string{fmt.Sprintf("%s: canonical image %s-{SKU}.jpg missing, record cannot be validated", label, slug)}, nil
	case errors.Is(err, layout.ErrAmbiguousSKU):
		return []string{fmt.Sprintf("%s: %v", label, err)}, nil
	case err != nil:
		return nil, err
	}

	files := layout.RecordFiles{Slug: slug, SKU: sku}
	checks := []expected{
		{files.Thumb(), "THUMB"},
		{files.Analyse(), "ANALYSE"},
		{files.QC(), "QC JSON"},
	}
	for i := 1; i <= layout.MockupCount; i++ {
		checks = append(checks, expected{files.Mockup(i), layout.MockupLabel(i)})
	}
	for i := 1; i <= layout.MockupCount; i++ {
		checks = append(checks, expected{files.MockupThumb(i), layout.MockupLabel(i) + " thumbnail"})
	}
	checks = append(checks, expected{files.Final(), "Final JSON"})

	var problems []string
	for _, c := range checks {
		ok, err := fsutil.Exists(filepath.Join(dir, c.name))
		if err != nil {
			return nil, err
		}
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: %s missing (%s)", label, c.what, filepath.ToSlash(c.name)))
		}
	}
	return problems, nil
}
