package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/mdobak/go-xerrors"

	"variant-mil/models"
)

// WriteVerdicts writes records as CSV with a header row.
func WriteVerdicts(path string, records []models.VerdictRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return xerrors.Newf("create %s: %w", path, err)
	}
	if err := gocsv.MarshalFile(&records, f); err != nil {
		f.Close()
		return xerrors.Newf("write %s: %w", path, err)
	}
	return f.Close()
}

// ReadVerdicts reads a file written by WriteVerdicts.
func ReadVerdicts(path string) ([]models.VerdictRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Newf("open %s: %w", path, err)
	}
	defer f.Close()

	var records []models.VerdictRecord
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, xerrors.Newf("parse %s: %v: %w", path, err, models.ErrDataShape)
	}
	return records, nil
}

// DumpName is the file name of the embedding dump for one truth category.
func DumpName(method string, truth models.Truth, seed int64) string {
	tag := string(truth)
	if truth == models.TruthWildtype {
		tag = "wt"
	}
	return fmt.Sprintf("%s-raw-%s-%d.csv", method, tag, seed)
}

// WriteEmbeddingDumps writes the embedded frames of d into one CSV per truth
// category (wildtype, benign, pathogenic). embedding must follow the row
// order of d.Matrix. Categories without variants still get a header-only file.
func WriteEmbeddingDumps(dir, method string, seed int64, d *Dataset, embedding [][]float64) ([]string, error) {
	if len(embedding) != d.Len() {
		return nil, xerrors.Newf("embedding has %d rows for %d frames: %w", len(embedding), d.Len(), models.ErrDataShape)
	}
	width := 0
	if len(embedding) > 0 {
		width = len(embedding[0])
	}

	truths := []models.Truth{models.TruthWildtype, models.TruthBenign, models.TruthPathogenic}
	writers := make(map[models.Truth]*csv.Writer, len(truths))
	var paths []string
	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	header := []string{"variant", "frame"}
	for j := 0; j < width; j++ {
		header = append(header, "e"+strconv.Itoa(j))
	}
	for _, t := range truths {
		path := filepath.Join(dir, DumpName(method, t, seed))
		f, err := os.Create(path)
		if err != nil {
			return nil, xerrors.Newf("create %s: %w", path, err)
		}
		files = append(files, f)
		paths = append(paths, path)
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		writers[t] = w
	}

	row := 0
	for _, v := range d.Variants {
		w := writers[v.Truth()]
		for i := range v.Frames {
			rec := []string{v.ID, strconv.Itoa(i)}
			for _, x := range embedding[row] {
				rec = append(rec, strconv.FormatFloat(x, 'g', 8, 64))
			}
			if err := w.Write(rec); err != nil {
				return nil, err
			}
			row++
		}
	}
	for _, t := range truths {
		writers[t].Flush()
		if err := writers[t].Error(); err != nil {
			return nil, xerrors.Newf("write %s dump: %w", t, err)
		}
	}
	return paths, nil
}
