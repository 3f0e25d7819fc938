package dataset

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gocarina/gocsv"
	"github.com/mdobak/go-xerrors"

	"variant-mil/models"
)

type variantRow struct {
	Variant string `csv:"variant"`
	Label   int    `csv:"label"`
}

type indexedFrame struct {
	index    int
	features []float64
}

// Load reads <dataDir>/<gene>/variants.csv and frames.csv.
func Load(dataDir, gene string) (*Dataset, error) {
	if gene == "" {
		return nil, xerrors.Newf("no gene selected: %w", models.ErrConfiguration)
	}
	dir := filepath.Join(dataDir, gene)

	variants, err := readVariants(filepath.Join(dir, VariantsFile))
	if err != nil {
		return nil, err
	}
	known := make(map[string]int, len(variants))
	for i, v := range variants {
		known[v.ID] = i
	}

	frames, width, err := readFrames(filepath.Join(dir, FramesFile), known)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Gene: gene, FeatureDim: width}
	for i := range variants {
		fs := frames[variants[i].ID]
		sort.Slice(fs, func(a, b int) bool { return fs[a].index < fs[b].index })
		for k := 1; k < len(fs); k++ {
			if fs[k].index == fs[k-1].index {
				return nil, xerrors.Newf("variant %s repeats frame %d: %w", variants[i].ID, fs[k].index, models.ErrDataShape)
			}
		}
		for _, f := range fs {
			variants[i].Frames = append(variants[i].Frames, f.features)
		}
	}
	ds.Variants = variants
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func readVariants(path string) ([]Variant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Newf("open %s: %v: %w", path, err, models.ErrDataShape)
	}
	defer f.Close()

	var rows []*variantRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, xerrors.Newf("parse %s: %v: %w", path, err, models.ErrDataShape)
	}
	if len(rows) == 0 {
		return nil, xerrors.Newf("%s lists no variants: %w", path, models.ErrDataShape)
	}

	seen := make(map[string]bool, len(rows))
	out := make([]Variant, 0, len(rows))
	for _, r := range rows {
		if r.Variant == "" {
			return nil, xerrors.Newf("%s has a row without a variant id: %w", path, models.ErrDataShape)
		}
		if seen[r.Variant] {
			return nil, xerrors.Newf("%s lists variant %s twice: %w", path, r.Variant, models.ErrDataShape)
		}
		seen[r.Variant] = true
		label := models.Label(r.Label)
		if label != models.Benign && label != models.Pathogenic {
			return nil, xerrors.Newf("variant %s has label %d, expected 0 or 1: %w", r.Variant, r.Label, models.ErrDataShape)
		}
		out = append(out, Variant{ID: r.Variant, Label: label})
	}
	return out, nil
}

// readFrames parses the frame table with encoding/csv since the number of
// feature columns is only known from the header.
func readFrames(path string, known map[string]int) (map[string][]indexedFrame, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, xerrors.Newf("open %s: %v: %w", path, err, models.ErrDataShape)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, 0, xerrors.Newf("read header of %s: %v: %w", path, err, models.ErrDataShape)
	}
	if len(header) < 3 || header[0] != "variant" || header[1] != "frame" {
		return nil, 0, xerrors.Newf("%s header must be variant,frame,f0,...: %w", path, models.ErrDataShape)
	}
	width := len(header) - 2

	out := make(map[string][]indexedFrame, len(known))
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, xerrors.Newf("%s line %d: %v: %w", path, line, err, models.ErrDataShape)
		}
		if len(rec) != width+2 {
			return nil, 0, xerrors.Newf("%s line %d has %d features, expected %d: %w",
				path, line, len(rec)-2, width, models.ErrDataShape)
		}
		id := rec[0]
		if _, ok := known[id]; !ok {
			return nil, 0, xerrors.Newf("%s line %d references unknown variant %s: %w", path, line, id, models.ErrDataShape)
		}
		index, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, 0, xerrors.Newf("%s line %d frame index %q: %w", path, line, rec[1], models.ErrDataShape)
		}
		features := make([]float64, width)
		for j := range features {
			features[j], err = strconv.ParseFloat(rec[j+2], 64)
			if err != nil {
				return nil, 0, xerrors.Newf("%s line %d feature %d %q: %w", path, line, j, rec[j+2], models.ErrDataShape)
			}
			if math.IsNaN(features[j]) || math.IsInf(features[j], 0) {
				return nil, 0, xerrors.Newf("%s line %d feature %d is not finite (%s): %w", path, line, j, rec[j+2], models.ErrDataShape)
			}
		}
		out[id] = append(out[id], indexedFrame{index: index, features: features})
	}
	return out, width, nil
}

// Validate checks that every variant has the same positive number of frames
// of the same width, and sets FramesPerVariant and FeatureDim.
func (d *Dataset) Validate() error {
	if len(d.Variants) == 0 {
		return xerrors.Newf("gene %s has no variants: %w", d.Gene, models.ErrDataShape)
	}
	perVariant := len(d.Variants[0].Frames)
	if perVariant == 0 {
		return xerrors.Newf("variant %s has no frames: %w", d.Variants[0].ID, models.ErrDataShape)
	}
	width := len(d.Variants[0].Frames[0])
	for _, v := range d.Variants {
		if len(v.Frames) != perVariant {
			return xerrors.Newf("variant %s has %d frames, expected %d: %w", v.ID, len(v.Frames), perVariant, models.ErrDataShape)
		}
		for i, f := range v.Frames {
			if len(f) != width {
				return xerrors.Newf("variant %s frame %d has %d features, expected %d: %w",
					v.ID, i, len(f), width, models.ErrDataShape)
			}
		}
	}
	d.FramesPerVariant = perVariant
	d.FeatureDim = width
	return nil
}

// Write stores d under <dataDir>/<d.Gene> in the format Load reads.
func Write(dataDir string, d *Dataset) error {
	dir := filepath.Join(dataDir, d.Gene)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Newf("create %s: %w", dir, err)
	}

	rows := make([]*variantRow, len(d.Variants))
	for i, v := range d.Variants {
		rows[i] = &variantRow{Variant: v.ID, Label: int(v.Label)}
	}
	vf, err := os.Create(filepath.Join(dir, VariantsFile))
	if err != nil {
		return xerrors.Newf("create variants table: %w", err)
	}
	if err := gocsv.MarshalFile(&rows, vf); err != nil {
		vf.Close()
		return xerrors.Newf("write variants table: %w", err)
	}
	if err := vf.Close(); err != nil {
		return err
	}

	ff, err := os.Create(filepath.Join(dir, FramesFile))
	if err != nil {
		return xerrors.Newf("create frames table: %w", err)
	}
	defer ff.Close()
	w := csv.NewWriter(ff)
	header := []string{"variant", "frame"}
	for j := 0; j < d.FeatureDim; j++ {
		header = append(header, "f"+strconv.Itoa(j))
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, v := range d.Variants {
		for i, f := range v.Frames {
			rec := []string{v.ID, strconv.Itoa(i)}
			for _, x := range f {
				rec = append(rec, strconv.FormatFloat(x, 'g', -1, 64))
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return xerrors.Newf("write frames table: %w", err)
	}
	return ff.Close()
}
