package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/viterin/vek/vek32"
)

// MarkerQuery selects markers of a focal group. Several cell types are
// averaged into one focal group.
type MarkerQuery struct {
	Organism        string
	Organ           string
	CellTypes       []string
	Number          int
	MeasurementType string
	// SurfaceOnly restricts candidates to surface protein features.
	SurfaceOnly bool
}

// MarkerResult lists markers, best first. Targets is set by the
// enumerate-all variants and names the cell type or organ of each marker.
type MarkerResult struct {
	Organism        string
	Organ           string
	CellTypes       []string
	MeasurementType string
	Markers         []string
	Margins         []float32
	Targets         []string
}

// markerSubtype is the measurement ranked for markers: fraction detected,
// which falls back to the average where both coincide.
func (s *Service) markerSubtype(mt string) string {
	return s.storedSubtype(mt, SubtypeFraction)
}

// markerMargins returns, per column, the smallest difference between the
// focal row and any background row.
func markerMargins(focal []float32, background [][]float32) []float32 {
	margins := make([]float32, len(focal))
	diff := make([]float32, len(focal))
	for k, bg := range background {
		copy(diff, focal)
		vek32.Sub_Inplace(diff, bg)
		if k == 0 {
			copy(margins, diff)
			continue
		}
		vek32.Minimum_Inplace(margins, diff)
	}
	return margins
}

// rankMarkers returns up to number candidate columns with a positive margin,
// highest margin first. Equal margins keep column order. A nil candidate set
// admits every column.
func rankMarkers(margins []float32, candidates *roaring.Bitmap, number int) []int {
	var cols []int
	for j, m := range margins {
		if m <= 0 {
			continue
		}
		if candidates != nil && !candidates.Contains(uint32(j)) {
			continue
		}
		cols = append(cols, j)
	}
	sort.SliceStable(cols, func(a, b int) bool { return margins[cols[a]] > margins[cols[b]] })
	if len(cols) > number {
		cols = cols[:number]
	}
	return cols
}

func (s *Service) markerCandidates(ctx context.Context, organism, mt string, surfaceOnly bool) (*roaring.Bitmap, error) {
	if !surfaceOnly {
		return nil, nil
	}
	return s.SurfaceColumns(ctx, organism, mt)
}

// organMatrix reads a whole [cell types, features] matrix of one organ.
func (s *Service) organMatrix(ctx context.Context, organism, mt, organ, subtype string) (*organBlock, Matrix, error) {
	var b *organBlock
	err := s.withContainer(ctx, organism, func(c *atlasContainer) error {
		var err error
		b, err = c.readOrgan(ctx, mt, organ, subtype, nil)
		return err
	})
	if err != nil {
		return nil, Matrix{}, err
	}
	values, err := s.decode(ctx, organism, mt, b.slab)
	if err != nil {
		return nil, Matrix{}, err
	}
	return b, Matrix{Rows: b.slab.shape[0], Cols: b.slab.shape[1], Data: values}, nil
}

// MarkersVsOtherCellTypes finds features higher in the focal cell types than
// in every other cell type of the organ.
func (s *Service) MarkersVsOtherCellTypes(ctx context.Context, q MarkerQuery) (*MarkerResult, error) {
	mt := defaultMT(q.MeasurementType)
	fi, err := s.featureIndex(ctx, q.Organism, mt)
	if err != nil {
		return nil, err
	}
	candidates, err := s.markerCandidates(ctx, q.Organism, mt, q.SurfaceOnly)
	if err != nil {
		return nil, err
	}
	b, m, err := s.organMatrix(ctx, q.Organism, mt, q.Organ, s.markerSubtype(mt))
	if err != nil {
		return nil, err
	}

	focal := make(map[int]bool, len(q.CellTypes))
	res := &MarkerResult{Organism: q.Organism, Organ: b.organ, MeasurementType: mt}
	for _, ct := range q.CellTypes {
		i, ok := resolveCellType(b.cellTypes, ct)
		if !ok {
			return nil, &CellTypeNotFoundError{CellType: ct, Organism: q.Organism, Organ: b.organ}
		}
		if !focal[i] {
			focal[i] = true
			res.CellTypes = append(res.CellTypes, b.cellTypes[i])
		}
	}
	if len(focal) == 0 {
		return nil, &CellTypeNotFoundError{Organism: q.Organism, Organ: b.organ}
	}

	avg := make([]float32, m.Cols)
	var background [][]float32
	for i := 0; i < m.Rows; i++ {
		if focal[i] {
			vek32.Add_Inplace(avg, m.Row(i))
			continue
		}
		background = append(background, m.Row(i))
	}
	vek32.DivNumber_Inplace(avg, float32(len(focal)))

	s.collectMarkers(res, fi, avg, background, candidates, q.Number, "")
	return res, nil
}

// AllMarkersVsOtherCellTypes finds markers of every cell type of an organ.
func (s *Service) AllMarkersVsOtherCellTypes(ctx context.Context, q MarkerQuery) (*MarkerResult, error) {
	mt := defaultMT(q.MeasurementType)
	fi, err := s.featureIndex(ctx, q.Organism, mt)
	if err != nil {
		return nil, err
	}
	candidates, err := s.markerCandidates(ctx, q.Organism, mt, q.SurfaceOnly)
	if err != nil {
		return nil, err
	}
	b, m, err := s.organMatrix(ctx, q.Organism, mt, q.Organ, s.markerSubtype(mt))
	if err != nil {
		return nil, err
	}

	res := &MarkerResult{Organism: q.Organism, Organ: b.organ, MeasurementType: mt, CellTypes: b.cellTypes}
	for i := 0; i < m.Rows; i++ {
		background := make([][]float32, 0, m.Rows-1)
		for j := 0; j < m.Rows; j++ {
			if j != i {
				background = append(background, m.Row(j))
			}
		}
		s.collectMarkers(res, fi, m.Row(i), background, candidates, q.Number, b.cellTypes[i])
	}
	return res, nil
}

// MarkersVsOtherOrgans finds features higher in one cell type of an organ
// than in the same cell type of every other organ. The query holds a single
// cell type.
func (s *Service) MarkersVsOtherOrgans(ctx context.Context, q MarkerQuery) (*MarkerResult, error) {
	if len(q.CellTypes) != 1 {
		return nil, fmt.Errorf("markers across organs take one cell type, got %d", len(q.CellTypes))
	}
	mt := defaultMT(q.MeasurementType)
	cellType := q.CellTypes[0]
	fi, err := s.featureIndex(ctx, q.Organism, mt)
	if err != nil {
		return nil, err
	}
	candidates, err := s.markerCandidates(ctx, q.Organism, mt, q.SurfaceOnly)
	if err != nil {
		return nil, err
	}
	organ, rows, err := s.cellTypeAcrossOrgans(ctx, q.Organism, mt, cellType, q.Organ)
	if err != nil {
		return nil, err
	}

	res := &MarkerResult{Organism: q.Organism, Organ: organ, MeasurementType: mt}
	var focal []float32
	var background [][]float32
	for _, r := range rows {
		if r.organ == organ {
			focal = r.values
			res.CellTypes = []string{r.cellType}
			continue
		}
		background = append(background, r.values)
	}
	if focal == nil {
		return nil, &CellTypeNotFoundError{CellType: cellType, Organism: q.Organism, Organ: organ}
	}
	s.collectMarkers(res, fi, focal, background, candidates, q.Number, "")
	return res, nil
}

// AllMarkersVsOtherOrgans finds markers of a cell type in every organ
// containing it, against the other organs.
func (s *Service) AllMarkersVsOtherOrgans(ctx context.Context, q MarkerQuery) (*MarkerResult, error) {
	if len(q.CellTypes) != 1 {
		return nil, fmt.Errorf("markers across organs take one cell type, got %d", len(q.CellTypes))
	}
	mt := defaultMT(q.MeasurementType)
	fi, err := s.featureIndex(ctx, q.Organism, mt)
	if err != nil {
		return nil, err
	}
	candidates, err := s.markerCandidates(ctx, q.Organism, mt, q.SurfaceOnly)
	if err != nil {
		return nil, err
	}
	_, rows, err := s.cellTypeAcrossOrgans(ctx, q.Organism, mt, q.CellTypes[0], "")
	if err != nil {
		return nil, err
	}

	res := &MarkerResult{Organism: q.Organism, MeasurementType: mt, CellTypes: []string{rows[0].cellType}}
	for i, r := range rows {
		background := make([][]float32, 0, len(rows)-1)
		for j, o := range rows {
			if j != i {
				background = append(background, o.values)
			}
		}
		s.collectMarkers(res, fi, r.values, background, candidates, q.Number, r.organ)
	}
	return res, nil
}

func (s *Service) collectMarkers(res *MarkerResult, fi *FeatureIndex, focal []float32, background [][]float32, candidates *roaring.Bitmap, number int, target string) {
	if len(background) == 0 || number <= 0 {
		return
	}
	margins := markerMargins(focal, background)
	for _, j := range rankMarkers(margins, candidates, number) {
		res.Markers = append(res.Markers, fi.Name(j))
		res.Margins = append(res.Margins, margins[j])
		if target != "" {
			res.Targets = append(res.Targets, target)
		}
	}
}

// organRow is one organ's row of a cell type.
type organRow struct {
	organ    string
	cellType string
	values   []float32
}

// cellTypeAcrossOrgans reads the marker measurement of a cell type in every
// organ containing it. A name found in no organ falls back to the closest
// cell type of the organism within MaxCellTypeDistance edits. A non-empty organ is resolved to its stored name and
// must exist. Fewer than two organs yields a SingleOrganError.
func (s *Service) cellTypeAcrossOrgans(ctx context.Context, organism, mt, cellType, organ string) (string, []organRow, error) {
	subtype := s.markerSubtype(mt)
	var blocks []*organBlock
	err := s.withContainer(ctx, organism, func(c *atlasContainer) error {
		organs, err := c.organs(ctx, mt)
		if err != nil {
			return err
		}
		if len(organs) < 2 {
			return &SingleOrganError{Organism: organism}
		}
		if organ != "" {
			name := resolveOrgan(organs, organ)
			if name == "" {
				return &OrganNotFoundError{Organ: organ, Organism: organism}
			}
			organ = name
		}
		blocks, err = s.readCellTypeRows(ctx, c, mt, cellType, subtype, nil)
		if err != nil || len(blocks) > 0 {
			return err
		}
		// Tolerate typos against every cell type of the organism.
		names, err := c.cellTypeNames(ctx, mt, organs)
		if err != nil {
			return err
		}
		if i, ok := resolveCellType(names, cellType); ok {
			blocks, err = s.readCellTypeRows(ctx, c, mt, names[i], subtype, nil)
		}
		return err
	})
	if err != nil {
		return "", nil, err
	}
	if len(blocks) == 0 {
		return "", nil, &CellTypeNotFoundError{CellType: cellType, Organism: organism}
	}
	if len(blocks) < 2 {
		return "", nil, &SingleOrganError{Organism: organism, CellType: blocks[0].cellTypes[0]}
	}

	rows := make([]organRow, len(blocks))
	for i, b := range blocks {
		values, err := s.decode(ctx, organism, mt, b.slab)
		if err != nil {
			return "", nil, err
		}
		rows[i] = organRow{organ: b.organ, cellType: b.cellTypes[0], values: values}
	}
	return organ, rows, nil
}

// cellTypeNames lists the distinct cell types of organs, in organ order and
// first occurrence.
func (c *atlasContainer) cellTypeNames(ctx context.Context, mt string, organs []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, organ := range organs {
		g, err := c.organGroup(ctx, mt, organ)
		if err != nil {
			return nil, err
		}
		cellTypes, err := readStrings(ctx, g, "obs_names")
		if err != nil {
			return nil, err
		}
		for _, ct := range cellTypes {
			if !seen[ct] {
				seen[ct] = true
				out = append(out, ct)
			}
		}
	}
	return out, nil
}
