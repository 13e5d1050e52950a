package service

import (
	"context"
	"errors"
	"sort"

	"github.com/agnivade/levenshtein"
)

// MaxCellTypeDistance is the largest edit distance at which a misspelt cell
// type is still resolved.
const MaxCellTypeDistance = 3

func (s *Service) loadOrganisms(ctx context.Context, mt string) ([]string, error) {
	names, err := s.backend.Names(ctx)
	if err != nil {
		return nil, err
	}
	organisms := make([]string, 0, len(names))
	for _, name := range names {
		if name == s.embeddings {
			continue
		}
		var ok bool
		err := s.withContainer(ctx, name, func(c *atlasContainer) error {
			_, err := c.measurement(ctx, mt)
			var mtErr *MeasurementTypeNotFoundError
			if errors.As(err, &mtErr) {
				return nil
			}
			ok = err == nil
			return err
		})
		if err != nil {
			s.log.Debug().Err(err).Str("container", name).Msg("skipping container")
			continue
		}
		if ok {
			organisms = append(organisms, name)
		}
	}
	sort.Strings(organisms)
	return organisms, nil
}

// Organisms lists the organisms measured with a measurement type, sorted.
func (s *Service) Organisms(ctx context.Context, mt string) ([]string, error) {
	organisms, err := s.organisms.Get(ctx, defaultMT(mt))
	if err != nil {
		return nil, err
	}
	return append([]string(nil), organisms...), nil
}

// DataSources returns the citation stored in the "source" attribute of each
// organism container. Containers without one are left out.
func (s *Service) DataSources(ctx context.Context) (map[string]string, error) {
	names, err := s.backend.Names(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		if name == s.embeddings {
			continue
		}
		err := s.withContainer(ctx, name, func(c *atlasContainer) error {
			if src, ok := c.Root().Meta().Attributes["source"].(string); ok && src != "" {
				out[name] = src
			}
			return nil
		})
		if err != nil {
			s.log.Debug().Err(err).Str("container", name).Msg("skipping container")
		}
	}
	return out, nil
}

// MeasurementTypes lists the measurement types stored for an organism.
func (s *Service) MeasurementTypes(ctx context.Context, organism string) ([]string, error) {
	var out []string
	err := s.withContainer(ctx, organism, func(c *atlasContainer) error {
		var err error
		out, err = c.measurementTypes(ctx)
		return err
	})
	return out, err
}

// Organs lists the organs of an organism, sorted.
func (s *Service) Organs(ctx context.Context, organism, mt string) ([]string, error) {
	var out []string
	err := s.withContainer(ctx, organism, func(c *atlasContainer) error {
		var err error
		out, err = c.organs(ctx, defaultMT(mt))
		return err
	})
	return out, err
}

// CellTypes lists the cell types of an organ in storage order.
func (s *Service) CellTypes(ctx context.Context, organism, organ, mt string) ([]string, error) {
	var out []string
	err := s.withContainer(ctx, organism, func(c *atlasContainer) error {
		g, _, err := c.organ(ctx, defaultMT(mt), organ)
		if err != nil {
			return err
		}
		out, err = readStrings(ctx, g, "obs_names")
		return err
	})
	return out, err
}

// Abundance is the number of cells of each cell type in an organ.
type Abundance struct {
	Organ      string
	CellTypes  []string
	CellCounts []int64
}

// CellTypeAbundance reads the cell counts of an organ.
func (s *Service) CellTypeAbundance(ctx context.Context, organism, organ, mt string) (*Abundance, error) {
	var out *Abundance
	err := s.withContainer(ctx, organism, func(c *atlasContainer) error {
		var err error
		out, err = c.abundance(ctx, defaultMT(mt), organ)
		return err
	})
	return out, err
}

func (c *atlasContainer) abundance(ctx context.Context, mt, organ string) (*Abundance, error) {
	g, name, err := c.organ(ctx, mt, organ)
	if err != nil {
		return nil, err
	}
	cellTypes, err := readStrings(ctx, g, "obs_names")
	if err != nil {
		return nil, err
	}
	counts, _, err := readInts(ctx, g, "cell_count")
	if err != nil {
		return nil, err
	}
	return &Abundance{Organ: name, CellTypes: cellTypes, CellCounts: counts}, nil
}

// CellTypeLocation lists the organs containing a cell type.
func (s *Service) CellTypeLocation(ctx context.Context, organism, cellType, mt string) ([]string, error) {
	mt = defaultMT(mt)
	var out []string
	err := s.withContainer(ctx, organism, func(c *atlasContainer) error {
		organs, err := c.organs(ctx, mt)
		if err != nil {
			return err
		}
		for _, organ := range organs {
			g, err := c.organGroup(ctx, mt, organ)
			if err != nil {
				return err
			}
			cellTypes, err := readStrings(ctx, g, "obs_names")
			if err != nil {
				return err
			}
			if matchCellType(cellTypes, cellType) >= 0 {
				out = append(out, organ)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &CellTypeNotFoundError{CellType: cellType, Organism: organism}
	}
	return out, nil
}

// PresenceTable counts cells of each row label across columns. Counts is
// [rows, columns]; with boolean tables it holds 0 or 1.
type PresenceTable struct {
	Rows    []string
	Columns []string
	Counts  [][]int64
}

// newPresenceTable orders rows by the number of columns they occur in,
// descending; ties stay sorted by name.
func newPresenceTable(columns []string, cells map[string][]int64, boolean bool) *PresenceTable {
	rows := make([]string, 0, len(cells))
	for r := range cells {
		rows = append(rows, r)
	}
	sort.Strings(rows)
	present := func(r string) int {
		n := 0
		for _, v := range cells[r] {
			if v != 0 {
				n++
			}
		}
		return n
	}
	sort.SliceStable(rows, func(a, b int) bool { return present(rows[a]) > present(rows[b]) })

	t := &PresenceTable{Rows: rows, Columns: columns, Counts: make([][]int64, len(rows))}
	for i, r := range rows {
		t.Counts[i] = cells[r]
		if boolean {
			for j, v := range t.Counts[i] {
				if v != 0 {
					t.Counts[i][j] = 1
				}
			}
		}
	}
	return t
}

// CellTypeXOrgan tabulates cell counts of every cell type across organs.
// A nil organs list selects every organ.
func (s *Service) CellTypeXOrgan(ctx context.Context, organism string, organs []string, mt string, boolean bool) (*PresenceTable, error) {
	mt = defaultMT(mt)
	var columns []string
	cells := make(map[string][]int64)
	err := s.withContainer(ctx, organism, func(c *atlasContainer) error {
		if organs == nil {
			var err error
			if organs, err = c.organs(ctx, mt); err != nil {
				return err
			}
		}
		columns = make([]string, len(organs))
		for j, organ := range organs {
			a, err := c.abundance(ctx, mt, organ)
			if err != nil {
				return err
			}
			columns[j] = a.Organ
			for i, ct := range a.CellTypes {
				if cells[ct] == nil {
					cells[ct] = make([]int64, len(organs))
				}
				cells[ct][j] += a.CellCounts[i]
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newPresenceTable(columns, cells, boolean), nil
}

// OrganXOrganism tabulates, for one cell type, its cell count in each organ
// of each organism.
func (s *Service) OrganXOrganism(ctx context.Context, cellType, mt string) (*PresenceTable, error) {
	mt = defaultMT(mt)
	organisms, err := s.Organisms(ctx, mt)
	if err != nil {
		return nil, err
	}
	cells := make(map[string][]int64)
	found := false
	for j, organism := range organisms {
		err := s.withContainer(ctx, organism, func(c *atlasContainer) error {
			organs, err := c.organs(ctx, mt)
			if err != nil {
				return err
			}
			for _, organ := range organs {
				a, err := c.abundance(ctx, mt, organ)
				if err != nil {
					return err
				}
				i := matchCellType(a.CellTypes, cellType)
				if i < 0 {
					continue
				}
				found = true
				if cells[organ] == nil {
					cells[organ] = make([]int64, len(organisms))
				}
				cells[organ][j] += a.CellCounts[i]
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, &CellTypeNotFoundError{CellType: cellType}
	}
	return newPresenceTable(organisms, cells, false), nil
}

// CellTypeXOrganism tabulates the total cell count of every cell type in
// each organism.
func (s *Service) CellTypeXOrganism(ctx context.Context, mt string) (*PresenceTable, error) {
	mt = defaultMT(mt)
	organisms, err := s.Organisms(ctx, mt)
	if err != nil {
		return nil, err
	}
	cells := make(map[string][]int64)
	for j, organism := range organisms {
		err := s.withContainer(ctx, organism, func(c *atlasContainer) error {
			organs, err := c.organs(ctx, mt)
			if err != nil {
				return err
			}
			for _, organ := range organs {
				a, err := c.abundance(ctx, mt, organ)
				if err != nil {
					return err
				}
				for i, ct := range a.CellTypes {
					if cells[ct] == nil {
						cells[ct] = make([]int64, len(organisms))
					}
					cells[ct][j] += a.CellCounts[i]
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return newPresenceTable(organisms, cells, false), nil
}

// resolveCellType finds a cell type by exact name, falling back to the
// closest name within MaxCellTypeDistance edits. The first of equally close
// names wins.
func resolveCellType(names []string, cellType string) (int, bool) {
	for i, n := range names {
		if n == cellType {
			return i, true
		}
	}
	best, bestDist := -1, MaxCellTypeDistance+1
	for i, n := range names {
		if d := levenshtein.ComputeDistance(cellType, n); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, best >= 0
}
