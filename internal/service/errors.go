package service

import (
	"fmt"
	"strings"
)

// OrganismNotFoundError reports an organism with no container, or one that
// lacks the requested measurement type when listing organisms.
type OrganismNotFoundError struct {
	Organism        string
	MeasurementType string
}

func (e *OrganismNotFoundError) Error() string {
	if e.MeasurementType != "" {
		return fmt.Sprintf("organism not found: %s (measurement type %s)", e.Organism, e.MeasurementType)
	}
	return fmt.Sprintf("organism not found: %s", e.Organism)
}

type MeasurementTypeNotFoundError struct {
	MeasurementType string
	Organism        string
}

func (e *MeasurementTypeNotFoundError) Error() string {
	return fmt.Sprintf("measurement type not found: %s (organism %s)", e.MeasurementType, e.Organism)
}

type OrganNotFoundError struct {
	Organ    string
	Organism string
}

func (e *OrganNotFoundError) Error() string {
	return fmt.Sprintf("organ not found: %s (organism %s)", e.Organ, e.Organism)
}

type CellTypeNotFoundError struct {
	CellType string
	Organism string
	Organ    string
}

func (e *CellTypeNotFoundError) Error() string {
	if e.Organ != "" {
		return fmt.Sprintf("cell type not found: %s (organism %s, organ %s)", e.CellType, e.Organism, e.Organ)
	}
	return fmt.Sprintf("cell type not found: %s (organism %s)", e.CellType, e.Organism)
}

type FeatureNotFoundError struct {
	Feature  string
	Organism string
}

func (e *FeatureNotFoundError) Error() string {
	return fmt.Sprintf("feature not found: %s (organism %s)", e.Feature, e.Organism)
}

// SomeFeaturesNotFoundError carries every missing feature of a request.
type SomeFeaturesNotFoundError struct {
	Features []string
	Organism string
}

func (e *SomeFeaturesNotFoundError) Error() string {
	return fmt.Sprintf("features not found: %s (organism %s)", strings.Join(e.Features, ", "), e.Organism)
}

type TooManyFeaturesError struct {
	Requested int
	Max       int
}

func (e *TooManyFeaturesError) Error() string {
	return fmt.Sprintf("too many features: %d requested, at most %d allowed", e.Requested, e.Max)
}

type SimilarityMethodError struct {
	Method string
}

func (e *SimilarityMethodError) Error() string {
	return fmt.Sprintf("similarity method not supported: %s", e.Method)
}

type FeaturesNotPairedError struct {
	Features1 []string
	Features2 []string
}

func (e *FeaturesNotPairedError) Error() string {
	return fmt.Sprintf("feature lists are not paired: %d vs %d", len(e.Features1), len(e.Features2))
}

type NeighborhoodNotFoundError struct {
	Organism        string
	Organ           string
	MeasurementType string
}

func (e *NeighborhoodNotFoundError) Error() string {
	return fmt.Sprintf("no neighborhood data for %s %s (%s)", e.Organism, e.Organ, e.MeasurementType)
}

// OrganCellTypeError reports a request that does not set exactly one of
// organ and cell type.
type OrganCellTypeError struct {
	Organ    string
	CellType string
}

func (e *OrganCellTypeError) Error() string {
	if e.Organ == "" && e.CellType == "" {
		return "either organ or cell type must be specified"
	}
	return "organ and cell type are mutually exclusive"
}

// NeighborhoodScopeError reports a neighborhood read scoped by cell type.
type NeighborhoodScopeError struct {
	CellType string
}

func (e *NeighborhoodScopeError) Error() string {
	return fmt.Sprintf("neighborhoods are defined per organ, not per cell type (%s)", e.CellType)
}

// SingleOrganError reports a cross-organ comparison with fewer than two
// organs to compare.
type SingleOrganError struct {
	Organism string
	CellType string
}

func (e *SingleOrganError) Error() string {
	if e.CellType != "" {
		return fmt.Sprintf("cell type %s is found in a single organ of %s", e.CellType, e.Organism)
	}
	return fmt.Sprintf("organism %s has a single organ", e.Organism)
}

type FeatureSequencesNotFoundError struct {
	Organism        string
	MeasurementType string
}

func (e *FeatureSequencesNotFoundError) Error() string {
	return fmt.Sprintf("no feature sequences for %s (%s)", e.Organism, e.MeasurementType)
}

// ReferenceDataNotFoundError reports a missing reference table (surface
// features, interactions) or embedding set for an organism.
type ReferenceDataNotFoundError struct {
	Organism string
	Kind     string
}

func (e *ReferenceDataNotFoundError) Error() string {
	return fmt.Sprintf("no %s data for organism %s", e.Kind, e.Organism)
}
