package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PlugType is a connector standard supported by a station or vehicle.
type PlugType string

const (
	PlugType1   PlugType = "Type 1"
	PlugType2   PlugType = "Type 2"
	PlugCHAdeMO PlugType = "CHAdeMO"
	PlugCCS     PlugType = "CCS"
	PlugTesla   PlugType = "Tesla"
)

// Valid reports whether p is a known plug type.
func (p PlugType) Valid() bool {
	switch p {
	case PlugType1, PlugType2, PlugCHAdeMO, PlugCCS, PlugTesla:
		return true
	}
	return false
}

// ChargingSpeed is a charging level offered by a station.
type ChargingSpeed string

const (
	SpeedLevel1 ChargingSpeed = "Level 1"
	SpeedLevel2 ChargingSpeed = "Level 2"
	SpeedDCFast ChargingSpeed = "DC Fast"
)

// Valid reports whether s is a known charging speed.
func (s ChargingSpeed) Valid() bool {
	switch s {
	case SpeedLevel1, SpeedLevel2, SpeedDCFast:
		return true
	}
	return false
}

// DefaultPriceUnit is used when a station is created without a unit.
const DefaultPriceUnit = "kWh"

// Location is a geographic coordinate in decimal degrees.
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Availability tracks how many charging slots a station has and how
// many are free.  0 <= Available <= Total always holds for stored rows.
type Availability struct {
	Total     int `json:"total" yaml:"total"`
	Available int `json:"available" yaml:"available"`
}

// Station represents a charge point location as stored in the
// `stations` table.  Distance is never persisted; it is filled in by
// listings that receive a caller coordinate.
type Station struct {
	ID             uint64          `json:"id"`
	Name           string          `json:"name" yaml:"name"`
	Address        string          `json:"address" yaml:"address"`
	Location       Location        `json:"location" yaml:"location"`
	PlugTypes      []PlugType      `json:"plugTypes" yaml:"plugTypes"`
	ChargingSpeeds []ChargingSpeed `json:"chargingSpeed" yaml:"chargingSpeed"`
	Price          float64         `json:"price" yaml:"price"`
	PriceUnit      string          `json:"priceUnit" yaml:"priceUnit"`
	Availability   Availability    `json:"availability" yaml:"availability"`
	WaitTime       int             `json:"waitTime" yaml:"waitTime"`
	Rating         float64         `json:"rating" yaml:"rating"`
	Amenities      []string        `json:"amenities" yaml:"amenities"`
	Images         []string        `json:"images" yaml:"images"`
	Distance       *float64        `json:"distance,omitempty" yaml:"-"`
	CreatedAt      time.Time       `json:"createdAt" yaml:"-"`
	UpdatedAt      time.Time       `json:"updatedAt" yaml:"-"`
}

// StationRef is the reduced view of a station joined into booking lists.
type StationRef struct {
	ID      uint64 `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Supports reports whether the station offers the given plug type.
func (s *Station) Supports(p PlugType) bool {
	for _, have := range s.PlugTypes {
		if have == p {
			return true
		}
	}
	return false
}

// Normalize trims text fields and fills defaults.  It is applied before
// Validate on every create and update.
func (s *Station) Normalize() {
	s.Name = strings.TrimSpace(s.Name)
	s.Address = strings.TrimSpace(s.Address)
	s.PriceUnit = strings.TrimSpace(s.PriceUnit)
	if s.PriceUnit == "" {
		s.PriceUnit = DefaultPriceUnit
	}
	if s.Amenities == nil {
		s.Amenities = []string{}
	}
	if s.Images == nil {
		s.Images = []string{}
	}
}

// Validate checks every field rule of a station.
func (s *Station) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if s.Address == "" {
		errs = append(errs, errors.New("address is required"))
	}
	if s.Location.Lat < -90 || s.Location.Lat > 90 {
		errs = append(errs, fmt.Errorf("location.lat %v is out of range", s.Location.Lat))
	}
	if s.Location.Lng < -180 || s.Location.Lng > 180 {
		errs = append(errs, fmt.Errorf("location.lng %v is out of range", s.Location.Lng))
	}
	if len(s.PlugTypes) == 0 {
		errs = append(errs, errors.New("at least one plug type is required"))
	}
	for _, p := range s.PlugTypes {
		if !p.Valid() {
			errs = append(errs, fmt.Errorf("invalid plug type %q", p))
		}
	}
	if len(s.ChargingSpeeds) == 0 {
		errs = append(errs, errors.New("at least one charging speed is required"))
	}
	for _, cs := range s.ChargingSpeeds {
		if !cs.Valid() {
			errs = append(errs, fmt.Errorf("invalid charging speed %q", cs))
		}
	}
	if s.Price < 0 {
		errs = append(errs, errors.New("price must not be negative"))
	}
	if s.Availability.Total < 0 {
		errs = append(errs, errors.New("availability.total must not be negative"))
	}
	if s.Availability.Available < 0 || s.Availability.Available > s.Availability.Total {
		errs = append(errs, errors.New("availability.available must be between 0 and availability.total"))
	}
	if s.WaitTime < 0 {
		errs = append(errs, errors.New("waitTime must not be negative"))
	}
	if s.Rating < 0 || s.Rating > 5 {
		errs = append(errs, errors.New("rating must be between 0 and 5"))
	}
	return errors.Join(errs...)
}

// StationChange reports a committed change to a station's availability.
// Deleted is set when the station itself was removed.
type StationChange struct {
	StationID    uint64
	Availability Availability
	Deleted      bool
}
