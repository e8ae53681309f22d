// Package config describes the target hardware and the compilation options,
// and builds the simulated queue device.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidCapabilities is returned when a capabilities description does
// not describe usable hardware.
var ErrInvalidCapabilities = errors.New("invalid hardware capabilities")

// Capabilities describe the NPU variant being compiled for.
type Capabilities struct {
	NumberOfEngines      uint32    `yaml:"number_of_engines"`
	OgsPerEngine         uint32    `yaml:"ogs_per_engine"`
	IgsPerEngine         uint32    `yaml:"igs_per_engine"`
	EmcPerEngine         uint32    `yaml:"emc_per_engine"`
	NumberOfSrams        uint32    `yaml:"number_of_srams"`
	TotalSramSize        uint32    `yaml:"total_sram_size"`
	BrickGroupShape      [4]uint32 `yaml:"brick_group_shape"`
	PatchShape           [4]uint32 `yaml:"patch_shape"`
	MacUnitsPerOg        uint32    `yaml:"mac_units_per_og"`
	NumPleLanes          uint32    `yaml:"num_ple_lanes"`
	BoundaryStripeHeight uint32    `yaml:"boundary_stripe_height"`
}

// DefaultCapabilities returns the capabilities of a 4 TOPS, 4 PLE lane
// configuration.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		NumberOfEngines:      8,
		OgsPerEngine:         2,
		IgsPerEngine:         2,
		EmcPerEngine:         2,
		NumberOfSrams:        16,
		TotalSramSize:        1024 * 1024,
		BrickGroupShape:      [4]uint32{1, 8, 8, 16},
		PatchShape:           [4]uint32{1, 4, 4, 1},
		MacUnitsPerOg:        8,
		NumPleLanes:          2,
		BoundaryStripeHeight: 8,
	}
}

// NumberOfOgs returns the number of output generators of the whole NPU.
func (c Capabilities) NumberOfOgs() uint32 {
	return c.NumberOfEngines * c.OgsPerEngine
}

// NumberOfIgs returns the number of input generators of the whole NPU.
func (c Capabilities) NumberOfIgs() uint32 {
	return c.NumberOfEngines * c.IgsPerEngine
}

// SramSizePerEmc returns the size of the SRAM bank behind each EMC.
func (c Capabilities) SramSizePerEmc() uint32 {
	return c.TotalSramSize / c.NumberOfSrams
}

// Validate checks that the capabilities can be compiled for.
func (c Capabilities) Validate() error {
	switch {
	case c.NumberOfEngines == 0:
		return fmt.Errorf("%w: no engines", ErrInvalidCapabilities)
	case c.OgsPerEngine == 0 || c.IgsPerEngine == 0:
		return fmt.Errorf("%w: no OGs or IGs", ErrInvalidCapabilities)
	case c.NumberOfSrams == 0 || c.TotalSramSize == 0:
		return fmt.Errorf("%w: no SRAM", ErrInvalidCapabilities)
	case c.TotalSramSize%c.NumberOfSrams != 0:
		return fmt.Errorf("%w: SRAM size %d not divisible into %d banks",
			ErrInvalidCapabilities, c.TotalSramSize, c.NumberOfSrams)
	case c.EmcPerEngine == 0:
		return fmt.Errorf("%w: no EMCs", ErrInvalidCapabilities)
	}

	for i, d := range c.BrickGroupShape {
		if d == 0 {
			return fmt.Errorf("%w: brick group dimension %d is zero",
				ErrInvalidCapabilities, i)
		}
	}

	return nil
}

// LoadCapabilities reads capabilities from YAML. Fields that are not set
// keep their default values.
func LoadCapabilities(r io.Reader) (Capabilities, error) {
	caps := DefaultCapabilities()

	if err := yaml.NewDecoder(r).Decode(&caps); err != nil && !errors.Is(err, io.EOF) {
		return Capabilities{}, fmt.Errorf("decode capabilities: %w", err)
	}

	if err := caps.Validate(); err != nil {
		return Capabilities{}, err
	}

	return caps, nil
}

// LoadCapabilitiesFile reads capabilities from a YAML file.
func LoadCapabilitiesFile(path string) (Capabilities, error) {
	f, err := os.Open(path)
	if err != nil {
		return Capabilities{}, err
	}
	defer f.Close()

	return LoadCapabilities(f)
}

// Options control what the generator emits besides the cascade.
type Options struct {
	// DumpDram adds a DUMP_DRAM command for every intermediate DRAM buffer.
	DumpDram bool `yaml:"dump_dram"`

	// DumpSram adds a DUMP_SRAM command after the cascade.
	DumpSram bool `yaml:"dump_sram"`

	DebugDir      string `yaml:"debug_dir"`
	DebugInfoPath string `yaml:"debug_info_path"`
}
