// Package volio reads and writes voxel grids on disk. A volume is a
// pair of files: a YAML header holding size, spacing and value type,
// and a sibling .raw file with the voxel data in little-endian
// row-major order. The package also loads whole rater sets from a
// directory, ordered by the numeric part of the filenames.
package volio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"segconsensus/pkg/voxel"
)

// Value types recorded in volume headers.
const (
	TypeLabel       = "int32"
	TypeProbability = "float64"
)

// Header describes a stored volume.
type Header struct {
	// Size is the grid extent in voxels.
	Size voxel.Dims `yaml:"size"`

	// Spacing is the physical voxel size along each axis.
	Spacing voxel.Spacing `yaml:"spacing"`

	// Type is the voxel value type: "int32" for label volumes,
	// "float64" for probability or distance volumes.
	Type string `yaml:"type"`

	// Data is the raw data filename, relative to the header file.
	Data string `yaml:"data"`
}

// LoadLabelGrid reads a label volume from the given header path.
func LoadLabelGrid(path string) (*voxel.Grid[int32], error) {
	return load[int32](path, TypeLabel)
}

// LoadProbabilityGrid reads a float volume from the given header path.
func LoadProbabilityGrid(path string) (*voxel.Grid[float64], error) {
	return load[float64](path, TypeProbability)
}

// SaveLabelGrid writes a label volume: a YAML header at path and the
// voxel data in a sibling .raw file.
func SaveLabelGrid(path string, g *voxel.Grid[int32]) error {
	return save(path, g, TypeLabel)
}

// SaveProbabilityGrid writes a float volume next to the header path.
func SaveProbabilityGrid(path string, g *voxel.Grid[float64]) error {
	return save(path, g, TypeProbability)
}

// LoadRaterSet loads every label volume (*.yaml header) in a directory
// and returns the grids together with the rater names (header filenames
// without extension). Files are sorted by the numeric part of their
// names so that rater ordering is stable across platforms.
func LoadRaterSet(dir string) ([]*voxel.Grid[int32], []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading rater directory: %w", err)
	}

	var headers []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(e.Name())) == ".yaml" {
			headers = append(headers, e.Name())
		}
	}
	if len(headers) == 0 {
		return nil, nil, fmt.Errorf("no volume headers (*.yaml) found in %s", dir)
	}

	sort.Slice(headers, func(i, j int) bool {
		ni, nj := extractNumber(headers[i]), extractNumber(headers[j])
		if ni != nj {
			return ni < nj
		}
		return headers[i] < headers[j]
	})

	grids := make([]*voxel.Grid[int32], 0, len(headers))
	names := make([]string, 0, len(headers))
	for _, h := range headers {
		g, err := LoadLabelGrid(filepath.Join(dir, h))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load volume %s: %w", h, err)
		}
		grids = append(grids, g)
		names = append(names, strings.TrimSuffix(h, filepath.Ext(h)))
	}
	return grids, names, nil
}

// extractNumber extracts the numeric part from a filename.
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

func load[T voxel.Value](path, wantType string) (*voxel.Grid[T], error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading volume header: %w", err)
	}
	var hdr Header
	if err := yaml.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("error parsing volume header: %w", err)
	}
	if hdr.Type != wantType {
		return nil, fmt.Errorf("volume %s has type %q, want %q", path, hdr.Type, wantType)
	}
	if hdr.Size.Count() <= 0 {
		return nil, fmt.Errorf("volume %s has invalid size %v", path, hdr.Size)
	}

	dataPath := hdr.Data
	if dataPath == "" {
		dataPath = rawName(filepath.Base(path))
	}
	f, err := os.Open(filepath.Join(filepath.Dir(path), dataPath))
	if err != nil {
		return nil, fmt.Errorf("error opening volume data: %w", err)
	}
	defer f.Close()

	data := make([]T, hdr.Size.Count())
	if err := binary.Read(f, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("error reading volume data: %w", err)
	}
	return voxel.FromData(data, hdr.Size, hdr.Spacing)
}

func save[T voxel.Value](path string, g *voxel.Grid[T], valueType string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating volume directory: %w", err)
	}

	dataName := rawName(filepath.Base(path))
	hdr := Header{
		Size:    g.Size,
		Spacing: g.Spacing,
		Type:    valueType,
		Data:    dataName,
	}
	out, err := yaml.Marshal(&hdr)
	if err != nil {
		return fmt.Errorf("error marshaling volume header: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("error writing volume header: %w", err)
	}

	f, err := os.Create(filepath.Join(filepath.Dir(path), dataName))
	if err != nil {
		return fmt.Errorf("error creating volume data file: %w", err)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, g.Data); err != nil {
		return fmt.Errorf("error writing volume data: %w", err)
	}
	return nil
}

// rawName swaps the header extension for .raw.
func rawName(headerName string) string {
	return strings.TrimSuffix(headerName, filepath.Ext(headerName)) + ".raw"
}
