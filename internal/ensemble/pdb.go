package ensemble

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// backboneAtoms are the atom names used for structural comparison. C3' traces
// the ribose backbone and P the phosphate; together they give a stable
// per-residue coordinate set across predictors.
var backboneAtoms = map[string]bool{"C3'": true, "P": true}

// ExtractBackboneCoords reads backbone atom coordinates from a PDB or mmCIF
// structure file, first model only. Atom order follows file order so two
// structures of the same molecule yield comparable coordinate sequences.
func ExtractBackboneCoords(path string) ([][3]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open structure file: %w", err)
	}
	defer f.Close()

	var coords [][3]float64
	if strings.HasSuffix(strings.ToLower(path), ".cif") {
		coords, err = parseCIF(f)
	} else {
		coords, err = parsePDB(f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(coords) == 0 {
		return nil, &InputError{Message: fmt.Sprintf("no backbone atoms (C3'/P) found in %s", path)}
	}
	return coords, nil
}

func parsePDB(f *os.File) ([][3]float64, error) {
	var coords [][3]float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ENDMDL") {
			break // first model only
		}
		if !strings.HasPrefix(line, "ATOM") && !strings.HasPrefix(line, "HETATM") {
			continue
		}
		if len(line) < 54 {
			continue
		}
		name := strings.TrimSpace(line[12:16])
		if !backboneAtoms[name] {
			continue
		}
		x, errX := strconv.ParseFloat(strings.TrimSpace(line[30:38]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(line[38:46]), 64)
		z, errZ := strconv.ParseFloat(strings.TrimSpace(line[46:54]), 64)
		if errX != nil || errY != nil || errZ != nil {
			return nil, fmt.Errorf("malformed ATOM record: %q", line)
		}
		coords = append(coords, [3]float64{x, y, z})
	}
	return coords, scanner.Err()
}

// parseCIF handles the _atom_site loop of an mmCIF file. Column positions are
// taken from the loop header, so writer-specific field ordering is fine.
func parseCIF(f *os.File) ([][3]float64, error) {
	var (
		coords    [][3]float64
		fields    []string
		inHeader  bool
		inRecords bool
		firstMdl  string
	)
	col := func(name string) int {
		for i, f := range fields {
			if f == name {
				return i
			}
		}
		return -1
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "_atom_site."):
			fields = append(fields, strings.TrimPrefix(line, "_atom_site."))
			inHeader = true
		case inHeader && (line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "loop_") || strings.HasPrefix(line, "_")):
			if inRecords {
				inHeader = false
			}
		default:
			if len(fields) == 0 {
				continue
			}
			tokens := strings.Fields(line)
			if len(tokens) < len(fields) {
				if inRecords {
					inHeader = false
					fields = nil
					inRecords = false
				}
				continue
			}
			inRecords = true

			iName, iX, iY, iZ := col("label_atom_id"), col("Cartn_x"), col("Cartn_y"), col("Cartn_z")
			if iName < 0 || iX < 0 || iY < 0 || iZ < 0 {
				continue
			}
			if iMdl := col("pdbx_PDB_model_num"); iMdl >= 0 {
				if firstMdl == "" {
					firstMdl = tokens[iMdl]
				} else if tokens[iMdl] != firstMdl {
					continue // first model only
				}
			}
			name := strings.Trim(tokens[iName], `"`)
			if !backboneAtoms[name] {
				continue
			}
			x, errX := strconv.ParseFloat(tokens[iX], 64)
			y, errY := strconv.ParseFloat(tokens[iY], 64)
			z, errZ := strconv.ParseFloat(tokens[iZ], 64)
			if errX != nil || errY != nil || errZ != nil {
				return nil, fmt.Errorf("malformed _atom_site record: %q", line)
			}
			coords = append(coords, [3]float64{x, y, z})
		}
	}
	return coords, scanner.Err()
}
