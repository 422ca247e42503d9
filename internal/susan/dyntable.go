package susan

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParticleRow is one entry of a Dynamo-style particle table. Only the
// columns SUSAN consumes are modelled; the rest are written as zeros.
type ParticleRow struct {
	Tag      int
	TomoID   int
	Position [3]float64
	Shifts   [3]float64
	Angles   [3]float64
	CC       float64
	TiltMin  float64
	TiltMax  float64
}

// Column layout of a 35-column Dynamo table (1-based):
//
//	1      tag
//	4-6    shifts
//	7-9    euler angles (tdrot, tilt, narot)
//	10     cross-correlation
//	14-15  min/max tilt angle
//	20     tomogram id
//	24-26  position (x, y, z)
const dynTableColumns = 35

// WriteDynTable writes rows as a Dynamo table, scaling positions and shifts
// by the given factor. A factor of 1 leaves coordinates untouched; any other
// value rescales picking coordinates onto the tilt-series pixel grid.
func WriteDynTable(w io.Writer, rows []ParticleRow, scale float64) error {
	if len(rows) == 0 {
		return NewConfigError("coordinates", "no particles to write")
	}
	if scale <= 0 {
		return NewConfigError("coordinates", "non-positive scale factor %g", scale)
	}

	bw := bufio.NewWriter(w)
	for _, r := range rows {
		var cols [dynTableColumns]float64
		cols[0] = float64(r.Tag)
		cols[1] = 1
		cols[2] = 1
		cols[3] = r.Shifts[0] * scale
		cols[4] = r.Shifts[1] * scale
		cols[5] = r.Shifts[2] * scale
		cols[6] = r.Angles[0]
		cols[7] = r.Angles[1]
		cols[8] = r.Angles[2]
		cols[9] = r.CC
		cols[13] = r.TiltMin
		cols[14] = r.TiltMax
		cols[19] = float64(r.TomoID)
		cols[23] = r.Position[0] * scale
		cols[24] = r.Position[1] * scale
		cols[25] = r.Position[2] * scale

		parts := make([]string, dynTableColumns)
		for i, v := range cols {
			parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		if _, err := fmt.Fprintln(bw, strings.Join(parts, " ")); err != nil {
			return fmt.Errorf("failed to write particle table: %w", err)
		}
	}
	return bw.Flush()
}

// ReadDynTable parses a Dynamo table back into rows. Files with fewer than
// the canonical 35 columns are rejected.
func ReadDynTable(r io.Reader, path string) ([]ParticleRow, error) {
	var rows []ParticleRow
	lineNo := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < dynTableColumns {
			return nil, NewParseError(path, "line %d has %d columns, expected %d", lineNo, len(fields), dynTableColumns)
		}
		vals := make([]float64, dynTableColumns)
		for i := 0; i < dynTableColumns; i++ {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, NewParseError(path, "line %d column %d is not a number: %q", lineNo, i+1, fields[i])
			}
			vals[i] = v
		}
		rows = append(rows, ParticleRow{
			Tag:      int(vals[0]),
			TomoID:   int(vals[19]),
			Position: [3]float64{vals[23], vals[24], vals[25]},
			Shifts:   [3]float64{vals[3], vals[4], vals[5]},
			Angles:   [3]float64{vals[6], vals[7], vals[8]},
			CC:       vals[9],
			TiltMin:  vals[13],
			TiltMax:  vals[14],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Path: path, Reason: "read failed", Err: err}
	}
	if len(rows) == 0 {
		return nil, NewParseError(path, "particle table contains no rows")
	}
	return rows, nil
}
