package susan

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// DefocusRow holds the per-tilt CTF estimate as emitted by SUSAN's
// defocus.txt: eight columns per projection.
type DefocusRow struct {
	DefocusU     float64
	DefocusV     float64
	DefocusAngle float64
	PhaseShift   float64
	BFactor      float64
	ExpFilter    float64
	Resolution   float64
	FitScore     float64
}

// WrongDefocus marks a projection whose estimate could not be read. The
// sentinel values follow the original plugin so downstream consumers can
// recognize them.
func WrongDefocus() DefocusRow {
	return DefocusRow{
		DefocusU:     -999,
		DefocusV:     -1,
		DefocusAngle: -999,
		Resolution:   -999,
		FitScore:     -999,
	}
}

// ParseDefocusFile reads a SUSAN defocus table. Blank lines and #-comments
// are skipped; every remaining line must carry exactly eight float columns.
func ParseDefocusFile(path string) ([]DefocusRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "cannot open defocus file", Err: err}
	}
	defer f.Close()

	var rows []DefocusRow
	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 8 {
			return nil, NewParseError(path, "line %d has %d columns, expected 8", lineNo, len(fields))
		}
		var vals [8]float64
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, NewParseError(path, "line %d column %d is not a number: %q", lineNo, i+1, field)
			}
			vals[i] = v
		}
		rows = append(rows, DefocusRow{
			DefocusU:     vals[0],
			DefocusV:     vals[1],
			DefocusAngle: vals[2],
			PhaseShift:   vals[3],
			BFactor:      vals[4],
			ExpFilter:    vals[5],
			Resolution:   vals[6],
			FitScore:     vals[7],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Path: path, Reason: "read failed", Err: err}
	}
	if len(rows) == 0 {
		return nil, NewParseError(path, "defocus file contains no estimates")
	}
	return rows, nil
}
