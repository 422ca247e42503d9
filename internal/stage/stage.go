// Package stage converts pipeline inputs into the on-disk layout SUSAN
// expects inside a step's staging directory: linked stacks, tilt-angle
// files, defocus estimates, and rescaled particle tables.
package stage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/emtools/susanbridge/internal/config"
	"github.com/emtools/susanbridge/internal/susan"
)

// ParseTiltFile reads a .tlt file: one tilt angle in degrees per line.
func ParseTiltFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &susan.ParseError{Path: path, Reason: "cannot open tilt file", Err: err}
	}
	defer f.Close()

	var angles []float64
	lineNo := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, susan.NewParseError(path, "line %d is not a tilt angle: %q", lineNo, line)
		}
		angles = append(angles, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, &susan.ParseError{Path: path, Reason: "read failed", Err: err}
	}
	if len(angles) == 0 {
		return nil, susan.NewParseError(path, "tilt file contains no angles")
	}
	return angles, nil
}

// Series is a tilt series staged for SUSAN: the stack linked into the
// staging directory and its metadata parsed into memory.
type Series struct {
	Num     int
	ID      string
	Stack   string
	Angles  []float64
	Defocus []susan.DefocusRow
}

// TiltRange returns the minimum and maximum tilt angle of the series.
func (s *Series) TiltRange() (min, max float64) {
	min, max = s.Angles[0], s.Angles[0]
	for _, a := range s.Angles[1:] {
		if a < min {
			min = a
		}
		if a > max {
			max = a
		}
	}
	return min, max
}

// TiltSeries stages one tilt series into dir. The stack is symlinked under
// its series ID, the tilt file is parsed, and the defocus file, when the
// series carries one, is parsed and matched against the tilt count. Series
// without a defocus file get wrong-defocus sentinel rows so that downstream
// CTF checks can tell estimated from missing values apart.
func TiltSeries(ts *config.TiltSeries, num int, dir string) (*Series, error) {
	if err := susan.CheckFile("stack", ts.Stack); err != nil {
		return nil, err
	}
	angles, err := ParseTiltFile(ts.Angles)
	if err != nil {
		return nil, err
	}

	link := filepath.Join(dir, ts.ID+filepath.Ext(ts.Stack))
	if err := linkOrCopy(susan.Abs(ts.Stack), link); err != nil {
		return nil, fmt.Errorf("failed to stage stack for %s: %w", ts.ID, err)
	}

	s := &Series{Num: num, ID: ts.ID, Stack: link, Angles: angles}
	if ts.DefocusFile != "" {
		rows, err := susan.ParseDefocusFile(ts.DefocusFile)
		if err != nil {
			return nil, err
		}
		if len(rows) != len(angles) {
			return nil, susan.NewParseError(ts.DefocusFile,
				"%d defocus rows for %d tilt angles in series %s",
				len(rows), len(angles), ts.ID)
		}
		s.Defocus = rows
	} else {
		s.Defocus = make([]susan.DefocusRow, len(angles))
		for i := range s.Defocus {
			s.Defocus[i] = susan.WrongDefocus()
		}
	}
	return s, nil
}

// HasDefocus reports whether the series carries real defocus estimates
// rather than wrong-defocus sentinels.
func (s *Series) HasDefocus() bool {
	wrong := susan.WrongDefocus()
	for _, d := range s.Defocus {
		if d != wrong {
			return true
		}
	}
	return false
}

// Tomogram converts the staged series into a tomostxt entry.
func (s *Series) Tomogram(ts *config.TiltSeries, tomoSize [3]int) susan.Tomogram {
	return susan.Tomogram{
		ID:       s.Num,
		Stack:    s.Stack,
		TomoSize: tomoSize,
		PixSize:  ts.PixSize,
		Voltage:  ts.Voltage,
		SphAber:  ts.SphAber,
		AmpCont:  ts.AmpCont,
		Angles:   s.Angles,
		Defocus:  s.Defocus,
	}
}

// Coordinates rescales a Dynamo particle table from picking pixel size onto
// the tilt-series pixel grid and writes it to dest. It returns the number of
// particles staged.
func Coordinates(src, dest string, scale float64) (int, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, &susan.ParseError{Path: src, Reason: "cannot open particle table", Err: err}
	}
	defer f.Close()

	rows, err := susan.ReadDynTable(f, src)
	if err != nil {
		return 0, err
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create staged particle table: %w", err)
	}
	defer out.Close()
	if err := susan.WriteDynTable(out, rows, scale); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// linkOrCopy symlinks src to dest, falling back to a byte copy on
// filesystems that refuse symlinks. An existing dest is replaced.
func linkOrCopy(src, dest string) error {
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Symlink(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
