// Package base carries the staging logic shared by the averaging protocols:
// resolving tilt series, linking stacks, writing tilt and defocus files, and
// collecting the acquisition metadata SUSAN wants in its parameter files.
package base

import (
	"os"
	"path/filepath"

	"github.com/emtools/susanbridge/internal/proto"
	"github.com/emtools/susanbridge/internal/stage"
	"github.com/emtools/susanbridge/internal/susan"
	"github.com/emtools/susanbridge/internal/susan/mrc"
)

// Project is the staged form of a set of tilt series: everything needed to
// write the tomostxt file and fill the common parameter-file fields.
type Project struct {
	Series   []*stage.Series
	Tomos    []susan.Tomogram
	IDs      []int
	Stacks   []string
	Tilts    []string
	NumTilts int
	TomoSize [3]int
	PixSize  float64
	Voltage  float64
	SphAber  float64
	AmpCont  float64
}

// Stage resolves the requested tilt-series IDs, links every stack into the
// step's staging directory, and writes per-series .tlt and .defocus files.
// The tomogram X/Y extent is read from the first stack's MRC header; the Z
// extent comes from the thickness argument. All series must share a pixel
// size, the one SUSAN applies project-wide.
func Stage(env *proto.Env, tsIDs []string, thickness int) (*Project, error) {
	if thickness <= 0 {
		return nil, susan.NewConfigError("tomo_thickness", "non-positive tomogram thickness %d", thickness)
	}
	list, err := env.TiltSeries(tsIDs)
	if err != nil {
		return nil, err
	}

	hdr, err := mrc.ReadHeader(list[0].Stack)
	if err != nil {
		return nil, err
	}

	p := &Project{
		TomoSize: [3]int{int(hdr.NX), int(hdr.NY), thickness},
		PixSize:  list[0].PixSize,
		Voltage:  list[0].Voltage,
		SphAber:  list[0].SphAber,
		AmpCont:  list[0].AmpCont,
	}

	for i, ts := range list {
		if ts.PixSize != p.PixSize {
			return nil, susan.NewConfigError("pix_size",
				"tilt series %s has pixel size %g, expected %g as in %s",
				ts.ID, ts.PixSize, p.PixSize, list[0].ID)
		}
		s, err := stage.TiltSeries(ts, i+1, env.TmpDir())
		if err != nil {
			return nil, err
		}
		tiltFn, err := writeTiltFile(env.TmpPath(ts.ID+".tlt"), s.Angles)
		if err != nil {
			return nil, err
		}
		if s.HasDefocus() {
			if err := writeDefocusFile(env.TmpPath(ts.ID+".defocus"), s.Defocus); err != nil {
				return nil, err
			}
		}

		p.Series = append(p.Series, s)
		p.Tomos = append(p.Tomos, s.Tomogram(ts, p.TomoSize))
		p.IDs = append(p.IDs, s.Num)
		p.Stacks = append(p.Stacks, susan.Abs(s.Stack))
		p.Tilts = append(p.Tilts, susan.Abs(tiltFn))
		if n := len(s.Angles); n > p.NumTilts {
			p.NumTilts = n
		}
	}
	return p, nil
}

// HasDefocus reports whether every staged series carries real defocus
// estimates. CTF-corrected runs refuse to start otherwise.
func (p *Project) HasDefocus() bool {
	for _, s := range p.Series {
		if !s.HasDefocus() {
			return false
		}
	}
	return true
}

// StageCoordinates stages the particle table next to the stacks, rescaling
// picking coordinates onto the tilt-series pixel grid. coordsPixSize of zero
// means the table is already on the tilt-series grid.
func (p *Project) StageCoordinates(env *proto.Env, table string, coordsPixSize float64) (int, error) {
	if err := susan.CheckFile("coordinates", table); err != nil {
		return 0, err
	}
	scale := 1.0
	if coordsPixSize > 0 {
		scale = coordsPixSize / p.PixSize
	}
	return stage.Coordinates(table, env.TmpPath("input_particles.tbl"), scale)
}

// WriteTomos writes the project's tomostxt file. When withDefocus is false
// the defocus columns are left out even for series that carry estimates.
func (p *Project) WriteTomos(path string, withDefocus bool) error {
	tomos := p.Tomos
	if !withDefocus {
		tomos = make([]susan.Tomogram, len(p.Tomos))
		for i, t := range p.Tomos {
			t.Defocus = nil
			tomos[i] = t
		}
	}
	return susan.WriteTomosFile(path, tomos)
}

// WritePtcls writes the project particle index consumed by the aligner and
// the reconstructor.
func (p *Project) WritePtcls(path string, numParticles, numRefs int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return susan.WritePtclsInfo(path, &susan.PtclsInfo{
		NumParticles: uint32(numParticles),
		NumProjs:     uint32(p.NumTilts),
		NumRefs:      uint32(numRefs),
	}, nil)
}

func writeTiltFile(path string, angles []float64) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	for _, a := range angles {
		if _, err := f.WriteString(susan.FormatFloat(a) + "\n"); err != nil {
			return "", err
		}
	}
	return path, nil
}

func writeDefocusFile(path string, rows []susan.DefocusRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, d := range rows {
		line := susan.FormatFloat(d.DefocusU) + " " +
			susan.FormatFloat(d.DefocusV) + " " +
			susan.FormatFloat(d.DefocusAngle) + " " +
			susan.FormatFloat(d.PhaseShift) + " " +
			susan.FormatFloat(d.BFactor) + " " +
			susan.FormatFloat(d.ExpFilter) + " " +
			susan.FormatFloat(d.Resolution) + " " +
			susan.FormatFloat(d.FitScore) + "\n"
		if _, err := f.WriteString(line); err != nil {
			return err
		}
	}
	return nil
}
