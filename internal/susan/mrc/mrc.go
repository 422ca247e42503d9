// Package mrc reads and writes the fixed 1024-byte header of MRC volume
// files. The bridge uses it to sanity-check reference volumes and imported
// averages; voxel data is never interpreted here.
package mrc

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// HeaderSize is the fixed size of an MRC2014 header.
const HeaderSize = 1024

// Data modes the bridge accepts. SUSAN works on float32 volumes (mode 2)
// but inputs may arrive as integer stacks before conversion.
const (
	ModeInt8    = 0
	ModeInt16   = 1
	ModeFloat32 = 2
	ModeUint16  = 6
	ModeFloat16 = 12
)

// Header is the decoded subset of an MRC header the bridge cares about.
type Header struct {
	NX, NY, NZ int32
	Mode       int32
	MX, MY, MZ int32
	CellA      [3]float32
}

// PixelSize derives the voxel size in angstroms from the cell dimensions.
// Zero is returned when the header does not carry a sampling grid.
func (h *Header) PixelSize() float64 {
	if h.MX == 0 {
		return 0
	}
	return float64(h.CellA[0]) / float64(h.MX)
}

// IsCube reports whether the volume is a cube of the given edge length.
func (h *Header) IsCube(edge int) bool {
	e := int32(edge)
	return h.NX == e && h.NY == e && h.NZ == e
}

var validModes = map[int32]bool{
	ModeInt8:    true,
	ModeInt16:   true,
	ModeFloat32: true,
	ModeUint16:  true,
	ModeFloat16: true,
}

// ReadHeader reads and validates the header of an MRC file.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open MRC file %s: %w", path, err)
	}
	defer f.Close()

	raw := make([]byte, HeaderSize)
	if n, err := io.ReadFull(f, raw); err != nil {
		return nil, fmt.Errorf("MRC file %s truncated: header is %d of %d bytes", path, n, HeaderSize)
	}

	h := &Header{
		NX:   int32(binary.LittleEndian.Uint32(raw[0:4])),
		NY:   int32(binary.LittleEndian.Uint32(raw[4:8])),
		NZ:   int32(binary.LittleEndian.Uint32(raw[8:12])),
		Mode: int32(binary.LittleEndian.Uint32(raw[12:16])),
		MX:   int32(binary.LittleEndian.Uint32(raw[28:32])),
		MY:   int32(binary.LittleEndian.Uint32(raw[32:36])),
		MZ:   int32(binary.LittleEndian.Uint32(raw[36:40])),
	}
	for i := 0; i < 3; i++ {
		bits := binary.LittleEndian.Uint32(raw[40+i*4 : 44+i*4])
		h.CellA[i] = math.Float32frombits(bits)
	}

	if h.NX <= 0 || h.NY <= 0 || h.NZ <= 0 {
		return nil, fmt.Errorf("MRC file %s has invalid dimensions %dx%dx%d", path, h.NX, h.NY, h.NZ)
	}
	if !validModes[h.Mode] {
		return nil, fmt.Errorf("MRC file %s has unsupported data mode %d", path, h.Mode)
	}
	return h, nil
}

// WriteHeader writes a minimal float32 MRC header followed by zeroed voxel
// data of the declared size. Used for placeholder volumes and in tests.
func WriteHeader(path string, nx, ny, nz int, pixSize float64) error {
	raw := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(raw[0:4], uint32(nx))
	binary.LittleEndian.PutUint32(raw[4:8], uint32(ny))
	binary.LittleEndian.PutUint32(raw[8:12], uint32(nz))
	binary.LittleEndian.PutUint32(raw[12:16], uint32(ModeFloat32))
	binary.LittleEndian.PutUint32(raw[28:32], uint32(nx))
	binary.LittleEndian.PutUint32(raw[32:36], uint32(ny))
	binary.LittleEndian.PutUint32(raw[36:40], uint32(nz))
	for i, n := range []int{nx, ny, nz} {
		binary.LittleEndian.PutUint32(raw[40+i*4:44+i*4], math.Float32bits(float32(pixSize*float64(n))))
	}
	// "MAP " stamp and little-endian machine tag per MRC2014.
	copy(raw[208:212], "MAP ")
	raw[212], raw[213] = 0x44, 0x44

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create MRC file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(raw); err != nil {
		return fmt.Errorf("cannot write MRC header: %w", err)
	}
	if _, err := f.Write(make([]byte, nx*ny*nz*4)); err != nil {
		return fmt.Errorf("cannot write MRC voxels: %w", err)
	}
	return nil
}

// WriteSphere writes a cubic float32 volume holding a centered binary
// sphere of the given radius. Generated references and masks use this.
func WriteSphere(path string, edge int, radius, pixSize float64) error {
	if radius <= 0 || float64(edge) < 2*radius {
		return fmt.Errorf("sphere of radius %g does not fit a box of %d voxels", radius, edge)
	}
	raw := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(raw[0:4], uint32(edge))
	binary.LittleEndian.PutUint32(raw[4:8], uint32(edge))
	binary.LittleEndian.PutUint32(raw[8:12], uint32(edge))
	binary.LittleEndian.PutUint32(raw[12:16], uint32(ModeFloat32))
	binary.LittleEndian.PutUint32(raw[28:32], uint32(edge))
	binary.LittleEndian.PutUint32(raw[32:36], uint32(edge))
	binary.LittleEndian.PutUint32(raw[36:40], uint32(edge))
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(raw[40+i*4:44+i*4], math.Float32bits(float32(pixSize*float64(edge))))
	}
	copy(raw[208:212], "MAP ")
	raw[212], raw[213] = 0x44, 0x44

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create MRC file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(raw); err != nil {
		return fmt.Errorf("cannot write MRC header: %w", err)
	}

	center := float64(edge-1) / 2
	r2 := radius * radius
	one := make([]byte, 4)
	binary.LittleEndian.PutUint32(one, math.Float32bits(1))
	voxels := make([]byte, edge*edge*edge*4)
	for z := 0; z < edge; z++ {
		for y := 0; y < edge; y++ {
			for x := 0; x < edge; x++ {
				dx, dy, dz := float64(x)-center, float64(y)-center, float64(z)-center
				if dx*dx+dy*dy+dz*dz <= r2 {
					off := ((z*edge+y)*edge + x) * 4
					copy(voxels[off:off+4], one)
				}
			}
		}
	}
	if _, err := f.Write(voxels); err != nil {
		return fmt.Errorf("cannot write MRC voxels: %w", err)
	}
	return nil
}
