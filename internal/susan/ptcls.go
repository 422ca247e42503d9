package susan

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ptclsraw is SUSAN's binary particle table. The bridge only interprets the
// fixed header; the per-particle records that follow are opaque and handed
// back to SUSAN untouched.
const ptclsMagic = "SsaPtcl1"

const ptclsHeaderSize = 8 + 3*4

// PtclsInfo is the decoded header of a ptclsraw file.
type PtclsInfo struct {
	NumParticles uint32
	NumProjs     uint32
	NumRefs      uint32
}

// ReadPtclsInfo reads and validates the header of a ptclsraw file. An empty,
// truncated or mislabelled file yields a ParseError, never a zero-valued
// result.
func ReadPtclsInfo(path string) (*PtclsInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: "cannot open particle file", Err: err}
	}
	defer f.Close()

	header := make([]byte, ptclsHeaderSize)
	n, err := io.ReadFull(f, header)
	if err != nil {
		if n == 0 {
			return nil, NewParseError(path, "particle file is empty")
		}
		return nil, NewParseError(path, "particle file truncated at %d bytes", n)
	}
	if !bytes.Equal(header[:8], []byte(ptclsMagic)) {
		return nil, NewParseError(path, "bad magic %q, expected %q", header[:8], ptclsMagic)
	}

	info := &PtclsInfo{
		NumParticles: binary.LittleEndian.Uint32(header[8:12]),
		NumProjs:     binary.LittleEndian.Uint32(header[12:16]),
		NumRefs:      binary.LittleEndian.Uint32(header[16:20]),
	}
	if info.NumRefs == 0 {
		return nil, NewParseError(path, "particle file declares zero references")
	}
	return info, nil
}

// WritePtclsInfo writes a ptclsraw header followed by the given opaque
// payload. It exists for the subset protocol's bookkeeping and for tests;
// real particle records are always produced by SUSAN itself.
func WritePtclsInfo(path string, info *PtclsInfo, payload []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create particle file: %w", err)
	}
	defer f.Close()

	header := make([]byte, ptclsHeaderSize)
	copy(header[:8], ptclsMagic)
	binary.LittleEndian.PutUint32(header[8:12], info.NumParticles)
	binary.LittleEndian.PutUint32(header[12:16], info.NumProjs)
	binary.LittleEndian.PutUint32(header[16:20], info.NumRefs)

	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("failed to write particle header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := f.Write(payload); err != nil {
			return fmt.Errorf("failed to write particle records: %w", err)
		}
	}
	return nil
}
