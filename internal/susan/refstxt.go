package susan

import (
	"bufio"
	"fmt"
	"os"
)

// Reference pairs a reference volume with its alignment mask.
type Reference struct {
	Map  string
	Mask string
}

// WriteRefsFile writes a refstxt file listing the references for a
// multi-reference alignment. Both the map and the mask of every reference
// must exist on disk.
func WriteRefsFile(path string, refs []Reference) error {
	if len(refs) == 0 {
		return NewConfigError("references", "no references to write")
	}
	for i, r := range refs {
		if err := CheckFile(fmt.Sprintf("references[%d].map", i), r.Map); err != nil {
			return err
		}
		if err := CheckFile(fmt.Sprintf("references[%d].mask", i), r.Mask); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create refstxt: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "num_refs:%d\n", len(refs))
	for i, r := range refs {
		fmt.Fprintf(w, "## reference %d\n", i+1)
		fmt.Fprintf(w, "map:%s\n", Abs(r.Map))
		fmt.Fprintf(w, "mask:%s\n", Abs(r.Mask))
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write refstxt: %w", err)
	}
	return nil
}
