package susan

import (
	"bufio"
	"fmt"
	"os"
)

// Tomogram describes one tilt-series entry of a tomostxt file: the stack on
// disk, its acquisition metadata, and optionally a per-projection defocus
// estimate.
type Tomogram struct {
	ID       int
	Stack    string
	TomoSize [3]int
	PixSize  float64
	Voltage  float64
	SphAber  float64
	AmpCont  float64
	Angles   []float64
	Defocus  []DefocusRow
}

// Validate checks that the entry is complete enough for SUSAN to consume.
func (t *Tomogram) Validate() error {
	if err := CheckFile("stack", t.Stack); err != nil {
		return err
	}
	if len(t.Angles) == 0 {
		return NewConfigError("angles", "tomogram %d has no tilt angles", t.ID)
	}
	if t.PixSize <= 0 {
		return NewConfigError("pix_size", "tomogram %d has non-positive pixel size", t.ID)
	}
	for _, d := range t.TomoSize {
		if d <= 0 {
			return NewConfigError("tomo_size", "tomogram %d has non-positive dimension", t.ID)
		}
	}
	if len(t.Defocus) > 0 && len(t.Defocus) != len(t.Angles) {
		return NewConfigError("defocus",
			"tomogram %d has %d defocus rows for %d tilt angles",
			t.ID, len(t.Defocus), len(t.Angles))
	}
	return nil
}

// WriteTomosFile writes a tomostxt file describing the given tomograms.
// Every tomogram is validated first; nothing is written when any entry is
// incomplete.
func WriteTomosFile(path string, tomos []Tomogram) error {
	if len(tomos) == 0 {
		return NewConfigError("tilt_series", "no tomograms to write")
	}
	maxProj := 0
	for i := range tomos {
		if err := tomos[i].Validate(); err != nil {
			return err
		}
		if n := len(tomos[i].Angles); n > maxProj {
			maxProj = n
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create tomostxt: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "num_tomos:%d\n", len(tomos))
	fmt.Fprintf(w, "num_projs:%d\n", maxProj)

	for i := range tomos {
		t := &tomos[i]
		fmt.Fprintf(w, "## tomogram %d\n", i+1)
		fmt.Fprintf(w, "tomo_id:%d\n", t.ID)
		fmt.Fprintf(w, "stack_file:%s\n", Abs(t.Stack))
		fmt.Fprintf(w, "tomo_size:%d,%d,%d\n", t.TomoSize[0], t.TomoSize[1], t.TomoSize[2])
		fmt.Fprintf(w, "pix_size:%s\n", FormatFloat(t.PixSize))
		fmt.Fprintf(w, "kv:%s\n", FormatFloat(t.Voltage))
		fmt.Fprintf(w, "cs:%s\n", FormatFloat(t.SphAber))
		fmt.Fprintf(w, "ac:%s\n", FormatFloat(t.AmpCont))
		fmt.Fprintf(w, "num_proj:%d\n", len(t.Angles))

		// One projection per line: ZYZ euler triplet, then the defocus
		// estimate when one is attached. Untilted axes stay at zero.
		for j, angle := range t.Angles {
			fmt.Fprintf(w, "0.0000 %s 0.0000", FormatFloat(angle))
			if len(t.Defocus) > 0 {
				d := t.Defocus[j]
				fmt.Fprintf(w, " %s %s %s %s",
					FormatFloat(d.DefocusU), FormatFloat(d.DefocusV),
					FormatFloat(d.DefocusAngle), FormatFloat(d.PhaseShift))
			}
			fmt.Fprintln(w)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write tomostxt: %w", err)
	}
	return nil
}
