package susan

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// CTF correction methods accepted by the aligner and the averager, plus the
// normalization and padding modes of the averager. The value strings are
// SUSAN's own.
var (
	AlignerCtfChoices  = []string{"none", "on_reference", "on_substack", "wiener_ssnr", "wiener_white", "cfsc"}
	AveragerCtfChoices = []string{"none", "phase_flip", "wiener", "wiener_ssnr"}
	NormChoices        = []string{"none", "zero_mean", "zero_mean_one_std", "zero_mean_proj_weight"}
	PaddingChoices     = []string{"zero", "noise"}
)

// ValidateChoice checks a string parameter against its closed set of values.
func ValidateChoice(field, value string, choices []string) error {
	if slices.Contains(choices, value) {
		return nil
	}
	return NewConfigError(field, "unknown value %q, expected one of %v", value, choices)
}

// CtfParams is the parameter file for susan_estimate_ctf.
type CtfParams struct {
	TsNum       int     `json:"ts_num"`
	InputStack  string  `json:"inputStack"`
	InputAngles string  `json:"inputAngles"`
	OutputDir   string  `json:"output_dir"`
	NumTilts    int     `json:"num_tilts"`
	PixSize     float64 `json:"pix_size"`
	TomoSize    [3]int  `json:"tomo_size"`
	Sampling    int     `json:"sampling"`
	Binning     float64 `json:"binning"`
	GPUs        []int   `json:"gpus"`
	MinRes      float64 `json:"min_res"`
	MaxRes      float64 `json:"max_res"`
	DefMin      float64 `json:"def_min"`
	DefMax      float64 `json:"def_max"`
	PatchSize   int     `json:"patch_size"`
}

// MraParams is the parameter file for susan_aligner + susan_reconstruct.
type MraParams struct {
	Continue      bool     `json:"continue"`
	TsNums        []int    `json:"ts_nums"`
	NumRefs       int      `json:"refs_nums"`
	GenerateRefs  bool     `json:"generate_refs"`
	InputStacks   []string `json:"inputStacks"`
	InputAngles   []string `json:"inputAngles"`
	InputRefs     []string `json:"inputRefs"`
	InputMasks    []string `json:"inputMasks"`
	NumTilts      int      `json:"num_tilts"`
	PixSize       float64  `json:"pix_size"`
	TomoSize      [3]int   `json:"tomo_size"`
	BoxSize       int      `json:"box_size"`
	GPUs          []int    `json:"gpus"`
	Voltage       float64  `json:"voltage"`
	SphAber       float64  `json:"sph_aber"`
	AmpCont       float64  `json:"amp_cont"`
	ThreadsPerGPU int      `json:"thr_per_gpu"`
	CtfCorrAvg    string   `json:"ctf_corr_avg"`
	CtfCorrAln    string   `json:"ctf_corr_aln"`
	DoHalfsets    bool     `json:"do_halfsets"`
	Symmetry      string   `json:"symmetry"`
	Padding       string   `json:"padding"`
	Iterations    int      `json:"iter"`
	AllowDrift    bool     `json:"allow_drift"`
	CCThreshold   float64  `json:"cc"`
	Low           int      `json:"low"`
	High          int      `json:"high"`
	Refine        int      `json:"refine"`
	RefineFactor  int      `json:"refine_factor"`
	IncLowpass    bool     `json:"inc_lowpass"`
	Angles        [4]int   `json:"angles"`
	Offsets       [2]int   `json:"offsets"`
	Randomize     bool     `json:"randomize"`
}

// AvgParams is the parameter file for susan_reconstruct.
type AvgParams struct {
	Continue      bool     `json:"continue"`
	TsNums        []int    `json:"ts_nums"`
	InputStacks   []string `json:"inputStacks"`
	InputAngles   []string `json:"inputAngles"`
	NumTilts      int      `json:"num_tilts"`
	PixSize       float64  `json:"pix_size"`
	TomoSize      [3]int   `json:"tomo_size"`
	BoxSize       int      `json:"box_size"`
	GPUs          []int    `json:"gpus"`
	Voltage       float64  `json:"voltage"`
	SphAber       float64  `json:"sph_aber"`
	AmpCont       float64  `json:"amp_cont"`
	ThreadsPerGPU int      `json:"thr_per_gpu"`
	HasCtf        bool     `json:"has_ctf"`
	CtfCorrAvg    string   `json:"ctf_corr_avg"`
	DoHalfsets    bool     `json:"do_halfsets"`
	Symmetry      string   `json:"symmetry"`
	Padding       string   `json:"padding"`
}

// SubsetParams is the parameter file for susan_subset.
type SubsetParams struct {
	InputParts string  `json:"input_parts"`
	CCMin      float64 `json:"cc_min"`
	CCMax      float64 `json:"cc_max"`
	SelectRefs bool    `json:"select_refs"`
	DoThrCC    bool    `json:"do_thr_cc"`
	RefsList   []int   `json:"refs_list"`
}

// WriteParams writes a parameter file as indented JSON, the exact payload the
// SUSAN tools are pointed at on their command line.
func WriteParams(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write parameters: %w", err)
	}
	return nil
}

// ReadParams reads a parameter file back, used by continue-style runs to
// carry the previous run's geometry over.
func ReadParams(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ParseError{Path: path, Reason: "cannot read parameter file", Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewParseError(path, "invalid parameter file: %v", err)
	}
	return nil
}
