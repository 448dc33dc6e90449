// The pipeline configuration covers every tunable of the batch orchestrator:
// the caselist window, directory conventions, the transform invocation and
// the allowed output file set. One typed struct per dataset family variant
// is expected; this is the HCP diffusion layout.
package config

import (
	"fmt"
	"path/filepath"
)

// PipelineConfig holds the orchestrator's tunables
type PipelineConfig struct {
	CaselistPath string `json:"caselist_path" yaml:"caselist_path" toml:"caselist_path"` // local path or remote key of the caselist file
	GroupName    string `json:"group_name" yaml:"group_name" toml:"group_name"`          // cohort/group to process
	LocalRoot    string `json:"local_root" yaml:"local_root" toml:"local_root"`          // local working storage root
	RemoteRoot   string `json:"remote_root" yaml:"remote_root" toml:"remote_root"`       // key prefix of the dataset on the remote store

	SourceSubpath string `json:"source_subpath,omitempty" yaml:"source_subpath,omitempty" toml:"source_subpath,omitempty"` // subject subpath holding transform inputs
	OutputDirName string `json:"output_dir_name,omitempty" yaml:"output_dir_name,omitempty" toml:"output_dir_name,omitempty"` // per-subject output directory name

	StartIndex int `json:"start_index" yaml:"start_index" toml:"start_index"` // 1-based inclusive caselist window start
	EndIndex   int `json:"end_index" yaml:"end_index" toml:"end_index"`       // inclusive window end, 0 = through last line
	BatchSize  int `json:"batch_size" yaml:"batch_size" toml:"batch_size"`    // subjects staged per batch

	Appendage        string `json:"appendage,omitempty" yaml:"appendage,omitempty" toml:"appendage,omitempty"`                         // suffix added to bare caselist tokens
	AppendagePattern string `json:"appendage_pattern,omitempty" yaml:"appendage_pattern,omitempty" toml:"appendage_pattern,omitempty"` // regex marking an already-suffixed token
	FileSubstring    string `json:"file_substring,omitempty" yaml:"file_substring,omitempty" toml:"file_substring,omitempty"`          // substring identifying files the transform needs

	AllowedSuffixes    []string `json:"allowed_suffixes,omitempty" yaml:"allowed_suffixes,omitempty" toml:"allowed_suffixes,omitempty"`             // primary-product file suffixes
	AdditionalFilesDir string   `json:"additional_files_dir,omitempty" yaml:"additional_files_dir,omitempty" toml:"additional_files_dir,omitempty"` // side channel for non-primary outputs
	ScratchFileName    string   `json:"scratch_file_name,omitempty" yaml:"scratch_file_name,omitempty" toml:"scratch_file_name,omitempty"`          // transform scratch file deleted outright

	ManifestPath     string `json:"manifest_path,omitempty" yaml:"manifest_path,omitempty" toml:"manifest_path,omitempty"`             // where the per-batch input list is written
	ModelDir         string `json:"model_dir" yaml:"model_dir" toml:"model_dir"`                                                       // trained model directory passed to the transform
	TransformCommand string `json:"transform_command" yaml:"transform_command" toml:"transform_command"`                               // external transform executable

	RunLogName   string `json:"run_log_name,omitempty" yaml:"run_log_name,omitempty" toml:"run_log_name,omitempty"`       // file name of the mirrored run log
	LocalLogPath string `json:"local_log_path,omitempty" yaml:"local_log_path,omitempty" toml:"local_log_path,omitempty"` // local copy of the run log

	Parallel bool `json:"parallel" yaml:"parallel" toml:"parallel"` // fan per-subject transfers out over workers
}

// ApplyDefaults sets default values if they are not provided
func (pc *PipelineConfig) ApplyDefaults() {
	if pc.StartIndex <= 0 {
		pc.StartIndex = 1
	}
	if pc.BatchSize <= 0 {
		pc.BatchSize = 5
	}
	if pc.Appendage == "" {
		pc.Appendage = "_V1_MR"
	}
	if pc.AppendagePattern == "" {
		pc.AppendagePattern = `_V\d_MR`
	}
	if pc.FileSubstring == "" {
		pc.FileSubstring = "_EdEp"
	}
	if pc.SourceSubpath == "" {
		pc.SourceSubpath = "derivatives/dwipreproc/Diffusion"
	}
	if pc.OutputDirName == "" {
		pc.OutputDirName = "derivatives/dwi_masking"
	}
	if pc.ScratchFileName == "" {
		pc.ScratchFileName = "process_id.txt"
	}
	if len(pc.AllowedSuffixes) == 0 {
		// Primary products of the masking transform for this file substring.
		pc.AllowedSuffixes = []string{
			pc.FileSubstring + ".bval",
			pc.FileSubstring + ".bvec",
			pc.FileSubstring + ".nii.gz",
			pc.FileSubstring + "_bse-multi_BrainMask.nii.gz",
			pc.FileSubstring + "_bse.nii.gz",
		}
	}
	if pc.AdditionalFilesDir == "" && pc.LocalRoot != "" {
		pc.AdditionalFilesDir = filepath.Join(pc.LocalRoot, "AdditionalFiles")
	}
	if pc.ManifestPath == "" && pc.LocalRoot != "" {
		pc.ManifestPath = filepath.Join(pc.LocalRoot, "process_list.txt")
	}
	if pc.RunLogName == "" {
		pc.RunLogName = "processing_log.txt"
	}
	if pc.LocalLogPath == "" && pc.LocalRoot != "" {
		pc.LocalLogPath = filepath.Join(pc.LocalRoot, "logs", pc.RunLogName)
	}
}

// Validate ensures the pipeline configuration is usable before any I/O happens
func (pc *PipelineConfig) Validate() error {
	if pc.CaselistPath == "" {
		return fmt.Errorf("caselist path is required")
	}
	if pc.GroupName == "" {
		return fmt.Errorf("group name is required")
	}
	if pc.LocalRoot == "" {
		return fmt.Errorf("local data root is required")
	}
	if pc.TransformCommand == "" {
		return fmt.Errorf("transform command is required")
	}
	if pc.ModelDir == "" {
		return fmt.Errorf("model dir is required")
	}
	if pc.BatchSize <= 0 {
		return fmt.Errorf("batch size must be greater than 0")
	}
	if pc.StartIndex < 1 {
		return fmt.Errorf("start index must be 1 or greater")
	}
	if pc.EndIndex != 0 && pc.EndIndex < pc.StartIndex {
		return fmt.Errorf("end index %d is before start index %d", pc.EndIndex, pc.StartIndex)
	}
	return nil
}
