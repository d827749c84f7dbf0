package pipeline

import (
	"errors"
	"fmt"
)

// Error kinds, matched with errors.Is against a *StageError.
var (
	ErrStorage      = errors.New("storage error")
	ErrEncode       = errors.New("encode error")
	ErrRecordUpdate = errors.New("record update error")
)

// Stage names a step of a pipeline run.
type Stage string

const (
	StageLoad      Stage = "load"
	StageMark      Stage = "mark_processing"
	StageWorkspace Stage = "workspace"
	StageDownload  Stage = "download"
	StageTranscode Stage = "transcode"
	StageManifest  Stage = "manifest"
	StageUpload    Stage = "upload"
	StageFinalize  Stage = "finalize"
)

// StageError is a fatal failure of one stage.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func stageErr(stage Stage, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
