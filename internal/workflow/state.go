package workflow

import (
	"github.com/roundup-invest/receipt-review/types"
)

// StateName is the discriminator of the workflow state union.
type StateName string

const (
	StateIdle        StateName = "idle"
	StateUploading   StateName = "uploading"
	StateProcessing  StateName = "processing"
	StateManualEntry StateName = "manual_entry"
	StateCompleted   StateName = "completed"
	StateEditing     StateName = "editing"
	StateConfirmed   StateName = "confirmed"
	StateFailed      StateName = "failed"
)

// Phase is the sub-state of Processing.
type Phase string

const (
	PhaseExtracting Phase = "extracting"
	PhaseAnalyzing  Phase = "analyzing"
)

// Stage names the step at which a workflow failed.
type Stage string

const (
	StageUpload     Stage = "upload"
	StageExtraction Stage = "extraction"
	StageAllocation Stage = "allocation"
)

// State is one of Idle, Uploading, Processing, ManualEntry, Completed,
// Editing, Confirmed or Failed.
type State interface {
	Name() StateName
	isState()
}

type Idle struct{}

type Uploading struct {
	Filename string
}

type Processing struct {
	Receipt types.Receipt
	Phase   Phase
}

// ManualEntry is entered when extraction recovered nothing and the backend
// asked for manual entry. Draft starts empty.
type ManualEntry struct {
	Receipt types.Receipt
	Draft   types.ExtractedData
}

type Completed struct {
	Receipt types.Receipt
	Data    types.ExtractedData
	Preview types.AllocationPreview
}

// Editing holds the live editor and the Completed state it was opened from.
type Editing struct {
	Receipt  types.Receipt
	Editor   *Editor
	Previous Completed
}

type Confirmed struct {
	Result types.TransactionResult
}

type Failed struct {
	Stage Stage
	Err   error
}

func (Idle) Name() StateName        { return StateIdle }
func (Uploading) Name() StateName   { return StateUploading }
func (Processing) Name() StateName  { return StateProcessing }
func (ManualEntry) Name() StateName { return StateManualEntry }
func (Completed) Name() StateName   { return StateCompleted }
func (Editing) Name() StateName     { return StateEditing }
func (Confirmed) Name() StateName   { return StateConfirmed }
func (Failed) Name() StateName      { return StateFailed }

func (Idle) isState()        {}
func (Uploading) isState()   {}
func (Processing) isState()  {}
func (ManualEntry) isState() {}
func (Completed) isState()   {}
func (Editing) isState()     {}
func (Confirmed) isState()   {}
func (Failed) isState()      {}

// label is used in transition metrics and error details.
func label(s State) string {
	if p, ok := s.(Processing); ok {
		return string(StateProcessing) + ":" + string(p.Phase)
	}
	return string(s.Name())
}
