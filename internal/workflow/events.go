package workflow

import (
	stderrors "errors"
	"time"

	"github.com/roundup-invest/receipt-review/errors"
	"github.com/roundup-invest/receipt-review/internal/suggest"
	"github.com/roundup-invest/receipt-review/types"
)

// EventType distinguishes state transitions from in-place editor changes.
type EventType string

const (
	EventTransition    EventType = "transition"
	EventEditorChanged EventType = "editor_changed"
)

// Event is published to subscribers whenever the workflow changes.
type Event struct {
	Type     EventType `json:"type"`
	From     StateName `json:"from,omitempty"`
	To       StateName `json:"to"`
	Snapshot Snapshot  `json:"snapshot"`
	At       time.Time `json:"at"`
}

// SuggestionList is the single open ticker suggestion list of the editor.
type SuggestionList struct {
	Key         suggest.FieldKey         `json:"key"`
	Query       string                   `json:"query"`
	Suggestions []types.TickerSuggestion `json:"suggestions"`
}

// ErrorView is the user-facing summary of a failure.
type ErrorView struct {
	Stage   Stage  `json:"stage,omitempty"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

// Snapshot is a serialisable view of the workflow for front ends.
type Snapshot struct {
	State         StateName                `json:"state"`
	Phase         Phase                    `json:"phase,omitempty"`
	Filename      string                   `json:"filename,omitempty"`
	Receipt       *types.Receipt           `json:"receipt,omitempty"`
	Data          *types.ExtractedData     `json:"data,omitempty"`
	Preview       *types.AllocationPreview `json:"preview,omitempty"`
	PreviewStale  bool                     `json:"previewStale,omitempty"`
	NeedsReview   bool                     `json:"needsReview,omitempty"`
	RoundUp       string                   `json:"roundUp,omitempty"`
	Suggestions   *SuggestionList          `json:"suggestions,omitempty"`
	TransactionID string                   `json:"transactionId,omitempty"`
	Error         *ErrorView               `json:"error,omitempty"`
}

func snapshotOf(s State) Snapshot {
	snap := Snapshot{State: s.Name()}
	switch st := s.(type) {
	case Uploading:
		snap.Filename = st.Filename
	case Processing:
		r := st.Receipt
		snap.Receipt = &r
		snap.Phase = st.Phase
	case ManualEntry:
		r := st.Receipt
		d := st.Draft.Clone()
		snap.Receipt = &r
		snap.Data = &d
	case Completed:
		fillCompleted(&snap, st)
	case Editing:
		r := st.Receipt
		d := st.Editor.Data()
		snap.Receipt = &r
		snap.Data = &d
		snap.RoundUp = types.RoundUp(d.TotalAmount).String()
		if st.Editor.Dirty() {
			snap.PreviewStale = true
		} else {
			p := st.Previous.Preview
			snap.Preview = &p
			snap.NeedsReview = p.NeedsReview()
		}
		snap.Suggestions = st.Editor.Suggestions()
	case Confirmed:
		snap.TransactionID = st.Result.TransactionID
		r := st.Result.Receipt
		snap.Receipt = &r
	case Failed:
		snap.Error = errorView(st.Stage, st.Err)
	}
	return snap
}

func fillCompleted(snap *Snapshot, st Completed) {
	r := st.Receipt
	d := st.Data.Clone()
	p := st.Preview
	snap.Receipt = &r
	snap.Data = &d
	snap.Preview = &p
	snap.NeedsReview = p.NeedsReview()
	snap.RoundUp = types.RoundUp(d.TotalAmount).String()
}

func errorView(stage Stage, err error) *ErrorView {
	if err == nil {
		return nil
	}
	view := &ErrorView{Stage: stage, Message: err.Error()}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		view.Type = string(appErr.Type)
		view.Message = appErr.Message
	}
	return view
}
