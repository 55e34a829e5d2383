// Package workflow implements the receipt review state machine: upload,
// extraction, allocation, correction and confirmation of a single receipt.
//
// The workflow is a single tagged-union State. Every public operation checks
// the current state and returns an INVALID_STATE_TRANSITION error without
// side effects when it does not apply. Backend results that arrive after a
// Reset are discarded.
package workflow

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"sync"
	"time"

	"github.com/roundup-invest/receipt-review/config"
	"github.com/roundup-invest/receipt-review/errors"
	"github.com/roundup-invest/receipt-review/internal/suggest"
	"github.com/roundup-invest/receipt-review/logger"
	"github.com/roundup-invest/receipt-review/pkg/receiptapi"
	"github.com/roundup-invest/receipt-review/pkg/valueobjects"
	"github.com/roundup-invest/receipt-review/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LearningSubmitter accepts best-effort learning submissions. Submit must
// return immediately; failures are the submitter's to log.
type LearningSubmitter interface {
	Submit(submission types.LearningSubmission)
}

// SearchOptions tunes the editor's ticker search.
type SearchOptions struct {
	Debounce            time.Duration
	MinLength           int
	AutoSearchLength    int
	AutoAcceptThreshold float64
	Limiter             *rate.Limiter
}

// DefaultSearchOptions returns the stock search settings.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Debounce:            300 * time.Millisecond,
		MinLength:           2,
		AutoSearchLength:    3,
		AutoAcceptThreshold: 0.8,
	}
}

// SearchOptionsFromConfig builds search settings from configuration.
func SearchOptionsFromConfig(cfg config.WorkflowConfig) SearchOptions {
	return SearchOptions{
		Debounce:            cfg.SearchDebounce(),
		MinLength:           cfg.MinSearchLength,
		AutoSearchLength:    cfg.AutoSearchLength,
		AutoAcceptThreshold: cfg.AutoAcceptThreshold,
		Limiter:             rate.NewLimiter(rate.Limit(cfg.SearchRatePerSecond), cfg.SearchBurst),
	}
}

// Options configures a Workflow.
type Options struct {
	Client receiptapi.Client
	// SearchBackend serves ticker searches; defaults to Client.
	SearchBackend suggest.Backend
	// Learning receives corrections after confirmation; defaults to a
	// fire-and-forget call on Client.
	Learning LearningSubmitter
	// OnTransactionProcessed is invoked once per successful confirmation.
	OnTransactionProcessed func(types.TransactionResult)
	MaxUploadBytes         int64
	Search                 SearchOptions
}

// Workflow drives one receipt from upload to confirmation.
type Workflow struct {
	opts    Options
	log     *zap.SugaredLogger
	metrics *workflowMetrics

	mu         sync.Mutex
	state      State
	gen        uint64
	baseline   *types.ExtractedData
	confirming bool
	opID       uint64
	opCancel   context.CancelFunc
	subs       map[int]chan Event
	nextSub    int
	closed     bool
}

// New creates a workflow in the Idle state.
func New(opts Options) *Workflow {
	if opts.SearchBackend == nil {
		opts.SearchBackend = opts.Client
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Search == (SearchOptions{}) {
		opts.Search = DefaultSearchOptions()
	}
	log := logger.GetLogger().Named("workflow")
	if opts.Learning == nil {
		opts.Learning = &directLearning{client: opts.Client, log: log}
	}
	return &Workflow{
		opts:    opts,
		log:     log,
		metrics: newWorkflowMetrics(),
		state:   Idle{},
		subs:    make(map[int]chan Event),
	}
}

// State returns the current state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Snapshot returns a serialisable view of the current state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return snapshotOf(w.state)
}

// Preview returns the allocation preview that is valid for the current data,
// or nil. Once an edit is made the previous preview is no longer returned.
func (w *Workflow) Preview() *types.AllocationPreview {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch st := w.state.(type) {
	case Completed:
		p := st.Preview
		return &p
	case Editing:
		if st.Editor.Dirty() {
			return nil
		}
		p := st.Previous.Preview
		return &p
	}
	return nil
}

// Editor returns the live editor while editing.
func (w *Workflow) Editor() (*Editor, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if st, ok := w.state.(Editing); ok {
		return st.Editor, true
	}
	return nil, false
}

// Corrections diffs the current receipt data against the session's
// extraction result. It is nil before extraction completes.
func (w *Workflow) Corrections() *types.Corrections {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.baseline == nil {
		return nil
	}
	switch st := w.state.(type) {
	case Completed:
		return ComputeCorrections(*w.baseline, st.Data)
	case Editing:
		return ComputeCorrections(*w.baseline, st.Editor.Data())
	}
	return nil
}

// Subscribe returns a channel of workflow events and a function that
// unsubscribes and closes it. Slow subscribers miss events rather than
// block the workflow.
func (w *Workflow) Subscribe() (<-chan Event, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan Event, 32)
	if w.closed {
		close(ch)
		return ch, func() {}
	}
	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if c, ok := w.subs[id]; ok {
				delete(w.subs, id)
				close(c)
			}
		})
	}
}

// Upload validates a receipt file locally, submits it and runs extraction
// and allocation. Validation failures leave the state unchanged and make no
// network call.
func (w *Workflow) Upload(ctx context.Context, filename string, r io.Reader) error {
	if err := w.expectUploadable(); err != nil {
		return err
	}

	file, err := validateUpload(filename, r, w.opts.MaxUploadBytes)
	if err != nil {
		w.log.Infow("Rejected receipt file", "filename", filename, "error", err)
		return err
	}

	w.mu.Lock()
	if err := w.expectUploadableLocked(); err != nil {
		w.mu.Unlock()
		return err
	}
	gen := w.gen
	opCtx, opID := w.beginOpLocked(ctx)
	w.baseline = nil
	w.transitionLocked(Uploading{Filename: file.Filename})
	w.mu.Unlock()
	defer w.endOp(opID)

	receipt, err := w.opts.Client.Upload(opCtx, file.Filename, file.ContentType, bytes.NewReader(file.Content))
	if err != nil {
		return w.fail(gen, StageUpload, surface(err, "Upload failed"))
	}
	w.log.Infow("Receipt uploaded", "receiptId", receipt.ID, "filename", receipt.Filename)

	if err := w.advance(gen, Processing{Receipt: receipt, Phase: PhaseExtracting}); err != nil {
		return err
	}
	return w.extract(opCtx, gen, receipt)
}

func (w *Workflow) extract(ctx context.Context, gen uint64, receipt types.Receipt) error {
	resp, err := w.opts.Client.Process(ctx, receipt.ID, &types.ProcessRequest{})
	if err != nil {
		return w.fail(gen, StageExtraction, surface(err, "Extraction failed"))
	}

	data, outcome := classifyExtraction(resp)
	if outcome == outcomeManualEntry {
		w.log.Infow("Nothing usable extracted, switching to manual entry", "receiptId", receipt.ID)
		return w.advance(gen, ManualEntry{Receipt: receipt, Draft: data})
	}
	if !data.IsUsable() {
		w.log.Warnw("Extraction returned no usable fields, allocating anyway", "receiptId", receipt.ID)
	}

	w.mu.Lock()
	if w.gen != gen {
		w.mu.Unlock()
		return errDiscarded()
	}
	baseline := data.Clone()
	w.baseline = &baseline
	w.transitionLocked(Processing{Receipt: receipt, Phase: PhaseAnalyzing})
	w.mu.Unlock()

	preview, err := w.opts.Client.Allocate(ctx, receipt.ID)
	if err != nil {
		return w.fail(gen, StageAllocation, surface(err, "Allocation failed"))
	}
	return w.advance(gen, Completed{Receipt: receipt, Data: data, Preview: *preview})
}

// SubmitManualEntry stores user-entered data for a receipt in manual entry
// and requests its allocation. On failure the workflow returns to manual
// entry with the submitted data as the draft.
func (w *Workflow) SubmitManualEntry(ctx context.Context, data types.ExtractedData) error {
	if err := validateData(data); err != nil {
		return err
	}
	if !data.IsUsable() {
		return errors.ValidationFailed("Enter at least a retailer, an item or a total", "")
	}

	w.mu.Lock()
	st, ok := w.state.(ManualEntry)
	if !ok {
		defer w.mu.Unlock()
		return errors.InvalidTransition(label(w.state), "submit manual entry")
	}
	gen := w.gen
	opCtx, opID := w.beginOpLocked(ctx)
	w.baseline = &types.ExtractedData{}
	w.transitionLocked(Processing{Receipt: st.Receipt, Phase: PhaseAnalyzing})
	w.mu.Unlock()
	defer w.endOp(opID)

	data = data.Clone()
	restore := func(err error) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.gen == gen {
			w.transitionLocked(ManualEntry{Receipt: st.Receipt, Draft: data})
		}
		return err
	}

	if _, err := w.opts.Client.Process(opCtx, st.Receipt.ID, &types.ProcessRequest{Override: &data}); err != nil {
		return restore(surface(err, "Saving receipt failed"))
	}
	preview, err := w.opts.Client.Allocate(opCtx, st.Receipt.ID)
	if err != nil {
		return restore(surface(err, "Allocation failed"))
	}
	return w.advance(gen, Completed{Receipt: st.Receipt, Data: data, Preview: *preview})
}

// Reallocate requests a fresh allocation for unchanged data. On failure the
// previous preview is kept.
func (w *Workflow) Reallocate(ctx context.Context) error {
	w.mu.Lock()
	st, ok := w.state.(Completed)
	if !ok {
		defer w.mu.Unlock()
		return errors.InvalidTransition(label(w.state), "reallocate")
	}
	if w.confirming {
		w.mu.Unlock()
		return errConfirming()
	}
	gen := w.gen
	opCtx, opID := w.beginOpLocked(ctx)
	w.transitionLocked(Processing{Receipt: st.Receipt, Phase: PhaseAnalyzing})
	w.mu.Unlock()
	defer w.endOp(opID)

	preview, err := w.opts.Client.Allocate(opCtx, st.Receipt.ID)
	if err != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.gen == gen {
			w.transitionLocked(st)
		}
		return surface(err, "Allocation failed")
	}
	return w.advance(gen, Completed{Receipt: st.Receipt, Data: st.Data, Preview: *preview})
}

// BeginEdit opens the correction editor on a copy of the current data.
func (w *Workflow) BeginEdit() (*Editor, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.state.(Completed)
	if !ok {
		return nil, errors.InvalidTransition(label(w.state), "edit")
	}
	if w.confirming {
		return nil, errConfirming()
	}
	var editor *Editor
	editor = newEditor(st.Data.Clone(), w.opts.Search, w.opts.SearchBackend, func() {
		w.editorChanged(editor)
	}, w.log.Named("editor"), w.metrics)
	w.transitionLocked(Editing{Receipt: st.Receipt, Editor: editor, Previous: st})
	return editor, nil
}

// SaveEdits sends the edited data as an override and re-allocates. Scheduled
// ticker searches finish first so that confident matches are part of the
// override. The extraction policy is not applied to saved edits. On failure the workflow
// returns to Editing with the edits intact.
func (w *Workflow) SaveEdits(ctx context.Context) error {
	w.mu.Lock()
	st, ok := w.state.(Editing)
	if !ok {
		defer w.mu.Unlock()
		return errors.InvalidTransition(label(w.state), "save edits")
	}
	st.Editor.freeze()
	gen := w.gen
	opCtx, opID := w.beginOpLocked(ctx)
	w.transitionLocked(Processing{Receipt: st.Receipt, Phase: PhaseAnalyzing})
	w.mu.Unlock()
	defer w.endOp(opID)

	restore := func(err error) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.gen != gen {
			st.Editor.Close()
			return err
		}
		st.Editor.unfreeze()
		w.transitionLocked(st)
		return err
	}

	// Scheduled searches may still auto-accept a brand into the edits.
	if err := st.Editor.WaitForSearches(opCtx); err != nil {
		return restore(err)
	}
	data := st.Editor.seal()

	if _, err := w.opts.Client.Process(opCtx, st.Receipt.ID, &types.ProcessRequest{Override: &data}); err != nil {
		return restore(surface(err, "Saving corrections failed"))
	}
	preview, err := w.opts.Client.Allocate(opCtx, st.Receipt.ID)
	if err != nil {
		return restore(surface(err, "Allocation failed"))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	st.Editor.Close()
	if w.gen != gen {
		return errDiscarded()
	}
	w.transitionLocked(Completed{Receipt: st.Receipt, Data: data, Preview: *preview})
	return nil
}

// CancelEdit discards edits and returns to the previous review.
func (w *Workflow) CancelEdit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.state.(Editing)
	if !ok {
		return errors.InvalidTransition(label(w.state), "cancel edit")
	}
	st.Editor.Close()
	w.transitionLocked(st.Previous)
	return nil
}

// Confirm creates the transaction for the reviewed receipt. On success the
// learning submission is handed off, the completion callback runs once and
// the workflow resets to Idle. On failure the review stays as it was.
func (w *Workflow) Confirm(ctx context.Context) (*types.TransactionResult, error) {
	w.mu.Lock()
	st, ok := w.state.(Completed)
	if !ok {
		defer w.mu.Unlock()
		return nil, errors.InvalidTransition(label(w.state), "confirm")
	}
	if w.confirming {
		w.mu.Unlock()
		return nil, errConfirming()
	}
	w.confirming = true
	gen := w.gen
	var baseline types.ExtractedData
	if w.baseline != nil {
		baseline = w.baseline.Clone()
	}
	opCtx, opID := w.beginOpLocked(ctx)
	w.mu.Unlock()
	defer w.endOp(opID)

	txID, err := w.opts.Client.CreateTransaction(opCtx, &types.CreateTransactionRequest{
		ReceiptID:   st.Receipt.ID,
		ReceiptData: st.Data,
		Allocation:  st.Preview,
	})
	if err != nil {
		w.mu.Lock()
		if w.gen == gen {
			w.confirming = false
		}
		w.mu.Unlock()
		w.metrics.confirmations.WithLabelValues("error").Inc()
		return nil, surface(err, "Could not confirm transaction")
	}
	w.metrics.confirmations.WithLabelValues("success").Inc()

	result := types.TransactionResult{
		TransactionID: txID,
		Receipt:       st.Receipt,
		Data:          st.Data.Clone(),
		Allocation:    st.Preview,
	}

	w.mu.Lock()
	if w.gen == gen {
		w.transitionLocked(Confirmed{Result: result})
		w.resetLocked()
	}
	w.mu.Unlock()
	w.log.Infow("Transaction confirmed", "receiptId", st.Receipt.ID, "transactionId", txID)

	w.opts.Learning.Submit(types.LearningSubmission{
		ReceiptID:     st.Receipt.ID,
		TransactionID: txID,
		ReceiptData:   result.Data,
		Allocation:    result.Allocation,
		Corrections:   ComputeCorrections(baseline, result.Data),
	})
	if w.opts.OnTransactionProcessed != nil {
		w.opts.OnTransactionProcessed(result)
	}
	return &result, nil
}

// Reset abandons the current receipt from any state. In-flight calls are
// cancelled and their results discarded.
func (w *Workflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
}

// Close resets the workflow and closes all subscriber channels.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
	w.closed = true
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
}

func (w *Workflow) resetLocked() {
	if st, ok := w.state.(Editing); ok {
		st.Editor.Close()
	}
	if w.opCancel != nil {
		w.opCancel()
		w.opCancel = nil
	}
	w.gen++
	w.baseline = nil
	w.confirming = false
	if w.state.Name() != StateIdle {
		w.transitionLocked(Idle{})
	}
}

func (w *Workflow) expectUploadable() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expectUploadableLocked()
}

func (w *Workflow) expectUploadableLocked() error {
	switch w.state.(type) {
	case Idle, Failed:
		return nil
	}
	return errors.InvalidTransition(label(w.state), "upload")
}

func (w *Workflow) beginOpLocked(ctx context.Context) (context.Context, uint64) {
	opCtx, cancel := context.WithCancel(ctx)
	w.opID++
	w.opCancel = cancel
	return opCtx, w.opID
}

func (w *Workflow) endOp(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.opID == id && w.opCancel != nil {
		w.opCancel()
		w.opCancel = nil
	}
}

// advance moves to next unless the workflow was reset since gen.
func (w *Workflow) advance(gen uint64, next State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != gen {
		return errDiscarded()
	}
	w.transitionLocked(next)
	return nil
}

func (w *Workflow) fail(gen uint64, stage Stage, err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen != gen {
		return errDiscarded()
	}
	w.log.Warnw("Workflow failed", "stage", stage, "error", err)
	w.transitionLocked(Failed{Stage: stage, Err: err})
	return err
}

func (w *Workflow) transitionLocked(next State) {
	from := w.state
	w.state = next
	w.metrics.transitions.WithLabelValues(label(from), label(next)).Inc()
	w.log.Debugw("Workflow transition", "from", label(from), "to", label(next))
	w.publishLocked(Event{
		Type:     EventTransition,
		From:     from.Name(),
		To:       next.Name(),
		Snapshot: snapshotOf(next),
		At:       time.Now().UTC(),
	})
}

func (w *Workflow) editorChanged(e *Editor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.state.(Editing)
	if !ok || st.Editor != e {
		return
	}
	w.publishLocked(Event{
		Type:     EventEditorChanged,
		To:       StateEditing,
		Snapshot: snapshotOf(st),
		At:       time.Now().UTC(),
	})
}

func (w *Workflow) publishLocked(ev Event) {
	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
			w.metrics.droppedEvents.Inc()
		}
	}
}

// surface wraps a backend error with a user-facing message, keeping its type.
func surface(err error, message string) error {
	errType := errors.TransportError
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		errType = appErr.Type
	}
	return errors.Wrap(err, errType, message)
}

func errDiscarded() error {
	return errors.NewConflictError("Workflow was reset", "the result of this operation was discarded")
}

func errConfirming() error {
	return errors.NewConflictError("Confirmation in progress", "wait for the current confirmation to finish")
}

func validateData(data types.ExtractedData) error {
	if err := valueobjects.ValidateAmount(data.TotalAmount); err != nil {
		return err
	}
	for _, it := range data.Items {
		if err := valueobjects.ValidateAmount(it.Amount); err != nil {
			return err
		}
	}
	return nil
}
