package workflow

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/roundup-invest/receipt-review/errors"
	"github.com/roundup-invest/receipt-review/logger"
	"github.com/roundup-invest/receipt-review/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.IsTest = true
	os.Exit(m.Run())
}

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Upload(ctx context.Context, filename, contentType string, body io.Reader) (types.Receipt, error) {
	args := m.Called(ctx, filename, contentType, body)
	return args.Get(0).(types.Receipt), args.Error(1)
}

func (m *mockClient) Process(ctx context.Context, receiptID string, req *types.ProcessRequest) (*types.ProcessResponse, error) {
	args := m.Called(ctx, receiptID, req)
	resp, _ := args.Get(0).(*types.ProcessResponse)
	return resp, args.Error(1)
}

func (m *mockClient) Allocate(ctx context.Context, receiptID string) (*types.AllocationPreview, error) {
	args := m.Called(ctx, receiptID)
	preview, _ := args.Get(0).(*types.AllocationPreview)
	return preview, args.Error(1)
}

func (m *mockClient) SearchTicker(ctx context.Context, query string) ([]types.TickerSuggestion, error) {
	args := m.Called(ctx, query)
	s, _ := args.Get(0).([]types.TickerSuggestion)
	return s, args.Error(1)
}

func (m *mockClient) CreateTransaction(ctx context.Context, req *types.CreateTransactionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockClient) SubmitToLearning(ctx context.Context, req *types.LearningSubmission) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

type recordingLearning struct {
	mu          sync.Mutex
	submissions []types.LearningSubmission
}

func (r *recordingLearning) Submit(s types.LearningSubmission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions = append(r.submissions, s)
}

func (r *recordingLearning) Submissions() []types.LearningSubmission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.LearningSubmission(nil), r.submissions...)
}

var testReceipt = types.Receipt{ID: "r-1", Filename: "receipt.png"}

func hpPreview() *types.AllocationPreview {
	return &types.AllocationPreview{
		TotalRoundUp: decimal.RequireFromString("0.01"),
		Allocations: []types.Allocation{
			{StockSymbol: "HPQ", StockName: "HP Inc.", Amount: decimal.RequireFromString("0.01"), Percentage: 100, Confidence: 0.92, Reason: "Item brand"},
		},
	}
}

func hpExtraction() *types.ExtractedData {
	return &types.ExtractedData{
		Items:       []types.Item{{Name: "HP ENVY", Amount: decimal.RequireFromString("49.99")}},
		TotalAmount: decimal.RequireFromString("49.99"),
	}
}

func plainProcess() interface{} {
	return mock.MatchedBy(func(req *types.ProcessRequest) bool { return req.Override == nil })
}

func overrideProcess() interface{} {
	return mock.MatchedBy(func(req *types.ProcessRequest) bool { return req.Override != nil })
}

func newTestWorkflow(t *testing.T, client *mockClient, opts Options) (*Workflow, *prometheus.Registry) {
	t.Helper()
	reg := resetWorkflowMetricsForTesting()
	opts.Client = client
	if opts.Learning == nil {
		opts.Learning = &recordingLearning{}
	}
	opts.Search = testSearchOptions()
	wf := New(opts)
	t.Cleanup(wf.Close)
	return wf, reg
}

// completedWorkflow runs the happy path up to Completed.
func completedWorkflow(t *testing.T, client *mockClient, opts Options) (*Workflow, *prometheus.Registry) {
	t.Helper()
	wf, reg := newTestWorkflow(t, client, opts)
	client.On("Upload", mock.Anything, "receipt.png", "image/png", mock.Anything).Return(testReceipt, nil).Once()
	client.On("Process", mock.Anything, "r-1", plainProcess()).Return(&types.ProcessResponse{Data: hpExtraction()}, nil).Once()
	client.On("Allocate", mock.Anything, "r-1").Return(hpPreview(), nil).Once()

	require.NoError(t, wf.Upload(context.Background(), "receipt.png", bytes.NewReader(pngBytes)))
	require.IsType(t, Completed{}, wf.State())
	return wf, reg
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestUpload_RejectsBadFileWithoutNetworkCall(t *testing.T) {
	client := new(mockClient)
	wf, _ := newTestWorkflow(t, client, Options{})

	err := wf.Upload(context.Background(), "receipt.gif", strings.NewReader("GIF89a"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ValidationError))
	assert.Equal(t, Idle{}, wf.State())

	err = wf.Upload(context.Background(), "receipt.png", strings.NewReader("not an image"))
	require.Error(t, err)
	assert.Equal(t, Idle{}, wf.State())

	client.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpload_HappyPath(t *testing.T) {
	client := new(mockClient)
	wf, reg := newTestWorkflow(t, client, Options{})
	events, unsubscribe := wf.Subscribe()
	defer unsubscribe()

	client.On("Upload", mock.Anything, "receipt.png", "image/png", mock.Anything).Return(testReceipt, nil).Once()
	client.On("Process", mock.Anything, "r-1", plainProcess()).Return(&types.ProcessResponse{Data: hpExtraction()}, nil).Once()
	client.On("Allocate", mock.Anything, "r-1").Return(hpPreview(), nil).Once()

	require.NoError(t, wf.Upload(context.Background(), "receipt.png", bytes.NewReader(pngBytes)))

	st, ok := wf.State().(Completed)
	require.True(t, ok)
	assert.Equal(t, testReceipt, st.Receipt)
	assert.Nil(t, st.Data.Retailer)
	assert.Equal(t, "HPQ", st.Preview.Allocations[0].StockSymbol)
	require.NotNil(t, wf.Preview())

	var path []string
	for _, ev := range drain(events) {
		path = append(path, string(ev.To)+":"+string(ev.Snapshot.Phase))
	}
	assert.Equal(t, []string{"uploading:", "processing:extracting", "processing:analyzing", "completed:"}, path)

	snap := wf.Snapshot()
	assert.Equal(t, StateCompleted, snap.State)
	assert.Equal(t, "0.01", snap.RoundUp)
	assert.False(t, snap.NeedsReview)

	assert.Equal(t, 1.0, counterValue(t, reg, "receipt_workflow_transitions_total", map[string]string{"from": "idle", "to": "uploading"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "receipt_workflow_transitions_total", map[string]string{"from": "processing:analyzing", "to": "completed"}))
	client.AssertExpectations(t)
}

func TestUpload_PartialExtractionProceeds(t *testing.T) {
	tests := []struct {
		name string
		data *types.ExtractedData
	}{
		{"retailer only", &types.ExtractedData{Retailer: &types.Brand{Name: "Target"}}},
		{"items only", &types.ExtractedData{Items: []types.Item{{Name: "Milk", Amount: decimal.RequireFromString("3.49")}}}},
		{"total only", &types.ExtractedData{TotalAmount: decimal.RequireFromString("12.50")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(mockClient)
			wf, _ := newTestWorkflow(t, client, Options{})
			client.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(testReceipt, nil)
			client.On("Process", mock.Anything, "r-1", plainProcess()).Return(&types.ProcessResponse{Data: tt.data, NeedsManualEntry: true}, nil)
			client.On("Allocate", mock.Anything, "r-1").Return(&types.AllocationPreview{Allocations: []types.Allocation{}}, nil)

			require.NoError(t, wf.Upload(context.Background(), "receipt.png", bytes.NewReader(pngBytes)))
			assert.Equal(t, StateCompleted, wf.State().Name())
		})
	}
}

func TestUpload_NothingUsableRoutesToManualEntry(t *testing.T) {
	client := new(mockClient)
	wf, _ := newTestWorkflow(t, client, Options{})
	client.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(testReceipt, nil)
	client.On("Process", mock.Anything, "r-1", plainProcess()).Return(&types.ProcessResponse{Data: &types.ExtractedData{}, NeedsManualEntry: true}, nil)

	require.NoError(t, wf.Upload(context.Background(), "receipt.png", bytes.NewReader(pngBytes)))

	st, ok := wf.State().(ManualEntry)
	require.True(t, ok)
	assert.Equal(t, "r-1", st.Receipt.ID)
	assert.False(t, st.Draft.IsUsable())
	client.AssertNotCalled(t, "Allocate", mock.Anything, mock.Anything)
}

func TestUpload_NothingUsableWithoutSignalProceeds(t *testing.T) {
	client := new(mockClient)
	wf, _ := newTestWorkflow(t, client, Options{})
	client.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(testReceipt, nil)
	client.On("Process", mock.Anything, "r-1", plainProcess()).Return(&types.ProcessResponse{Data: &types.ExtractedData{}}, nil)
	client.On("Allocate", mock.Anything, "r-1").Return(&types.AllocationPreview{Allocations: []types.Allocation{}}, nil)

	require.NoError(t, wf.Upload(context.Background(), "receipt.png", bytes.NewReader(pngBytes)))
	assert.Equal(t, StateCompleted, wf.State().Name())
	assert.True(t, wf.Preview().IsEmpty())
}

func TestUpload_FailuresByStage(t *testing.T) {
	backendErr := errors.Transport("upload", 500, stderrors.New("boom"))

	t.Run("upload", func(t *testing.T) {
		client := new(mockClient)
		wf, _ := newTestWorkflow(t, client, Options{})
		client.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(types.Receipt{}, backendErr)

		err := wf.Upload(context.Background(), "receipt.png", bytes.NewReader(pngBytes))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.TransportError))
		st, ok := wf.State().(Failed)
		require.True(t, ok)
		assert.Equal(t, StageUpload, st.Stage)
		assert.Equal(t, "Upload failed", wf.Snapshot().Error.Message)
	})

	t.Run("extraction", func(t *testing.T) {
		client := new(mockClient)
		wf, _ := newTestWorkflow(t, client, Options{})
		client.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(testReceipt, nil)
		client.On("Process", mock.Anything, "r-1", plainProcess()).Return(nil, errors.InvalidResponse("process", "bad json")).Once()

		err := wf.Upload(context.Background(), "receipt.png", bytes.NewReader(pngBytes))
		assert.True(t, errors.IsType(err, errors.InvalidResponseError))
		assert.Equal(t, StageExtraction, wf.State().(Failed).Stage)

		// A failed workflow accepts a new upload.
		client.On("Process", mock.Anything, "r-1", plainProcess()).Return(&types.ProcessResponse{Data: hpExtraction()}, nil).Once()
		client.On("Allocate", mock.Anything, "r-1").Return(hpPreview(), nil)
		require.NoError(t, wf.Upload(context.Background(), "receipt.png", bytes.NewReader(pngBytes)))
		assert.Equal(t, StateCompleted, wf.State().Name())
	})

	t.Run("allocation", func(t *testing.T) {
		client := new(mockClient)
		wf, _ := newTestWorkflow(t, client, Options{})
		client.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(testReceipt, nil)
		client.On("Process", mock.Anything, "r-1", plainProcess()).Return(&types.ProcessResponse{Data: hpExtraction()}, nil)
		client.On("Allocate", mock.Anything, "r-1").Return(nil, errors.InvalidResponse("allocate", "allocations is not an array"))

		err := wf.Upload(context.Background(), "receipt.png", bytes.NewReader(pngBytes))
		require.Error(t, err)
		assert.Equal(t, StageAllocation, wf.State().(Failed).Stage)
	})
}

func TestSubmitManualEntry(t *testing.T) {
	client := new(mockClient)
	wf, _ := newTestWorkflow(t, client, Options{})
	client.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(testReceipt, nil)
	client.On("Process", mock.Anything, "r-1", plainProcess()).Return(&types.ProcessResponse{NeedsManualEntry: true}, nil)
	require.NoError(t, wf.Upload(context.Background(), "receipt.png", bytes.NewReader(pngBytes)))
	require.Equal(t, StateManualEntry, wf.State().Name())

	err := wf.SubmitManualEntry(context.Background(), types.ExtractedData{})
	assert.True(t, errors.IsType(err, errors.ValidationError))
	assert.Equal(t, StateManualEntry, wf.State().Name())

	entry := types.ExtractedData{
		Retailer:    &types.Brand{Name: "Target"},
		TotalAmount: decimal.RequireFromString("23.40"),
	}

	client.On("Process", mock.Anything, "r-1", overrideProcess()).Return(&types.ProcessResponse{Data: &entry}, nil)
	client.On("Allocate", mock.Anything, "r-1").Return(nil, errors.Transport("allocate", 503, nil)).Once()
	err = wf.SubmitManualEntry(context.Background(), entry)
	require.Error(t, err)
	st, ok := wf.State().(ManualEntry)
	require.True(t, ok, "failed submission returns to manual entry")
	assert.Equal(t, "Target", st.Draft.Retailer.Name)

	client.On("Allocate", mock.Anything, "r-1").Return(hpPreview(), nil).Once()
	require.NoError(t, wf.SubmitManualEntry(context.Background(), entry))
	completed, ok := wf.State().(Completed)
	require.True(t, ok)
	assert.Equal(t, "Target", completed.Data.Retailer.Name)
	assert.Equal(t, "0.6", wf.Snapshot().RoundUp)
}

func TestReallocate_Idempotent(t *testing.T) {
	client := new(mockClient)
	wf, _ := completedWorkflow(t, client, Options{})
	before := wf.State().(Completed)

	client.On("Allocate", mock.Anything, "r-1").Return(hpPreview(), nil).Twice()
	require.NoError(t, wf.Reallocate(context.Background()))
	first := wf.State().(Completed)
	require.NoError(t, wf.Reallocate(context.Background()))
	second := wf.State().(Completed)

	assert.Equal(t, first.Preview, second.Preview)
	assert.Equal(t, before.Data, second.Data)
	client.AssertNumberOfCalls(t, "Process", 1)
}

func TestReallocate_FailureKeepsPreview(t *testing.T) {
	client := new(mockClient)
	wf, _ := completedWorkflow(t, client, Options{})
	client.On("Allocate", mock.Anything, "r-1").Return(nil, errors.Transport("allocate", 500, nil)).Once()

	err := wf.Reallocate(context.Background())
	require.Error(t, err)
	st, ok := wf.State().(Completed)
	require.True(t, ok)
	assert.Equal(t, "HPQ", st.Preview.Allocations[0].StockSymbol)
}

func TestEditing_InvalidatesPreview(t *testing.T) {
	client := new(mockClient)
	wf, _ := completedWorkflow(t, client, Options{})

	editor, err := wf.BeginEdit()
	require.NoError(t, err)
	assert.NotNil(t, wf.Preview(), "preview stays visible until the first edit")

	require.NoError(t, editor.SetItemAmount(0, decimal.RequireFromString("45.00")))
	assert.Nil(t, wf.Preview())
	snap := wf.Snapshot()
	assert.Equal(t, StateEditing, snap.State)
	assert.True(t, snap.PreviewStale)
	assert.Nil(t, snap.Preview)

	require.NoError(t, wf.CancelEdit())
	st := wf.State().(Completed)
	assert.Equal(t, "49.99", st.Data.Items[0].Amount.StringFixed(2))
	assert.NotNil(t, wf.Preview())

	// The cancelled editor is closed.
	err = editor.SetItemAmount(0, decimal.RequireFromString("1.00"))
	assert.True(t, errors.IsType(err, errors.InvalidTransitionError))
}

func TestSaveEdits_FailureReturnsToEditing(t *testing.T) {
	client := new(mockClient)
	wf, _ := completedWorkflow(t, client, Options{})
	editor, err := wf.BeginEdit()
	require.NoError(t, err)
	require.NoError(t, editor.SetItemAmount(0, decimal.RequireFromString("45.00")))

	client.On("Process", mock.Anything, "r-1", overrideProcess()).Return(nil, errors.Transport("process", 500, nil)).Once()
	err = wf.SaveEdits(context.Background())
	require.Error(t, err)

	st, ok := wf.State().(Editing)
	require.True(t, ok)
	assert.Same(t, editor, st.Editor)
	assert.Equal(t, "45", editor.Data().Items[0].Amount.String())
	require.NoError(t, editor.SetItemAmount(0, decimal.RequireFromString("44.00")), "editor is editable again")
}

func TestSaveEdits_IncludesPendingAutoAccept(t *testing.T) {
	client := new(mockClient)
	wf, _ := completedWorkflow(t, client, Options{})
	editor, err := wf.BeginEdit()
	require.NoError(t, err)

	client.On("SearchTicker", mock.Anything, "HP ENVY 13").
		Return([]types.TickerSuggestion{{Ticker: "HPQ", CompanyName: "HP Inc.", Confidence: 0.92}}, nil).
		After(40 * time.Millisecond).Once()
	withHPBrand := mock.MatchedBy(func(req *types.ProcessRequest) bool {
		return req.Override != nil && len(req.Override.Items) == 1 &&
			req.Override.Items[0].Brand.HasTicker() && req.Override.Items[0].Brand.StockSymbol == "HPQ"
	})
	client.On("Process", mock.Anything, "r-1", withHPBrand).Return(&types.ProcessResponse{}, nil).Once()
	client.On("Allocate", mock.Anything, "r-1").Return(hpPreview(), nil).Once()

	// Saved before the debounced search has even started.
	require.NoError(t, editor.SetItemName(0, "HP ENVY 13"))
	require.NoError(t, wf.SaveEdits(context.Background()))

	st, ok := wf.State().(Completed)
	require.True(t, ok)
	require.NotNil(t, st.Data.Items[0].Brand)
	assert.Equal(t, types.Brand{Name: "HP Inc.", StockSymbol: "HPQ"}, *st.Data.Items[0].Brand)
	client.AssertExpectations(t)
}

func TestSaveEdits_CancelledWhileWaitingForSearch(t *testing.T) {
	client := new(mockClient)
	wf, _ := completedWorkflow(t, client, Options{})
	editor, err := wf.BeginEdit()
	require.NoError(t, err)

	client.On("SearchTicker", mock.Anything, "HP ENVY 13").
		Return([]types.TickerSuggestion(nil), nil).After(200 * time.Millisecond).Once()
	require.NoError(t, editor.SetItemName(0, "HP ENVY 13"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = wf.SaveEdits(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	st, ok := wf.State().(Editing)
	require.True(t, ok)
	assert.Same(t, editor, st.Editor)
	client.AssertNotCalled(t, "Process", mock.Anything, "r-1", overrideProcess())
	require.NoError(t, editor.SetItemAmount(0, decimal.RequireFromString("44.00")), "editor is editable again")
}

func TestConfirm_SubmitsCorrectionsAndCallsBackOnce(t *testing.T) {
	client := new(mockClient)
	learning := &recordingLearning{}
	var mu sync.Mutex
	var callbacks []types.TransactionResult
	wf, reg := completedWorkflow(t, client, Options{
		Learning: learning,
		OnTransactionProcessed: func(r types.TransactionResult) {
			mu.Lock()
			callbacks = append(callbacks, r)
			mu.Unlock()
		},
	})

	editor, err := wf.BeginEdit()
	require.NoError(t, err)
	_, err = editor.AddItem()
	require.NoError(t, err)
	require.NoError(t, editor.SetItemAmount(1, decimal.RequireFromString("5.00")))

	client.On("Process", mock.Anything, "r-1", overrideProcess()).Return(&types.ProcessResponse{}, nil).Once()
	client.On("Allocate", mock.Anything, "r-1").Return(hpPreview(), nil).Once()
	require.NoError(t, wf.SaveEdits(context.Background()))
	require.Equal(t, StateCompleted, wf.State().Name())

	client.On("CreateTransaction", mock.Anything, mock.MatchedBy(func(req *types.CreateTransactionRequest) bool {
		return req.ReceiptID == "r-1" && len(req.ReceiptData.Items) == 2
	})).Return("T123", nil).Once()

	result, err := wf.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T123", result.TransactionID)
	assert.Equal(t, Idle{}, wf.State())

	mu.Lock()
	require.Len(t, callbacks, 1)
	assert.Equal(t, "T123", callbacks[0].TransactionID)
	mu.Unlock()

	subs := learning.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "T123", subs[0].TransactionID)
	require.NotNil(t, subs[0].Corrections)
	require.Len(t, subs[0].Corrections.Items, 2)
	assert.True(t, subs[0].Corrections.Items[0].IsEmpty())
	require.NotNil(t, subs[0].Corrections.Items[1].Amount)
	assert.Nil(t, subs[0].Corrections.Items[1].Amount.Before)

	assert.Equal(t, 1.0, counterValue(t, reg, "receipt_workflow_confirmations_total", map[string]string{"outcome": "success"}))
}

func TestConfirm_LearningFailureIsIgnored(t *testing.T) {
	client := new(mockClient)
	calls := 0
	resetWorkflowMetricsForTesting()
	wf := New(Options{
		Client:                 client,
		Search:                 testSearchOptions(),
		OnTransactionProcessed: func(types.TransactionResult) { calls++ },
	})
	t.Cleanup(wf.Close)

	client.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(testReceipt, nil)
	client.On("Process", mock.Anything, "r-1", plainProcess()).Return(&types.ProcessResponse{Data: hpExtraction()}, nil)
	client.On("Allocate", mock.Anything, "r-1").Return(hpPreview(), nil)
	client.On("CreateTransaction", mock.Anything, mock.Anything).Return("T123", nil).Once()

	learned := make(chan struct{})
	client.On("SubmitToLearning", mock.Anything, mock.MatchedBy(func(s *types.LearningSubmission) bool {
		return s.TransactionID == "T123" && s.Corrections.IsEmpty()
	})).Run(func(mock.Arguments) { close(learned) }).Return(stderrors.New("learning endpoint down")).Once()

	require.NoError(t, wf.Upload(context.Background(), "receipt.png", bytes.NewReader(pngBytes)))
	result, err := wf.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T123", result.TransactionID)

	select {
	case <-learned:
	case <-time.After(2 * time.Second):
		t.Fatal("learning submission was not attempted")
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, Idle{}, wf.State())
}

func TestConfirm_FailureStaysOnReview(t *testing.T) {
	client := new(mockClient)
	learning := &recordingLearning{}
	called := false
	wf, reg := completedWorkflow(t, client, Options{
		Learning:               learning,
		OnTransactionProcessed: func(types.TransactionResult) { called = true },
	})
	before := wf.State().(Completed)

	client.On("CreateTransaction", mock.Anything, mock.Anything).Return("", errors.Transport("create-transaction", 500, nil)).Once()
	result, err := wf.Confirm(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, before, wf.State())
	assert.False(t, called)
	assert.Empty(t, learning.Submissions())
	assert.Equal(t, 1.0, counterValue(t, reg, "receipt_workflow_confirmations_total", map[string]string{"outcome": "error"}))

	// Retry succeeds with the same data.
	client.On("CreateTransaction", mock.Anything, mock.Anything).Return("T124", nil).Once()
	result, err = wf.Confirm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T124", result.TransactionID)
	assert.True(t, called)
}

func TestReset_DiscardsInFlightResult(t *testing.T) {
	client := new(mockClient)
	wf, _ := newTestWorkflow(t, client, Options{})

	release := make(chan struct{})
	client.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(testReceipt, nil)

	done := make(chan error, 1)
	go func() {
		done <- wf.Upload(context.Background(), "receipt.png", bytes.NewReader(pngBytes))
	}()

	assert.Eventually(t, func() bool {
		return wf.State().Name() == StateUploading
	}, time.Second, 5*time.Millisecond)

	wf.Reset()
	assert.Equal(t, Idle{}, wf.State())
	close(release)

	err := <-done
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ConflictError))
	assert.Equal(t, Idle{}, wf.State())
	client.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything)
}

func TestInvalidTransitions(t *testing.T) {
	client := new(mockClient)
	wf, _ := newTestWorkflow(t, client, Options{})
	ctx := context.Background()

	assertInvalid := func(err error) {
		t.Helper()
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.InvalidTransitionError), err.Error())
	}

	assertInvalid(wf.Reallocate(ctx))
	_, err := wf.BeginEdit()
	assertInvalid(err)
	assertInvalid(wf.SaveEdits(ctx))
	assertInvalid(wf.CancelEdit())
	_, err = wf.Confirm(ctx)
	assertInvalid(err)
	assertInvalid(wf.SubmitManualEntry(ctx, *hpExtraction()))
	assert.Equal(t, Idle{}, wf.State())

	wf2, _ := completedWorkflow(t, new(mockClient), Options{})
	assertInvalid(wf2.Upload(ctx, "receipt.png", bytes.NewReader(pngBytes)))
	assert.Equal(t, StateCompleted, wf2.State().Name())
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	client := new(mockClient)
	wf, _ := completedWorkflow(t, client, Options{})
	events, unsubscribe := wf.Subscribe()

	editor, err := wf.BeginEdit()
	require.NoError(t, err)
	require.NoError(t, editor.SetTotal(decimal.RequireFromString("50.00")))

	got := drain(events)
	require.Len(t, got, 2)
	assert.Equal(t, EventTransition, got[0].Type)
	assert.Equal(t, StateCompleted, got[0].From)
	assert.Equal(t, StateEditing, got[0].To)
	assert.Equal(t, EventEditorChanged, got[1].Type)
	assert.True(t, got[1].Snapshot.PreviewStale)

	unsubscribe()
	unsubscribe()
	_, open := <-events
	assert.False(t, open)
}
