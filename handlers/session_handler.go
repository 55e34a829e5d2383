package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/roundup-invest/receipt-review/errors"
	"github.com/roundup-invest/receipt-review/internal/suggest"
	"github.com/roundup-invest/receipt-review/internal/workflow"
	"github.com/roundup-invest/receipt-review/middleware"
	"github.com/roundup-invest/receipt-review/pkg/valueobjects"
	"github.com/roundup-invest/receipt-review/services"
	"github.com/roundup-invest/receipt-review/types"
)

// multipartOverhead is the slack allowed above the file limit for the
// multipart envelope.
const multipartOverhead = 1 << 20

// SessionStore defines the session operations used by SessionHandler.
type SessionStore interface {
	Create(token string) (*services.Session, error)
	Get(id, token string) (*services.Session, error)
	Delete(id string) error
}

// compile-time check: *services.SessionService satisfies SessionStore
var _ SessionStore = (*services.SessionService)(nil)

type SessionHandler struct {
	sessions       SessionStore
	maxUploadBytes int64
}

func NewSessionHandler(sessions SessionStore, maxUploadBytes int64) *SessionHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = workflow.DefaultMaxUploadBytes
	}
	return &SessionHandler{
		sessions:       sessions,
		maxUploadBytes: maxUploadBytes,
	}
}

// SessionResponse is returned by every operation that changes a session.
type SessionResponse struct {
	SessionID string            `json:"sessionId"`
	Snapshot  workflow.Snapshot `json:"snapshot"`
}

// EditRequest applies one field edit in the editor.
type EditRequest struct {
	Field string `json:"field" binding:"required"`
	Item  int    `json:"item"`
	Value string `json:"value"`
}

// Field names accepted by EditRequest.
const (
	EditRetailerName   = "retailer"
	EditRetailerTicker = "retailer_ticker"
	EditTotal          = "total"
	EditAddItem        = "add_item"
	EditRemoveItem     = "remove_item"
	EditItemName       = "item_name"
	EditItemAmount     = "item_amount"
	EditItemBrand      = "item_brand"
	EditItemTicker     = "item_ticker"
)

// SelectRequest picks a suggestion from the open list.
type SelectRequest struct {
	Field suggest.Field `json:"field" binding:"required"`
	Item  int           `json:"item"`
	Index int           `json:"index"`
}

// session resolves the :id session with the caller's token.
func (h *SessionHandler) session(c *gin.Context) (*services.Session, bool) {
	session, err := h.sessions.Get(c.Param("id"), middleware.GetToken(c))
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}
	return session, true
}

func respond(c *gin.Context, status int, session *services.Session) {
	c.JSON(status, SessionResponse{
		SessionID: session.ID,
		Snapshot:  session.Workflow.Snapshot(),
	})
}

// bindJSONOrError binds the JSON body and records a validation error on failure.
func bindJSONOrError(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		_ = c.Error(apperrors.ValidationFailed("Invalid request payload", err.Error()))
		return false
	}
	return true
}

// CreateSessionHandler opens a review session for the caller.
func (h *SessionHandler) CreateSessionHandler(c *gin.Context) {
	session, err := h.sessions.Create(middleware.GetToken(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	respond(c, http.StatusCreated, session)
}

// GetSessionHandler returns the current snapshot.
func (h *SessionHandler) GetSessionHandler(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	respond(c, http.StatusOK, session)
}

// DeleteSessionHandler discards the session and cancels any in-flight work.
func (h *SessionHandler) DeleteSessionHandler(c *gin.Context) {
	if _, ok := h.session(c); !ok {
		return
	}
	if err := h.sessions.Delete(c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadReceiptHandler accepts a multipart "file" and runs upload,
// extraction and allocation.
func (h *SessionHandler) UploadReceiptHandler(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	header, err := c.FormFile("file")
	if err != nil {
		_ = c.Error(apperrors.ValidationFailed("A receipt file is required", err.Error()))
		return
	}
	file, err := header.Open()
	if err != nil {
		_ = c.Error(apperrors.ValidationFailed("Could not read the uploaded file", err.Error()))
		return
	}
	defer file.Close()

	if err := session.Workflow.Upload(c.Request.Context(), header.Filename, file); err != nil {
		_ = c.Error(err)
		return
	}
	respond(c, http.StatusOK, session)
}

// ManualEntryHandler submits user-entered receipt data.
func (h *SessionHandler) ManualEntryHandler(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var data types.ExtractedData
	if !bindJSONOrError(c, &data) {
		return
	}
	if err := session.Workflow.SubmitManualEntry(c.Request.Context(), data); err != nil {
		_ = c.Error(err)
		return
	}
	respond(c, http.StatusOK, session)
}

// ReallocateHandler requests a fresh allocation preview.
func (h *SessionHandler) ReallocateHandler(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := session.Workflow.Reallocate(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	respond(c, http.StatusOK, session)
}

// BeginEditHandler opens the editor on the reviewed data.
func (h *SessionHandler) BeginEditHandler(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if _, err := session.Workflow.BeginEdit(); err != nil {
		_ = c.Error(err)
		return
	}
	respond(c, http.StatusOK, session)
}

func editorOf(c *gin.Context, session *services.Session) (*workflow.Editor, bool) {
	editor, ok := session.Workflow.Editor()
	if !ok {
		_ = c.Error(apperrors.InvalidTransition(string(session.Workflow.State().Name()), "edit"))
		return nil, false
	}
	return editor, true
}

// EditFieldHandler applies one field edit.
func (h *SessionHandler) EditFieldHandler(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req EditRequest
	if !bindJSONOrError(c, &req) {
		return
	}
	editor, ok := editorOf(c, session)
	if !ok {
		return
	}

	if err := applyEdit(editor, req); err != nil {
		_ = c.Error(err)
		return
	}
	respond(c, http.StatusOK, session)
}

func applyEdit(editor *workflow.Editor, req EditRequest) error {
	switch req.Field {
	case EditRetailerName:
		return editor.SetRetailerName(req.Value)
	case EditRetailerTicker:
		return editor.SetRetailerTicker(req.Value)
	case EditTotal:
		amount, err := valueobjects.ParseAmount(req.Value)
		if err != nil {
			return err
		}
		return editor.SetTotal(amount)
	case EditAddItem:
		_, err := editor.AddItem()
		return err
	case EditRemoveItem:
		return editor.RemoveItem(req.Item)
	case EditItemName:
		return editor.SetItemName(req.Item, req.Value)
	case EditItemAmount:
		amount, err := valueobjects.ParseAmount(req.Value)
		if err != nil {
			return err
		}
		return editor.SetItemAmount(req.Item, amount)
	case EditItemBrand:
		return editor.SetItemBrandName(req.Item, req.Value)
	case EditItemTicker:
		return editor.SetItemBrandTicker(req.Item, req.Value)
	default:
		return apperrors.ValidationFailed("Unknown edit field", req.Field)
	}
}

// SuggestionsHandler returns the open suggestion list, or null.
func (h *SessionHandler) SuggestionsHandler(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	editor, ok := editorOf(c, session)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": editor.Suggestions()})
}

// SelectSuggestionHandler applies a suggestion from the open list.
func (h *SessionHandler) SelectSuggestionHandler(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	var req SelectRequest
	if !bindJSONOrError(c, &req) {
		return
	}
	editor, ok := editorOf(c, session)
	if !ok {
		return
	}

	key := suggest.FieldKey{Item: req.Item, Field: req.Field}
	if req.Field == suggest.FieldRetailer {
		key = suggest.RetailerKey()
	}
	if err := editor.SelectSuggestion(key, req.Index); err != nil {
		_ = c.Error(err)
		return
	}
	respond(c, http.StatusOK, session)
}

// SaveEditsHandler re-allocates with the edited data.
func (h *SessionHandler) SaveEditsHandler(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := session.Workflow.SaveEdits(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	respond(c, http.StatusOK, session)
}

// CancelEditHandler discards edits.
func (h *SessionHandler) CancelEditHandler(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	if err := session.Workflow.CancelEdit(); err != nil {
		_ = c.Error(err)
		return
	}
	respond(c, http.StatusOK, session)
}

// ConfirmHandler creates the transaction.
func (h *SessionHandler) ConfirmHandler(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	result, err := session.Workflow.Confirm(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":     session.ID,
		"transactionId": result.TransactionID,
		"snapshot":      session.Workflow.Snapshot(),
	})
}

// ResetHandler returns the session to idle.
func (h *SessionHandler) ResetHandler(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	session.Workflow.Reset()
	respond(c, http.StatusOK, session)
}

// CorrectionsHandler returns the diff between the extraction result and
// the data under review, or null before extraction completes.
func (h *SessionHandler) CorrectionsHandler(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"corrections": session.Workflow.Corrections()})
}
