package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/omnidesk/inboxd/internal/contacts"
	"github.com/omnidesk/inboxd/internal/conversation"
	"github.com/omnidesk/inboxd/internal/drafts"
	"github.com/omnidesk/inboxd/internal/gateway"
	"github.com/omnidesk/inboxd/internal/send"
	"github.com/omnidesk/inboxd/internal/session"
	"github.com/omnidesk/inboxd/internal/store"
	"github.com/omnidesk/inboxd/internal/typing"
	"github.com/omnidesk/inboxd/internal/views"
	"github.com/omnidesk/inboxd/internal/visitors"
)

// InboxHandler exposes the conversation cache and the inbox operations to
// the local UI.
type InboxHandler struct {
	cache      *store.Store
	session    *session.Service
	pipeline   *send.Pipeline
	contacts   *contacts.Service
	typing     *typing.Service
	visitors   *visitors.Service
	draftStore *drafts.Store
	logger     *slog.Logger
}

// NewInboxHandler creates the inbox handler.
func NewInboxHandler(log *slog.Logger, cache *store.Store, sess *session.Service, pipeline *send.Pipeline, contactSvc *contacts.Service, typingSvc *typing.Service, visitorSvc *visitors.Service, draftStore *drafts.Store) *InboxHandler {
	if log == nil {
		log = slog.Default()
	}
	return &InboxHandler{
		cache:      cache,
		session:    sess,
		pipeline:   pipeline,
		contacts:   contactSvc,
		typing:     typingSvc,
		visitors:   visitorSvc,
		draftStore: draftStore,
		logger:     log.With(slog.String("handler", "inbox")),
	}
}

// Register mounts the inbox routes on the Echo instance.
func (h *InboxHandler) Register(e *echo.Echo) {
	group := e.Group("/inbox")
	group.GET("/conversations", h.ListConversations)
	group.GET("/conversations/counts", h.Counts)
	group.POST("/conversations", h.StartConversation)
	group.GET("/conversations/:id/messages", h.ListMessages)
	group.POST("/conversations/:id/messages", h.SendMessage)
	group.PATCH("/conversations/:id", h.UpdateContact)
	group.POST("/conversations/:id/select", h.Select)
	group.POST("/conversations/:id/accept", h.Accept)
	group.POST("/conversations/:id/solve", h.Solve)
	group.DELETE("/conversations/:id", h.Delete)
	group.POST("/typing", h.Typing)
	group.GET("/drafts/:conversation_id", h.ListDrafts)
	group.DELETE("/drafts/:id", h.DeleteDraft)
	group.GET("/visitors", h.ListVisitors)
}

// ListConversations returns the cached conversation list filtered by the
// view and search query parameters. An empty view means open.
func (h *InboxHandler) ListConversations(c echo.Context) error {
	view, err := views.Parse(c.QueryParam("view"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	list := views.Filter(h.cache.Conversations(), view, h.session.AgentID())
	list = views.Search(list, c.QueryParam("q"))
	return c.JSON(http.StatusOK, list)
}

// Counts returns the badge number for every view.
func (h *InboxHandler) Counts(c echo.Context) error {
	counts := views.Counts(h.cache.Conversations(), h.session.AgentID(), h.visitors.ActiveWithPending)
	return c.JSON(http.StatusOK, counts)
}

// ListMessages returns the cached transcript of one conversation.
func (h *InboxHandler) ListMessages(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	if _, ok := h.cache.Get(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return c.JSON(http.StatusOK, h.cache.Messages(id))
}

type sendMessageRequest struct {
	Text           string `json:"text" form:"text"`
	IsInternalNote bool   `json:"isInternalNote" form:"isInternalNote"`
}

// SendMessage runs an optimistic send and returns the provisional message.
// Attachments arrive as a multipart form with files under "files[]".
func (h *InboxHandler) SendMessage(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	attachments, err := formAttachments(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	provisional, err := h.pipeline.Send(c.Request().Context(), send.Input{
		ConversationID: id,
		Text:           req.Text,
		Attachments:    attachments,
		IsInternalNote: req.IsInternalNote,
	})
	if err != nil {
		return inboxError(err)
	}
	if !req.IsInternalNote {
		h.typing.Stop(id)
	}
	return c.JSON(http.StatusAccepted, provisional)
}

type startConversationRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	FromNumber  string `json:"fromNumber"`
	Text        string `json:"text"`
}

// StartConversation creates a new conversation with its first message.
func (h *InboxHandler) StartConversation(c echo.Context) error {
	var req startConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.pipeline.Start(c.Request().Context(), send.StartInput{
		PhoneNumber: req.PhoneNumber,
		FromNumber:  req.FromNumber,
		Text:        req.Text,
	})
	if err != nil {
		return inboxError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

type updateContactRequest struct {
	DisplayName  *string `json:"displayName"`
	Email        *string `json:"email"`
	JobTitle     *string `json:"jobTitle"`
	Organization *string `json:"organization"`
}

// UpdateContact edits the contact profile attached to a conversation.
func (h *InboxHandler) UpdateContact(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	var req updateContactRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.contacts.Update(c.Request().Context(), id, contacts.Edit{
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		JobTitle:     req.JobTitle,
		Organization: req.Organization,
	})
	if err != nil {
		return inboxError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

// Select makes the conversation current: unread resets, the transcript
// refetches, and live-chat preview polling moves over.
func (h *InboxHandler) Select(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if err := h.session.Select(c.Request().Context(), id); err != nil {
		return inboxError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Accept takes a waiting live chat.
func (h *InboxHandler) Accept(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	if err := h.session.Accept(c.Request().Context(), id); err != nil {
		return inboxError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Solve marks an active conversation solved.
func (h *InboxHandler) Solve(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	if err := h.session.Solve(c.Request().Context(), id); err != nil {
		return inboxError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete permanently removes a conversation. Requires ?confirm=true.
func (h *InboxHandler) Delete(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	confirm := strings.EqualFold(strings.TrimSpace(c.QueryParam("confirm")), "true")
	if err := h.session.Delete(c.Request().Context(), id, confirm); err != nil {
		return inboxError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type typingRequest struct {
	ConversationID string `json:"conversationId"`
	State          string `json:"state"`
	IsInternalNote bool   `json:"isInternalNote"`
}

// Typing forwards composer activity: state "composing" on keystrokes,
// "stopped" when the composer empties or loses focus.
func (h *InboxHandler) Typing(c echo.Context) error {
	var req typingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	switch req.State {
	case "composing":
		h.typing.Composing(req.ConversationID, req.IsInternalNote)
	case "stopped":
		h.typing.Stop(req.ConversationID)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "state must be composing or stopped")
	}
	return c.NoContent(http.StatusNoContent)
}

// ListDrafts returns the failed drafts preserved for one conversation.
func (h *InboxHandler) ListDrafts(c echo.Context) error {
	id := strings.TrimSpace(c.Param("conversation_id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}
	list, err := h.draftStore.ListByConversation(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

// DeleteDraft discards one preserved draft.
func (h *InboxHandler) DeleteDraft(c echo.Context) error {
	id, err := parseDraftID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid draft id")
	}
	if err := h.draftStore.Delete(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ListVisitors returns the current live-visitor snapshot.
func (h *InboxHandler) ListVisitors(c echo.Context) error {
	return c.JSON(http.StatusOK, h.visitors.Snapshot())
}

// formAttachments reads multipart files under "files[]" into memory.
func formAttachments(c echo.Context) ([]gateway.Attachment, error) {
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if !strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	attachments := make([]gateway.Attachment, 0, len(files))
	for _, fh := range files {
		data, err := readFormFile(fh)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, gateway.Attachment{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return attachments, nil
}

func parseDraftID(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// inboxError maps domain errors onto HTTP status codes.
func inboxError(err error) error {
	switch {
	case errors.Is(err, send.ErrUnknownConversation),
		errors.Is(err, session.ErrUnknownConversation),
		errors.Is(err, contacts.ErrUnknownConversation):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, send.ErrEmptyMessage),
		errors.Is(err, send.ErrMissingRecipient),
		errors.Is(err, contacts.ErrEmptyEdit),
		errors.Is(err, contacts.ErrInvalidEmail),
		errors.Is(err, session.ErrConfirmRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrTransitionInFlight),
		errors.Is(err, conversation.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}
