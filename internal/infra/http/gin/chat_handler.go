package ginserver

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"

	gin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatly/internal/app/dto"
	"chatly/internal/app/services/chats"
	"chatly/internal/app/services/messages"
	domainchat "chatly/internal/domain/chat"
	"chatly/internal/infra/storage/s3"
)

// ChatHTTP exposes chat endpoints.
type ChatHTTP interface {
	CreateChat(c *gin.Context)
	ListChats(c *gin.Context)
	SendMessage(c *gin.Context)
	ListMessages(c *gin.Context)
}

// ChatHandler bridges HTTP with the chat and message services.
type ChatHandler struct {
	Chats    *chats.Service
	Messages *messages.Service
	Uploads  s3.Uploader
	Logger   *slog.Logger
}

// CreateChat is the idempotent get-or-create of the chat between the caller
// and the other user. 201 on first contact, 200 when the chat already exists.
func (h ChatHandler) CreateChat(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	var req struct {
		OtherUserID string `json:"otherUserId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.OtherUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "otherUserId is required"})
		return
	}

	chat, created, err := h.Chats.CreateOrGet(c.Request.Context(), p.ID, req.OtherUserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"chatId": chat.ID})
}

// ListChats returns the caller's chats with unseen counts and the other
// participant's directory profile.
func (h ChatHandler) ListChats(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	rows, err := h.Chats.ListForUser(c.Request.Context(), p.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	list := dto.ChatList{Chats: make([]dto.ChatListItem, 0, len(rows))}
	for _, row := range rows {
		list.Chats = append(list.Chats, dto.ChatListItem{
			User: row.User,
			Chat: dto.NewChatSummary(row.Chat, row.UnseenCount),
		})
	}
	c.JSON(http.StatusOK, list)
}

// SendMessage accepts JSON `{chatId, text}` or a multipart form with an
// optional image part. The image is uploaded to object storage before the
// message enters the delivery pipeline.
func (h ChatHandler) SendMessage(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	chatID, text, file, err := h.parseSendRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required"})
		return
	}

	params := messages.SendParams{SenderID: p.ID, ChatID: chatID, Text: text}
	if file != nil {
		image, err := h.uploadImage(c, file)
		if err != nil {
			h.Logger.Error("attachment upload failed", "chat_id", chatID, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
			return
		}
		params.Image = image
	}

	msg, err := h.Messages.Send(c.Request.Context(), params)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": dto.NewMessage(msg), "sender": p.ID})
}

// ListMessages opens the chat: returns the ordered history and marks unseen
// messages addressed to the caller as seen.
func (h ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	chatID := c.Param("chatId")
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required"})
		return
	}
	result, err := h.Messages.OpenChat(c.Request.Context(), p.ID, chatID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ChatHistory{
		Messages: dto.NewMessages(result.Messages),
		User:     result.OtherUser,
	})
}

func (h ChatHandler) parseSendRequest(c *gin.Context) (chatID, text string, file *multipart.FileHeader, err error) {
	contentType := c.ContentType()
	if contentType == "multipart/form-data" {
		chatID = c.PostForm("chatId")
		text = c.PostForm("text")
		file, err = c.FormFile("image")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return chatID, text, nil, nil
			}
			return "", "", nil, fmt.Errorf("invalid image part: %w", err)
		}
		return chatID, text, file, nil
	}

	var req struct {
		ChatID string `json:"chatId"`
		Text   string `json:"text"`
	}
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		return "", "", nil, fmt.Errorf("invalid request body: %w", bindErr)
	}
	return req.ChatID, req.Text, nil, nil
}

func (h ChatHandler) uploadImage(c *gin.Context, file *multipart.FileHeader) (*domainchat.Image, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	key := fmt.Sprintf("chat/%s%s", uuid.NewString(), filepath.Ext(file.Filename))
	url, err := h.Uploads.Upload(c.Request.Context(), key, src, file.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	return &domainchat.Image{URL: url, PublicID: key}, nil
}

func (h ChatHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domainchat.ErrEmptyMessage),
		errors.Is(err, domainchat.ErrUserRequired),
		errors.Is(err, domainchat.ErrSelfChat):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domainchat.ErrNotFound), errors.Is(err, domainchat.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domainchat.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
	case errors.Is(err, domainchat.ErrNoOtherParticipant):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.Logger.Error("request failed", "error", err, "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
