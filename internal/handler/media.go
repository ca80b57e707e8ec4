package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/flowchat/internal/attachment"
	"github.com/set-night/flowchat/internal/domain"
	tg "github.com/set-night/flowchat/internal/telegram"
)

// stageIncoming downloads any media carried by the message and stages it as
// attachment drafts. Returns false when the message should not proceed to a
// turn.
func (h *Handler) stageIncoming(ctx context.Context, b *bot.Bot, cs *chatState, msg *models.Message) bool {
	chatID := msg.Chat.ID

	var sources []attachment.Source
	if len(msg.Photo) > 0 {
		// Highest resolution variant
		photo := msg.Photo[len(msg.Photo)-1]
		src, ok := h.downloadSource(ctx, b, photo.FileID, "photo.jpg", "image/jpeg", int64(photo.FileSize))
		if !ok {
			return false
		}
		sources = append(sources, src)
	}
	if msg.Document != nil {
		src, ok := h.downloadSource(ctx, b, msg.Document.FileID, msg.Document.FileName, msg.Document.MimeType, int64(msg.Document.FileSize))
		if !ok {
			return false
		}
		sources = append(sources, src)
	}

	if len(sources) > 0 {
		if err := cs.session.StageFiles(ctx, sources); err != nil {
			if errors.Is(err, domain.ErrUploadRejected) {
				b.SendMessage(ctx, &bot.SendMessageParams{
					ChatID: chatID,
					Text:   "❌ This flow does not accept that file type or size.",
				})
			} else {
				slog.Error("stage files", "error", err, "chat_id", chatID)
			}
			return false
		}
	}

	// Voice notes bypass the drop rules: they go inline as audio.
	if msg.Voice != nil {
		mime := msg.Voice.MimeType
		if mime == "" {
			mime = "audio/ogg"
		}
		src, ok := h.downloadSource(ctx, b, msg.Voice.FileID, "voice.ogg", mime, int64(msg.Voice.FileSize))
		if !ok {
			return false
		}
		if err := cs.session.StageRecording(ctx, src); err != nil {
			slog.Error("stage recording", "error", err, "chat_id", chatID)
			return false
		}
	}

	return true
}

func (h *Handler) downloadSource(ctx context.Context, b *bot.Bot, fileID, name, mime string, size int64) (attachment.Source, bool) {
	data, _, err := tg.DownloadFile(ctx, b, fileID)
	if err != nil {
		slog.Error("download telegram file", "error", err, "file_id", fileID)
		return attachment.Source{}, false
	}
	return attachment.Source{
		Name: name,
		MIME: mime,
		Size: size,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}, true
}
