package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/clawbridge/internal/bus"
)

const (
	// defaultMediaMaxBytes is the Telegram Bot API download limit (20MB).
	defaultMediaMaxBytes int64 = 20 * 1024 * 1024

	downloadMaxRetries = 3
)

// resolveMedia downloads the attachments of a message and returns them as
// bus attachments. Failed downloads keep the file ID so the prompt can still
// mention the attachment.
func (c *Channel) resolveMedia(ctx context.Context, msg *telego.Message) []bus.Attachment {
	maxBytes := c.config.MediaMaxBytes
	if maxBytes == 0 {
		maxBytes = defaultMediaMaxBytes
	}

	var results []bus.Attachment

	add := func(kind, fileID string) {
		att := bus.Attachment{Type: kind, FileID: fileID}
		path, err := c.downloadMedia(ctx, fileID, maxBytes)
		if err != nil {
			slog.Warn("telegram media download failed", "type", kind, "file_id", fileID, "error", err)
		} else {
			att.LocalPath = path
		}
		results = append(results, att)
	}

	// photo: take the highest resolution (last element)
	if len(msg.Photo) > 0 {
		add("photo", msg.Photo[len(msg.Photo)-1].FileID)
	}
	if msg.Document != nil {
		add("document", msg.Document.FileID)
	}
	if msg.Audio != nil {
		add("audio", msg.Audio.FileID)
	}
	if msg.Voice != nil {
		add("voice", msg.Voice.FileID)
	}
	return results
}

// downloadMedia fetches a file by file_id with retries and saves it under
// the workspace downloads directory. Returns the local path.
func (c *Channel) downloadMedia(ctx context.Context, fileID string, maxBytes int64) (string, error) {
	var file *telego.File
	var err error

	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		file, err = c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		if attempt < downloadMaxRetries {
			slog.Debug("retrying file download", "file_id", fileID, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("get file info after %d attempts: %w", downloadMaxRetries, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file_id %s", fileID)
	}
	if int64(file.FileSize) > maxBytes {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", file.FileSize, maxBytes)
	}

	downloadURL := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.config.Token, file.FilePath)
	resp, err := http.Get(downloadURL)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	dir := filepath.Join(c.workspace, "downloads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create downloads dir: %w", err)
	}

	ext := filepath.Ext(file.FilePath)
	if ext == "" {
		ext = ".bin"
	}
	tmpFile, err := os.CreateTemp(dir, "tg_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}
	defer tmpFile.Close()

	written, err := io.Copy(tmpFile, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("save file: %w", err)
	}
	if written > maxBytes {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("file exceeds max size during download: %d bytes", written)
	}
	return tmpFile.Name(), nil
}
