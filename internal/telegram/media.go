package telegram

import (
	"bytes"
	"context"
	"encoding/base64"
	"log"
	"strconv"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/chatpilot/gateway/internal/model"
)

// maxInlinePhoto caps the photo size downloaded and inlined as base64.
// Larger media stays reference-only.
const maxInlinePhoto = 1 << 20

// classifyMedia maps MTProto media onto the canonical message type plus
// normalized attachments/embeds.
func (c *Client) classifyMedia(ctx context.Context, media tg.MessageMediaClass) (model.MessageType, []model.Attachment, []model.Embed) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return model.MessageImage, nil, nil
		}
		att := model.Attachment{
			ID:          strconv.FormatInt(photo.ID, 10),
			ContentType: "image/jpeg",
		}
		if data, ok := c.downloadPhoto(ctx, photo); ok {
			att.Data = data
		}
		return model.MessageImage, []model.Attachment{att}, nil

	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return model.MessageFile, nil, nil
		}
		att := model.Attachment{
			ID:          strconv.FormatInt(doc.ID, 10),
			ContentType: doc.MimeType,
			Size:        doc.Size,
		}
		typ := model.MessageFile
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeFilename:
				att.FileName = a.FileName
			case *tg.DocumentAttributeAudio:
				if a.Voice {
					typ = model.MessageVoice
				} else {
					typ = model.MessageMedia
				}
			case *tg.DocumentAttributeVideo:
				typ = model.MessageMedia
			case *tg.DocumentAttributeSticker:
				typ = model.MessageSticker
			}
		}
		return typ, []model.Attachment{att}, nil

	case *tg.MessageMediaWebPage:
		wp, ok := m.Webpage.(*tg.WebPage)
		if !ok {
			return model.MessageWebpage, nil, nil
		}
		return model.MessageWebpage, nil, []model.Embed{{
			Title:       wp.Title,
			Description: wp.Description,
			URL:         wp.URL,
		}}

	case *tg.MessageMediaPoll:
		return model.MessagePoll, nil, nil
	}
	return model.MessageMedia, nil, nil
}

// downloadPhoto fetches a small thumbnail rendition and returns it base64
// encoded. Failures degrade to reference-only attachments.
func (c *Client) downloadPhoto(ctx context.Context, photo *tg.Photo) (string, bool) {
	api := c.apiClient()
	if api == nil {
		return "", false
	}

	size := pickPhotoSize(photo.Sizes)
	if size == nil || size.Size > maxInlinePhoto {
		return "", false
	}

	loc := &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     size.Type,
	}

	var buf bytes.Buffer
	if _, err := downloader.NewDownloader().Download(api, loc).Stream(ctx, &buf); err != nil {
		log.Printf("[Telegram] Download photo %d: %v", photo.ID, err)
		return "", false
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), true
}

// pickPhotoSize prefers the medium thumbnail, falling back to the first
// concrete size.
func pickPhotoSize(sizes []tg.PhotoSizeClass) *tg.PhotoSize {
	var first *tg.PhotoSize
	for _, s := range sizes {
		ps, ok := s.(*tg.PhotoSize)
		if !ok {
			continue
		}
		if ps.Type == "m" {
			return ps
		}
		if first == nil {
			first = ps
		}
	}
	return first
}
