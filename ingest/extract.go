package ingest

import (
	"errors"
	"path"
	"strings"

	"filegate"
	"filegate/transport"
)

// ErrNoFile is returned when an event carries no extractable file metadata.
var ErrNoFile = errors.New("ingest: event has no file")

// ExtractMetadata builds a catalog record from a raw channel event. Events
// without a file name are not ingestible.
func ExtractMetadata(ev transport.RawEvent) (*filegate.CatalogRecord, error) {
	if ev.FileName == "" {
		return nil, ErrNoFile
	}
	if ev.ChannelID == 0 || ev.MessageID == 0 {
		return nil, errors.New("ingest: event missing channel or message id")
	}

	return &filegate.CatalogRecord{
		ChannelID:   ev.ChannelID,
		MessageID:   ev.MessageID,
		FileName:    ev.FileName,
		FileSize:    ev.FileSize,
		FileFormat:  fileFormat(ev),
		Date:        ev.Date,
		Fingerprint: filegate.RecordFingerprint(ev.ChannelID, ev.MessageID, ev.FileName),
	}, nil
}

// fileFormat prefers the transport-reported MIME type and falls back to the
// file extension.
func fileFormat(ev transport.RawEvent) string {
	if ev.MimeType != "" {
		return ev.MimeType
	}
	ext := strings.TrimPrefix(path.Ext(ev.FileName), ".")
	return strings.ToLower(ext)
}
