package model

import (
	"path/filepath"
	"strings"
	"time"
)

// DocumentStatus is the lifecycle state of an uploaded artifact.
type DocumentStatus string

const (
	// StatusPending is set at creation and held until processing settles.
	StatusPending DocumentStatus = "pending"
	// StatusReady means the guardrail accepted the text and normalization ran.
	StatusReady DocumentStatus = "ready"
	// StatusRejected covers guardrail blocks, extraction failures and unsupported types.
	StatusRejected DocumentStatus = "rejected"
	// StatusDiscarded is only reached by explicit deletion.
	StatusDiscarded DocumentStatus = "discarded"
)

// DocumentSource is the channel an artifact arrived through.
type DocumentSource string

const (
	// SourceUpload is a direct upload.
	SourceUpload DocumentSource = "upload"
	// SourceChat is an attachment sent in a conversation.
	SourceChat DocumentSource = "chat"
	// SourceMailbox is a forwarded email or attachment.
	SourceMailbox DocumentSource = "mailbox"
)

// ValidDocumentSource reports whether s names a known source.
func ValidDocumentSource(s DocumentSource) bool {
	switch s {
	case SourceUpload, SourceChat, SourceMailbox:
		return true
	}
	return false
}

// Document is one uploaded artifact.
type Document struct {
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ID              string
	OwnerID         string
	Source          DocumentSource
	Filename        string
	MimeType        string
	Status          DocumentStatus
	StoragePath     string
	ContentHash     string
	RedactedText    string
	RejectionReason string
	ImportRunID     string
	PIITypes        []string
	ExpectedSize    int64
}

// IsTerminal reports whether processing of the document has settled.
func (d *Document) IsTerminal() bool {
	return d.Status != StatusPending
}

// Format returns the routing family of the document.
func (d *Document) Format() Format {
	return DetectFormat(d.MimeType, d.Filename)
}

// RequiresText reports whether the document must carry extracted text once ready.
func (d *Document) RequiresText() bool {
	f := d.Format()
	return f == FormatImage || f == FormatPDF
}

// Format is the routing family derived from MIME type and extension.
type Format string

// Formats.
const (
	FormatImage       Format = "image"
	FormatPDF         Format = "pdf"
	FormatCSV         Format = "csv"
	FormatOFX         Format = "ofx"
	FormatText        Format = "text"
	FormatUnsupported Format = "unsupported"
)

// IsTabular reports whether the format goes through the tabular branch.
func (f Format) IsTabular() bool {
	return f == FormatCSV || f == FormatOFX
}

// DetectFormat routes by MIME type first and falls back to the extension.
func DetectFormat(mimeType, filename string) Format {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return FormatImage
	case mt == "application/pdf":
		return FormatPDF
	case mt == "text/csv", mt == "application/csv", mt == "application/vnd.ms-excel":
		return FormatCSV
	case mt == "application/x-ofx", mt == "application/ofx", mt == "application/vnd.intu.qfx", mt == "application/x-qfx":
		return FormatOFX
	case mt == "text/plain", mt == "message/rfc822":
		return FormatText
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".heic", ".tif", ".tiff", ".bmp":
		return FormatImage
	case ".pdf":
		return FormatPDF
	case ".csv":
		return FormatCSV
	case ".ofx", ".qfx":
		return FormatOFX
	case ".txt", ".eml":
		return FormatText
	}
	return FormatUnsupported
}

// Extension returns the lowercase file extension without the dot, defaulting
// to one derived from the format.
func Extension(mimeType, filename string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."); ext != "" {
		return ext
	}
	switch DetectFormat(mimeType, filename) {
	case FormatImage:
		if sub := strings.TrimPrefix(strings.ToLower(mimeType), "image/"); sub != "" && !strings.ContainsAny(sub, "/;") {
			return sub
		}
		return "img"
	case FormatPDF:
		return "pdf"
	case FormatCSV:
		return "csv"
	case FormatOFX:
		return "ofx"
	case FormatText:
		return "txt"
	}
	return "bin"
}

// AuditRecord is a guardrail or lifecycle audit entry. It holds a one-way
// hash of the input and never the text itself.
type AuditRecord struct {
	CreatedAt  time.Time
	OwnerID    string
	DocumentID string
	Stage      string
	Action     string
	InputHash  string
	Verdict    string
	Reasons    []string
	PIITypes   []string
	ID         int64
}
