package model

import (
	"strings"
	"time"
)

// Sender 消息发送方
type Sender string

const (
	SenderMe       Sender = "me"
	SenderStranger Sender = "stranger"
)

// FileKind is the media class of an attachment.
type FileKind string

const (
	FileImage FileKind = "image"
	FileVideo FileKind = "video"
)

// TimestampLayout is the display format of Message.Timestamp.
const TimestampLayout = "15:04"

// File 附件
type File struct {
	URL  string   `json:"url"`
	Kind FileKind `json:"type"`
	Name string   `json:"name"`
}

// Message 消息模型。Text 与 File 二选一。
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text,omitempty"`
	File      *File     `json:"file,omitempty"`
	Sender    Sender    `json:"sender"`
	Timestamp string    `json:"timestamp"`
	SentAt    time.Time `json:"sent_at"`
}

// Attachment is a file the user picked for upload.
type Attachment struct {
	Name     string `json:"name" binding:"required"`
	MIMEType string `json:"mime_type" binding:"required"`
	URL      string `json:"url"`
}

// Kind classifies the attachment by its MIME type. ok is false for anything
// other than image/* or video/*.
func (a Attachment) Kind() (kind FileKind, ok bool) {
	mime := strings.ToLower(strings.TrimSpace(a.MIMEType))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return FileImage, true
	case strings.HasPrefix(mime, "video/"):
		return FileVideo, true
	default:
		return "", false
	}
}

// Filters 匹配过滤条件，空值表示不限。
type Filters struct {
	Gender   Gender   `json:"gender"`
	Interest Interest `json:"interest"`
	Location string   `json:"location"`
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.Gender == "" && f.Interest == "" && strings.TrimSpace(f.Location) == ""
}
