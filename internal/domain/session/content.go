package session

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// PartKind discriminates multimodal content parts.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Kind     PartKind `json:"kind"`
	Text     string   `json:"text,omitempty"`
	Image    []byte   `json:"image,omitempty"`
	MimeType string   `json:"mimeType,omitempty"`
}

// Content is either plain text (Parts empty) or an ordered multimodal
// sequence.
type Content struct {
	Text  string        `json:"text,omitempty"`
	Parts []ContentPart `json:"parts,omitempty"`
}

// TextContent wraps plain text.
func TextContent(text string) Content {
	return Content{Text: text}
}

// IsMultimodal reports whether the content carries parts.
func (c Content) IsMultimodal() bool {
	return len(c.Parts) > 0
}

// PlainText returns the textual portion of the content.
func (c Content) PlainText() string {
	if !c.IsMultimodal() {
		return c.Text
	}
	var sb strings.Builder
	for _, part := range c.Parts {
		if part.Kind != PartText {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// AttachmentKind distinguishes images from other files.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is an inbound file carried alongside a message.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	Name     string         `json:"name,omitempty"`
	MimeType string         `json:"mimeType"`
	Data     []byte         `json:"data,omitempty"`
}

// IsImage reports whether the attachment should be sent to the model as an
// image part.
func (a Attachment) IsImage() bool {
	if a.Kind == AttachmentImage {
		return true
	}
	return a.Kind == "" && strings.HasPrefix(strings.ToLower(a.MimeType), "image/")
}

// Fingerprint returns a stable content hash used to dedupe persisted bytes.
func (a Attachment) Fingerprint() string {
	if len(a.Data) == 0 {
		return ""
	}
	sum := blake3.Sum256(a.Data)
	return hex.EncodeToString(sum[:16])
}

// BuildContent shapes job content. Image attachments with bytes turn the
// message into a text part followed by one image part per image, in order.
// Non-image attachments never change the shape.
func BuildContent(text string, attachments []Attachment) Content {
	var images []Attachment
	for _, att := range attachments {
		if att.IsImage() && len(att.Data) > 0 {
			images = append(images, att)
		}
	}
	if len(images) == 0 {
		return TextContent(text)
	}
	parts := make([]ContentPart, 0, len(images)+1)
	parts = append(parts, ContentPart{Kind: PartText, Text: text})
	for _, img := range images {
		data := make([]byte, len(img.Data))
		copy(data, img.Data)
		parts = append(parts, ContentPart{Kind: PartImage, Image: data, MimeType: img.MimeType})
	}
	return Content{Parts: parts}
}
