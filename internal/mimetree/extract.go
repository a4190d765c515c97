// Package mimetree walks Gmail MIME part trees. Everything here is pure:
// no network access and no mutation of the input tree.
package mimetree

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"net/mail"
	"regexp"
	"strings"

	"github.com/emersion/go-message/charset"
	"google.golang.org/api/gmail/v1"
)

// MimeTypeTextPlain is the only MIME type contributing to the message text
const MimeTypeTextPlain = "text/plain"

// Descriptor describes one attachment found among the root part's children
type Descriptor struct {
	AttachmentID string `json:"attachment_id"`
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	Data         string `json:"-"` // raw base64url payload, empty until resolved
}

var angleAddrPattern = regexp.MustCompile(`<([^<>\s]+)>`)

// DecodeBody decodes a transport-encoded body. Both the URL-safe and the standard
// alphabet are accepted, with or without padding.
func DecodeBody(data string) ([]byte, error) {
	normalized := strings.Map(func(r rune) rune {
		switch r {
		case '-':
			return '+'
		case '_':
			return '/'
		case '=', '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, data)
	return base64.RawStdEncoding.DecodeString(normalized)
}

// ExtractText returns the concatenated text/plain content of a part tree.
// An inline text/plain part yields its decoded body; a part with children yields
// each child's text joined by "\n"; anything else yields "".
func ExtractText(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}

	if part.MimeType == MimeTypeTextPlain && part.Body != nil && part.Body.Data != "" {
		raw, err := DecodeBody(part.Body.Data)
		if err != nil {
			return ""
		}
		return toUTF8(raw, partCharset(part))
	}

	if len(part.Parts) > 0 {
		texts := make([]string, len(part.Parts))
		for i, child := range part.Parts {
			texts[i] = ExtractText(child)
		}
		return strings.Join(texts, "\n")
	}

	return ""
}

// CollectAttachments lists the direct children of part that carry both a filename
// and a body. Deeper descendants are not visited.
func CollectAttachments(part *gmail.MessagePart) []Descriptor {
	if part == nil {
		return nil
	}

	var attachments []Descriptor
	for _, child := range part.Parts {
		if child == nil || child.Filename == "" || child.Body == nil {
			continue
		}
		attachments = append(attachments, Descriptor{
			AttachmentID: child.Body.AttachmentId,
			Filename:     child.Filename,
			MimeType:     child.MimeType,
			Size:         child.Body.Size,
			Data:         child.Body.Data,
		})
	}
	return attachments
}

// Header returns the first header value with the given name
func Header(part *gmail.MessagePart, name string) string {
	if part == nil {
		return ""
	}
	for _, h := range part.Headers {
		if h != nil && strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// HeaderMap flattens the part headers; repeated names are joined with ", "
func HeaderMap(part *gmail.MessagePart) map[string]string {
	headers := make(map[string]string)
	if part == nil {
		return headers
	}
	for _, h := range part.Headers {
		if h == nil {
			continue
		}
		if existing, ok := headers[h.Name]; ok {
			headers[h.Name] = existing + ", " + h.Value
			continue
		}
		headers[h.Name] = h.Value
	}
	return headers
}

// ParseAddress extracts the bare address from a header such as "Jane <jane@x.org>"
func ParseAddress(value string) string {
	if addr, err := mail.ParseAddress(value); err == nil {
		return addr.Address
	}
	if m := angleAddrPattern.FindStringSubmatch(value); m != nil {
		return m[1]
	}
	return strings.TrimSpace(value)
}

// partCharset returns the charset parameter of the part's Content-Type header
func partCharset(part *gmail.MessagePart) string {
	contentType := Header(part, "Content-Type")
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// toUTF8 converts raw text in the given charset to UTF-8; UTF-8 input is returned as is
func toUTF8(raw []byte, label string) string {
	switch strings.ToLower(label) {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return string(raw)
	}

	r, err := charset.Reader(label, bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	converted, err := io.ReadAll(r)
	if err != nil {
		return string(raw)
	}
	return string(converted)
}
