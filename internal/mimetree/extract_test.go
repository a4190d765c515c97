package mimetree

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/nalgeon/be"
	"google.golang.org/api/gmail/v1"
)

func textPart(s string) *gmail.MessagePart {
	return &gmail.MessagePart{
		MimeType: MimeTypeTextPlain,
		Body:     &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte(s))},
	}
}

func TestExtractTextJoinsChildren(t *testing.T) {
	root := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					textPart("Please fill out the attached form"),
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("<p>x</p>"))}},
				},
			},
			{MimeType: "application/pdf", Filename: "permit.pdf", Body: &gmail.MessagePartBody{AttachmentId: "a1"}},
		},
	}

	be.Equal(t, ExtractText(root), "Please fill out the attached form\n\n")
}

func TestExtractTextIgnoresTextPlainWithoutData(t *testing.T) {
	part := &gmail.MessagePart{MimeType: MimeTypeTextPlain, Body: &gmail.MessagePartBody{AttachmentId: "big"}}
	be.Equal(t, ExtractText(part), "")
	be.Equal(t, ExtractText(nil), "")
}

func TestExtractTextConvertsCharset(t *testing.T) {
	part := &gmail.MessagePart{
		MimeType: MimeTypeTextPlain,
		Headers:  []*gmail.MessagePartHeader{{Name: "Content-Type", Value: `text/plain; charset="iso-8859-1"`}},
		Body:     &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte("caf\xe9"))},
	}
	be.Equal(t, ExtractText(part), "café")
}

func TestDecodeBodyAcceptsBothAlphabets(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0xfe, 'o', 'k'}
	for _, encoded := range []string{
		base64.URLEncoding.EncodeToString(raw),
		base64.RawURLEncoding.EncodeToString(raw),
		base64.StdEncoding.EncodeToString(raw),
	} {
		got, err := DecodeBody(encoded)
		be.Err(t, err, nil)
		be.Equal(t, got, raw)
	}
}

func TestCollectAttachmentsScansDirectChildrenOnly(t *testing.T) {
	root := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			textPart("body"),
			{MimeType: "application/pdf", Filename: "form.pdf", Body: &gmail.MessagePartBody{AttachmentId: "a1", Size: 1024}},
			{MimeType: "image/png", Filename: "no-body.png"},
			{
				MimeType: "multipart/related",
				Body:     &gmail.MessagePartBody{},
				Parts: []*gmail.MessagePart{
					{MimeType: "image/png", Filename: "nested.png", Body: &gmail.MessagePartBody{AttachmentId: "a2"}},
				},
			},
		},
	}

	attachments := CollectAttachments(root)
	be.Equal(t, len(attachments), 1)
	be.Equal(t, attachments[0].Filename, "form.pdf")
	be.Equal(t, attachments[0].AttachmentID, "a1")
	be.Equal(t, attachments[0].Size, int64(1024))
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Alex <alex@example.com>", "alex@example.com"},
		{"alex@example.com", "alex@example.com"},
		{"a@x.org, Bee <b@x.org>", "b@x.org"},
		{"  undisclosed  ", "undisclosed"},
	}

	for _, tt := range tests {
		be.Equal(t, ParseAddress(tt.input), tt.expected)
	}
}

type fakeAttachmentFetcher struct {
	data  map[string]string
	calls []string
}

func (f *fakeAttachmentFetcher) FetchAttachment(ctx context.Context, messageID, attachmentID string) (string, error) {
	f.calls = append(f.calls, attachmentID)
	if data, ok := f.data[attachmentID]; ok {
		return data, nil
	}
	return "", errors.New("404 not found")
}

func TestResolveAttachmentsContinuesAfterFailure(t *testing.T) {
	fetcher := &fakeAttachmentFetcher{data: map[string]string{"ok": "cGRm"}}
	input := []Descriptor{
		{AttachmentID: "missing", Filename: "a.pdf"},
		{AttachmentID: "ok", Filename: "b.pdf"},
		{AttachmentID: "inline", Filename: "c.txt", Data: "aGk="},
	}

	resolved, failures := ResolveAttachments(context.Background(), "m1", input, fetcher)

	be.Equal(t, fetcher.calls, []string{"missing", "ok"})
	be.Equal(t, len(failures), 1)
	be.Equal(t, failures[0].Filename, "a.pdf")
	be.Equal(t, resolved[0].Data, "")
	be.Equal(t, resolved[1].Data, "cGRm")
	be.Equal(t, resolved[2].Data, "aGk=")
	be.Equal(t, input[1].Data, "")
}
