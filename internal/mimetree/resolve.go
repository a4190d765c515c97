package mimetree

import (
	"context"
	"fmt"
	"log"
)

// AttachmentFetcher loads attachment payloads that were not inlined in the message
type AttachmentFetcher interface {
	FetchAttachment(ctx context.Context, messageID, attachmentID string) (string, error)
}

// ExtractionError reports one attachment whose payload could not be fetched
type ExtractionError struct {
	Filename     string
	AttachmentID string
	Err          error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract attachment %s (%s): %v", e.Filename, e.AttachmentID, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ResolveAttachments fetches, one at a time, the payload of every descriptor that
// references an attachment id without inline data. A failed fetch leaves that
// descriptor's payload empty and is reported, never propagated.
func ResolveAttachments(ctx context.Context, messageID string, attachments []Descriptor, fetcher AttachmentFetcher) ([]Descriptor, []*ExtractionError) {
	resolved := make([]Descriptor, len(attachments))
	copy(resolved, attachments)

	var failures []*ExtractionError
	for i := range resolved {
		att := &resolved[i]
		if att.AttachmentID == "" || att.Data != "" {
			continue
		}

		data, err := fetcher.FetchAttachment(ctx, messageID, att.AttachmentID)
		if err != nil {
			extractionErr := &ExtractionError{
				Filename:     att.Filename,
				AttachmentID: att.AttachmentID,
				Err:          err,
			}
			log.Printf("[MimeTree] %v", extractionErr)
			failures = append(failures, extractionErr)
			continue
		}
		att.Data = data
	}

	return resolved, failures
}
