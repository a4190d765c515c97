package mimetree

import (
	"encoding/base64"
	"math/rand"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"google.golang.org/api/gmail/v1"
)

var nonTextTypes = []string{"application/pdf", "image/png", "text/html", "application/octet-stream"}

// randomTree builds a deterministic MIME tree from r. With allowText false no
// text/plain leaf carries data.
func randomTree(r *rand.Rand, depth int, allowText bool) *gmail.MessagePart {
	if depth <= 0 || r.Intn(3) == 0 {
		return randomLeaf(r, allowText)
	}

	part := &gmail.MessagePart{
		MimeType: []string{"multipart/mixed", "multipart/alternative", "multipart/related"}[r.Intn(3)],
		Body:     &gmail.MessagePartBody{},
	}
	children := 1 + r.Intn(4)
	for i := 0; i < children; i++ {
		part.Parts = append(part.Parts, randomTree(r, depth-1, allowText))
	}
	return part
}

func randomLeaf(r *rand.Rand, allowText bool) *gmail.MessagePart {
	content := make([]byte, r.Intn(40))
	for i := range content {
		content[i] = byte('a' + r.Intn(26))
	}

	leaf := &gmail.MessagePart{Body: &gmail.MessagePartBody{Size: int64(len(content))}}
	switch {
	case allowText && r.Intn(2) == 0:
		leaf.MimeType = MimeTypeTextPlain
		leaf.Body.Data = base64.URLEncoding.EncodeToString(content)
	default:
		leaf.MimeType = nonTextTypes[r.Intn(len(nonTextTypes))]
		if r.Intn(2) == 0 {
			leaf.Filename = "file.bin"
		}
		if r.Intn(2) == 0 {
			leaf.Body.AttachmentId = "att-" + string(rune('A'+r.Intn(26)))
		} else {
			leaf.Body.Data = base64.URLEncoding.EncodeToString(content)
		}
		if r.Intn(5) == 0 {
			leaf.Body = nil
		}
	}
	return leaf
}

// Property: text extraction is pure and idempotent
func TestProperty_ExtractTextIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("extract_text_twice_is_identical", prop.ForAll(
		func(seed int64) bool {
			tree := randomTree(rand.New(rand.NewSource(seed)), 4, true)
			snapshot := randomTree(rand.New(rand.NewSource(seed)), 4, true)

			first := ExtractText(tree)
			second := ExtractText(tree)
			return first == second && reflect.DeepEqual(tree, snapshot)
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// Property: trees without text/plain data extract to the empty string
func TestProperty_ExtractTextNonTextTree(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("non_text_tree_has_no_text", prop.ForAll(
		func(seed int64) bool {
			tree := &gmail.MessagePart{
				MimeType: "multipart/mixed",
				Parts:    []*gmail.MessagePart{randomTree(rand.New(rand.NewSource(seed)), 4, false)},
			}
			for _, c := range ExtractText(tree) {
				if c != '\n' {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.Property("single_leaf_decodes_exactly", prop.ForAll(
		func(content string) bool {
			leaf := &gmail.MessagePart{
				MimeType: MimeTypeTextPlain,
				Body:     &gmail.MessagePartBody{Data: base64.URLEncoding.EncodeToString([]byte(content))},
			}
			return ExtractText(leaf) == content
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// Property: collected attachments always have a filename and come from direct children with a body
func TestProperty_CollectAttachmentsRequiresFilenameAndBody(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("attachments_have_filename_and_body", prop.ForAll(
		func(seed int64) bool {
			tree := randomTree(rand.New(rand.NewSource(seed)), 3, true)
			attachments := CollectAttachments(tree)

			expected := 0
			for _, child := range tree.Parts {
				if child.Filename != "" && child.Body != nil {
					expected++
				}
			}
			if len(attachments) != expected {
				return false
			}
			for _, att := range attachments {
				if att.Filename == "" {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
