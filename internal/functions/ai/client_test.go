package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nalgeon/be"
)

// chatServer answers every chat completion with the given assistant message
// and records the decoded request bodies.
func chatServer(t *testing.T, message map[string]any) (*Client, *[]map[string]any) {
	t.Helper()
	var requests []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		be.Equal(t, r.URL.Path, "/chat/completions")
		be.Equal(t, r.Header.Get("Authorization"), "Bearer test-key")

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		requests = append(requests, body)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   body["model"],
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       message,
			}},
		})
	}))
	t.Cleanup(srv.Close)

	client := NewClient(Settings{BaseURL: srv.URL, APIKey: "test-key"})
	return client, &requests
}

func TestNotConfigured(t *testing.T) {
	client := NewClient(Settings{})
	be.Equal(t, client.IsConfigured(), false)

	_, err := client.Summarize(context.Background(), EmailContext{Subject: "x"})
	be.True(t, errors.Is(err, ErrNotConfigured))

	_, err = client.Step(context.Background(), nil, nil)
	be.True(t, errors.Is(err, ErrNotConfigured))
}

func TestSummarize(t *testing.T) {
	client, requests := chatServer(t, map[string]any{
		"role":    "assistant",
		"content": "  The sender asks you to fill out the attached permit form.  ",
	})

	summary, err := client.Summarize(context.Background(), EmailContext{
		Subject:     "Re: Permit Form",
		Body:        "Please fill out the attached form",
		Attachments: []AttachmentRef{{Filename: "permit.pdf", AttachmentID: "a1"}},
	})
	be.Err(t, err, nil)
	be.Equal(t, summary, "The sender asks you to fill out the attached permit form.")

	be.Equal(t, len(*requests), 1)
	req := (*requests)[0]
	be.Equal(t, req["model"], DefaultModel)
	messages := req["messages"].([]any)
	user := messages[1].(map[string]any)
	be.Equal(t, user["role"], "user")
	content := user["content"].(string)
	be.True(t, strings.Contains(content, "Email subject: Re: Permit Form"))
	be.True(t, strings.Contains(content, "permit.pdf (ID: a1)"))
}

func TestStepReturnsToolCalls(t *testing.T) {
	client, requests := chatServer(t, map[string]any{
		"role":    "assistant",
		"content": "",
		"tool_calls": []map[string]any{{
			"id":   "call_1",
			"type": "function",
			"function": map[string]any{
				"name":      "fillOutForm",
				"arguments": `{"attachmentId":"a1","formFields":["name"]}`,
			},
		}},
	})

	conversation := append(ActionConversation(EmailContext{Subject: "Re: Permit Form"}),
		Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Name: "fillOutForm", Arguments: "{}"}}},
		Message{Role: RoleTool, ToolCallID: "call_0", Content: "Attachment not found or not a PDF"},
	)
	tools := []Tool{{
		Name:        "fillOutForm",
		Description: "Fill out a form based on an email attachment",
		Parameters:  map[string]any{"type": "object"},
	}}

	turn, err := client.Step(context.Background(), conversation, tools)
	be.Err(t, err, nil)
	be.Equal(t, len(turn.ToolCalls), 1)
	be.Equal(t, turn.ToolCalls[0].ID, "call_1")
	be.Equal(t, turn.ToolCalls[0].Name, "fillOutForm")

	req := (*requests)[0]
	be.Equal(t, len(req["tools"].([]any)), 1)
	messages := req["messages"].([]any)
	be.Equal(t, len(messages), 4)
	be.Equal(t, messages[3].(map[string]any)["tool_call_id"], "call_0")
}

func TestMapFields(t *testing.T) {
	client, requests := chatServer(t, map[string]any{
		"role":    "assistant",
		"content": `{"mappings":{"name":"name","addr":"address"}}`,
	})

	maxLen := 10
	mappings, err := client.MapFields(context.Background(),
		map[string]string{"name": "Alexandria", "address": "1 Main St"},
		[]FieldInfo{{Name: "name", MaxLength: &maxLen}, {Name: "addr"}})
	be.Err(t, err, nil)
	be.Equal(t, mappings, map[string]string{"name": "name", "addr": "address"})

	req := (*requests)[0]
	be.Equal(t, req["model"], DefaultMappingModel)
	format := req["response_format"].(map[string]any)
	be.Equal(t, format["type"], "json_object")
}

func TestMapFieldsRejectsMissingMappings(t *testing.T) {
	client, _ := chatServer(t, map[string]any{"role": "assistant", "content": `{"other":1}`})

	_, err := client.MapFields(context.Background(), map[string]string{}, nil)
	be.True(t, errors.Is(err, ErrInvalidResponse))
}

func TestMergeProfileFlattensValues(t *testing.T) {
	client, _ := chatServer(t, map[string]any{
		"role":    "assistant",
		"content": `{"name":"Alexandria","age":34,"pets":["cat"]}`,
	})

	merged, err := client.MergeProfile(context.Background(), map[string]string{"name": "Alex"}, "I am 34 and have a cat")
	be.Err(t, err, nil)
	be.Equal(t, merged, map[string]string{"name": "Alexandria", "age": "34", "pets": `["cat"]`})
}
