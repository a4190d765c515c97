package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

var (
	// ErrNotConfigured indicates the AI client is not configured
	ErrNotConfigured = errors.New("AI client not configured")
	// ErrAPICallFailed indicates the AI API call failed
	ErrAPICallFailed = errors.New("AI API call failed")
	// ErrInvalidResponse indicates an invalid response from the AI API
	ErrInvalidResponse = errors.New("invalid AI API response")
)

const (
	// DefaultBaseURL is Groq's OpenAI-compatible endpoint
	DefaultBaseURL = "https://api.groq.com/openai/v1/"
	// DefaultModel handles summaries and tool selection
	DefaultModel = "llama-3.1-70b-versatile"
	// DefaultMappingModel handles structured field mapping and profile merges
	DefaultMappingModel = "llama-3.1-8b-instant"

	// maxBodyChars bounds the email body sent in a prompt
	maxBodyChars = 12000
)

// Settings configures a Client
type Settings struct {
	BaseURL      string
	APIKey       string
	Model        string
	MappingModel string
	Timeout      time.Duration
}

// Client talks to an OpenAI-compatible chat completion API
type Client struct {
	api          openai.Client
	model        string
	mappingModel string
	configured   bool
}

// NewClient creates a new AI Client instance
func NewClient(s Settings) *Client {
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(s.BaseURL, "/") {
		s.BaseURL += "/"
	}
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.MappingModel == "" {
		s.MappingModel = DefaultMappingModel
	}
	if s.Timeout == 0 {
		s.Timeout = 60 * time.Second
	}

	return &Client{
		api: openai.NewClient(
			option.WithBaseURL(s.BaseURL),
			option.WithAPIKey(s.APIKey),
			option.WithRequestTimeout(s.Timeout),
			option.WithMaxRetries(0),
		),
		model:        s.Model,
		mappingModel: s.MappingModel,
		configured:   s.APIKey != "",
	}
}

// IsConfigured returns whether the client has credentials
func (c *Client) IsConfigured() bool {
	return c != nil && c.configured
}

// Role is the author of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a tool-calling conversation
type Message struct {
	Role       Role
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is a function invocation requested by the model
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool describes a function the model may call
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Turn is the model's answer for one step of the conversation
type Turn struct {
	Text      string
	ToolCalls []ToolCall
}

// AttachmentRef names an attachment in a prompt
type AttachmentRef struct {
	Filename     string
	AttachmentID string
}

// EmailContext is the email content shared by the summary and action prompts
type EmailContext struct {
	Subject     string
	Body        string
	Attachments []AttachmentRef
}

// FieldInfo describes one form field offered for mapping
type FieldInfo struct {
	Name      string `json:"name"`
	MaxLength *int   `json:"maxLength,omitempty"`
}

const summarySystemPrompt = `You are an email summarizer. Your task is to provide a concise summary of the email content in 1-2 sentences.
Focus on the main points, key information, and especially any action points or required responses in the email.`

const actionSystemPrompt = `You are an email assistant that decides which action to take based on the email content.
If the email content contains a form, or contains a file that references a form or needing to fill it out, use the fillOutForm tool.
If no specific action is needed or if there's no valid tool to call, strictly return a brief description of why no action is needed.
Never use web search or the internet.`

const mappingSystemPrompt = "You are an expert at mapping user data to form fields. Always answer with a JSON object."

const mergeSystemPrompt = "You are an expert at updating user data based on new context. Always answer with a JSON object."

// Summarize asks the model for a 1-2 sentence summary of the email
func (c *Client) Summarize(ctx context.Context, email EmailContext) (string, error) {
	prompt := fmt.Sprintf("%s\nPlease provide a concise summary of this email in 1-2 sentences, highlighting any action points or required responses.",
		email.prompt())

	response, err := c.complete(ctx, c.model, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(summarySystemPrompt),
		openai.UserMessage(prompt),
	}, false)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(response), nil
}

// ActionConversation returns the opening messages of the action tool loop
func ActionConversation(email EmailContext) []Message {
	return []Message{
		{Role: RoleSystem, Content: actionSystemPrompt},
		{Role: RoleUser, Content: email.prompt() + `
From this email, determine which action to take.
If the email doesn't need any specific action or if there's no valid tool to call, provide a brief explanation of why no action is needed.`},
	}
}

// Step runs one model turn of a tool-calling conversation
func (c *Client) Step(ctx context.Context, conversation []Message, tools []Tool) (*Turn, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toParams(conversation),
		Temperature: openai.Float(0.2),
	}
	for _, tool := range tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  openai.FunctionParameters(tool.Parameters),
			},
		})
	}

	completion, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}
	if len(completion.Choices) == 0 {
		return nil, ErrInvalidResponse
	}

	msg := completion.Choices[0].Message
	turn := &Turn{Text: msg.Content}
	for _, call := range msg.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return turn, nil
}

// MapFields asks the model which profile key fills each form field.
// The result maps form field names to keys of userData.
func (c *Client) MapFields(ctx context.Context, userData map[string]string, fields []FieldInfo) (map[string]string, error) {
	dataJSON, err := json.Marshal(map[string]any{"userData": userData})
	if err != nil {
		return nil, err
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`Given the following user data and form fields, create a mapping of form field names to user data properties.
Use the most appropriate user data for each form field.

This is the user data you are supposed to map: %s

These are the form fields you are supposed to map to, including their maximum lengths where applicable:
%s

Return a JSON object of the form {"mappings": {"<form field name>": "<user data property>"}}.
Take into account the maximum length constraints when suggesting mappings.`, dataJSON, fieldsJSON)

	response, err := c.complete(ctx, c.mappingModel, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(mappingSystemPrompt),
		openai.UserMessage(prompt),
	}, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		Mappings map[string]string `json:"mappings"`
	}
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if result.Mappings == nil {
		return nil, fmt.Errorf("%w: failed to generate field mappings", ErrInvalidResponse)
	}

	return result.Mappings, nil
}

// MergeProfile asks the model to fold a free-text note into the profile data
func (c *Client) MergeProfile(ctx context.Context, current map[string]string, note string) (map[string]string, error) {
	currentJSON, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`Given the following current user data and new context, update the user data appropriately.
Current user data: %s
New context: %s

Rules:
1. Add new key-value pairs for new information.
2. Update existing values if the new context provides more accurate or recent information.
3. Do not remove any existing key-value pairs.
4. Use concise keys and values.

Return the updated user data as a flat JSON object of string values.`, currentJSON, note)

	response, err := c.complete(ctx, c.mappingModel, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(mergeSystemPrompt),
		openai.UserMessage(prompt),
	}, true)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(response), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	merged := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			merged[key] = v
		case nil:
		default:
			encoded, _ := json.Marshal(v)
			merged[key] = string(encoded)
		}
	}
	return merged, nil
}

// complete sends a single chat completion request and returns the text
func (c *Client) complete(ctx context.Context, model string, messages []openai.ChatCompletionMessageParamUnion, jsonObject bool) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(0.3),
	}
	if jsonObject {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrInvalidResponse
	}

	return completion.Choices[0].Message.Content, nil
}

func (e EmailContext) prompt() string {
	refs := make([]string, 0, len(e.Attachments))
	for _, a := range e.Attachments {
		refs = append(refs, fmt.Sprintf("%s (ID: %s)", a.Filename, a.AttachmentID))
	}

	return fmt.Sprintf("Email subject: %s\nEmail body: %s\nAttachments: %s",
		e.Subject, truncate(e.Body, maxBodyChars), strings.Join(refs, ", "))
}

func toParams(conversation []Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(conversation))
	for _, m := range conversation {
		switch m.Role {
		case RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msg := openai.AssistantMessage(m.Content)
			for _, call := range m.ToolCalls {
				msg.OfAssistant.ToolCalls = append(msg.OfAssistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			params = append(params, msg)
		case RoleTool:
			params = append(params, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}
	return params
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
