package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/leyline/core/internal/functions/ai"
	"github.com/leyline/core/internal/functions/forms"
	"github.com/leyline/core/internal/functions/local"
	"github.com/leyline/core/internal/mimetree"
)

// MaxTurns caps the model turns of the action tool loop
const MaxTurns = 2

const (
	// FillOutFormTool is the only tool offered to the model
	FillOutFormTool = "fillOutForm"

	// MimeTypePDF is the only attachment type the form tool accepts
	MimeTypePDF = "application/pdf"

	// FilledPrefix is prepended to the original filename of an uploaded form
	FilledPrefix = "filled_"
)

// Tool results fed back to the model
const (
	ResultAttachmentNotFound = "Attachment not found or not a PDF"
	resultFormSaved          = "Form filled and saved. URL: "
	resultProcessingError    = "Error processing PDF attachment: "
	resultUploadError        = "Error saving filled form: "
)

// LocalModeAction is the single action log entry written without a model
const LocalModeAction = "No AI model configured; summary generated locally and no action was taken."

var (
	// ErrProfileNotFound indicates the recipient has no stored profile
	ErrProfileNotFound = errors.New("profile not found")
	// ErrNoStorage indicates filled forms cannot be uploaded
	ErrNoStorage = errors.New("no object storage configured")
)

// ProcessorMode represents the processing mode (AI or local)
type ProcessorMode string

const (
	// ProcessorModeAI uses the language model for summary and actions
	ProcessorModeAI ProcessorMode = "ai"
	// ProcessorModeLocal uses the extractive summarizer and takes no action
	ProcessorModeLocal ProcessorMode = "local"
)

// ActionEngineError wraps any failure in the summary or the tool loop
type ActionEngineError struct {
	EmailID string
	Stage   string
	Err     error
}

func (e *ActionEngineError) Error() string {
	return fmt.Sprintf("action engine %s (%s): %v", e.Stage, e.EmailID, e.Err)
}

func (e *ActionEngineError) Unwrap() error {
	return e.Err
}

// LanguageModel is the subset of the AI client used by the engine
type LanguageModel interface {
	IsConfigured() bool
	Summarize(ctx context.Context, email ai.EmailContext) (string, error)
	Step(ctx context.Context, conversation []ai.Message, tools []ai.Tool) (*ai.Turn, error)
	MapFields(ctx context.Context, userData map[string]string, fields []ai.FieldInfo) (map[string]string, error)
}

// FormFiller opens PDF forms
type FormFiller interface {
	Load(data []byte) (forms.Document, error)
}

// ObjectStore uploads filled forms and returns their public URL
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ProfileSource resolves a recipient address to profile data
type ProfileSource interface {
	ProfileData(email string) (map[string]string, error)
}

// StatusTracker drives the email lifecycle
type StatusTracker interface {
	Begin(emailID string) error
	Complete(emailID, summary string) error
	Fail(emailID string) error
}

// ActionAppender atomically appends to an email's action log
type ActionAppender interface {
	AppendAction(emailID, text string) error
}

// Job is one email handed to the engine
type Job struct {
	EmailID     string
	Subject     string
	Text        string
	Recipient   string
	Attachments []mimetree.Descriptor
}

// Result is the outcome of a successful run
type Result struct {
	Summary     string
	Actions     []string
	Turns       int
	ProcessedBy ProcessorMode
}

// Engine summarizes an email and lets the model act on it
type Engine struct {
	model    LanguageModel
	forms    FormFiller
	storage  ObjectStore
	profiles ProfileSource
	tracker  StatusTracker
	actions  ActionAppender
}

// EngineDeps bundles the collaborators of an Engine
type EngineDeps struct {
	Model    LanguageModel
	Forms    FormFiller
	Storage  ObjectStore
	Profiles ProfileSource
	Tracker  StatusTracker
	Actions  ActionAppender
}

// NewEngine creates a new Engine instance
func NewEngine(deps EngineDeps) *Engine {
	return &Engine{
		model:    deps.Model,
		forms:    deps.Forms,
		storage:  deps.Storage,
		profiles: deps.Profiles,
		tracker:  deps.Tracker,
		actions:  deps.Actions,
	}
}

// Mode reports whether runs will use the model
func (e *Engine) Mode() ProcessorMode {
	if e.model != nil && e.model.IsConfigured() {
		return ProcessorModeAI
	}
	return ProcessorModeLocal
}

// Run moves the email to processing, then to done with its summary, or back
// to stale when the summary or the tool loop fails. Action log entries
// written before a failure are kept.
func (e *Engine) Run(ctx context.Context, job Job) (*Result, error) {
	if err := e.tracker.Begin(job.EmailID); err != nil {
		return nil, err
	}

	var (
		result *Result
		err    error
	)
	if e.Mode() == ProcessorModeAI {
		result, err = e.processWithAI(ctx, job)
	} else {
		result, err = e.processWithLocal(job)
	}

	if err != nil {
		log.Printf("[Engine] Processing failed for email %s: %v", job.EmailID, err)
		e.reset(job.EmailID)
		return nil, err
	}

	if err := e.tracker.Complete(job.EmailID, result.Summary); err != nil {
		log.Printf("[Engine] Failed to mark email %s done: %v", job.EmailID, err)
		e.reset(job.EmailID)
		return nil, &ActionEngineError{EmailID: job.EmailID, Stage: "complete", Err: err}
	}

	log.Printf("[Engine] Email %s done (%s, %d turns)", job.EmailID, result.ProcessedBy, result.Turns)
	return result, nil
}

// reset returns a processing email to stale
func (e *Engine) reset(emailID string) {
	if err := e.tracker.Fail(emailID); err != nil {
		log.Printf("[Engine] Failed to reset email %s to stale: %v", emailID, err)
	}
}

func (e *Engine) processWithAI(ctx context.Context, job Job) (*Result, error) {
	email := emailContext(job)
	result := &Result{ProcessedBy: ProcessorModeAI}

	summary, err := e.model.Summarize(ctx, email)
	if err != nil {
		return nil, &ActionEngineError{EmailID: job.EmailID, Stage: "summary", Err: err}
	}
	result.Summary = summary

	conversation := ai.ActionConversation(email)
	tools := []ai.Tool{fillOutFormDefinition()}

	for turn := 1; turn <= MaxTurns; turn++ {
		step, err := e.model.Step(ctx, conversation, tools)
		if err != nil {
			return nil, &ActionEngineError{EmailID: job.EmailID, Stage: fmt.Sprintf("turn %d", turn), Err: err}
		}
		result.Turns = turn

		if len(step.ToolCalls) > 0 {
			conversation = append(conversation, ai.Message{
				Role:      ai.RoleAssistant,
				Content:   step.Text,
				ToolCalls: step.ToolCalls,
			})
			for _, call := range step.ToolCalls {
				conversation = append(conversation, ai.Message{
					Role:       ai.RoleTool,
					ToolCallID: call.ID,
					Content:    e.executeTool(ctx, job, call),
				})
			}
		}

		if err := e.actions.AppendAction(job.EmailID, step.Text); err != nil {
			return nil, &ActionEngineError{EmailID: job.EmailID, Stage: "action log", Err: err}
		}
		result.Actions = append(result.Actions, step.Text)

		if len(step.ToolCalls) == 0 {
			break
		}
	}

	return result, nil
}

func (e *Engine) processWithLocal(job Job) (*Result, error) {
	if err := e.actions.AppendAction(job.EmailID, LocalModeAction); err != nil {
		return nil, &ActionEngineError{EmailID: job.EmailID, Stage: "action log", Err: err}
	}

	return &Result{
		Summary:     local.Summarize(job.Subject, job.Text),
		Actions:     []string{LocalModeAction},
		ProcessedBy: ProcessorModeLocal,
	}, nil
}

func (e *Engine) executeTool(ctx context.Context, job Job, call ai.ToolCall) string {
	if call.Name != FillOutFormTool {
		return fmt.Sprintf("Unknown tool: %s", call.Name)
	}
	return e.FillOutForm(ctx, job, call.Arguments)
}

type fillOutFormArgs struct {
	AttachmentID string   `json:"attachmentId"`
	FormFields   []string `json:"formFields"`
}

func fillOutFormDefinition() ai.Tool {
	return ai.Tool{
		Name:        FillOutFormTool,
		Description: "Fill out a form based on an email attachment",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"attachmentId": map[string]any{
					"type":        "string",
					"description": "The ID of the attachment containing the form",
				},
				"formFields": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "List of form fields to fill out",
				},
			},
			"required": []string{"attachmentId", "formFields"},
		},
	}
}

// FillOutForm fills the referenced PDF attachment from the recipient's profile
// and uploads it. Every outcome is reported as a string for the model.
func (e *Engine) FillOutForm(ctx context.Context, job Job, argsJSON string) string {
	var args fillOutFormArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return resultProcessingError + fmt.Sprintf("invalid arguments: %v", err)
	}

	attachment := findAttachment(job.Attachments, args.AttachmentID)
	if attachment == nil || attachment.MimeType != MimeTypePDF {
		return ResultAttachmentNotFound
	}

	log.Printf("[Engine] Filling form %s for email %s", attachment.Filename, job.EmailID)

	filled, err := e.fillForm(ctx, job.Recipient, attachment)
	if err != nil {
		log.Printf("[Engine] Error processing PDF attachment %s: %v", attachment.Filename, err)
		return resultProcessingError + err.Error()
	}

	if e.storage == nil {
		return resultUploadError + ErrNoStorage.Error()
	}
	url, err := e.storage.Upload(ctx, FilledPrefix+attachment.Filename, filled, MimeTypePDF)
	if err != nil {
		log.Printf("[Engine] Error uploading filled form %s: %v", attachment.Filename, err)
		return resultUploadError + err.Error()
	}

	log.Printf("[Engine] Filled form uploaded: %s", url)
	return resultFormSaved + url
}

func (e *Engine) fillForm(ctx context.Context, recipient string, attachment *mimetree.Descriptor) ([]byte, error) {
	userData, err := e.profiles.ProfileData(recipient)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, recipient)
	}
	if err != nil {
		return nil, err
	}

	raw, err := mimetree.DecodeBody(attachment.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}

	doc, err := e.forms.Load(raw)
	if err != nil {
		return nil, err
	}

	fields := doc.TextFields()
	fieldInfo := make([]ai.FieldInfo, 0, len(fields))
	maxLengths := make(map[string]*int, len(fields))
	for _, f := range fields {
		fieldInfo = append(fieldInfo, ai.FieldInfo{Name: f.Name, MaxLength: f.MaxLength})
		maxLengths[f.Name] = f.MaxLength
	}

	mappings, err := e.model.MapFields(ctx, userData, fieldInfo)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(mappings))
	for name := range mappings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		maxLength, ok := maxLengths[name]
		if !ok {
			log.Printf("[Engine] Skipping unknown form field %q", name)
			continue
		}
		value := userData[mappings[name]]
		if maxLength != nil {
			value = TruncateRunes(value, *maxLength)
		}
		if err := doc.SetText(name, value); err != nil {
			return nil, err
		}
	}

	return doc.Save()
}

// TruncateRunes shortens s to at most max characters without splitting a rune
func TruncateRunes(s string, max int) string {
	if max < 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func findAttachment(attachments []mimetree.Descriptor, id string) *mimetree.Descriptor {
	if id == "" {
		return nil
	}
	for i := range attachments {
		if attachments[i].AttachmentID == id {
			return &attachments[i]
		}
	}
	return nil
}

func emailContext(job Job) ai.EmailContext {
	refs := make([]ai.AttachmentRef, 0, len(job.Attachments))
	for _, a := range job.Attachments {
		refs = append(refs, ai.AttachmentRef{Filename: a.Filename, AttachmentID: a.AttachmentID})
	}
	return ai.EmailContext{Subject: job.Subject, Body: job.Text, Attachments: refs}
}
