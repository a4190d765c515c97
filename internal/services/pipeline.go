package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leyline/core/internal/database/models"
	"github.com/leyline/core/internal/functions"
	"github.com/leyline/core/internal/mailbox"
	"github.com/leyline/core/internal/mimetree"
	"google.golang.org/api/gmail/v1"
)

// Webhook response messages
const (
	MessageTokenError      = "Error refreshing access token"
	MessageNoNewMessages   = "No new messages found"
	MessageProcessingError = "Error processing message, but webhook received"
	MessageSaved           = "Message saved successfully"
)

// OutcomeKind tells the webhook whether the delivery was accepted
type OutcomeKind int

const (
	// Accepted deliveries answer 200 even when processing failed
	Accepted OutcomeKind = iota
	// Rejected deliveries answer 500; only credential failures are rejected
	Rejected
)

// Outcome is the result of one webhook delivery
type Outcome struct {
	Kind    OutcomeKind
	Message string
	EmailID string
	Err     error
}

// StatusCode maps the outcome to its HTTP status
func (o Outcome) StatusCode() int {
	if o.Kind == Rejected {
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// PushEnvelope is the Pub/Sub push request body
type PushEnvelope struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PushNotification is the decoded Gmail payload of a push envelope
type PushNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// DecodePushEnvelope parses a push body. An empty body is a poll request and
// yields nil values without error.
func DecodePushEnvelope(body []byte) (*PushEnvelope, *PushNotification, error) {
	if len(body) == 0 {
		return nil, nil, nil
	}

	var envelope PushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, nil, fmt.Errorf("decode push envelope: %w", err)
	}
	if envelope.Message.Data == "" {
		return &envelope, nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			return &envelope, nil, fmt.Errorf("decode push data: %w", err)
		}
	}

	var notification PushNotification
	if err := json.Unmarshal(raw, &notification); err != nil {
		return &envelope, nil, fmt.Errorf("decode push notification: %w", err)
	}
	return &envelope, &notification, nil
}

// PipelineDeps bundles the collaborators of a Pipeline
type PipelineDeps struct {
	Tokens       *mailbox.TokenProvider
	Dialer       *mailbox.Dialer
	Store        *EmailStore
	Engine       *functions.Engine
	LogService   *LogService
	Hub          *EventHub
	ProcessAsync bool
}

// Pipeline ingests the latest mailbox message and hands it to the action engine
type Pipeline struct {
	tokens     *mailbox.TokenProvider
	dialer     *mailbox.Dialer
	store      *EmailStore
	engine     *functions.Engine
	logService *LogService
	hub        *EventHub
	async      bool
	inflight   sync.WaitGroup
}

// NewPipeline creates a new Pipeline instance
func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		tokens:     deps.Tokens,
		dialer:     deps.Dialer,
		store:      deps.Store,
		engine:     deps.Engine,
		logService: deps.LogService,
		hub:        deps.Hub,
		async:      deps.ProcessAsync,
	}
}

// HandleDelivery processes one webhook delivery end to end
func (p *Pipeline) HandleDelivery(ctx context.Context, body []byte) Outcome {
	start := time.Now()
	details := DeliveryDetails{DeliveryID: uuid.NewString()}

	envelope, notification, err := DecodePushEnvelope(body)
	if err != nil {
		log.Printf("[Pipeline] Delivery %s: %v", details.DeliveryID, err)
	}
	if envelope != nil {
		details.PushID = envelope.Message.MessageID
	}
	if notification != nil {
		details.Mailbox = notification.EmailAddress
		details.HistoryID = notification.HistoryID
		log.Printf("[Pipeline] Delivery %s: push for %s (history %d)", details.DeliveryID, notification.EmailAddress, notification.HistoryID)
	}

	outcome := p.deliver(ctx)

	details.Outcome = outcome.Message
	details.DurationMs = time.Since(start).Milliseconds()
	if outcome.Err != nil {
		details.ErrorMsg = outcome.Err.Error()
		log.Printf("[Pipeline] Delivery %s: %s: %v", details.DeliveryID, outcome.Message, outcome.Err)
	}
	p.logService.LogDelivery(outcome.EmailID, details, outcome.Kind == Rejected)

	return outcome
}

func (p *Pipeline) deliver(ctx context.Context) Outcome {
	token, err := p.tokens.AccessToken(ctx)
	if err != nil {
		return Outcome{Kind: Rejected, Message: MessageTokenError, Err: err}
	}

	fetcher, err := p.dialer.Dial(ctx, token)
	if err != nil {
		return Outcome{Kind: Accepted, Message: MessageProcessingError, Err: err}
	}

	msg, err := fetcher.FetchLatest(ctx)
	if err != nil {
		return Outcome{Kind: Accepted, Message: MessageProcessingError, Err: err}
	}
	if msg == nil {
		return Outcome{Kind: Accepted, Message: MessageNoNewMessages}
	}

	job, err := p.ingest(ctx, fetcher, msg)
	if err != nil {
		return Outcome{Kind: Accepted, Message: MessageProcessingError, EmailID: msg.Id, Err: err}
	}

	p.dispatch(ctx, *job)
	return Outcome{Kind: Accepted, Message: MessageSaved, EmailID: msg.Id}
}

// ingest extracts the message and persists it. A message already stored is
// reported as ErrEmailExists and nothing is written.
func (p *Pipeline) ingest(ctx context.Context, fetcher *mailbox.Fetcher, msg *gmail.Message) (*functions.Job, error) {
	exists, err := p.store.EmailExists(msg.Id)
	if err != nil {
		return nil, err
	}
	if exists {
		p.logService.LogEmailIngested(msg.Id, IngestDetails{
			Subject:   mimetree.Header(msg.Payload, "Subject"),
			From:      mimetree.Header(msg.Payload, "From"),
			Duplicate: true,
		})
		return nil, fmt.Errorf("%w: %s", ErrEmailExists, msg.Id)
	}

	job := p.extract(ctx, fetcher, msg)
	details := IngestDetails{
		Subject:     job.Subject,
		From:        mimetree.Header(msg.Payload, "From"),
		To:          job.Recipient,
		Attachments: len(job.Attachments),
	}

	if err := p.persist(msg, job); err != nil {
		details.ErrorMsg = err.Error()
		p.logService.LogEmailIngested(msg.Id, details)
		return nil, err
	}

	p.logService.LogEmailIngested(msg.Id, details)
	p.hub.Publish(EmailEvent{Type: EventInserted, EmailID: msg.Id, Status: models.EmailStatusStale, Subject: job.Subject})
	return job, nil
}

// extract builds the engine job, fetching attachment payloads one at a time
func (p *Pipeline) extract(ctx context.Context, fetcher *mailbox.Fetcher, msg *gmail.Message) *functions.Job {
	payload := msg.Payload

	attachments, failures := mimetree.ResolveAttachments(ctx, msg.Id, mimetree.CollectAttachments(payload), fetcher)
	for _, failure := range failures {
		p.logService.LogExtractionFailure(msg.Id, ExtractionDetails{
			Filename:     failure.Filename,
			AttachmentID: failure.AttachmentID,
			ErrorMsg:     failure.Err.Error(),
		})
	}

	return &functions.Job{
		EmailID:     msg.Id,
		Subject:     mimetree.Header(payload, "Subject"),
		Text:        mimetree.ExtractText(payload),
		Recipient:   mimetree.ParseAddress(mimetree.Header(payload, "To")),
		Attachments: attachments,
	}
}

// persist writes the email, payload and attachment rows. Every write is
// attempted; the joined error reports the ones that failed.
func (p *Pipeline) persist(msg *gmail.Message, job *functions.Job) error {
	var errs []error

	email := &models.Email{
		ID:           msg.Id,
		Snippet:      msg.Snippet,
		InternalDate: time.UnixMilli(msg.InternalDate),
		Sender:       mimetree.Header(msg.Payload, "From"),
		Recipient:    job.Recipient,
		Subject:      job.Subject,
		MessageText:  job.Text,
		Status:       models.EmailStatusStale,
	}
	if err := p.store.InsertEmail(email); err != nil {
		errs = append(errs, fmt.Errorf("insert email: %w", err))
	}

	if part := msg.Payload; part != nil {
		payload := &models.Payload{
			EmailID:  msg.Id,
			PartID:   part.PartId,
			MimeType: part.MimeType,
			Filename: part.Filename,
			Headers:  mimetree.HeaderMap(part),
		}
		if part.Body != nil {
			payload.Body = models.PayloadBody{
				AttachmentID: part.Body.AttachmentId,
				Size:         part.Body.Size,
				Data:         part.Body.Data,
			}
		}
		if err := p.store.InsertPayload(payload); err != nil {
			errs = append(errs, fmt.Errorf("insert payload: %w", err))
		}
	}

	for _, a := range job.Attachments {
		err := p.store.InsertAttachment(&models.Attachment{
			EmailID:      msg.Id,
			AttachmentID: a.AttachmentID,
			Filename:     a.Filename,
			MimeType:     a.MimeType,
			Size:         a.Size,
			Data:         a.Data,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("insert attachment %s: %w", a.Filename, err))
		}
	}

	return errors.Join(errs...)
}

// dispatch runs the engine inline or in a detached goroutine
func (p *Pipeline) dispatch(ctx context.Context, job functions.Job) {
	if !p.async {
		p.process(ctx, job)
		return
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.process(context.Background(), job)
	}()
}

func (p *Pipeline) process(ctx context.Context, job functions.Job) error {
	start := time.Now()
	result, err := p.engine.Run(ctx, job)

	details := EngineRunDetails{
		ProcessedBy: string(p.engine.Mode()),
		Status:      string(models.EmailStatusDone),
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			log.Printf("[Pipeline] Email %s is not stale, engine not started", job.EmailID)
			return err
		}
		details.Status = string(models.EmailStatusStale)
		details.ErrorMsg = err.Error()
	} else {
		details.ProcessedBy = string(result.ProcessedBy)
		details.Turns = result.Turns
		details.Actions = len(result.Actions)
		details.HasSummary = result.Summary != ""
	}

	p.logService.LogEngineRun(job.EmailID, details)
	return err
}

// Reprocess re-fetches a stale email and runs the engine on it synchronously
func (p *Pipeline) Reprocess(ctx context.Context, emailID string) error {
	email, err := p.store.GetEmail(emailID)
	if err != nil {
		return err
	}
	if !CanTransition(email.Status, models.EmailStatusProcessing) {
		return fmt.Errorf("%w: email %s is %s", ErrInvalidTransition, emailID, email.Status)
	}

	token, err := p.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	fetcher, err := p.dialer.Dial(ctx, token)
	if err != nil {
		return err
	}
	msg, err := fetcher.FetchMessage(ctx, emailID)
	if err != nil {
		return err
	}

	log.Printf("[Pipeline] Reprocessing email %s", emailID)
	return p.process(ctx, *p.extract(ctx, fetcher, msg))
}

// Wait blocks until detached engine runs have finished
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}
