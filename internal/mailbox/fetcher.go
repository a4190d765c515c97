package mailbox

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// UserID is the Gmail alias for the authenticated mailbox
const UserID = "me"

// Dialer opens per-invocation Gmail sessions that share one circuit breaker
type Dialer struct {
	// Endpoint overrides the Gmail API base URL when set
	Endpoint string
	// HTTPClient is used instead of an oauth2 client when set (tests)
	HTTPClient *http.Client

	cb *gobreaker.CircuitBreaker
}

// NewDialer creates a Dialer with the default circuit breaker settings
func NewDialer() *Dialer {
	return &Dialer{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "gmail-api",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.ConsecutiveFailures > 5 ||
					(counts.Requests >= 10 && failureRatio >= 0.6)
			},
			IsSuccessful: func(err error) bool {
				var ce *clientError
				return err == nil || errors.As(err, &ce)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
			},
		}),
	}
}

// Dial opens a Gmail session authorized with the given access token
func (d *Dialer) Dial(ctx context.Context, token *oauth2.Token) (*Fetcher, error) {
	opts := []option.ClientOption{}
	if d.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(d.HTTPClient))
	} else {
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	}
	if d.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.Endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, &FetchError{Op: "dial", Err: err}
	}

	return &Fetcher{svc: svc, cb: d.cb}, nil
}

// Fetcher reads messages and attachments from one Gmail mailbox
type Fetcher struct {
	svc *gmail.Service
	cb  *gobreaker.CircuitBreaker
}

// FetchLatest returns the most recent message in full format, or nil when
// the mailbox is empty.
func (f *Fetcher) FetchLatest(ctx context.Context) (*gmail.Message, error) {
	var res *gmail.ListMessagesResponse
	err := f.execute("list", func() error {
		var apiErr error
		res, apiErr = f.svc.Users.Messages.List(UserID).MaxResults(1).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, &FetchError{Op: "list", Err: err}
	}

	if len(res.Messages) == 0 || res.Messages[0].Id == "" {
		return nil, nil
	}

	return f.FetchMessage(ctx, res.Messages[0].Id)
}

// FetchMessage returns one message in full format
func (f *Fetcher) FetchMessage(ctx context.Context, id string) (*gmail.Message, error) {
	var msg *gmail.Message
	err := f.execute("get", func() error {
		var apiErr error
		msg, apiErr = f.svc.Users.Messages.Get(UserID, id).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, &FetchError{Op: "get", Err: err}
	}
	return msg, nil
}

// FetchAttachment returns the raw base64url payload of an attachment
func (f *Fetcher) FetchAttachment(ctx context.Context, messageID, attachmentID string) (string, error) {
	var body *gmail.MessagePartBody
	err := f.execute("attachment", func() error {
		var apiErr error
		body, apiErr = f.svc.Users.Messages.Attachments.Get(UserID, messageID, attachmentID).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return "", &FetchError{Op: "attachment", Err: err}
	}
	return body.Data, nil
}

// execute wraps an API call with the circuit breaker; client errors do not trip it
func (f *Fetcher) execute(op string, fn func() error) error {
	if f.cb == nil {
		return fn()
	}

	_, err := f.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
				return nil, &clientError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})

	var ce *clientError
	if errors.As(err, &ce) {
		return ce.err
	}
	if err != nil {
		log.Printf("[Mailbox] %s failed: breaker=%s, err=%v", op, f.cb.State().String(), err)
	}
	return err
}

// clientError marks 4xx responses, which the breaker counts as successes
type clientError struct {
	err error
}

func (e *clientError) Error() string {
	return e.err.Error()
}
