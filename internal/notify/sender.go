// Package notify sends reminders for groceries that are about to expire.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// DefaultSendTimeout bounds a single Twilio API call.
const DefaultSendTimeout = 30 * time.Second

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// TwilioSender sends SMS through the Twilio REST API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioSender creates a sender for the given account. API calls time out
// after DefaultSendTimeout.
func NewTwilioSender(accountSID, authToken, from string) (*TwilioSender, error) {
	return newTwilioSender(accountSID, authToken, from, &http.Client{Timeout: DefaultSendTimeout})
}

func newTwilioSender(accountSID, authToken, from string, httpClient *http.Client) (*TwilioSender, error) {
	if accountSID == "" || authToken == "" || from == "" {
		return nil, errors.New("twilio account sid, auth token and sender number are required")
	}
	base := &twilioClient.Client{
		Credentials: twilioClient.NewCredentials(accountSID, authToken),
		HTTPClient:  httpClient,
	}
	base.SetAccountSid(accountSID)
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   accountSID,
		Password:   authToken,
		AccountSid: accountSID,
		Client:     base,
	})
	return &TwilioSender{client: client, from: from}, nil
}

// Send implements Sender. The Twilio client takes no context, so Send stops
// waiting when ctx is done; the HTTP client timeout ends the call itself.
func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	type result struct {
		resp *twilioApi.ApiV2010Message
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.client.Api.CreateMessage(params)
		done <- result{resp, err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("twilio create message: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("twilio create message: %w", r.err)
		}
		if r.resp != nil && r.resp.Sid != nil {
			slog.Debug("SMS queued", "sid", *r.resp.Sid, "to", to)
		}
		return nil
	}
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(_ context.Context, to, body string) error {
	slog.Info("Reminder", "to", to, "body", body)
	return nil
}
