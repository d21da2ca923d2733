package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/emilythestrangee/campusnet/backend/internal/config"
)

// messageCreator is the part of the Twilio REST client the sender uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender texts notifications to the recipient's phone number.
type TwilioSender struct {
	api  messageCreator
	from string
}

func NewTwilioSender(cfg config.TwilioConfig) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{api: client.Api, from: cfg.From}
}

func (*TwilioSender) Name() string { return "twilio" }

func (s *TwilioSender) Send(_ context.Context, m Message) error {
	if m.Phone == "" {
		return ErrNoRecipient
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(m.Phone)
	params.SetFrom(s.from)
	params.SetBody(m.Text())

	if _, err := s.api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio: failed to send sms: %w", err)
	}
	return nil
}
