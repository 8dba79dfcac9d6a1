// Package conversation manages the SMS thread with a homeowner after the
// intake call: confirmations, contractor questions, quote selection, and
// free-form chat.
package conversation

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/quinnhq/dispatch/internal/model"
	"github.com/quinnhq/dispatch/internal/store"
	"github.com/quinnhq/dispatch/pkg/twilio"
)

// Messenger sends SMS to a request's caller and records every message in the
// append-only log, delivered or not.
type Messenger struct {
	store store.Store
	sms   twilio.Client
	from  string
}

// NewMessenger creates a Messenger.
func NewMessenger(st store.Store, sms twilio.Client, fromNumber string) *Messenger {
	return &Messenger{store: st, sms: sms, from: fromNumber}
}

// Send delivers an outbound SMS to the request's caller and logs it.
func (m *Messenger) Send(ctx context.Context, req *model.ServiceRequest, body string) error {
	msg := &model.Message{
		ServiceRequestID: req.ID,
		Direction:        model.DirectionOutbound,
		FromPhone:        m.from,
		ToPhone:          req.CallerPhone,
		Body:             body,
	}

	sid, err := m.sms.SendSMS(ctx, req.CallerPhone, body)
	if err != nil {
		msg.Status = model.DeliveryFailed
		msg.ErrorDetail = eris.ToString(err, false)
		if ierr := m.store.InsertMessage(ctx, msg); ierr != nil {
			zap.L().Error("conversation: record failed send",
				zap.String("request_id", req.ID),
				zap.Error(ierr),
			)
		}
		return eris.Wrap(err, "conversation: send sms")
	}

	msg.Status = model.DeliverySent
	msg.ProviderSID = sid
	return m.store.InsertMessage(ctx, msg)
}

// RecordReply logs an outbound SMS that is delivered in-band as the webhook
// reply rather than through the send API. Without this the assistant's side
// of the thread would be missing from the message history.
func (m *Messenger) RecordReply(ctx context.Context, req *model.ServiceRequest, body string) error {
	return m.store.InsertMessage(ctx, &model.Message{
		ServiceRequestID: req.ID,
		Direction:        model.DirectionOutbound,
		FromPhone:        m.from,
		ToPhone:          req.CallerPhone,
		Body:             body,
		Status:           model.DeliverySent,
	})
}

// RecordInbound logs an inbound SMS against a request.
func (m *Messenger) RecordInbound(ctx context.Context, requestID string, in *twilio.InboundMessage) error {
	return m.store.InsertMessage(ctx, &model.Message{
		ServiceRequestID: requestID,
		Direction:        model.DirectionInbound,
		FromPhone:        in.From,
		ToPhone:          in.To,
		Body:             in.Body,
		ProviderSID:      in.MessageSID,
		Status:           model.DeliverySent,
	})
}
