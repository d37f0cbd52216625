package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// PushMessage is a push notification for one user device endpoint.
type PushMessage struct {
	UserID   string         `json:"user_id"`
	Endpoint string         `json:"endpoint,omitempty"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Tag      string         `json:"tag,omitempty"`
	Icon     string         `json:"icon,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// PushSender delivers push notifications.
type PushSender interface {
	SendPush(ctx context.Context, msg PushMessage) error
}

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPushSender publishes to a mobile or web platform endpoint ARN.
type SNSPushSender struct {
	client SNSAPI
	logger *logging.Logger
}

func NewSNSPushSender(client SNSAPI, logger *logging.Logger) *SNSPushSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SNSPushSender{client: client, logger: logger}
}

// http://docs.aws.amazon.com/sns/latest/dg/mobile-push-send-custommessage.html
type snsEnvelope struct {
	Default    string `json:"default"`
	APNS       string `json:"APNS,omitempty"`
	APNSSandbox string `json:"APNS_SANDBOX,omitempty"`
	GCM        string `json:"GCM,omitempty"`
}

type apnsPayload struct {
	APS  apnsAlert      `json:"aps"`
	Tag  string         `json:"tag,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

type apnsAlert struct {
	Alert apnsAlertBody `json:"alert"`
}

type apnsAlertBody struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type gcmPayload struct {
	Notification gcmNotification `json:"notification"`
	Data         map[string]any  `json:"data,omitempty"`
}

type gcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

func buildEnvelope(msg PushMessage) (string, error) {
	apns, err := json.Marshal(apnsPayload{
		APS:  apnsAlert{Alert: apnsAlertBody{Title: msg.Title, Body: msg.Body}},
		Tag:  msg.Tag,
		Data: msg.Data,
	})
	if err != nil {
		return "", fmt.Errorf("notify: encode apns payload: %w", err)
	}
	gcm, err := json.Marshal(gcmPayload{
		Notification: gcmNotification{Title: msg.Title, Body: msg.Body, Tag: msg.Tag, Icon: msg.Icon},
		Data:         msg.Data,
	})
	if err != nil {
		return "", fmt.Errorf("notify: encode gcm payload: %w", err)
	}
	envelope, err := json.Marshal(snsEnvelope{
		Default:    msg.Body,
		APNS:       string(apns),
		APNSSandbox: string(apns),
		GCM:        string(gcm),
	})
	if err != nil {
		return "", fmt.Errorf("notify: encode sns envelope: %w", err)
	}
	return string(envelope), nil
}

func (s *SNSPushSender) SendPush(ctx context.Context, msg PushMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: SNS client not configured")
	}
	if msg.Endpoint == "" {
		return ErrNoRecipient
	}
	body, err := buildEnvelope(msg)
	if err != nil {
		return err
	}
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(msg.Endpoint),
		Message:          aws.String(body),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return fmt.Errorf("notify: SNS publish: %w", err)
	}
	s.logger.Debug("push sent via SNS", "user_id", msg.UserID, "message_id", aws.ToString(out.MessageId))
	return nil
}

// StubPushSender logs instead of sending.
type StubPushSender struct {
	logger *logging.Logger
}

func NewStubPushSender(logger *logging.Logger) *StubPushSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubPushSender{logger: logger}
}

func (s *StubPushSender) SendPush(_ context.Context, msg PushMessage) error {
	s.logger.Info("stub push sender: would send push", "user_id", msg.UserID, "title", msg.Title, "tag", msg.Tag)
	return nil
}

var (
	_ PushSender = (*SNSPushSender)(nil)
	_ PushSender = (*StubPushSender)(nil)
)
