package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{FromEmail: "care@example.com"}, nil)
	if sender != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "care@example.com"}, nil)
	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "Smart Care" {
		t.Errorf("expected default from name 'Smart Care', got %q", sender.fromName)
	}
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	var sender *SendGridSender
	if err := sender.Send(context.Background(), EmailMessage{To: "p@example.com"}); err == nil {
		t.Error("expected error when sender is nil")
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	sender := NewStubEmailSender(nil)
	if err := sender.Send(context.Background(), EmailMessage{To: "p@example.com", Subject: "Hi"}); err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	fake := &fakeSES{}
	sender := NewSESSender(fake, SESConfig{FromEmail: "care@example.com"}, nil)

	err := sender.Send(context.Background(), EmailMessage{To: "p@example.com", Subject: "Appointment approved", Body: "See you soon"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := aws.ToString(fake.input.FromEmailAddress); got != "Smart Care <care@example.com>" {
		t.Errorf("unexpected from address %q", got)
	}
	if got := fake.input.Destination.ToAddresses; len(got) != 1 || got[0] != "p@example.com" {
		t.Errorf("unexpected destination %v", got)
	}
	body := fake.input.Content.Simple.Body
	if body.Text == nil || aws.ToString(body.Text.Data) != "See you soon" {
		t.Errorf("expected text body")
	}
	if body.Html != nil {
		t.Errorf("expected no html body")
	}
}

func TestSESSender_SendWrapsError(t *testing.T) {
	sentinel := errors.New("throttled")
	sender := NewSESSender(&fakeSES{err: sentinel}, SESConfig{FromEmail: "care@example.com"}, nil)
	err := sender.Send(context.Background(), EmailMessage{To: "p@example.com"})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
}

func TestNewSESSender_NilClient(t *testing.T) {
	if NewSESSender(nil, SESConfig{}, nil) != nil {
		t.Error("expected nil sender for nil client")
	}
}
