package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"smart-mail-reply-go/internal/config"
	"smart-mail-reply-go/internal/model"
)

const unreadQuery = "is:unread"

// GmailAPIFetcher implements EmailFetcher using Gmail API
type GmailAPIFetcher struct {
	service    *gmail.Service
	account    string
	maxResults int64
	limiter    *rate.Limiter
}

// NewGmailAPIFetcher creates a Gmail API fetcher for the account's refresh token
func NewGmailAPIFetcher(ctx context.Context, cfg config.GmailConfig, account model.SyncAccount) (*GmailAPIFetcher, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
	}
	tokenSource := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return newGmailAPIFetcher(service, account.Email, cfg), nil
}

func newGmailAPIFetcher(service *gmail.Service, account string, cfg config.GmailConfig) *GmailAPIFetcher {
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}
	perSec := cfg.RequestsPerSec
	if perSec <= 0 {
		perSec = 5
	}
	return &GmailAPIFetcher{
		service:    service,
		account:    account,
		maxResults: maxResults,
		limiter:    rate.NewLimiter(rate.Limit(perSec), 1),
	}
}

// FetchNewEmails lists unread messages and loads each one in full
func (f *GmailAPIFetcher) FetchNewEmails(ctx context.Context) ([]model.EmailMessage, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	response, err := f.service.Users.Messages.List("me").Q(unreadQuery).MaxResults(f.maxResults).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var emails []model.EmailMessage
	for _, msg := range response.Messages {
		if err := f.limiter.Wait(ctx); err != nil {
			return emails, err
		}
		message, err := f.service.Users.Messages.Get("me", msg.Id).Format("full").Context(ctx).Do()
		if err != nil {
			logrus.Warnf("Failed to get message %s for %s: %v", msg.Id, f.account, err)
			continue
		}

		email, err := parseGmailMessage(message)
		if err != nil {
			logrus.Warnf("Failed to parse message %s: %v", msg.Id, err)
			continue
		}
		emails = append(emails, email)
	}
	return emails, nil
}

// MarkRead removes the UNREAD label from every message
func (f *GmailAPIFetcher) MarkRead(ctx context.Context, ids []string) error {
	var failed int
	for _, id := range ids {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		req := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
		if _, err := f.service.Users.Messages.Modify("me", id, req).Context(ctx).Do(); err != nil {
			logrus.Warnf("Failed to mark message %s read: %v", id, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to mark %d of %d messages read", failed, len(ids))
	}
	return nil
}

// Close closes the Gmail API fetcher
func (f *GmailAPIFetcher) Close() error {
	// Gmail API service doesn't need explicit closing
	return nil
}

// parseGmailMessage parses a Gmail API message into EmailMessage
func parseGmailMessage(msg *gmail.Message) (model.EmailMessage, error) {
	email := model.EmailMessage{
		ID:      msg.Id,
		Headers: make(map[string]string),
	}
	if msg.InternalDate > 0 {
		email.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return email, nil
	}

	for _, header := range msg.Payload.Headers {
		email.Headers[header.Name] = header.Value

		switch header.Name {
		case "Subject":
			email.Subject = header.Value
		case "From":
			email.From = header.Value
		case "To":
			for _, to := range strings.Split(header.Value, ",") {
				email.To = append(email.To, strings.TrimSpace(to))
			}
		}
	}

	if err := parseGmailBody(msg.Payload, &email); err != nil {
		return email, err
	}
	return email, nil
}

// parseGmailBody recursively parses Gmail message body parts
func parseGmailBody(part *gmail.MessagePart, email *model.EmailMessage) error {
	if part.Body != nil && part.Body.Data != "" {
		data, err := decodeBase64URL(part.Body.Data)
		if err != nil {
			return fmt.Errorf("failed to decode body data: %w", err)
		}

		switch part.MimeType {
		case "text/plain":
			if email.Body == "" {
				email.Body = string(data)
			}
		case "text/html":
			if email.HTMLBody == "" {
				email.HTMLBody = string(data)
			}
		}
	}

	for _, subPart := range part.Parts {
		if err := parseGmailBody(subPart, email); err != nil {
			return err
		}
	}
	return nil
}

func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
