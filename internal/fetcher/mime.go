package fetcher

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"smart-mail-reply-go/internal/model"
)

// parseMIME reads a raw RFC 5322 message into the body fields of email
func parseMIME(r io.Reader, email *model.EmailMessage) error {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return fmt.Errorf("failed to read message: %w", err)
	}

	for _, key := range []string{"Subject", "From", "Date", "Message-Id"} {
		if v := entity.Header.Get(key); v != "" {
			email.Headers[key] = v
		}
	}

	return walkEntity(entity, email)
}

func walkEntity(entity *message.Entity, email *model.EmailMessage) error {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read part: %w", err)
			}
			if err := walkEntity(p, email); err != nil {
				return err
			}
		}
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}

	contentType := entity.Header.Get("Content-Type")
	switch {
	case contentType == "" || strings.Contains(contentType, "text/plain"):
		if email.Body == "" {
			email.Body = string(content)
		}
	case strings.Contains(contentType, "text/html"):
		if email.HTMLBody == "" {
			email.HTMLBody = string(content)
		}
	}
	return nil
}
