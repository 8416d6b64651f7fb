package fetcher

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"smart-mail-reply-go/internal/model"
)

// IMAPFetcher implements EmailFetcher using IMAP
type IMAPFetcher struct {
	client  *client.Client
	account string
	mu      sync.Mutex
	uids    map[string]uint32
}

// NewIMAPFetcher connects and logs in to the account's IMAP server
func NewIMAPFetcher(account model.SyncAccount) (*IMAPFetcher, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(account.IMAPUser, account.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return &IMAPFetcher{client: c, account: account.Email, uids: make(map[string]uint32)}, nil
}

// FetchNewEmails fetches unseen INBOX messages without setting the seen flag
func (f *IMAPFetcher) FetchNewEmails(ctx context.Context) ([]model.EmailMessage, error) {
	if _, err := f.client.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := f.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return []model.EmailMessage{}, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- f.client.UidFetch(seqset, items, messages)
	}()

	var emails []model.EmailMessage
	for msg := range messages {
		email, err := f.parseIMAPMessage(msg, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message %d: %v", msg.Uid, err)
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return emails, nil
}

// parseIMAPMessage parses an IMAP message into EmailMessage
func (f *IMAPFetcher) parseIMAPMessage(msg *imap.Message, section *imap.BodySectionName) (model.EmailMessage, error) {
	email := model.EmailMessage{
		Headers:    make(map[string]string),
		ReceivedAt: msg.InternalDate,
	}

	if msg.Envelope != nil {
		email.ID = strings.Trim(msg.Envelope.MessageId, "<>")
		email.Subject = msg.Envelope.Subject
		if len(msg.Envelope.From) > 0 {
			email.From = msg.Envelope.From[0].Address()
		}
		for _, addr := range msg.Envelope.To {
			email.To = append(email.To, addr.Address())
		}
	}
	if email.ID == "" {
		email.ID = fmt.Sprintf("imap:%s:%d", f.account, msg.Uid)
	}

	if r := msg.GetBody(section); r != nil {
		if err := parseMIME(r, &email); err != nil {
			return email, err
		}
	}

	f.mu.Lock()
	f.uids[email.ID] = msg.Uid
	f.mu.Unlock()
	return email, nil
}

// MarkRead sets the seen flag on previously fetched messages
func (f *IMAPFetcher) MarkRead(ctx context.Context, ids []string) error {
	seqset := new(imap.SeqSet)
	f.mu.Lock()
	for _, id := range ids {
		if uid, ok := f.uids[id]; ok {
			seqset.AddNum(uid)
		}
	}
	f.mu.Unlock()

	if seqset.Empty() {
		return nil
	}
	flags := []interface{}{imap.SeenFlag}
	if err := f.client.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		return fmt.Errorf("failed to mark messages seen: %w", err)
	}
	return nil
}

// Close closes the IMAP fetcher
func (f *IMAPFetcher) Close() error {
	return f.client.Logout()
}
