package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"amightyclaw/internal/bus"
	"amightyclaw/internal/config"
	"amightyclaw/internal/logging"
)

func init() {
	// Decode RFC2047 headers for non-UTF-8 charsets on the IMAP envelope path.
	if message.CharsetReader != nil {
		imap.CharsetReader = message.CharsetReader
	}
}

// emailThread remembers enough of the inbound message to reply in-thread.
type emailThread struct {
	From      string
	Subject   string
	MessageID string
}

// EmailChannel polls an IMAP inbox and bridges it onto the bus: unseen mail
// from an allowed sender becomes an inbound turn, and the assistant reply for
// that conversation goes back out over SMTP.
type EmailChannel struct {
	cfg config.EmailConfig
	bus *bus.Bus
	log *slog.Logger

	mu      sync.Mutex
	threads map[string]emailThread // conversation id -> latest inbound
}

func NewEmailChannel(cfg config.EmailConfig, b *bus.Bus) *EmailChannel {
	return &EmailChannel{
		cfg:     cfg,
		bus:     b,
		log:     logging.New("email"),
		threads: make(map[string]emailThread),
	}
}

func (e *EmailChannel) pollInterval() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(e.cfg.PollInterval))
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

func (e *EmailChannel) imapAddr() string {
	port := e.cfg.IMAPPort
	if port <= 0 {
		port = 993
	}
	return fmt.Sprintf("%s:%d", strings.TrimSpace(e.cfg.IMAPHost), port)
}

func (e *EmailChannel) smtpAddr() (host string, addr string) {
	host = strings.TrimSpace(e.cfg.SMTPHost)
	port := e.cfg.SMTPPort
	if port <= 0 {
		port = 465
	}
	return host, fmt.Sprintf("%s:%d", host, port)
}

// Run polls until ctx is canceled. It also consumes assistant events for the
// email channel and sends the replies.
func (e *EmailChannel) Run(ctx context.Context) error {
	if strings.TrimSpace(e.cfg.Address) == "" || strings.TrimSpace(e.cfg.IMAPHost) == "" {
		return errors.New("email channel requires address and imap_host")
	}

	go e.replyLoop(ctx)

	allowed := make(map[string]bool, len(e.cfg.AllowedSenders))
	for _, a := range e.cfg.AllowedSenders {
		allowed[strings.ToLower(strings.TrimSpace(a))] = true
	}

	seen := make(map[string]bool, 1024)
	ticker := time.NewTicker(e.pollInterval())
	defer ticker.Stop()

	var c *client.Client
	defer func() {
		if c != nil {
			_ = c.Logout()
		}
	}()

	for {
		if c == nil {
			conn, err := e.connect()
			if err != nil {
				e.log.Warn("imap connect failed", "error", err)
			} else {
				c = conn
			}
		}
		if c != nil {
			if err := e.pollOnce(ctx, c, allowed, seen); err != nil {
				e.log.Warn("imap poll failed", "error", err)
				_ = c.Logout()
				c = nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *EmailChannel) connect() (*client.Client, error) {
	host := strings.TrimSpace(e.cfg.IMAPHost)
	c, err := client.DialTLS(e.imapAddr(), &tls.Config{ServerName: host})
	if err != nil {
		return nil, fmt.Errorf("imap dial: %w", err)
	}
	c.Timeout = 25 * time.Second
	if err := c.Login(strings.TrimSpace(e.cfg.Address), e.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select("INBOX", false); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imap select INBOX: %w", err)
	}
	return c, nil
}

func (e *EmailChannel) pollOnce(ctx context.Context, c *client.Client, allowed, seen map[string]bool) error {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("imap search: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}

	msgCh := make(chan *imap.Message, len(ids))
	fetchErrCh := make(chan error, 1)
	go func() {
		fetchErrCh <- c.Fetch(seqset, items, msgCh)
	}()

	for msg := range msgCh {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if msg == nil {
			continue
		}
		from, subject, messageID, body := parseEmail(msg, section)
		fromLower := strings.ToLower(strings.TrimSpace(from))
		switch {
		case fromLower == "",
			strings.EqualFold(fromLower, strings.TrimSpace(e.cfg.Address)),
			len(allowed) > 0 && !allowed[fromLower],
			messageID != "" && seen[messageID],
			strings.TrimSpace(body) == "":
			_ = markSeen(c, msg.SeqNum)
			continue
		}
		if messageID != "" {
			seen[messageID] = true
		}

		convID := "email:" + fromLower
		e.mu.Lock()
		e.threads[convID] = emailThread{From: from, Subject: subject, MessageID: messageID}
		e.mu.Unlock()

		e.log.Info("inbound email", "from", fromLower, "subject", subject)
		e.bus.Publish(bus.Event{Kind: bus.KindInbound, Inbound: &bus.Inbound{
			ConversationID: convID,
			Channel:        "email",
			Content:        body,
		}})
		_ = markSeen(c, msg.SeqNum)
	}

	if err := <-fetchErrCh; err != nil {
		return fmt.Errorf("imap fetch: %w", err)
	}
	return nil
}

func (e *EmailChannel) replyLoop(ctx context.Context) {
	sub := e.bus.Subscribe(bus.KindAssistant)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			a := ev.Assistant
			if a == nil || a.Channel != "email" {
				continue
			}
			e.mu.Lock()
			thread, ok := e.threads[a.ConversationID]
			e.mu.Unlock()
			if !ok {
				thread.From = strings.TrimPrefix(a.ConversationID, "email:")
			}
			if err := e.sendReply(thread, a.Content); err != nil {
				e.log.Warn("email reply failed", "to", thread.From, "error", err)
			}
		}
	}
}

func (e *EmailChannel) sendReply(thread emailThread, body string) error {
	to := strings.TrimSpace(thread.From)
	if to == "" {
		return errors.New("reply address is empty")
	}
	subject := strings.TrimSpace(thread.Subject)
	if subject == "" {
		subject = "(no subject)"
	}
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	host, addr := e.smtpAddr()
	dialer := &net.Dialer{Timeout: 15 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer func() { _ = c.Quit() }()

	from := strings.TrimSpace(e.cfg.Address)
	if err := c.Auth(smtp.PlainAuth("", from, e.cfg.Password, host)); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write([]byte(buildReply(from, to, subject, thread.MessageID, body))); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}

func buildReply(from, to, subject, inReplyTo, body string) string {
	headers := []string{
		"From: " + from,
		"To: " + to,
		"Subject: " + mime.QEncoding.Encode("utf-8", subject),
	}
	if id := strings.Trim(strings.TrimSpace(inReplyTo), "<>"); id != "" {
		headers = append(headers,
			"In-Reply-To: <"+id+">",
			"References: <"+id+">",
		)
	}
	headers = append(headers,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
		"Content-Transfer-Encoding: 8bit",
		"Date: "+time.Now().Format(time.RFC1123Z),
	)
	html := renderMarkdownHTML(body)
	html = strings.ReplaceAll(strings.ReplaceAll(html, "\r\n", "\n"), "\n", "\r\n")
	return strings.Join(headers, "\r\n") + "\r\n\r\n" + html + "\r\n"
}

func parseEmail(msg *imap.Message, section *imap.BodySectionName) (from, subject, messageID, body string) {
	if msg.Envelope != nil {
		subject = strings.TrimSpace(msg.Envelope.Subject)
		messageID = strings.Trim(strings.TrimSpace(msg.Envelope.MessageId), "<>")
		for _, list := range [][]*imap.Address{msg.Envelope.ReplyTo, msg.Envelope.From, msg.Envelope.Sender} {
			if len(list) > 0 && list[0] != nil && strings.TrimSpace(list[0].Address()) != "" {
				from = strings.TrimSpace(list[0].Address())
				break
			}
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		return from, subject, messageID, ""
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return from, subject, messageID, ""
	}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return from, subject, messageID, rawBodyFallback(raw)
	}
	if s, err := reader.Header.Subject(); err == nil && strings.TrimSpace(s) != "" {
		subject = strings.TrimSpace(s)
	}
	if list, err := reader.Header.AddressList("From"); err == nil && len(list) > 0 {
		if a := strings.TrimSpace(list[0].Address); a != "" {
			from = a
		}
	}
	if id := strings.Trim(strings.TrimSpace(reader.Header.Get("Message-ID")), "<>"); id != "" {
		messageID = id
	}
	return from, subject, messageID, extractTextBody(reader)
}

// extractTextBody prefers text/plain over text/html; go-message already
// decodes transfer-encoding and charset for text entities.
func extractTextBody(r *mail.Reader) string {
	var plain, html string
	for {
		part, err := r.NextPart()
		if err != nil {
			break
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, _ := io.ReadAll(part.Body)
		text := strings.TrimSpace(string(b))
		if text == "" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(ct)) {
		case "text/html":
			if html == "" {
				html = text
			}
		default:
			if plain == "" {
				plain = text
			}
		}
	}
	if plain != "" {
		return plain
	}
	return html
}

func rawBodyFallback(raw []byte) string {
	text := string(raw)
	idx := strings.Index(text, "\r\n\r\n")
	sep := 4
	if idx < 0 {
		idx = strings.Index(text, "\n\n")
		sep = 2
	}
	if idx >= 0 && idx+sep < len(text) {
		text = text[idx+sep:]
	}
	return strings.TrimSpace(text)
}

func markSeen(c *client.Client, seqNum uint32) error {
	if seqNum == 0 {
		return nil
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(seqNum)
	return c.Store(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.SeenFlag}, nil)
}
