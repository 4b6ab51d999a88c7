package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"github.com/listmill/listmill/internal/config"
	"github.com/listmill/listmill/internal/dkim"
)

// SMTPTransport relays messages through a configured smarthost. One relay
// connection is opened per batch; each message gets its own transaction and
// result.
type SMTPTransport struct {
	cfg    config.SMTPConfig
	signer *dkim.Signer
	logger *slog.Logger
}

func NewSMTPTransport(cfg config.SMTPConfig, signer *dkim.Signer, logger *slog.Logger) *SMTPTransport {
	return &SMTPTransport{
		cfg:    cfg,
		signer: signer,
		logger: logger.With("component", "smtp"),
	}
}

// Send delivers a single message over a fresh connection.
func (t *SMTPTransport) Send(ctx context.Context, msg *Message) Result {
	results := t.SendBatch(ctx, []*Message{msg})
	return results[0]
}

// SendBatch delivers messages sequentially over one relay connection. If the
// connection cannot be established every message in the batch fails with the
// same error.
func (t *SMTPTransport) SendBatch(ctx context.Context, msgs []*Message) []Result {
	results := make([]Result, len(msgs))

	client, err := t.connect()
	if err != nil {
		t.logger.Error("relay connection failed", "host", t.cfg.Host, "error", err)
		for i := range results {
			results[i] = Result{Error: fmt.Sprintf("relay connection failed: %v", err)}
		}
		return results
	}
	defer client.Quit()

	for i, msg := range msgs {
		if err := ctx.Err(); err != nil {
			results[i] = Result{Error: err.Error()}
			continue
		}

		msgID := messageID(msg.FromEmail)
		raw, err := buildMessage(msg, msgID)
		if err == nil && t.signer != nil {
			raw, err = t.signer.Sign(raw)
		}
		if err != nil {
			results[i] = Result{Error: err.Error()}
			continue
		}

		if err := client.SendMail(msg.FromEmail, []string{msg.To}, bytes.NewReader(raw)); err != nil {
			results[i] = Result{Error: err.Error()}
			continue
		}
		results[i] = Result{Success: true, ExternalID: msgID}
	}

	return results
}

func (t *SMTPTransport) connect() (*smtp.Client, error) {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))

	var client *smtp.Client
	var err error
	if t.cfg.StartTLS {
		client, err = smtp.DialStartTLS(addr, &tls.Config{ServerName: t.cfg.Host})
	} else {
		client, err = smtp.Dial(addr)
	}
	if err != nil {
		return nil, err
	}

	if t.cfg.Username != "" {
		if err := client.Auth(sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)); err != nil {
			client.Close()
			return nil, fmt.Errorf("auth failed: %w", err)
		}
	}

	return client, nil
}

// buildMessage renders a Message into RFC 5322 bytes. Messages with both an
// HTML and a plain-text body become multipart/alternative.
func buildMessage(msg *Message, msgID string) ([]byte, error) {
	var buf bytes.Buffer

	writeHeader(&buf, "From", formatAddress(msg.FromEmail, msg.FromName))
	writeHeader(&buf, "To", msg.To)
	writeHeader(&buf, "Subject", msg.Subject)
	writeHeader(&buf, "Date", time.Now().UTC().Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", msgID)
	writeHeader(&buf, "MIME-Version", "1.0")

	// Deterministic header order for the extras
	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(&buf, k, msg.Headers[k])
	}

	if msg.PlainTextBody == "" {
		writeHeader(&buf, "Content-Type", `text/html; charset="utf-8"`)
		writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQP(&buf, msg.HTMLBody); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, mw.Boundary()))
	buf.WriteString("\r\n")

	for _, part := range []struct {
		contentType string
		body        string
	}{
		{`text/plain; charset="utf-8"`, msg.PlainTextBody},
		{`text/html; charset="utf-8"`, msg.HTMLBody},
	} {
		pw, err := mw.CreatePart(map[string][]string{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func writeQP(buf *bytes.Buffer, body string) error {
	qp := quotedprintable.NewWriter(buf)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}

func formatAddress(email, name string) string {
	if name == "" {
		return email
	}
	return name + " <" + email + ">"
}

func messageID(fromEmail string) string {
	domain := "localhost"
	if i := strings.LastIndex(fromEmail, "@"); i >= 0 && i < len(fromEmail)-1 {
		domain = fromEmail[i+1:]
	}
	return "<" + uuid.New().String() + "@" + domain + ">"
}
