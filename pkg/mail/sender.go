package mail

import (
	"context"
	"crypto/tls"
	"math"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/mailtmpl/mailtmpl/pkg/config"
	"github.com/mailtmpl/mailtmpl/pkg/metrics"
)

// Sender delivers rendered messages. Implementations return the number of
// messages sent (one per Send on success).
type Sender interface {
	Send(ctx context.Context, msg *Message) (int, error)
	GetHost() string
	GetPort() int
}

// smtpDialer is the part of gomail.Dialer the sender uses.
type smtpDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type sender struct {
	dialer         smtpDialer
	host           string
	port           int
	senderAddress  string
	senderName     string
	retryCount     int
	retryBackoffMs int
	log            *zap.SugaredLogger
}

// NewSender creates an SMTP sender from the mail configuration.
func NewSender(cfg config.Config, log *zap.SugaredLogger) Sender {
	log.Infow("Initializing mail sender",
		"host", cfg.Mail.Host,
		"port", cfg.Mail.Port,
		"user", cfg.Mail.User)

	d := gomail.NewDialer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.User, cfg.Mail.Password)
	if cfg.Mail.InsecureSkipVerify {
		log.Warn("InsecureSkipVerify is enabled for mail TLS connection")
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	senderAddr := cfg.Mail.SenderAddress
	if senderAddr == "" {
		senderAddr = "noreply@localhost"
	}
	senderName := cfg.Mail.SenderName

	retryCount := cfg.Mail.RetryCount
	if retryCount <= 0 {
		retryCount = 3
	}
	retryBackoffMs := cfg.Mail.RetryBackoffMs
	if retryBackoffMs <= 0 {
		retryBackoffMs = 100
	}

	return &sender{
		dialer:         d,
		host:           cfg.Mail.Host,
		port:           cfg.Mail.Port,
		senderAddress:  senderAddr,
		senderName:     senderName,
		retryCount:     retryCount,
		retryBackoffMs: retryBackoffMs,
		log:            log,
	}
}

func (s *sender) Send(ctx context.Context, msg *Message) (int, error) {
	recipients := len(msg.To) + len(msg.Cc) + len(msg.Bcc)
	s.log.Infow("Preparing to send mail",
		"recipients", recipients,
		"subject", msg.Subject,
		"template", msg.TemplateName)

	gm := s.transportMessage(msg)

	var lastErr error
	backoffMs := s.retryBackoffMs

	for attempt := 0; attempt <= s.retryCount; attempt++ {
		err := s.dialer.DialAndSend(gm)
		if err == nil {
			s.log.Infow("Mail sent successfully",
				"recipients", recipients,
				"attempt", attempt+1)
			metrics.MailSendSuccess.WithLabelValues(s.GetHost()).Inc()
			return 1, nil
		}

		lastErr = err
		if attempt < s.retryCount {
			s.log.Warnw("Send attempt failed, retrying",
				"attempt", attempt+1,
				"error", err,
				"backoffMs", backoffMs)
			select {
			case <-ctx.Done():
				metrics.MailSendFailure.WithLabelValues(s.GetHost()).Inc()
				return 0, ctx.Err()
			case <-time.After(time.Duration(backoffMs) * time.Millisecond):
			}
			backoffMs = int(math.Min(float64(backoffMs)*2, 32000)) // Cap at ~32 seconds
		} else {
			s.log.Errorw("Failed to send mail after all attempts",
				"attempts", s.retryCount+1,
				"error", err)
		}
	}

	metrics.MailSendFailure.WithLabelValues(s.GetHost()).Inc()
	return 0, lastErr
}

// transportMessage converts a Message to its gomail wire representation.
func (s *sender) transportMessage(msg *Message) *gomail.Message {
	gm := gomail.NewMessage()

	from := msg.From
	if from == "" {
		from = s.senderAddress
	}
	name := msg.FromName
	if name == "" {
		name = s.senderName
	}
	if name != "" {
		gm.SetAddressHeader("From", from, name)
	} else {
		gm.SetHeader("From", from)
	}

	if len(msg.To) > 0 {
		gm.SetHeader("To", msg.To...)
	}
	if len(msg.Cc) > 0 {
		gm.SetHeader("Cc", msg.Cc...)
	}
	if len(msg.Bcc) > 0 {
		gm.SetHeader("Bcc", msg.Bcc...)
	}
	gm.SetHeader("Subject", msg.Subject)

	subtype := msg.Subtype
	if subtype == "" {
		subtype = SubtypePlain
	}
	gm.SetBody("text/"+string(subtype), msg.Body)
	for _, alt := range msg.Alternatives {
		gm.AddAlternative(alt.MIMEType, alt.Content)
	}
	for _, path := range msg.Attachments {
		gm.Attach(path)
	}
	return gm
}

func (s *sender) GetHost() string {
	return s.host
}

func (s *sender) GetPort() int {
	return s.port
}
