package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/davidmoltin/leadflow/pkg/config"
	"github.com/davidmoltin/leadflow/pkg/logger"
	"github.com/davidmoltin/leadflow/pkg/metrics"
	"github.com/sony/gobreaker"
)

// ErrChannelDisabled is returned when sending on a channel that is not configured
var ErrChannelDisabled = errors.New("notification channel disabled")

// NotificationChannel represents different notification channels
type NotificationChannel string

const (
	ChannelEmail    NotificationChannel = "email"
	ChannelWhatsApp NotificationChannel = "whatsapp"
)

// SendMailFunc matches smtp.SendMail
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// NotificationService delivers workflow emails over SMTP and WhatsApp
// messages over the WhatsApp Cloud API.
type NotificationService struct {
	config     *config.NotificationConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics
	sendMail   SendMailFunc
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	layout     *template.Template
	sender     string
}

// NewNotificationService creates a new notification service
func NewNotificationService(cfg *config.NotificationConfig, appName string, log *logger.Logger, m *metrics.Metrics) (*NotificationService, error) {
	layout, err := template.New("lead_email").Parse(leadEmailTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email template: %w", err)
	}

	timeout := cfg.WhatsApp.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &NotificationService{
		config:     cfg,
		logger:     log,
		metrics:    m,
		sendMail:   smtp.SendMail,
		httpClient: &http.Client{Timeout: timeout},
		layout:     layout,
		sender:     appName,
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "whatsapp",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("Circuit breaker %s changed from %s to %s", name, from, to)
			m.SetCircuitBreakerState(name, float64(to))
		},
	})

	return s, nil
}

// SetSendMail replaces the SMTP transport
func (s *NotificationService) SetSendMail(fn SendMailFunc) {
	s.sendMail = fn
}

// SetHTTPClient replaces the client used for the WhatsApp API
func (s *NotificationService) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

// SendEmail sends an HTML email whose body is the rendered workflow text
func (s *NotificationService) SendEmail(ctx context.Context, to, subject, body string) error {
	if !s.config.Email.Enabled {
		s.metrics.RecordNotification(string(ChannelEmail), "disabled")
		return fmt.Errorf("%w: %s", ErrChannelDisabled, ChannelEmail)
	}
	if to == "" {
		return errors.New("email recipient is empty")
	}

	html, err := s.renderEmail(body)
	if err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.config.Email.FromAddress)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(html)

	var auth smtp.Auth
	if s.config.Email.SMTPUser != "" {
		auth = smtp.PlainAuth("", s.config.Email.SMTPUser, s.config.Email.SMTPPassword, s.config.Email.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	if err := s.sendMail(addr, auth, s.config.Email.FromAddress, []string{to}, []byte(msg.String())); err != nil {
		s.metrics.RecordNotification(string(ChannelEmail), "failed")
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.metrics.RecordNotification(string(ChannelEmail), "sent")
	s.logger.Infof("Email sent successfully to %s", to)
	return nil
}

func (s *NotificationService) renderEmail(body string) (string, error) {
	var paragraphs []string
	for _, p := range strings.Split(body, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}

	var out bytes.Buffer
	err := s.layout.Execute(&out, struct {
		Paragraphs []string
		Sender     string
	}{paragraphs, s.sender})
	if err != nil {
		return "", fmt.Errorf("failed to render email template: %w", err)
	}
	return out.String(), nil
}

type whatsAppMessage struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// SendWhatsApp sends a text message through the WhatsApp Cloud API
func (s *NotificationService) SendWhatsApp(ctx context.Context, to, message string) error {
	cfg := s.config.WhatsApp
	if !cfg.Enabled {
		s.metrics.RecordNotification(string(ChannelWhatsApp), "disabled")
		return fmt.Errorf("%w: %s", ErrChannelDisabled, ChannelWhatsApp)
	}
	if to == "" {
		return errors.New("whatsapp recipient is empty")
	}

	payload := whatsAppMessage{MessagingProduct: "whatsapp", To: normalizePhone(to), Type: "text"}
	payload.Text.Body = message
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(cfg.APIURL, "/"), cfg.PhoneNumberID)

	_, err = s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create whatsapp request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+cfg.AccessToken)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to send whatsapp request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("whatsapp api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		}
		return nil, nil
	})
	if err != nil {
		s.metrics.RecordNotification(string(ChannelWhatsApp), "failed")
		return err
	}

	s.metrics.RecordNotification(string(ChannelWhatsApp), "sent")
	s.logger.Infof("WhatsApp message sent successfully to %s", to)
	return nil
}

// normalizePhone strips formatting; the Cloud API expects digits only
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
