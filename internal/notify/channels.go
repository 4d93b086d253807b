package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// LogChannel writes every notification to the log.
type LogChannel struct {
	logger zerolog.Logger
}

func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger.With().Str("channel", "log").Logger()}
}

func (c *LogChannel) Name() string                { return "log" }
func (c *LogChannel) Accepts(_ Notification) bool { return true }

func (c *LogChannel) Deliver(_ context.Context, n Notification) error {
	c.logger.Info().
		Str("kind", n.Kind).
		Str("code", n.Code).
		Bool("staff", n.Staff).
		Str("phone", n.Recipient.Phone).
		Str("email", n.Recipient.Email).
		Msg(n.Subject)
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPChannel emails guests that left an address.
type SMTPChannel struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPChannel(cfg SMTPConfig) *SMTPChannel {
	return &SMTPChannel{cfg: cfg, send: smtp.SendMail}
}

func (c *SMTPChannel) Name() string { return "smtp" }

func (c *SMTPChannel) Accepts(n Notification) bool {
	return !n.Staff && n.Recipient.Email != ""
}

func (c *SMTPChannel) Deliver(_ context.Context, n Notification) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		c.cfg.From, n.Recipient.Email, n.Subject, n.Body)

	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	if err := c.send(addr, auth, c.cfg.From, []string{n.Recipient.Email}, []byte(msg)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// amqpPublisher is the subset of *amqp.Channel used for publishing.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPChannel publishes notifications as JSON for an SMS gateway or other
// downstream consumer.
type AMQPChannel struct {
	conn     *amqp.Connection
	ch       amqpPublisher
	exchange string
	key      string
}

// amqpMessage is the published payload.
type amqpMessage struct {
	Kind    string    `json:"kind"`
	Code    string    `json:"code,omitempty"`
	Staff   bool      `json:"staff"`
	Name    string    `json:"name,omitempty"`
	Phone   string    `json:"phone,omitempty"`
	Email   string    `json:"email,omitempty"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// DialAMQP connects and declares a durable queue. With an empty exchange
// messages go straight to the queue through the default exchange.
func DialAMQP(url, exchange, queue string) (*AMQPChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	key := queue
	if exchange != "" {
		if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
		if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return &AMQPChannel{conn: conn, ch: ch, exchange: exchange, key: key}, nil
}

func (c *AMQPChannel) Name() string { return "amqp" }

func (c *AMQPChannel) Accepts(n Notification) bool {
	return n.Staff || n.Recipient.Phone != ""
}

func (c *AMQPChannel) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(amqpMessage{
		Kind:    n.Kind,
		Code:    n.Code,
		Staff:   n.Staff,
		Name:    n.Recipient.Name,
		Phone:   n.Recipient.Phone,
		Email:   n.Recipient.Email,
		Subject: n.Subject,
		Body:    n.Body,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: encode message: %v", ErrPermanent, err)
	}
	err = c.ch.PublishWithContext(ctx, c.exchange, c.key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (c *AMQPChannel) Close() error {
	var errs []error
	if c.ch != nil {
		errs = append(errs, c.ch.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}

// telegramSender is the subset of *tgbotapi.BotAPI used for sending.
type telegramSender interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel sends staff alerts to the floor chats and guest messages
// to guests who subscribed through the bot.
type TelegramChannel struct {
	api        telegramSender
	staffChats []int64
}

func NewTelegramChannel(token string, staffChats []int64) (*TelegramChannel, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &TelegramChannel{api: api, staffChats: staffChats}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Accepts(n Notification) bool {
	if n.Staff {
		return len(c.staffChats) > 0
	}
	return n.Recipient.SubscriberID != nil
}

func (c *TelegramChannel) Deliver(_ context.Context, n Notification) error {
	chats := c.staffChats
	if !n.Staff {
		chats = []int64{*n.Recipient.SubscriberID}
	}
	text := n.Subject
	if n.Body != "" {
		text = strings.TrimSpace(n.Subject + "\n\n" + n.Body)
	}
	for _, chat := range chats {
		if _, err := c.api.Send(tgbotapi.NewMessage(chat, text)); err != nil {
			return translateTelegram(err)
		}
	}
	return nil
}

// translateTelegram maps API errors onto retry decisions: 429 waits for the
// advertised delay, 403 (bot blocked) and 400 are not retried.
func translateTelegram(err error) error {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return err
	}
	switch tgErr.Code {
	case 429:
		return &RetryAfterError{After: time.Duration(tgErr.RetryAfter) * time.Second, Err: err}
	case 403:
		return fmt.Errorf("%w: user blocked bot: %v", ErrPermanent, err)
	case 400:
		return fmt.Errorf("%w: bad request: %v", ErrPermanent, err)
	}
	return err
}
