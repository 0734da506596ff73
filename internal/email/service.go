package email

import (
	"errors"
	"fmt"
	"net/smtp"

	"github.com/example/ec-storefront/internal/domain/order"
)

var ErrNoRecipient = errors.New("email: no recipient")

// SendFunc delivers a raw RFC 822 message. smtp.SendMail satisfies it.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service handles email sending via SMTP
type Service struct {
	host string
	port string
	from string
	send SendFunc
}

// NewService creates a new email service
func NewService(host, port, from string) *Service {
	return &Service{
		host: host,
		port: port,
		from: from,
		send: smtp.SendMail,
	}
}

// WithSender replaces the SMTP transport.
func (s *Service) WithSender(send SendFunc) *Service {
	s.send = send
	return s
}

func (s *Service) SendOrderPaid(e order.OrderPaid) error {
	return s.deliver(e.Email, BuildOrderPaid(e))
}

func (s *Service) SendOrderShipped(e order.OrderShipped) error {
	return s.deliver(e.Email, BuildOrderShipped(e))
}

func (s *Service) SendOrderDelivered(e order.OrderDelivered) error {
	return s.deliver(e.Email, BuildOrderDelivered(e))
}

func (s *Service) SendOrderCancelled(e order.OrderCancelled) error {
	return s.deliver(e.Email, BuildOrderCancelled(e))
}

func (s *Service) deliver(to string, m Message) error {
	if to == "" {
		return ErrNoRecipient
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		s.from, to, m.Subject, m.Body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return s.send(addr, nil, s.from, []string{to}, []byte(msg))
}
