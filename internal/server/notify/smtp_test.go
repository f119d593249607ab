package notify

import (
	"context"
	"errors"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestSMTPSender(t *testing.T, cfg SMTPConfig, sent *[]sentMail, sendErr error) *SMTPSender {
	t.Helper()
	s, err := NewSMTPSender(cfg)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) }
	s.sendMail = func(_ context.Context, addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*sent = append(*sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return sendErr
	}
	return s
}

func configured() SMTPConfig {
	return SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		User:     "mailer",
		Password: "pw",
		From:     "Eruptible PM <noreply@eruptible.co.uk>",
	}
}

func TestSMTPSender_Send(t *testing.T) {
	var sent []sentMail
	s := newTestSMTPSender(t, configured(), &sent, nil)

	err := s.Send(context.Background(), "alice@example.com", KindPasswordChanged, Data{Username: "alice"})
	require.NoError(t, err)

	require.Len(t, sent, 1)
	assert.Equal(t, "smtp.example.com:587", sent[0].addr)
	assert.Equal(t, "noreply@eruptible.co.uk", sent[0].from)
	assert.Equal(t, []string{"alice@example.com"}, sent[0].to)
	assert.Contains(t, sent[0].msg, "Subject: Password Changed - Eruptible PM\r\n")
	assert.Contains(t, sent[0].msg, "To: alice@example.com\r\n")
	assert.Contains(t, sent[0].msg, "multipart/alternative")
	assert.Contains(t, sent[0].msg, "text/plain; charset=UTF-8")
	assert.Contains(t, sent[0].msg, "text/html; charset=UTF-8")
}

func TestSMTPSender_NotConfigured(t *testing.T) {
	var sent []sentMail
	cfg := configured()
	cfg.Password = ""
	s := newTestSMTPSender(t, cfg, &sent, nil)

	err := s.Send(context.Background(), "a@b.c", KindPasswordChanged, Data{Username: "a"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Empty(t, sent)
}

func TestSMTPSender_TransportError(t *testing.T) {
	var sent []sentMail
	boom := errors.New("connection refused")
	s := newTestSMTPSender(t, configured(), &sent, boom)

	err := s.Send(context.Background(), "a@b.c", KindTwoFactorEnabled, Data{Username: "a"})
	assert.ErrorIs(t, err, boom)
}

func TestSMTPSender_CanceledContext(t *testing.T) {
	var sent []sentMail
	s := newTestSMTPSender(t, configured(), &sent, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Send(ctx, "a@b.c", KindPasswordChanged, Data{Username: "a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sent)
}

func TestNewSMTPSender_BadFrom(t *testing.T) {
	cfg := configured()
	cfg.From = "not an address"
	_, err := NewSMTPSender(cfg)
	assert.Error(t, err)
}

type receivedMail struct {
	from string
	rcpt string
	data string
}

// serveSMTP answers one plain-text SMTP session on a loopback listener and
// reports what it received once the client quits.
func serveSMTP(t *testing.T) (int, <-chan receivedMail) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan receivedMail, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 localhost ESMTP")

		var m receivedMail
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			verb, arg, _ := strings.Cut(line, " ")
			switch strings.ToUpper(verb) {
			case "EHLO":
				_ = tp.PrintfLine("250-localhost")
				_ = tp.PrintfLine("250 AUTH PLAIN")
			case "AUTH":
				_ = tp.PrintfLine("235 2.7.0 authenticated")
			case "MAIL":
				m.from = arg
				_ = tp.PrintfLine("250 2.1.0 ok")
			case "RCPT":
				m.rcpt = arg
				_ = tp.PrintfLine("250 2.1.5 ok")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				b, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				m.data = string(b)
				_ = tp.PrintfLine("250 2.0.0 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 2.0.0 bye")
				got <- m
				return
			default:
				_ = tp.PrintfLine("502 5.5.1 unrecognized")
			}
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, got
}

func TestSMTPSender_DeliversOverSession(t *testing.T) {
	port, got := serveSMTP(t)

	cfg := configured()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	s, err := NewSMTPSender(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Send(ctx, "alice@example.com", KindPasswordChanged, Data{Username: "alice"}))

	select {
	case m := <-got:
		assert.Contains(t, m.from, "<noreply@eruptible.co.uk>")
		assert.Contains(t, m.rcpt, "<alice@example.com>")
		assert.Contains(t, m.data, "Subject: Password Changed - Eruptible PM")
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw QUIT")
	}
}

// silentListener accepts connections and never writes the SMTP greeting.
func silentListener(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	held := make(chan net.Conn, 4)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			held <- c
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		for {
			select {
			case c := <-held:
				_ = c.Close()
			default:
				return
			}
		}
	})
	return ln.Addr().(*net.TCPAddr).Port
}

func TestSMTPSender_SilentServerHonoursDeadline(t *testing.T) {
	cfg := configured()
	cfg.Host = "127.0.0.1"
	cfg.Port = silentListener(t)
	s, err := NewSMTPSender(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = s.Send(ctx, "a@b.c", KindPasswordChanged, Data{Username: "a"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSMTPSender_SilentServerHonoursCancel(t *testing.T) {
	cfg := configured()
	cfg.Host = "127.0.0.1"
	cfg.Port = silentListener(t)
	s, err := NewSMTPSender(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	err = s.Send(ctx, "a@b.c", KindPasswordChanged, Data{Username: "a"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
