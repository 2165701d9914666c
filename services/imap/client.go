package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailvault/mailvault/config"
	"github.com/mailvault/mailvault/interfaces"
	"github.com/mailvault/mailvault/internal/logger"
	"github.com/mailvault/mailvault/internal/models"
	"github.com/mailvault/mailvault/internal/tracing"
)

const commandTimeout = 30 * time.Second

type mailClient struct {
	cfg *config.ImapConfig
	log logger.Logger
}

func NewMailClient(cfg *config.ImapConfig, log logger.Logger) interfaces.MailClient {
	return &mailClient{cfg: cfg, log: log}
}

// Connect dials the configured server, logs the account in and optionally
// selects a folder. The returned session owns the connection exclusively.
func (m *mailClient) Connect(ctx context.Context, account *models.Account, folder string) (interfaces.MailSession, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "mailClient.Connect")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("server", m.cfg.Server)
	span.SetTag("port", m.cfg.Port)
	span.SetTag("tls", m.cfg.TLS)

	serverAddr := fmt.Sprintf("%s:%d", m.cfg.Server, m.cfg.Port)

	dialer := &net.Dialer{
		Timeout:   commandTimeout,
		KeepAlive: commandTimeout,
	}

	var c *client.Client
	var err error

	if m.cfg.TLS {
		tlsConfig := &tls.Config{
			ServerName: m.cfg.Server,
		}
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to connect to %s", serverAddr)
	}

	c.Timeout = commandTimeout
	err = c.Login(account.User, account.Password)
	c.Timeout = 0
	if err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "login failed for %s", account.User)
	}

	m.log.Debugf("Connected to %s as %s", serverAddr, account.User)

	sess := &session{c: c, log: m.log}
	if folder != "" {
		if _, err := sess.Select(ctx, folder); err != nil {
			sess.Close()
			return nil, err
		}
	}

	return sess, nil
}
