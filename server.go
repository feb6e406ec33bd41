package postwhite

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server is the Policy Server of §4.E: a bounded-concurrency accept loop
// that drives exactly one request through parse->decide->reply per
// connection, then closes it.
type Server struct {
	engine    *Engine
	templates atomic.Pointer[Templates]
	mailer    *Mailer
	cfg       *Config

	limiter *connLimiter
}

// NewServer bounds concurrency to cfg.MaxConnections, per §5.
func NewServer(engine *Engine, templates *Templates, mailer *Mailer, cfg *Config) *Server {
	s := &Server{
		engine:  engine,
		mailer:  mailer,
		cfg:     cfg,
		limiter: newConnLimiter(cfg),
	}
	s.templates.Store(templates)
	return s
}

// SetTemplates swaps in freshly loaded mail templates (messages.yml)
// without a daemon restart; the next dispatched advisory mail uses them.
func (s *Server) SetTemplates(templates *Templates) {
	s.templates.Store(templates)
}

// ReconsiderLimit wakes any Accept already blocked waiting for a free
// slot, so a config.yml reload that raises max-connections (§6) is felt
// immediately instead of only once some other connection happens to
// close.
func (s *Server) ReconsiderLimit() {
	s.limiter.mu.Lock()
	s.limiter.cond.Broadcast()
	s.limiter.mu.Unlock()
}

// Serve accepts connections until ctx is canceled or the listener fails.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		if !s.limiter.acquire(ctx) {
			conn.Close()
			return nil
		}

		go func() {
			defer s.limiter.release()
			s.handle(conn)
		}()
	}
}

// connLimiter bounds concurrent connections to cfg.MaxConnections, reading
// the field fresh on every wait instead of capturing it once at
// construction time, so a config.yml hot-reload (§6) takes effect on the
// very next Accept without restarting the server or resizing a
// fixed-capacity channel.
type connLimiter struct {
	mu   sync.Mutex
	cond *sync.Cond
	cur  int
	cfg  *Config
}

func newConnLimiter(cfg *Config) *connLimiter {
	l := &connLimiter{cfg: cfg}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// acquire blocks until a slot opens up under the live MaxConnections bound,
// or ctx is done, in which case it returns false.
func (l *connLimiter) acquire(ctx context.Context) bool {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.cond.Broadcast()
			l.mu.Unlock()
		case <-stop:
		}
	}()

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.cur >= l.cfg.MaxConnections {
		if ctx.Err() != nil {
			return false
		}
		l.cond.Wait()
	}
	if ctx.Err() != nil {
		return false
	}
	l.cur++
	return true
}

func (l *connLimiter) release() {
	l.mu.Lock()
	l.cur--
	l.cond.Broadcast()
	l.mu.Unlock()
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	logger := log.With().Str("remote", conn.RemoteAddr().String()).Logger()

	resp := s.process(&logger, conn)
	if _, err := conn.Write([]byte(resp)); err != nil {
		logger.Warn().Err(err).Msg("writing policy response")
	}
}

// process never panics or returns an internal error to the caller: any
// unexpected failure is converted to (DUNNO, "daemon error") here, the
// single recover+classify point §7 calls for.
func (s *Server) process(logger *zerolog.Logger, conn net.Conn) (resp string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("recovered in policy handler")
			resp = formatResponse(ActionDunno, "daemon error")
		}
	}()

	req, err := ParseRequest(conn)
	if err != nil {
		logger.Warn().Err(err).Msg("malformed request")
		return formatResponse(ActionDunno, "daemon error")
	}

	d := s.engine.Decide(req)
	logger.Info().
		Str("recipient", req.Recipient).
		Str("sender", req.Sender).
		Str("action", string(d.Action)).
		Bool("command", req.HasCmd).
		Msg("decision")

	if d.Mail != nil {
		s.dispatch(logger, req, d.Mail)
	}

	return formatResponse(d.Action, d.Message)
}

func (s *Server) dispatch(logger *zerolog.Logger, req *Request, mail *OutgoingMail) {
	messageID := fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), req.Instance, s.cfg.Host)
	now := func() string { return time.Now().Format(time.RFC1123Z) }

	msg, err := Build(s.templates.Load(), mail, s.cfg.Sender, messageID, now)
	if err != nil {
		logger.Warn().Err(err).Msg("rendering advisory mail")
		return
	}
	if err := s.mailer.Send(s.cfg.Sender, mail.To, msg); err != nil {
		logger.Warn().Err(err).Str("to", mail.To).Msg("sending advisory mail")
	}
}

// formatResponse renders the exact wire framing of §4.E/§6: one
// action=<ACTION> [msg] line, then a blank line.
func formatResponse(a Action, msg string) string {
	if msg == "" {
		return fmt.Sprintf("action=%s\n\n", a)
	}
	return fmt.Sprintf("action=%s %s\n\n", a, msg)
}
