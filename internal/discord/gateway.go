// Package discord receives channel messages from the Discord gateway.
//
// Listener holds one gateway session at a time: it identifies with the bot
// token, keeps the heartbeat going and hands every MESSAGE_CREATE to a
// Handler on its own goroutine. Dropped sessions are resumed from the last
// sequence number when the gateway allows it, so alerts sent during a
// reconnect are replayed rather than lost. Reconnects use exponential
// backoff; tokens or intents the gateway rejects stop the listener for good.
package discord

import (
	"context"
	"encoding/json"
	"net/url"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"alertbridge/internal/errors"
	"alertbridge/pkg/utils"
)

// DefaultGatewayURL is the public gateway endpoint for API v10.
const DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Gateway intents: GUILD_MESSAGES and MESSAGE_CONTENT.
const (
	IntentGuildMessages  = 1 << 9
	IntentMessageContent = 1 << 15
	DefaultIntents       = IntentGuildMessages | IntentMessageContent
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatACK   = 11
)

const (
	helloTimeout = 10 * time.Second
	writeTimeout = 10 * time.Second
	maxFrameSize = 4 << 20
	// A session that lived this long resets the backoff.
	stableSession = time.Minute
)

var (
	errReconnect      = errors.New("gateway requested reconnect")
	errInvalidSession = errors.New("gateway invalidated session, resumable")
	errZombie         = errors.New("heartbeat not acknowledged")
)

// Message is a channel message as delivered by MESSAGE_CREATE.
type Message struct {
	ID         string
	ChannelID  string
	GuildID    string
	AuthorID   string
	AuthorName string
	AuthorBot  bool
	Content    string
	Timestamp  time.Time
}

// Handler receives messages. OnMessage is called concurrently.
type Handler interface {
	OnMessage(ctx context.Context, msg Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message)

// OnMessage implements Handler.
func (f HandlerFunc) OnMessage(ctx context.Context, msg Message) { f(ctx, msg) }

// Config holds listener configuration.
type Config struct {
	Token      string
	GatewayURL string
	Intents    int
	Backoff    utils.BackoffConfig
}

// Listener maintains the gateway connection.
type Listener struct {
	cfg     Config
	handler Handler
	dialer  *websocket.Dialer
	log     zerolog.Logger

	seq      atomic.Int64
	acked    atomic.Bool
	inflight sync.WaitGroup

	// Set by READY, cleared when the gateway refuses a resume. Only the Run
	// goroutine touches them.
	sessionID string
	resumeURL string
}

// NewListener creates a Listener delivering to handler.
func NewListener(cfg Config, handler Handler, logger zerolog.Logger) *Listener {
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
	}
	if cfg.Intents == 0 {
		cfg.Intents = DefaultIntents
	}
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff = utils.DefaultBackoffConfig()
	}
	return &Listener{
		cfg:     cfg,
		handler: handler,
		dialer:  &websocket.Dialer{HandshakeTimeout: helloTimeout, Proxy: websocket.DefaultDialer.Proxy},
		log:     logger.With().Str("component", "discord").Logger(),
	}
}

// Run connects and processes events until ctx is cancelled or the gateway
// rejects the credentials. It waits for in-flight handlers before returning.
func (l *Listener) Run(ctx context.Context) error {
	defer l.inflight.Wait()

	attempt := 0
	for {
		started := time.Now()
		err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if fatal := fatalClose(err); fatal != nil {
			l.log.Error().Err(err).Msg("Gateway rejected the session")
			return fatal
		}
		if !resumable(err) {
			l.forgetSession()
		}

		if time.Since(started) > stableSession {
			attempt = 0
		}
		delay := l.cfg.Backoff.Delay(attempt)
		if errors.Is(err, errReconnect) {
			delay = 0
		}
		attempt++

		l.log.Warn().Err(err).Dur("retry_in", delay).Int("attempt", attempt).Msg("Gateway session ended")
		if err := utils.Wait(ctx, delay); err != nil {
			return err
		}
	}
}

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

type outgoing struct {
	Op int         `json:"op"`
	D  interface{} `json:"d"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
	User             struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

type messageData struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
}

// conn serialises writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(op int, d interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(outgoing{Op: op, D: d})
}

func (c *conn) read() (payload, error) {
	var p payload
	err := c.ws.ReadJSON(&p)
	return p, err
}

func (l *Listener) session(ctx context.Context) error {
	gatewayURL := l.cfg.GatewayURL
	if l.sessionID != "" && l.resumeURL != "" {
		gatewayURL = withQuery(l.resumeURL, l.cfg.GatewayURL)
	}

	ws, _, err := l.dialer.DialContext(ctx, gatewayURL, nil)
	if err != nil {
		if gatewayURL != l.cfg.GatewayURL {
			// Unreachable resume host: start over on the configured gateway.
			l.forgetSession()
		}
		return errors.Wrap(errors.ErrConnectionFailed, err.Error())
	}
	ws.SetReadLimit(maxFrameSize)
	c := &conn{ws: ws}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sctx.Done()
		ws.Close()
	}()

	_ = ws.SetReadDeadline(time.Now().Add(helloTimeout))
	hello, err := c.read()
	if err != nil {
		return errors.Wrap(err, "waiting for hello")
	}
	var h helloData
	if hello.Op != opHello || json.Unmarshal(hello.D, &h) != nil || h.HeartbeatInterval <= 0 {
		return errors.Wrapf(errors.ErrUnexpectedResponse, "expected hello, got op %d", hello.Op)
	}
	_ = ws.SetReadDeadline(time.Time{})

	if l.sessionID != "" {
		seq := l.seq.Load()
		l.log.Info().Str("session_id", l.sessionID).Int64("seq", seq).Msg("Resuming gateway session")
		if err := c.write(opResume, resumeData{Token: l.cfg.Token, SessionID: l.sessionID, Seq: seq}); err != nil {
			return errors.Wrap(err, "sending resume")
		}
	} else {
		if err := c.write(opIdentify, identifyData{
			Token:   l.cfg.Token,
			Intents: l.cfg.Intents,
			Properties: identifyProperties{
				OS:      runtime.GOOS,
				Browser: "alertbridge",
				Device:  "alertbridge",
			},
		}); err != nil {
			return errors.Wrap(err, "sending identify")
		}
		l.seq.Store(0)
	}

	l.acked.Store(true)
	hbErr := make(chan error, 1)
	go l.heartbeat(sctx, c, time.Duration(h.HeartbeatInterval)*time.Millisecond, hbErr)

	for {
		p, err := c.read()
		if err != nil {
			select {
			case hb := <-hbErr:
				return hb
			default:
			}
			return err
		}
		if p.S != nil {
			l.seq.Store(*p.S)
		}

		switch p.Op {
		case opDispatch:
			l.dispatch(ctx, p)
		case opHeartbeat:
			if err := c.write(opHeartbeat, l.lastSeq()); err != nil {
				return err
			}
		case opHeartbeatACK:
			l.acked.Store(true)
		case opReconnect:
			return errReconnect
		case opInvalidSession:
			var canResume bool
			_ = json.Unmarshal(p.D, &canResume)
			if !canResume {
				l.forgetSession()
				return errors.Wrap(errors.ErrSessionExpired, "gateway invalidated session")
			}
			return errInvalidSession
		}
	}
}

func (l *Listener) heartbeat(ctx context.Context, c *conn, interval time.Duration, errc chan<- error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.acked.Swap(false) {
				errc <- errZombie
				c.ws.Close()
				return
			}
			if err := c.write(opHeartbeat, l.lastSeq()); err != nil {
				errc <- errors.Wrap(err, "sending heartbeat")
				c.ws.Close()
				return
			}
		}
	}
}

func (l *Listener) lastSeq() interface{} {
	if s := l.seq.Load(); s > 0 {
		return s
	}
	return nil
}

func (l *Listener) dispatch(ctx context.Context, p payload) {
	switch p.T {
	case "READY":
		var r readyData
		if err := json.Unmarshal(p.D, &r); err == nil {
			l.sessionID = r.SessionID
			l.resumeURL = r.ResumeGatewayURL
			l.log.Info().Str("user", r.User.Username).Str("session_id", r.SessionID).Msg("Connected to Discord gateway")
		}
	case "RESUMED":
		l.log.Info().Str("session_id", l.sessionID).Int64("seq", l.seq.Load()).Msg("Resumed gateway session")
	case "MESSAGE_CREATE":
		var m messageData
		if err := json.Unmarshal(p.D, &m); err != nil {
			l.log.Warn().Err(err).Msg("Undecodable MESSAGE_CREATE")
			return
		}
		msg := Message{
			ID:         m.ID,
			ChannelID:  m.ChannelID,
			GuildID:    m.GuildID,
			AuthorID:   m.Author.ID,
			AuthorName: m.Author.Username,
			AuthorBot:  m.Author.Bot,
			Content:    m.Content,
		}
		if ts, err := time.Parse(time.RFC3339, m.Timestamp); err == nil {
			msg.Timestamp = ts
		}

		l.inflight.Add(1)
		go func() {
			defer l.inflight.Done()
			l.handler.OnMessage(ctx, msg)
		}()
	}
}

func (l *Listener) forgetSession() {
	l.sessionID = ""
	l.resumeURL = ""
}

// resumable reports whether the next connection may resume the session err
// ended. Invalid sequence (4007) and session timeout (4009) closes, and a
// non-resumable INVALID_SESSION, require a fresh identify.
func resumable(err error) bool {
	if errors.Is(err, errors.ErrSessionExpired) {
		return false
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case 4007, 4009:
			return false
		}
	}
	return true
}

// withQuery returns resume with the version and encoding query of the
// configured gateway URL; READY hands out a bare host.
func withQuery(resume, configured string) string {
	u, err := url.Parse(resume)
	if err != nil {
		return configured
	}
	if c, err := url.Parse(configured); err == nil && u.RawQuery == "" {
		u.RawQuery = c.RawQuery
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// fatalClose maps close codes that reconnecting cannot fix to an error.
func fatalClose(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return nil
	}
	switch ce.Code {
	case 4004:
		return errors.Wrap(errors.ErrInvalidCredentials, "discord authentication failed")
	case 4010, 4011, 4012, 4013, 4014:
		return errors.Wrapf(errors.ErrConnectionFailed, "discord closed the gateway: %d %s", ce.Code, ce.Text)
	}
	return nil
}
