// Package shard owns a single gateway websocket connection: identify or
// resume, heartbeat, decode, and emit decoded events onto a channel shared
// with the owning cluster. Grounded on Sandwich-Producer's gateway/shard.go for
// the connect/heartbeat/close-code state machine and session.go for the
// gorilla/websocket + zlib transport (this project picks gorilla over the
// gateway/ package's nhooyr.io/websocket since session.go is the transport
// Sandwich-Producer actually wires end to end).
package shard

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"io"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/TheRockettek/sandwich-dispatch/internal/admission"
	"github.com/TheRockettek/sandwich-dispatch/internal/gatewayio"
)

// json aliases jsoniter the way Sandwich-Producer's gateway/consts.go does.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Close codes the gateway sends that mean "do not try to reconnect".
const (
	closeShardingRequired   = 4011
	closeAuthenticationFail = 4004
	closeInvalidShard       = 4010
)

// ErrReconnect signals the owning loop the shard wants a fresh connection
// attempt without being treated as a fatal failure.
var ErrReconnect = errors.New("shard: reconnect requested")

// Config bundles the shard-invariant settings a Shard needs to connect.
type Config struct {
	Token          string
	ShardID        int
	ShardCount     int
	Intents        int
	LargeThreshold int
	MaxHeartbeatMissed int
	Presence       *gatewayio.UpdateStatusData

	// Resume, when set, seeds the shard's session state so its first
	// connection attempt resumes instead of identifying fresh — the
	// restart-time half of the supervisor's resume mechanism.
	Resume gatewayio.ResumeSession
}

// Shard owns one gateway connection. Events decoded off the wire are sent on
// Events; the caller owns draining that channel.
type Shard struct {
	cfg   Config
	queue admission.Queue
	log   zerolog.Logger

	Events chan gatewayio.Event

	mu      sync.Mutex
	conn    *websocket.Conn
	seq     int64
	sessionID string

	lastAck  time.Time
	lastSent time.Time

	statusMu  sync.Mutex
	stage     string
	latencyMS int64
}

// Status is a point-in-time snapshot used by the periodic status dump job.
type Status struct {
	Stage     string
	LatencyMS int64
	LastAck   time.Time
}

// Status returns the shard's current stage and last observed heartbeat
// latency, matching original_source/src/cache.rs's run_jobs StatusInfo.
func (s *Shard) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return Status{Stage: s.stage, LatencyMS: s.latencyMS, LastAck: s.lastAck}
}

func (s *Shard) setStage(stage string) {
	s.statusMu.Lock()
	s.stage = stage
	s.statusMu.Unlock()
}

// Session returns the shard's current session ID and last sequence number,
// for the periodic session dump job.
func (s *Shard) Session() (sessionID string, sequence int64) {
	s.mu.Lock()
	id := s.sessionID
	s.mu.Unlock()
	return id, atomic.LoadInt64(&s.seq)
}

// ID returns the shard's ID within its bot-wide shard count.
func (s *Shard) ID() int {
	return s.cfg.ShardID
}

// New builds a Shard bound to an admission queue that rate-limits identify.
// If cfg.Resume carries a session, the shard's first connectAndServe call
// resumes that session rather than identifying fresh.
func New(cfg Config, queue admission.Queue, log zerolog.Logger) *Shard {
	s := &Shard{
		cfg:    cfg,
		queue:  queue,
		log:    log.With().Int("shard", cfg.ShardID).Logger(),
		Events: make(chan gatewayio.Event, 64),
	}
	if cfg.Resume.SessionID != "" {
		s.sessionID = cfg.Resume.SessionID
		s.seq = cfg.Resume.Sequence
	}
	return s
}

// Run connects and serves the shard until ctx is cancelled or a
// non-resumable close code is received.
func (s *Shard) Run(ctx context.Context, gatewayURL string) error {
	for {
		err := s.connectAndServe(ctx, gatewayURL)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.canContinue(err) {
			return err
		}
		s.setStage("reconnecting")
		s.emit(gatewayio.Event{ShardID: s.cfg.ShardID, Kind: gatewayio.KindShardReconnecting})
	}
}

func (s *Shard) connectAndServe(ctx context.Context, gatewayURL string) error {
	s.setStage("connecting")
	s.emit(gatewayio.Event{ShardID: s.cfg.ShardID, Kind: gatewayio.KindShardConnecting})

	if err := s.queue.Request(ctx, s.cfg.ShardID); err != nil {
		return err
	}

	header := http.Header{}
	header.Add("Accept-Encoding", "zlib")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, gatewayURL, header)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	s.setStage("connected")
	s.emit(gatewayio.Event{ShardID: s.cfg.ShardID, Kind: gatewayio.KindShardConnected})

	hello, err := s.readHello()
	if err != nil {
		return err
	}
	interval := time.Duration(hello.HeartbeatIntervalMS) * time.Millisecond
	s.emit(gatewayio.Event{ShardID: s.cfg.ShardID, Kind: gatewayio.KindGatewayHello, HeartbeatInterval: interval})

	resuming := s.sessionID != "" && atomic.LoadInt64(&s.seq) != 0
	if resuming {
		s.setStage("resuming")
		s.emit(gatewayio.Event{ShardID: s.cfg.ShardID, Kind: gatewayio.KindShardResuming})
		if err := s.writeOp(gatewayio.OpResume, gatewayio.Resume{
			Token:     s.cfg.Token,
			SessionID: s.sessionID,
			Sequence:  atomic.LoadInt64(&s.seq),
		}); err != nil {
			return err
		}
	} else {
		s.setStage("identifying")
		s.emit(gatewayio.Event{ShardID: s.cfg.ShardID, Kind: gatewayio.KindShardIdentifying})
		if err := s.writeOp(gatewayio.OpIdentify, s.identify()); err != nil {
			return err
		}
	}

	return s.loop(ctx, interval)
}

func (s *Shard) loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	maxMissed := s.cfg.MaxHeartbeatMissed
	if maxMissed <= 0 {
		maxMissed = 5
	}
	deadline := interval * time.Duration(maxMissed)
	s.lastAck = time.Now().UTC()

	frames := make(chan frame, 1)
	readErrs := make(chan error, 1)
	go s.readLoop(frames, readErrs)

	for {
		select {
		case <-ctx.Done():
			s.closeWithCode(websocket.CloseNormalClosure)
			return ctx.Err()

		case <-ticker.C:
			if time.Since(s.lastAck) > deadline {
				s.closeWithCode(4000)
				return ErrReconnect
			}
			s.lastSent = time.Now().UTC()
			if err := s.writeOp(gatewayio.OpHeartbeat, atomic.LoadInt64(&s.seq)); err != nil {
				return err
			}

		case err := <-readErrs:
			return err

		case f := <-frames:
			if err := s.handleFrame(f); err != nil {
				return err
			}
		}
	}
}

type frame struct {
	payload gatewayio.Payload
}

func (s *Shard) readLoop(frames chan<- frame, errs chan<- error) {
	for {
		payload, err := s.readPayload()
		if err != nil {
			errs <- err
			return
		}
		frames <- frame{payload: payload}
	}
}

func (s *Shard) handleFrame(f frame) error {
	p := f.payload
	if p.Sequence != 0 {
		atomic.StoreInt64(&s.seq, p.Sequence)
	}

	switch p.Op {
	case gatewayio.OpHeartbeatAck:
		s.lastAck = time.Now().UTC()
		s.statusMu.Lock()
		if !s.lastSent.IsZero() {
			s.latencyMS = s.lastAck.Sub(s.lastSent).Milliseconds()
		}
		s.statusMu.Unlock()
		return nil

	case gatewayio.OpReconnect:
		return ErrReconnect

	case gatewayio.OpInvalidSession:
		var resumable bool
		_ = json.Unmarshal(p.Data, &resumable)
		s.emit(gatewayio.Event{ShardID: s.cfg.ShardID, Kind: gatewayio.KindGatewayInvalidateSession, InvalidateResumable: resumable})
		if !resumable {
			s.sessionID = ""
			atomic.StoreInt64(&s.seq, 0)
		}
		return ErrReconnect

	case gatewayio.OpDispatch:
		return s.handleDispatch(p)
	}

	return nil
}

func (s *Shard) handleDispatch(p gatewayio.Payload) error {
	switch p.Type {
	case "READY":
		var ready gatewayio.ReadyData
		if err := json.Unmarshal(p.Data, &ready); err != nil {
			return err
		}
		s.sessionID = ready.SessionID
		s.emit(gatewayio.Event{ShardID: s.cfg.ShardID, Kind: gatewayio.KindReady, ReadyData: &ready})

	case "RESUMED":
		s.emit(gatewayio.Event{ShardID: s.cfg.ShardID, Kind: gatewayio.KindResumed})
	}

	// The republished frame carries op, t and d only; the sequence number
	// stays with the shard.
	p.Sequence = 0
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	s.emit(gatewayio.Event{ShardID: s.cfg.ShardID, Kind: gatewayio.KindShardPayload, RawPayload: raw})
	return nil
}

func (s *Shard) readHello() (gatewayio.Hello, error) {
	var hello gatewayio.Hello
	payload, err := s.readPayload()
	if err != nil {
		return hello, err
	}
	if err := json.Unmarshal(payload.Data, &hello); err != nil {
		return hello, err
	}
	return hello, nil
}

func (s *Shard) readPayload() (gatewayio.Payload, error) {
	var payload gatewayio.Payload

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return payload, errors.New("shard: not connected")
	}

	mt, data, err := conn.ReadMessage()
	if err != nil {
		return payload, err
	}

	if mt == websocket.BinaryMessage {
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return payload, err
		}
		defer r.Close()
		data, err = io.ReadAll(r)
		if err != nil {
			return payload, err
		}
	}

	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

// Send writes an arbitrary opcode/data pair to the shard's connection. It is
// exported for the command router (gateway.send "Send" commands) and the
// pump's member-request pacer (OpRequestGuildMembers).
func (s *Shard) Send(op gatewayio.Op, data interface{}) error {
	return s.writeOp(op, data)
}

// Shutdown closes the underlying connection with code 4000, matching
// Sandwich-Producer's Close(4000) and the router's Reconnect command. The
// session is kept and canContinue treats 4000 as retryable, so Run
// reconnects and resumes.
func (s *Shard) Shutdown() {
	s.closeWithCode(4000)
}

func (s *Shard) writeOp(op gatewayio.Op, data interface{}) error {
	payload := struct {
		Op   gatewayio.Op `json:"op"`
		Data interface{}  `json:"d"`
	}{Op: op, Data: data}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("shard: not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, encoded)
}

func (s *Shard) identify() gatewayio.Identify {
	return gatewayio.Identify{
		Token: s.cfg.Token,
		Properties: gatewayio.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "sandwich-dispatch",
			Device:  "sandwich-dispatch",
		},
		Compress:       false,
		LargeThreshold: s.cfg.LargeThreshold,
		Shard:          [2]int{s.cfg.ShardID, s.cfg.ShardCount},
		Presence:       s.cfg.Presence,
		Intents:        s.cfg.Intents,
	}
}

func (s *Shard) closeWithCode(code int) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.setStage("disconnected")
	s.emit(gatewayio.Event{ShardID: s.cfg.ShardID, Kind: gatewayio.KindShardDisconnected, DisconnectCode: code})
}

// canContinue mirrors Sandwich-Producer's canContinue: every close code is
// retryable except the handful Discord defines as terminal.
func (s *Shard) canContinue(err error) bool {
	if err == nil || err == ErrReconnect {
		return true
	}
	if ce, ok := err.(*websocket.CloseError); ok {
		switch ce.Code {
		case closeShardingRequired, closeAuthenticationFail, closeInvalidShard, websocket.CloseNormalClosure:
			return false
		}
	}
	return true
}

func (s *Shard) emit(ev gatewayio.Event) {
	select {
	case s.Events <- ev:
	default:
		s.log.Warn().Str("kind", ev.Kind.String()).Msg("event channel full, dropping lifecycle event")
	}
}
