package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/events"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/flow"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/generator"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/runner"
)

// Inbound event types.
const (
	inScanDirectory   = "scan-directory"
	inGetFileContent  = "get-file-content"
	inGenerateTests   = "generate-tests"
	inCreateTestFile  = "create-test-file"
	inExecuteTest     = "execute-test"
	inExecuteAllTests = "execute-all-tests"
	inFixTestError    = "fix-test-error"
	inStartFlow       = "start-flow"
	inPauseFlow       = "pause-flow"
	inResumeFlow      = "resume-flow"
	inCancelFlow      = "cancel-flow"
	inCancelTest      = "cancel-test"
	inPing            = "ping"
)

// Connection-level outbound types that do not travel on the bus.
const (
	outConnected = "connected"
	outPong      = "pong"
	outError     = "error"
)

const (
	readLimit  = 4 << 20
	readIdle   = 60 * time.Second
	pingEvery  = readIdle * 9 / 10
	writeLimit = 10 * time.Second
)

// message is the {type, data} envelope for inbound traffic.
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SafeConn serialises writes to a WebSocket connection.
type SafeConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// NewSafeConn wraps conn.
func NewSafeConn(conn *websocket.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// WriteJSON writes v, ignoring writes after Close.
func (c *SafeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeLimit))
	return c.conn.WriteJSON(v)
}

// Ping sends a ping control frame.
func (c *SafeConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeLimit))
}

// Close closes the connection once.
func (c *SafeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

// client is one WebSocket connection and the flow sessions it started.
type client struct {
	id   string
	conn *SafeConn
	srv  *Server
	ctx  context.Context

	mu    sync.Mutex
	flows map[string]*flow.Session
}

func (c *client) send(eventType, key string, data any) {
	ev := events.Event{Type: eventType, Key: key, Timestamp: time.Now(), Data: data}
	if err := c.conn.WriteJSON(ev); err != nil {
		c.srv.Logger.Debug("websocket write", "client", c.id, "error", err)
	}
}

func (c *client) fail(inType string, err error) {
	c.send(outError, "", map[string]string{"event": inType, "error": err.Error()})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade", "error", err)
		return
	}
	safe := NewSafeConn(conn)
	defer safe.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	c := &client{id: "ws_" + ulid.Make().String(), conn: safe, srv: s, ctx: ctx, flows: make(map[string]*flow.Session)}
	defer c.cancelFlows()

	var evCh <-chan events.Event
	if s.Bus != nil {
		evCh = s.Bus.Subscribe(c.id)
		defer s.Bus.Unsubscribe(c.id)
	}
	s.Logger.Info("websocket connected", "client", c.id)
	c.send(outConnected, "", map[string]string{"connectionId": c.id})

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadLimit(readLimit)
		_ = conn.SetReadDeadline(time.Now().Add(readIdle))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readIdle))
		})
		for {
			var msg message
			if err := conn.ReadJSON(&msg); err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					s.Logger.Debug("websocket idle", "client", c.id)
				} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.Logger.Warn("websocket read", "client", c.id, "error", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readIdle))
			c.handle(msg)
		}
	}()

	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-ping.C:
			if err := safe.Ping(); err != nil {
				return
			}
		case ev, ok := <-evCh:
			if !ok {
				return
			}
			if err := safe.WriteJSON(ev); err != nil {
				s.Logger.Debug("websocket write", "client", c.id, "error", err)
				return
			}
		case <-readDone:
			s.Logger.Info("websocket disconnected", "client", c.id)
			return
		}
	}
}

// handle dispatches one inbound message. Long-running work runs on its own
// goroutine so the read loop keeps serving cancel and pause requests.
func (c *client) handle(msg message) {
	s := c.srv
	switch msg.Type {
	case inPing:
		c.send(outPong, "", map[string]int64{"timestamp": time.Now().Unix()})

	case inScanDirectory:
		var req scanRequest
		if !c.decode(msg, &req) {
			return
		}
		opts, err := req.options()
		if err != nil {
			c.fail(msg.Type, fmt.Errorf("invalid options: %w", err))
			return
		}
		go s.Scanner.Scan(c.ctx, req.DirectoryPath, opts)

	case inGetFileContent:
		var req struct {
			FilePath string `json:"filePath"`
		}
		if !c.decode(msg, &req) {
			return
		}
		data, err := os.ReadFile(req.FilePath)
		if err != nil {
			c.send(events.FileReadError, req.FilePath, map[string]string{"filePath": req.FilePath, "error": err.Error()})
			return
		}
		c.send(events.FileContent, req.FilePath, map[string]string{"filePath": req.FilePath, "content": string(data)})

	case inGenerateTests:
		var req struct {
			Files   []string `json:"files"`
			Options struct {
				Concurrency int  `json:"concurrency"`
				WriteFiles  bool `json:"writeFiles"`
			} `json:"options"`
		}
		if !c.decode(msg, &req) {
			return
		}
		n := req.Options.Concurrency
		if n <= 0 {
			n = s.Concurrency
		}
		go func() {
			results := s.Generator.GenerateBatch(c.ctx, req.Files, n)
			if !req.Options.WriteFiles {
				return
			}
			for _, res := range results {
				if res.Err != nil {
					continue
				}
				path, err := s.Layout.TestPath(res.FilePath)
				if err == nil {
					err = s.Writer.Write(path, res.Artifact.TestCode)
				}
				c.fileWritten(path, err)
			}
		}()

	case inCreateTestFile:
		var req struct {
			FilePath string `json:"filePath"`
			Content  string `json:"content"`
		}
		if !c.decode(msg, &req) {
			return
		}
		c.fileWritten(req.FilePath, s.Writer.Write(req.FilePath, req.Content))

	case inExecuteTest:
		var req struct {
			FilePath         string `json:"filePath"`
			TestCode         string `json:"testCode"`
			OriginalFilePath string `json:"originalFilePath"`
		}
		if !c.decode(msg, &req) {
			return
		}
		go c.executeTest(req.FilePath, req.TestCode, req.OriginalFilePath)

	case inExecuteAllTests:
		var req struct {
			ProjectPath string `json:"projectPath"`
		}
		if !c.decode(msg, &req) {
			return
		}
		go func() {
			if _, err := s.Runner.ExecuteAll(c.ctx, runner.AllRequest{ProjectPath: req.ProjectPath}); err != nil {
				c.send(events.AllTestsError, runner.AllKey, runner.ErrorInfo{Key: runner.AllKey, Error: err.Error()})
			}
		}()

	case inCancelTest:
		var req struct {
			FilePath string `json:"filePath"`
		}
		if !c.decode(msg, &req) {
			return
		}
		key := runner.AllKey
		if req.FilePath != "" && req.FilePath != runner.AllKey {
			key = runner.Key(req.FilePath)
		}
		s.Runner.Cancel(key)

	case inFixTestError:
		var req generator.FixRequest
		if !c.decode(msg, &req) {
			return
		}
		// Fix reports its own failure on the bus.
		go func() { _, _ = s.Generator.Fix(c.ctx, req) }()

	case inStartFlow:
		var req flowRequest
		if !c.decode(msg, &req) {
			return
		}
		c.startFlow(req.Files)

	case inPauseFlow, inResumeFlow, inCancelFlow:
		var req flowRequest
		if len(msg.Data) > 0 && !c.decode(msg, &req) {
			return
		}
		c.flowControl(msg.Type, req.SessionID)

	default:
		c.fail(msg.Type, fmt.Errorf("unknown event type %q", msg.Type))
	}
}

func (c *client) decode(msg message, v any) bool {
	if len(msg.Data) == 0 {
		msg.Data = []byte("{}")
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		c.fail(msg.Type, fmt.Errorf("invalid payload: %w", err))
		return false
	}
	return true
}

func (c *client) fileWritten(path string, err error) {
	if err != nil {
		c.send(events.FileError, path, map[string]string{"filePath": path, "error": err.Error()})
		return
	}
	c.send(events.FileCreated, path, map[string]string{"filePath": path})
}

// executeTest optionally writes testCode first. Without a filePath the spec
// location is derived from originalFilePath.
func (c *client) executeTest(filePath, testCode, original string) {
	s := c.srv
	if filePath == "" && original != "" {
		p, err := s.Layout.TestPath(original)
		if err != nil {
			c.send(events.ExecutionError, original, runner.ErrorInfo{Key: original, Error: err.Error()})
			return
		}
		filePath = p
	}
	if testCode != "" {
		if err := s.Writer.Write(filePath, testCode); err != nil {
			c.fileWritten(filePath, err)
			return
		}
	}
	if _, err := s.Runner.ExecuteOne(c.ctx, runner.OneRequest{TestFilePath: filePath}); err != nil {
		key := runner.Key(filePath)
		c.send(events.ExecutionError, key, runner.ErrorInfo{Key: key, Error: err.Error()})
	}
}

func (c *client) startFlow(files []string) {
	if c.srv.Flow == nil {
		c.fail(inStartFlow, errNoFlow)
		return
	}
	sess, err := c.srv.Flow.Start(c.ctx, files)
	if err != nil {
		c.fail(inStartFlow, err)
		return
	}
	c.mu.Lock()
	c.flows[sess.ID] = sess
	c.mu.Unlock()
	go c.pruneFlow(sess)
}

// pruneFlow drops sess from the client once it completes or is cancelled.
func (c *client) pruneFlow(sess *flow.Session) {
	select {
	case <-sess.Done():
	case <-c.ctx.Done():
		return
	}
	c.mu.Lock()
	delete(c.flows, sess.ID)
	c.mu.Unlock()
}

func ended(sess *flow.Session) bool {
	select {
	case <-sess.Done():
		return true
	default:
		return false
	}
}

// flowControl applies a pause, resume or cancel to one session, or to every
// session this client started when id is empty.
func (c *client) flowControl(kind, id string) {
	c.mu.Lock()
	var targets []*flow.Session
	for sid, sess := range c.flows {
		if ended(sess) {
			delete(c.flows, sid)
			continue
		}
		if id == "" || sid == id {
			targets = append(targets, sess)
		}
	}
	if kind == inCancelFlow {
		for _, sess := range targets {
			delete(c.flows, sess.ID)
		}
	}
	c.mu.Unlock()

	if len(targets) == 0 {
		c.fail(kind, errors.New("no matching flow session"))
		return
	}
	for _, sess := range targets {
		switch kind {
		case inPauseFlow:
			sess.Pause()
		case inResumeFlow:
			sess.Resume()
		case inCancelFlow:
			sess.Cancel()
		}
	}
}

func (c *client) cancelFlows() {
	c.mu.Lock()
	flows := c.flows
	c.flows = nil
	c.mu.Unlock()
	for _, sess := range flows {
		sess.Cancel()
	}
}
