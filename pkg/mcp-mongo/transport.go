package mcpmongo

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// maxLineSize bounds a single inbound message.
const maxLineSize = 16 << 20

// lineTransport speaks newline-delimited JSON-RPC: one message per line read
// from in, one message per line written to out.
type lineTransport struct {
	in  io.ReadCloser
	out io.WriteCloser
}

func (t *lineTransport) Connect(context.Context) (mcp.Connection, error) {
	if t.in == nil || t.out == nil {
		return nil, errors.New("mcpmongo: line transport needs both an input and an output")
	}
	return newLineConn(t.in, t.out), nil
}

type lineOrErr struct {
	line []byte
	err  error
}

type lineConn struct {
	in  io.ReadCloser
	out io.WriteCloser

	writeMu sync.Mutex
	lines   <-chan lineOrErr

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func newLineConn(in io.ReadCloser, out io.WriteCloser) *lineConn {
	lines := make(chan lineOrErr)
	closed := make(chan struct{})
	// Reads happen on their own goroutine so Close can unblock Read even when
	// the underlying reader ignores Close.
	go func() {
		r := bufio.NewReaderSize(in, 64<<10)
		for {
			line, err := readLine(r)
			select {
			case lines <- lineOrErr{line: line, err: err}:
			case <-closed:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return &lineConn{in: in, out: out, lines: lines, closed: closed}
}

// readLine returns the next line without its terminator. A final line with
// no newline is still delivered before io.EOF.
func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLineSize {
			return nil, fmt.Errorf("mcpmongo: message exceeds %d bytes", maxLineSize)
		}
		switch {
		case err == nil:
			return bytes.TrimRight(buf, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(bytes.TrimSpace(buf)) > 0:
			return buf, nil
		default:
			return nil, err
		}
	}
}

func (c *lineConn) SessionID() string { return "" }

// Read returns the next message. Blank lines are skipped. A line that is not
// a JSON-RPC message is answered with a parse error and skipped, so one bad
// line does not end the session.
func (c *lineConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closed:
			return nil, io.EOF
		case next := <-c.lines:
			if next.err != nil {
				return nil, next.err
			}
			if len(bytes.TrimSpace(next.line)) == 0 {
				continue
			}
			msg, err := jsonrpc.DecodeMessage(next.line)
			if err != nil {
				if werr := c.writeLine(parseError(err)); werr != nil {
					return nil, werr
				}
				continue
			}
			return msg, nil
		}
	}
}

// Write encodes msg as a single line. It is safe for concurrent use.
func (c *lineConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("mcpmongo: encode message: %w", err)
	}
	return c.writeLine(data)
}

func (c *lineConn) writeLine(data []byte) error {
	select {
	case <-c.closed:
		return mcp.ErrConnectionClosed
	default:
	}
	line := make([]byte, 0, len(data)+1)
	line = append(append(line, data...), '\n')
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.out.Write(line)
	return err
}

func (c *lineConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = errors.Join(c.in.Close(), c.out.Close())
	})
	return c.closeErr
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// parseError is the response to an unreadable line. Its id is null because
// the request it answers could not be identified.
func parseError(cause error) []byte {
	data, _ := json.Marshal(struct {
		JSONRPC string    `json:"jsonrpc"`
		ID      any       `json:"id"`
		Error   wireError `json:"error"`
	}{
		JSONRPC: "2.0",
		Error:   wireError{Code: -32700, Message: "parse error: " + cause.Error()},
	})
	return data
}

// loggingTransport reports every JSON-RPC message that crosses the wrapped
// transport to an RPCLogger, tagged with its method and request id.
type loggingTransport struct {
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConn{Connection: conn, logger: t.logger}, nil
}

type loggingConn struct {
	mcp.Connection
	logger RPCLogger

	mu sync.Mutex
	// methods remembers inbound request methods so responses can be
	// attributed to the call they answer.
	methods map[string]string
}

func (c *loggingConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.Connection.Read(ctx)
	if err == nil {
		c.observe(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.Connection.Write(ctx, msg); err != nil {
		return err
	}
	c.observe(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConn) observe(direction RPCDirection, msg jsonrpc.Message) {
	evt := RPCLogEvent{Direction: direction, SessionID: c.SessionID()}
	c.mu.Lock()
	switch m := msg.(type) {
	case *jsonrpc.Request:
		evt.Method = m.Method
		evt.ID = idString(m.ID)
		if direction == RPCDirectionReceive && evt.ID != "" {
			if c.methods == nil {
				c.methods = make(map[string]string)
			}
			c.methods[evt.ID] = m.Method
		}
	case *jsonrpc.Response:
		evt.ID = idString(m.ID)
		if direction == RPCDirectionSend {
			evt.Method = c.methods[evt.ID]
			delete(c.methods, evt.ID)
		}
		if m.Error != nil {
			evt.Error = m.Error.Error()
		}
	}
	encoded, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	evt.Message = encoded
	c.logger(evt)
	c.mu.Unlock()
}

func idString(id jsonrpc.ID) string {
	if !id.IsValid() {
		return ""
	}
	return fmt.Sprint(id.Raw())
}

// gatedTransport builds the stdio transport: requests are read from in and
// every outbound message is written through the gate's protocol writer.
func (s *Server) gatedTransport(in io.ReadCloser) mcp.Transport {
	return &lineTransport{in: in, out: s.gate.Protocol()}
}
