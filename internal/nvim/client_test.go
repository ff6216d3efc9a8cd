package nvim

import (
	"context"
	"errors"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/megalithic/shade-sub001/internal/rpc"
	"github.com/megalithic/shade-sub001/internal/wire"
)

// fakeEditor answers each incoming request by method name.
type fakeEditor struct {
	t       *testing.T
	conn    net.Conn
	answers map[string]wire.Value
	fail    map[string]string // method -> remote error message
	got     chan wire.Request
}

func newFakeEditor(t *testing.T) (*Client, *fakeEditor) {
	t.Helper()
	client, server := net.Pipe()
	c := rpc.NewConn(client, rpc.Options{})
	ed := &fakeEditor{
		t:       t,
		conn:    server,
		answers: map[string]wire.Value{},
		fail:    map[string]string{},
		got:     make(chan wire.Request, 16),
	}
	go ed.serve()
	t.Cleanup(func() {
		c.Close()
		server.Close()
	})
	return New(c), ed
}

func (e *fakeEditor) serve() {
	buf := make([]byte, 4096)
	var acc []byte
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			return
		}
		acc = append(acc, buf[:n]...)
		msgs, rem, _, fatal := wire.DecodeAll(acc)
		if fatal != nil {
			return
		}
		acc = rem
		for _, m := range msgs {
			req, ok := m.(wire.Request)
			if !ok {
				continue
			}
			e.got <- req
			resp := wire.Response{ID: req.ID, Error: wire.Nil{}, Result: wire.Nil{}}
			if msg, bad := e.fail[req.Method]; bad {
				resp.Error = wire.Array{wire.Int(0), wire.Str(msg)}
			} else if ans, found := e.answers[req.Method]; found {
				resp.Result = ans
			}
			frame, err := wire.EncodeMessage(resp)
			if err != nil {
				e.t.Errorf("encode response: %v", err)
				return
			}
			if _, err := e.conn.Write(frame); err != nil {
				return
			}
		}
	}
}

func (e *fakeEditor) lastRequest(t *testing.T) wire.Request {
	t.Helper()
	select {
	case req := <-e.got:
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("no request arrived")
		return wire.Request{}
	}
}

func ctxT(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEval(t *testing.T) {
	c, ed := newFakeEditor(t)
	ed.answers["nvim_eval"] = wire.Int(4)

	res, err := c.Eval(ctxT(t), "2+2")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !reflect.DeepEqual(res, wire.Value(wire.Int(4))) {
		t.Fatalf("result = %#v", res)
	}
	req := ed.lastRequest(t)
	if req.Method != "nvim_eval" || !reflect.DeepEqual(req.Params, []wire.Value{wire.Str("2+2")}) {
		t.Fatalf("sent %q %#v", req.Method, req.Params)
	}
}

func TestCommandRemoteError(t *testing.T) {
	c, ed := newFakeEditor(t)
	ed.fail["nvim_command"] = "E492: Not an editor command"

	err := c.Command(ctxT(t), "NotACommand")
	var remote *rpc.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("error = %v, want RemoteError", err)
	}
	if !strings.Contains(err.Error(), "E492") {
		t.Fatalf("error text %q lost the remote message", err.Error())
	}
	if !strings.Contains(err.Error(), "nvim_command") {
		t.Fatalf("error text %q lost the method", err.Error())
	}
}

func TestExecCapturesOutput(t *testing.T) {
	c, ed := newFakeEditor(t)
	ed.answers["nvim_exec"] = wire.Str("line1\nline2")

	out, err := c.Exec(ctxT(t), "echo 'line1' | echo 'line2'")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if out != "line1\nline2" {
		t.Fatalf("output = %q", out)
	}
	req := ed.lastRequest(t)
	if len(req.Params) != 2 || !reflect.DeepEqual(req.Params[1], wire.Value(wire.Bool(true))) {
		t.Fatalf("Exec params = %#v, want output capture enabled", req.Params)
	}
}

func TestCurrentHandlesAcceptExtAndInt(t *testing.T) {
	tests := []struct {
		name   string
		result wire.Value
		want   int64
	}{
		{"bare int", wire.Int(3), 3},
		{"ext single byte", wire.Ext{Tag: wire.ExtBuffer, Data: []byte{0x07}}, 7},
		{"ext nested msgpack", wire.Ext{Tag: wire.ExtBuffer, Data: []byte{0xcd, 0x01, 0x2c}}, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ed := newFakeEditor(t)
			ed.answers["nvim_get_current_buf"] = tt.result

			buf, err := c.CurrentBuf(ctxT(t))
			if err != nil {
				t.Fatalf("CurrentBuf: %v", err)
			}
			if int64(buf) != tt.want {
				t.Fatalf("buffer = %d, want %d", buf, tt.want)
			}
		})
	}
}

func TestCurrentWinAndTabpage(t *testing.T) {
	c, ed := newFakeEditor(t)
	ed.answers["nvim_get_current_win"] = wire.Ext{Tag: wire.ExtWindow, Data: []byte{0x05}}
	ed.answers["nvim_get_current_tabpage"] = wire.Int(2)

	win, err := c.CurrentWin(ctxT(t))
	if err != nil {
		t.Fatalf("CurrentWin: %v", err)
	}
	if win != 5 {
		t.Fatalf("window = %d, want 5", win)
	}
	tab, err := c.CurrentTabpage(ctxT(t))
	if err != nil {
		t.Fatalf("CurrentTabpage: %v", err)
	}
	if tab != 2 {
		t.Fatalf("tabpage = %d, want 2", tab)
	}
}

func TestCurrentBufRejectsForeignHandle(t *testing.T) {
	c, ed := newFakeEditor(t)
	ed.answers["nvim_get_current_buf"] = wire.Str("not a handle")

	if _, err := c.CurrentBuf(ctxT(t)); err == nil {
		t.Fatal("CurrentBuf accepted a string result")
	}
}

func TestBufLines(t *testing.T) {
	c, ed := newFakeEditor(t)
	ed.answers["nvim_buf_get_lines"] = wire.Array{wire.Str("alpha"), wire.Str("beta")}

	lines, err := c.BufLines(ctxT(t), 1, 0, -1, false)
	if err != nil {
		t.Fatalf("BufLines: %v", err)
	}
	if !reflect.DeepEqual(lines, []string{"alpha", "beta"}) {
		t.Fatalf("lines = %#v", lines)
	}
	req := ed.lastRequest(t)
	want := []wire.Value{wire.Int(1), wire.Int(0), wire.Int(-1), wire.Bool(false)}
	if !reflect.DeepEqual(req.Params, want) {
		t.Fatalf("params = %#v, want %#v", req.Params, want)
	}
}

func TestSetBufLines(t *testing.T) {
	c, ed := newFakeEditor(t)

	if err := c.SetBufLines(ctxT(t), 1, 2, 4, true, []string{"x", "y"}); err != nil {
		t.Fatalf("SetBufLines: %v", err)
	}
	req := ed.lastRequest(t)
	if req.Method != "nvim_buf_set_lines" {
		t.Fatalf("method = %q", req.Method)
	}
	if got := req.Params[4]; !reflect.DeepEqual(got, wire.Value(wire.Array{wire.Str("x"), wire.Str("y")})) {
		t.Fatalf("replacement = %#v", got)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c, ed := newFakeEditor(t)
	ed.answers["nvim_win_get_cursor"] = wire.Array{wire.Int(12), wire.Int(3)}

	row, col, err := c.CursorPos(ctxT(t), 5)
	if err != nil {
		t.Fatalf("CursorPos: %v", err)
	}
	if row != 12 || col != 3 {
		t.Fatalf("cursor = (%d, %d), want (12, 3)", row, col)
	}

	if err := c.SetCursor(ctxT(t), 5, 1, 0); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	<-ed.got // the get
	req := ed.lastRequest(t)
	want := []wire.Value{wire.Int(5), wire.Array{wire.Int(1), wire.Int(0)}}
	if req.Method != "nvim_win_set_cursor" || !reflect.DeepEqual(req.Params, want) {
		t.Fatalf("sent %q %#v", req.Method, req.Params)
	}
}

func TestBufNameAndVar(t *testing.T) {
	c, ed := newFakeEditor(t)
	ed.answers["nvim_buf_get_name"] = wire.Str("/home/me/notes.md")
	ed.answers["nvim_get_var"] = wire.Bool(true)

	name, err := c.BufName(ctxT(t), 1)
	if err != nil {
		t.Fatalf("BufName: %v", err)
	}
	if name != "/home/me/notes.md" {
		t.Fatalf("name = %q", name)
	}

	v, err := c.Var(ctxT(t), "loaded_shade")
	if err != nil {
		t.Fatalf("Var: %v", err)
	}
	if b, ok := wire.AsBool(v); !ok || !b {
		t.Fatalf("var = %#v", v)
	}
}
