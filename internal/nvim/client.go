// Package nvim is the typed surface over the raw RPC connection: named
// editor operations with Go parameter and result types instead of wire
// values.
package nvim

import (
	"context"
	"fmt"

	"github.com/megalithic/shade-sub001/internal/rpc"
	"github.com/megalithic/shade-sub001/internal/wire"
)

// Editor handle types. On the wire these arrive either as plain integers or
// as ext-tagged handles; both collapse to the same id space.
type (
	Buffer  int64
	Window  int64
	Tabpage int64
)

// Client issues typed calls over one connection. Methods are safe for
// concurrent use; the underlying connection serializes writes and
// correlates responses by id.
type Client struct {
	conn *rpc.Conn
}

func New(conn *rpc.Conn) *Client {
	return &Client{conn: conn}
}

// Conn exposes the underlying connection for event subscription and
// lifecycle control.
func (c *Client) Conn() *rpc.Conn { return c.conn }

func (c *Client) call(ctx context.Context, method string, params ...wire.Value) (wire.Value, error) {
	res, err := c.conn.Request(ctx, method, params)
	if err != nil {
		return nil, fmt.Errorf("nvim: %s: %w", method, err)
	}
	return res, nil
}

// Eval evaluates a VimL expression and returns its value.
func (c *Client) Eval(ctx context.Context, expr string) (wire.Value, error) {
	return c.call(ctx, "nvim_eval", wire.Str(expr))
}

// Command executes an ex command. It produces no result; errors surface as
// remote errors.
func (c *Client) Command(ctx context.Context, cmd string) error {
	_, err := c.call(ctx, "nvim_command", wire.Str(cmd))
	return err
}

// Exec executes a multi-line block of ex commands and returns the captured
// output.
func (c *Client) Exec(ctx context.Context, src string) (string, error) {
	res, err := c.call(ctx, "nvim_exec", wire.Str(src), wire.Bool(true))
	if err != nil {
		return "", err
	}
	out, ok := wire.AsString(res)
	if !ok {
		return "", fmt.Errorf("nvim: nvim_exec: unexpected result %T", res)
	}
	return out, nil
}

// CurrentBuf returns the handle of the focused buffer.
func (c *Client) CurrentBuf(ctx context.Context) (Buffer, error) {
	res, err := c.call(ctx, "nvim_get_current_buf")
	if err != nil {
		return 0, err
	}
	id, ok := wire.HandleID(res)
	if !ok {
		return 0, fmt.Errorf("nvim: nvim_get_current_buf: %#v is not a buffer handle", res)
	}
	return Buffer(id), nil
}

// CurrentWin returns the handle of the focused window.
func (c *Client) CurrentWin(ctx context.Context) (Window, error) {
	res, err := c.call(ctx, "nvim_get_current_win")
	if err != nil {
		return 0, err
	}
	id, ok := wire.HandleID(res)
	if !ok {
		return 0, fmt.Errorf("nvim: nvim_get_current_win: %#v is not a window handle", res)
	}
	return Window(id), nil
}

// CurrentTabpage returns the handle of the focused tabpage.
func (c *Client) CurrentTabpage(ctx context.Context) (Tabpage, error) {
	res, err := c.call(ctx, "nvim_get_current_tabpage")
	if err != nil {
		return 0, err
	}
	id, ok := wire.HandleID(res)
	if !ok {
		return 0, fmt.Errorf("nvim: nvim_get_current_tabpage: %#v is not a tabpage handle", res)
	}
	return Tabpage(id), nil
}

// BufName returns the full path backing buf, or "" for an unnamed buffer.
func (c *Client) BufName(ctx context.Context, buf Buffer) (string, error) {
	res, err := c.call(ctx, "nvim_buf_get_name", wire.Int(buf))
	if err != nil {
		return "", err
	}
	name, ok := wire.AsString(res)
	if !ok {
		return "", fmt.Errorf("nvim: nvim_buf_get_name: unexpected result %T", res)
	}
	return name, nil
}

// BufLines fetches lines [start, end) of buf. Negative indices count from
// the end, -1 meaning one past the last line, matching the editor's own
// indexing.
func (c *Client) BufLines(ctx context.Context, buf Buffer, start, end int64, strict bool) ([]string, error) {
	res, err := c.call(ctx, "nvim_buf_get_lines",
		wire.Int(buf), wire.Int(start), wire.Int(end), wire.Bool(strict))
	if err != nil {
		return nil, err
	}
	lines, ok := wire.AsStrings(res)
	if !ok {
		return nil, fmt.Errorf("nvim: nvim_buf_get_lines: unexpected result %T", res)
	}
	return lines, nil
}

// SetBufLines replaces lines [start, end) of buf with replacement.
func (c *Client) SetBufLines(ctx context.Context, buf Buffer, start, end int64, strict bool, replacement []string) error {
	lines := make(wire.Array, len(replacement))
	for i, s := range replacement {
		lines[i] = wire.Str(s)
	}
	_, err := c.call(ctx, "nvim_buf_set_lines",
		wire.Int(buf), wire.Int(start), wire.Int(end), wire.Bool(strict), lines)
	return err
}

// CursorPos returns the (row, col) cursor position in win. Rows are
// 1-based, columns 0-based, as the editor reports them.
func (c *Client) CursorPos(ctx context.Context, win Window) (row, col int64, err error) {
	res, err := c.call(ctx, "nvim_win_get_cursor", wire.Int(win))
	if err != nil {
		return 0, 0, err
	}
	arr, ok := wire.AsArray(res)
	if !ok || len(arr) != 2 {
		return 0, 0, fmt.Errorf("nvim: nvim_win_get_cursor: unexpected result %#v", res)
	}
	row, rok := wire.AsInt(arr[0])
	col, cok := wire.AsInt(arr[1])
	if !rok || !cok {
		return 0, 0, fmt.Errorf("nvim: nvim_win_get_cursor: non-integer position %#v", res)
	}
	return row, col, nil
}

// SetCursor moves the cursor in win to (row, col).
func (c *Client) SetCursor(ctx context.Context, win Window, row, col int64) error {
	_, err := c.call(ctx, "nvim_win_set_cursor",
		wire.Int(win), wire.Array{wire.Int(row), wire.Int(col)})
	return err
}

// Var fetches a global variable.
func (c *Client) Var(ctx context.Context, name string) (wire.Value, error) {
	return c.call(ctx, "nvim_get_var", wire.Str(name))
}

// Notify sends a fire-and-forget notification to the editor.
func (c *Client) Notify(method string, params ...wire.Value) error {
	return c.conn.Notify(method, params)
}
