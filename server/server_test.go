// go-rfidprog
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-rfidprog.
//
// go-rfidprog is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-rfidprog is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-rfidprog; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	rfidprog "github.com/ZaparooProject/go-rfidprog"
	virt "github.com/ZaparooProject/go-rfidprog/internal/testing"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeController records the operations the server dispatches.
type fakeController struct {
	observer  rfidprog.Observer
	err       error
	card      *rfidprog.Card
	calls     []string
	mu        sync.Mutex
	cancelled bool
}

func (f *fakeController) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func (*fakeController) State() rfidprog.State { return rfidprog.StateConnected }
func (*fakeController) CurrentPort() string { return "/dev/ttyACM0" }
func (f *fakeController) Card() *rfidprog.Card { return f.card }
func (*fakeController) Output() string { return "I\n" }

func (*fakeController) Access() *rfidprog.Access {
	a := rfidprog.DefaultAccess()
	return &a
}

func (f *fakeController) Observe(o rfidprog.Observer) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observer = o
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancelled = true
	}
}

func (f *fakeController) ReadContent(start, length uint) error {
	return f.record("read " + itoa(start) + " " + itoa(length))
}

func (f *fakeController) WriteContent(content []byte, start uint, ignorePreviousEnd, ignoreEndMarker bool) error {
	return f.record("write " + string(content) + " " + itoa(start) + " " +
		strconv.FormatBool(ignorePreviousEnd) + " " + strconv.FormatBool(ignoreEndMarker))
}

func (f *fakeController) EraseContent(start uint) error {
	return f.record("erase " + itoa(start))
}

func (f *fakeController) ResetAccessAndKeys() error { return f.record("reset") }

func (f *fakeController) UseKeys(keyA, _, _ []byte, sel rfidprog.SelectedKey) error {
	return f.record("use " + strings.ToUpper(hex.EncodeToString(keyA)) + " " + sel.String())
}

func (f *fakeController) ChangeKeys(_, keyB, _ []byte, sel rfidprog.SelectedKey) error {
	return f.record("change " + strings.ToUpper(hex.EncodeToString(keyB)) + " " + sel.String())
}

func (f *fakeController) CheckKeys() error { return f.record("check") }
func (f *fakeController) ReadAccessBits() error { return f.record("access") }

func (f *fakeController) SendCustomCommand(text string) error {
	return f.record("custom " + text)
}

func itoa(n uint) string { return strconv.FormatUint(uint64(n), 10) }

type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func startServer(t *testing.T, ctrl Controller, cfg Config) (*Server, string) {
	t.Helper()
	s := New(ctrl, cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url+"/ws", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg inbound
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips messages until one of type msgType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) inbound {
	t.Helper()
	for {
		msg := readMessage(t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
}

// connect dials and drains the connection snapshot.
func connect(t *testing.T, s *Server, url string) *websocket.Conn {
	t.Helper()
	conn := dial(t, url)
	for _, want := range []string{TypeState, TypeCard, TypeAccess, TypeOutput} {
		assert.Equal(t, want, readMessage(t, conn).Type)
	}
	require.Eventually(t, func() bool { return s.ClientCount() > 0 }, 2*time.Second, time.Millisecond)
	return conn
}

func request(t *testing.T, conn *websocket.Conn, req Request) ResponsePayload {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
	msg := readUntil(t, conn, TypeResponse)
	var resp ResponsePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &resp))
	return resp
}

func TestServer_Snapshot(t *testing.T) {
	t.Parallel()

	card, err := rfidprog.NewCard([]byte{0xAB, 0x01, 0xCD, 0xEF})
	require.NoError(t, err)
	ctrl := &fakeController{card: card}
	_, url := startServer(t, ctrl, DefaultConfig())
	conn := dial(t, url)

	msg := readMessage(t, conn)
	require.Equal(t, TypeState, msg.Type)
	var st struct {
		State       string `json:"state"`
		Description string `json:"description"`
		Port        string `json:"port"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &st))
	assert.Equal(t, "Connected", st.State)
	assert.Equal(t, "Ready", st.Description)
	assert.Equal(t, "/dev/ttyACM0", st.Port)

	msg = readMessage(t, conn)
	require.Equal(t, TypeCard, msg.Type)
	assert.JSONEq(t, `{"id":"AB01CDEF","content":null}`, string(msg.Payload))

	msg = readMessage(t, conn)
	require.Equal(t, TypeAccess, msg.Type)
	var access rfidprog.Access
	require.NoError(t, json.Unmarshal(msg.Payload, &access))
	assert.Equal(t, rfidprog.DefaultAccess(), access)

	msg = readMessage(t, conn)
	require.Equal(t, TypeOutput, msg.Type)
	assert.JSONEq(t, `{"text":"I\n"}`, string(msg.Payload))
}

func TestServer_Dispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
		req  Request
	}{
		{
			name: "read",
			req:  Request{Type: RequestReadContent, Payload: json.RawMessage(`{"start":16,"length":4}`)},
			want: "read 16 4",
		},
		{
			name: "read without payload",
			req:  Request{Type: RequestReadContent},
			want: "read 0 0",
		},
		{
			name: "write text",
			req:  Request{Type: RequestWriteContent, Payload: json.RawMessage(`{"text":"hi","start":2}`)},
			want: "write hi 2 true false",
		},
		{
			name: "write hex keeping tail",
			req: Request{Type: RequestWriteContent, Payload: json.RawMessage(
				`{"content":"6869","ignorePreviousEnd":false,"ignoreEndMarker":true}`)},
			want: "write hi 0 false true",
		},
		{
			name: "erase",
			req:  Request{Type: RequestEraseContent, Payload: json.RawMessage(`{"start":20}`)},
			want: "erase 20",
		},
		{
			name: "reset",
			req:  Request{Type: RequestResetKeys},
			want: "reset",
		},
		{
			name: "use keys",
			req: Request{Type: RequestUseKeys, Payload: json.RawMessage(
				`{"keyA":"A0A1A2A3A4A5","keyB":"FFFFFFFFFFFF","accessBits":"FF078069","selectedKey":"B"}`)},
			want: "use A0A1A2A3A4A5 B",
		},
		{
			name: "change keys",
			req: Request{Type: RequestChangeKeys, Payload: json.RawMessage(
				`{"keyA":"FFFFFFFFFFFF","keyB":"B0B1B2B3B4B5","accessBits":"FF078069","selectedKey":"A"}`)},
			want: "change B0B1B2B3B4B5 A",
		},
		{
			name: "check keys",
			req:  Request{Type: RequestCheckKeys},
			want: "check",
		},
		{
			name: "read access bits",
			req:  Request{Type: RequestReadAccessBits},
			want: "access",
		},
		{
			name: "custom",
			req:  Request{Type: RequestCustom, Payload: json.RawMessage(`{"text":"Rxy"}`)},
			want: "custom Rxy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := &fakeController{}
			s, url := startServer(t, ctrl, DefaultConfig())
			conn := connect(t, s, url)

			tt.req.ID = "req-1"
			resp := request(t, conn, tt.req)
			assert.True(t, resp.Success, resp.Error)
			assert.Equal(t, "req-1", resp.ID)
			assert.Equal(t, tt.want, ctrl.lastCall())
		})
	}
}

func TestServer_RejectedRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ctrlErr error
		name    string
		errPart string
		kind    string
		req     Request
	}{
		{
			name:    "unknown type",
			req:     Request{Type: "format"},
			errPart: "unknown request type",
			kind:    "unknown",
		},
		{
			name:    "bad hex",
			req:     Request{Type: RequestWriteContent, Payload: json.RawMessage(`{"content":"zz"}`)},
			errPart: "content",
			kind:    "unknown",
		},
		{
			name:    "missing keys",
			req:     Request{Type: RequestUseKeys},
			errPart: "missing access payload",
			kind:    "unknown",
		},
		{
			name:    "precondition",
			req:     Request{Type: RequestCheckKeys},
			ctrlErr: rfidprog.ErrNoCard,
			errPart: "no card connected",
			kind:    "precondition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := &fakeController{err: tt.ctrlErr}
			s, url := startServer(t, ctrl, DefaultConfig())
			conn := connect(t, s, url)

			resp := request(t, conn, tt.req)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tt.errPart)
			assert.Equal(t, tt.kind, resp.Kind)
		})
	}
}

func TestServer_InvalidJSON(t *testing.T) {
	t.Parallel()

	s, url := startServer(t, &fakeController{}, DefaultConfig())
	conn := connect(t, s, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readUntil(t, conn, TypeResponse)
	var resp ResponsePayload
	require.NoError(t, json.Unmarshal(msg.Payload, &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "invalid message format", resp.Error)
}

func TestServer_Broadcast(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	s, url := startServer(t, ctrl, DefaultConfig())
	first := connect(t, s, url)
	second := connect(t, s, url)
	require.Eventually(t, func() bool { return s.ClientCount() == 2 }, 2*time.Second, time.Millisecond)

	ctrl.mu.Lock()
	obs := ctrl.observer
	ctrl.mu.Unlock()

	obs.OnCommandDone(rfidprog.CommandResult{Op: rfidprog.OpReadContent, Data: []byte{0xCA, 0xFE}})
	obs.OnCommandDone(rfidprog.CommandResult{Op: rfidprog.OpCheckKeys, Err: rfidprog.ErrOperationFailed})

	for _, conn := range []*websocket.Conn{first, second} {
		var done CommandDonePayload
		require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeCommandDone).Payload, &done))
		assert.Equal(t, CommandDonePayload{Op: rfidprog.OpReadContent, Data: "CAFE", Success: true}, done)

		require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeCommandDone).Payload, &done))
		assert.Equal(t, rfidprog.OpCheckKeys, done.Op)
		assert.False(t, done.Success)
		assert.Equal(t, "operation failed", done.Error)
	}
}

func TestServer_Secret(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Secret = "s3cret"
	s, url := startServer(t, &fakeController{}, cfg)

	_, resp, err := websocket.DefaultDialer.Dial(url+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, resp, err := websocket.DefaultDialer.Dial(url+"/ws?secret=s3cret", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()
	assert.Equal(t, TypeState, readMessage(t, conn).Type)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, time.Millisecond)
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	s := New(&fakeController{}, DefaultConfig())
	t.Cleanup(s.Close)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Connected", body["state"])
	assert.Equal(t, "/dev/ttyACM0", body["port"])
	assert.Equal(t, false, body["cardPresent"])
	assert.EqualValues(t, 0, body["clients"])

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_CloseUnsubscribes(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	s := New(ctrl, DefaultConfig())
	s.Close()
	s.Close()

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	assert.True(t, ctrl.cancelled)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := New(&fakeController{}, DefaultConfig())
	t.Cleanup(s.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestConfig_Addr(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, ":18670", cfg.Addr())
	cfg.Host = "::1"
	cfg.Port = 80
	assert.Equal(t, "[::1]:80", cfg.Addr())
}

func TestServer_ProgrammerRoundTrip(t *testing.T) {
	t.Parallel()

	const port = "/dev/ttyTEST1"
	vp := virt.NewVirtualProgrammer(port)
	vp.InsertCard(virt.NewVirtualCard([]byte{0x01, 0x02, 0x03, 0x04}))

	p, err := rfidprog.New(
		rfidprog.WithPortLister(func() ([]string, error) { return []string{port}, nil }),
		rfidprog.WithTransportFactory(func(rfidprog.PortConfig) (rfidprog.Transport, error) { return vp, nil }),
		rfidprog.WithPollInterval(time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	require.NoError(t, p.SwitchPort(rfidprog.PortConfig{Port: port}))
	require.Eventually(t, func() bool { return p.Card() != nil }, 2*time.Second, time.Millisecond)

	s, url := startServer(t, p, DefaultConfig())
	conn := connect(t, s, url)

	resp := request(t, conn, Request{
		ID:      "w",
		Type:    RequestWriteContent,
		Payload: json.RawMessage(`{"text":"hello"}`),
	})
	require.True(t, resp.Success, resp.Error)

	var done CommandDonePayload
	for done.Op != rfidprog.OpWriteContent {
		require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeCommandDone).Payload, &done))
	}
	assert.True(t, done.Success, done.Error)
	assert.Equal(t, []byte("hello"), vp.Card().Content()[:5])

	resp = request(t, conn, Request{Type: RequestReadContent})
	require.True(t, resp.Success, resp.Error)
	require.NoError(t, json.Unmarshal(readUntil(t, conn, TypeCommandDone).Payload, &done))
	assert.Equal(t, rfidprog.OpReadContent, done.Op)
	assert.Equal(t, "68656C6C6F", done.Data)

	resp = request(t, conn, Request{Type: RequestReadContent, Payload: json.RawMessage(`{"start":800}`)})
	assert.False(t, resp.Success)
	assert.Equal(t, "precondition", resp.Kind)
}
