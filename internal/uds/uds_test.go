package uds

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func shortTempSockPath(t *testing.T, name string) string {
	t.Helper()
	// Use /tmp directly to stay under the 104-byte Unix socket path limit on macOS.
	dir, err := os.MkdirTemp("/tmp", "ld-uds-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, name)
}

func startTestServer(t *testing.T, register func(*Server)) (*Server, *Client, string) {
	t.Helper()
	sockPath := shortTempSockPath(t, "s.sock")
	server := NewServer(sockPath)
	if register != nil {
		register(server)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}
	t.Cleanup(func() { server.Stop() })

	client := NewClient(sockPath)
	client.SetTimeout(5 * time.Second)
	return server, client, sockPath
}

func TestFraming_RoundTrip(t *testing.T) {
	sockPath := shortTempSockPath(t, "f.sock")

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var req Request
		if err := ReadFrame(conn, &req); err != nil {
			t.Errorf("server ReadFrame: %v", err)
			return
		}
		var params struct {
			Search string `json:"search"`
		}
		if err := req.DecodeParams(&params); err != nil {
			t.Errorf("DecodeParams: %v", err)
		}
		if req.Command != "list" || params.Search != "omar" {
			t.Errorf("got command %q search %q", req.Command, params.Search)
		}
		if err := WriteFrame(conn, SuccessResponse(map[string]int{"items": 1})); err != nil {
			t.Errorf("server WriteFrame: %v", err)
		}
	}()

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, _ := NewRequest("list", map[string]string{"search": "omar"})
	if err := WriteFrame(conn, req); err != nil {
		t.Fatalf("client WriteFrame: %v", err)
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		t.Fatalf("client ReadFrame: %v", err)
	}
	if !resp.Success {
		t.Error("expected success response")
	}
	<-done
}

func TestReadFrame_RejectsOversizedFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		// Length prefix only; the payload is never sent.
		client.Write([]byte{0x7f, 0xff, 0xff, 0xff})
	}()

	var v map[string]any
	err := ReadFrame(server, &v)
	if err == nil || !strings.Contains(err.Error(), "frame too large") {
		t.Fatalf("expected frame too large, got %v", err)
	}
}

func TestServer_ProtocolVersionMismatch(t *testing.T) {
	_, client, _ := startTestServer(t, func(s *Server) {
		s.Handle("ping", func(context.Context, *Request) *Response {
			return SuccessResponse(map[string]string{"status": "pong"})
		})
	})

	resp, err := client.Send(&Request{ProtocolVersion: 999, Command: "ping"})
	if err != nil {
		t.Fatalf("client send: %v", err)
	}
	if resp.Success || resp.Error == nil || resp.Error.Code != ErrCodeProtocolMismatch {
		t.Fatalf("expected %s, got %+v", ErrCodeProtocolMismatch, resp)
	}
}

func TestServer_UnknownCommand(t *testing.T) {
	_, client, _ := startTestServer(t, nil)

	err := client.Call("nonexistent", nil, nil)
	if !IsCode(err, ErrCodeUnknownCommand) {
		t.Fatalf("expected %s, got %v", ErrCodeUnknownCommand, err)
	}
}

func TestClient_Call(t *testing.T) {
	_, client, _ := startTestServer(t, func(s *Server) {
		s.Handle("show", func(_ context.Context, req *Request) *Response {
			var p struct {
				ID int64 `json:"id"`
			}
			if err := req.DecodeParams(&p); err != nil {
				return ErrorResponse(ErrCodeValidation, err.Error())
			}
			if p.ID != 42 {
				return ErrorResponse(ErrCodeNotFound, "request 42 is not on the current page")
			}
			return SuccessResponse(map[string]any{"id": p.ID, "status": "Pending"})
		})
		s.Handle("transition", func(context.Context, *Request) *Response {
			return ErrorResponse(ErrCodeConfirmationRequired, "confirm first")
		})
	})

	var got struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	if err := client.Call("show", map[string]int64{"id": 42}, &got); err != nil {
		t.Fatalf("show: %v", err)
	}
	if got.ID != 42 || got.Status != "Pending" {
		t.Errorf("show: got %+v", got)
	}

	err := client.Call("show", map[string]int64{"id": 7}, &got)
	if !IsCode(err, ErrCodeNotFound) {
		t.Errorf("expected %s, got %v", ErrCodeNotFound, err)
	}

	err = client.Call("show", json.RawMessage(`{"id":"x"}`), nil)
	if !IsCode(err, ErrCodeValidation) {
		t.Errorf("expected %s, got %v", ErrCodeValidation, err)
	}

	err = client.Call("transition", nil, nil)
	if !IsCode(err, ErrCodeConfirmationRequired) {
		t.Errorf("expected %s, got %v", ErrCodeConfirmationRequired, err)
	}
	if !strings.Contains(err.Error(), "confirm first") {
		t.Errorf("message lost: %v", err)
	}
}

func TestServer_HandlerPanicBecomesInternalError(t *testing.T) {
	_, client, _ := startTestServer(t, func(s *Server) {
		s.Handle("boom", func(context.Context, *Request) *Response { panic("kaboom") })
		s.Handle("ping", func(context.Context, *Request) *Response { return SuccessResponse(nil) })
	})

	if err := client.Call("boom", nil, nil); !IsCode(err, ErrCodeInternal) {
		t.Fatalf("expected %s, got %v", ErrCodeInternal, err)
	}
	if err := client.Call("ping", nil, nil); err != nil {
		t.Fatalf("server should survive a panicking handler: %v", err)
	}
}

func TestServer_HandlerContextCancelledOnStop(t *testing.T) {
	entered := make(chan struct{})
	ctxDone := make(chan struct{})
	server, client, _ := startTestServer(t, func(s *Server) {
		s.Handle("wait", func(ctx context.Context, _ *Request) *Response {
			close(entered)
			<-ctx.Done()
			close(ctxDone)
			return ErrorResponse(ErrCodeInternal, ctx.Err().Error())
		})
	})

	go client.Call("wait", nil, nil)
	<-entered
	server.Stop()

	select {
	case <-ctxDone:
	case <-time.After(5 * time.Second):
		t.Fatal("handler context not cancelled on Stop")
	}
}

func TestServer_MultipleClients(t *testing.T) {
	_, _, sockPath := startTestServer(t, func(s *Server) {
		s.Handle("ping", func(context.Context, *Request) *Response {
			return SuccessResponse(map[string]string{"status": "pong"})
		})
	})

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			c := NewClient(sockPath)
			c.SetTimeout(5 * time.Second)
			errs <- c.Call("ping", nil, nil)
		}()
	}
	for i := 0; i < 10; i++ {
		if err := <-errs; err != nil {
			t.Errorf("client %d: %v", i, err)
		}
	}
}

func TestClient_SessionNotRunning(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "nonexistent.sock"))
	client.SetTimeout(1 * time.Second)

	_, err := client.SendCommand("ping", nil)
	if err == nil {
		t.Fatal("expected error when session not running")
	}
	if !strings.Contains(err.Error(), "failed to connect to session") {
		t.Errorf("expected session connection error, got: %v", err)
	}
	if !strings.Contains(err.Error(), "lampdesk session") {
		t.Errorf("expected hint about 'lampdesk session', got: %v", err)
	}
}

func TestServer_ConnectionTimeout(t *testing.T) {
	_, _, sockPath := startTestServer(t, func(s *Server) {
		s.SetConnTimeout(300 * time.Millisecond)
		s.Handle("ping", func(context.Context, *Request) *Response { return SuccessResponse(nil) })
	})

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// An idle connection is closed by the server once the deadline passes.
	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected read error on timed-out connection")
	}

	client := NewClient(sockPath)
	client.SetTimeout(2 * time.Second)
	if err := client.Call("ping", nil, nil); err != nil {
		t.Fatalf("client after timeout: %v", err)
	}
}

func TestServer_SocketLifecycle(t *testing.T) {
	sockPath := shortTempSockPath(t, "p.sock")
	server := NewServer(sockPath)
	if err := server.Start(); err != nil {
		t.Fatalf("server start: %v", err)
	}

	info, err := os.Stat(sockPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected permissions 0600, got %04o", perm)
	}

	server.Stop()
	if _, err := os.Stat(sockPath); !os.IsNotExist(err) {
		t.Error("socket should be removed after stop")
	}
}

func TestResponses(t *testing.T) {
	resp := ErrorResponse(ErrCodeInFlight, "request 3 is already updating")
	if resp.Success || resp.Error.Code != ErrCodeInFlight || resp.Error.Message != "request 3 is already updating" {
		t.Errorf("ErrorResponse: got %+v", resp)
	}

	resp = SuccessResponse(map[string]int{"Pending": 4})
	var data map[string]int
	json.Unmarshal(resp.Data, &data)
	if !resp.Success || data["Pending"] != 4 {
		t.Errorf("SuccessResponse: got %+v", resp)
	}

	if resp := SuccessResponse(nil); resp.Data != nil {
		t.Errorf("expected nil data, got %s", string(resp.Data))
	}
}
