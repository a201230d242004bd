package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/ccb-dev/ccb/internal/worker"
)

func startTestServer(t *testing.T, idle time.Duration) (*Server, string) {
	t.Helper()
	pool := worker.New(func(ctx context.Context, req worker.Request) worker.Result {
		return worker.Result{ReqID: req.ID, ExitCode: 0, Reply: "hello", SessionKey: req.WorkDir, DoneSeen: true, AnchorSeen: true}
	}, func(ctx context.Context, req worker.Request) (string, error) {
		return req.WorkDir, nil
	})

	s := &Server{Prefix: "lask", Token: "secret-token", Pool: pool, IdleTimeout: idle}
	_, port, err := s.Listen()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s, net.JoinHostPort("127.0.0.1", itoa(port))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func sendLine(t *testing.T, addr string, req map[string]any) map[string]any {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(line, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestServerPing(t *testing.T) {
	_, addr := startTestServer(t, 0)
	resp := sendLine(t, addr, map[string]any{"type": "lask.ping", "v": 1, "id": "p1"})
	if resp["type"] != "lask.pong" {
		t.Fatalf("expected pong, got %v", resp)
	}
}

func TestServerRequestRoundTrip(t *testing.T) {
	_, addr := startTestServer(t, 0)
	resp := sendLine(t, addr, map[string]any{
		"type": "lask.request", "v": 1, "id": "r1", "token": "secret-token",
		"work_dir": "/proj", "timeout_s": 5, "message": "say hi",
	})
	if resp["exit_code"].(float64) != 0 {
		t.Fatalf("expected exit_code 0, got %v", resp)
	}
	if resp["reply"] != "hello" {
		t.Fatalf("expected reply hello, got %v", resp)
	}
}

func TestServerBadTokenRejected(t *testing.T) {
	_, addr := startTestServer(t, 0)
	resp := sendLine(t, addr, map[string]any{
		"type": "lask.request", "v": 1, "id": "r1", "token": "wrong",
		"work_dir": "/proj", "timeout_s": 5, "message": "say hi",
	})
	if resp["exit_code"].(float64) != 1 {
		t.Fatalf("expected exit_code 1 on bad token, got %v", resp)
	}
}
