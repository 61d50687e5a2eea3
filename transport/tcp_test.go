package transport

import (
	"net"
	"testing"
	"time"
)

func TestTCPClientServerRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	serverCh := make(chan *TCPConn, 1)
	errCh := make(chan error, 1)
	go func() {
		srv, err := ListenTCPServer(addr, 2*time.Second)
		if err != nil {
			errCh <- err
			return
		}
		serverCh <- srv
	}()
	time.Sleep(50 * time.Millisecond) // let the listener bind before connecting

	client, err := DialTCPClient(addr, 2*time.Second)
	if err != nil {
		t.Fatalf("DialTCPClient: %v", err)
	}
	defer client.Close()

	var server *TCPConn
	select {
	case server = <-serverCh:
	case err := <-errCh:
		t.Fatalf("ListenTCPServer: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server accept")
	}
	defer server.Close()

	msg := []byte("handshake payload")
	if _, err := client.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf := make([]byte, len(msg))
	got := 0
	for got < len(buf) {
		n, err := server.Recv(buf[got:], 1000)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		got += n
	}
	if string(buf) != string(msg) {
		t.Errorf("got %q, want %q", buf, msg)
	}
}

func TestTCPServerAcceptTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = ListenTCPServer(addr, 100*time.Millisecond)
	if !IsTimeout(err) {
		t.Errorf("err = %v, want a TIMEOUT error", err)
	}
}

func TestTCPRecvTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	addr := ln.Addr().String()

	serverCh := make(chan *TCPConn, 1)
	go func() {
		srv, err := ListenTCPServer(addr, 2*time.Second)
		if err == nil {
			serverCh <- srv
		}
	}()
	ln.Close()
	time.Sleep(50 * time.Millisecond)

	client, err := DialTCPClient(addr, 2*time.Second)
	if err != nil {
		t.Fatalf("DialTCPClient: %v", err)
	}
	defer client.Close()
	server := <-serverCh
	defer server.Close()

	buf := make([]byte, 16)
	_, err = server.Recv(buf, 100)
	if !IsTimeout(err) {
		t.Errorf("err = %v, want a TIMEOUT error", err)
	}
}
