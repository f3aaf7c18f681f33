package netutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestNormalizeHost(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Example.COM:443":      "example.com",
		" example.com. ":       "example.com",
		"[2001:db8::1]:8443":   "2001:db8::1",
		"2001:db8::1":          "2001:db8::1",
		"localhost:10443":      "localhost",
		"sub.test.EXAMPLE.com": "sub.test.example.com",
		"":                     "",
	}

	for in, want := range tests {
		if got := NormalizeHost(in); got != want {
			t.Fatalf("NormalizeHost(%q): got %q, want %q", in, got, want)
		}
	}
}

type stringAddr string

func (a stringAddr) Network() string { return "test" }
func (a stringAddr) String() string  { return string(a) }

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr net.Addr
		want string
	}{
		{&net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 5123}, "10.1.2.3"},
		{&net.TCPAddr{IP: net.ParseIP("2001:db8::1"), Port: 80}, "2001:db8::1"},
		{stringAddr("192.168.0.9:4000"), "192.168.0.9"},
		{stringAddr("pipe"), "pipe"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := ClientIP(tt.addr); got != tt.want {
			t.Fatalf("ClientIP(%v): got %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	if !IsTimeout(fmt.Errorf("read: %w", os.ErrDeadlineExceeded)) {
		t.Fatal("deadline error should be a timeout")
	}
	if IsTimeout(io.EOF) {
		t.Fatal("EOF is not a timeout")
	}
	for _, err := range []error{
		net.ErrClosed,
		fmt.Errorf("wrapped: %w", io.EOF),
		&net.OpError{Op: "write", Err: &os.SyscallError{Syscall: "write", Err: syscall.EPIPE}},
		syscall.ECONNRESET,
	} {
		if !IsDisconnect(err) {
			t.Fatalf("expected %v to be a disconnect", err)
		}
	}
	if IsDisconnect(errors.New("boom")) {
		t.Fatal("arbitrary error is not a disconnect")
	}
}
