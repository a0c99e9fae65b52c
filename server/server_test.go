package server

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"gpcp/endpoint"
	"gpcp/handler"
	"gpcp/types"
)

func echoFactory() HandlerFactory {
	return func() *handler.Instance {
		b := handler.NewBuilder()
		b.Register("echo", "echoes the argument in upper case",
			[]handler.ArgumentSpec{{Name: "a", Type: types.String}}, types.String,
			func(a string) (string, error) { return strings.ToUpper(a), nil })
		r, err := b.Build()
		if err != nil {
			panic(err)
		}
		return handler.NewInstance(r)
	}
}

func TestServeAcceptsAndAnswersRequests(t *testing.T) {
	srv := New(Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Role:    endpoint.RoleBoth,
	}, echoFactory())

	ln, err := srv.listen()
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	srv.listener = ln
	addr := ln.Addr().String()

	go srv.Serve()
	defer srv.Stop(time.Second)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	ep, err := endpoint.New(conn, endpoint.RoleBoth, nil)
	if err != nil {
		t.Fatalf("client negotiation failed: %v", err)
	}
	defer ep.Close(endpoint.CloseReadWrite)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	value, err := ep.CommandRequest(ctx, "echo", []any{"hi"}, types.String)
	if err != nil {
		t.Fatalf("CommandRequest failed: %v", err)
	}
	if value != "HI" {
		t.Fatalf("expected HI, got %v", value)
	}
}

func TestStopClosesLiveConnections(t *testing.T) {
	srv := New(Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Role:    endpoint.RoleBoth,
	}, echoFactory())

	ln, err := srv.listen()
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	srv.listener = ln
	addr := ln.Addr().String()

	go srv.Serve()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	ep, err := endpoint.New(conn, endpoint.RoleBoth, nil)
	if err != nil {
		t.Fatalf("client negotiation failed: %v", err)
	}

	// give handleConn a moment to register the endpoint before stopping
	time.Sleep(50 * time.Millisecond)

	if err := srv.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	ep.Close(endpoint.CloseReadWrite)
}
