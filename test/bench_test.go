package test

import (
	"context"
	"strings"
	"testing"
	"time"

	"gpcp/client"
	"gpcp/endpoint"
	"gpcp/handler"
	"gpcp/server"
	"gpcp/types"
)

func setupEchoServer(b *testing.B, addr string) (string, func()) {
	b.Helper()

	srv := server.New(server.Config{
		Network: "tcp",
		Address: addr,
		Role:    endpoint.RoleResponder,
	}, func() *handler.Instance {
		bldr := handler.NewBuilder()
		bldr.Register("echo", "echoes the argument in upper case",
			[]handler.ArgumentSpec{{Name: "a", Type: types.String}}, types.String,
			func(a string) (string, error) { return strings.ToUpper(a), nil })
		r, err := bldr.Build()
		if err != nil {
			b.Fatalf("Build failed: %v", err)
		}
		return handler.NewInstance(r)
	})

	ln, err := srv.ServeListener()
	if err != nil {
		b.Fatalf("listen failed: %v", err)
	}
	go srv.Serve()

	return ln.Addr().String(), func() { srv.Stop(3 * time.Second) }
}

// BenchmarkSerialCall measures one goroutine issuing calls back to back on
// a single negotiated endpoint, the baseline the teacher's own serial
// benchmark establishes before comparing against concurrent throughput.
func BenchmarkSerialCall(b *testing.B) {
	addr, stop := setupEchoServer(b, "127.0.0.1:0")
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ep, err := client.Dial(ctx, "tcp", addr, endpoint.RoleRequester, nil)
	if err != nil {
		b.Fatalf("dial failed: %v", err)
	}
	defer ep.Close(endpoint.CloseReadWrite)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ep.CommandRequest(ctx, "echo", []any{"abc"}, types.String); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkConcurrentCall measures many goroutines sharing one endpoint,
// exercising the correlation-id multiplexing that lets multiple outbound
// commandRequest calls be in flight on the same socket at once.
func BenchmarkConcurrentCall(b *testing.B) {
	addr, stop := setupEchoServer(b, "127.0.0.1:0")
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	ep, err := client.Dial(ctx, "tcp", addr, endpoint.RoleRequester, nil)
	if err != nil {
		b.Fatalf("dial failed: %v", err)
	}
	defer ep.Close(endpoint.CloseReadWrite)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := ep.CommandRequest(ctx, "echo", []any{"abc"}, types.String); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
