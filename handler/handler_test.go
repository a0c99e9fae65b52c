package handler

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gpcp/gpcperr"
	"gpcp/types"
)

func echoUpper(a string) (string, error) {
	return strings.ToUpper(a), nil
}

func buildEchoRegistry(t *testing.T) *Registry {
	t.Helper()
	b := NewBuilder()
	if err := b.Register("echo", "echoes the argument in upper case",
		[]ArgumentSpec{{Name: "a", Type: types.String}}, types.String, echoUpper); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	r, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return r
}

func TestInvokeEchoUppercase(t *testing.T) {
	instance := NewInstance(buildEchoRegistry(t))

	out, err := instance.Invoke("echo", []any{"abc"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	var got string
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if got != "ABC" {
		t.Errorf("expected ABC, got %s", got)
	}
}

func TestDuplicateCommandNameFails(t *testing.T) {
	b := NewBuilder()
	if err := b.Register("echo", "", []ArgumentSpec{{Name: "a", Type: types.String}}, types.String, echoUpper); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	err := b.Register("echo", "", []ArgumentSpec{{Name: "a", Type: types.String}}, types.String, echoUpper)
	if !errors.Is(err, gpcperr.Sentinel(gpcperr.HandlerLoadingError)) {
		t.Fatalf("expected HandlerLoadingError, got %v", err)
	}
}

func TestInvalidIdentifierRejected(t *testing.T) {
	b := NewBuilder()
	err := b.Register("2bad", "", nil, types.String, func() (string, error) { return "", nil })
	if !errors.Is(err, gpcperr.Sentinel(gpcperr.AnnotationError)) {
		t.Fatalf("expected AnnotationError, got %v", err)
	}
}

func TestLockedInstanceRefusesInvocation(t *testing.T) {
	instance := NewInstance(buildEchoRegistry(t))
	instance.Locked = true

	out, err := instance.Invoke("echo", []any{"abc"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if string(out) != `"ENDPOINT NOT STARTED TO THIS SCOPE"` {
		t.Errorf("expected locked sentinel response, got %s", out)
	}
}

func TestUnknownCommandWithoutFallback(t *testing.T) {
	instance := NewInstance(buildEchoRegistry(t))

	out, err := instance.Invoke("nonexistent", []any{})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty response, got %q", out)
	}
}

func TestUnknownCommandWithFallback(t *testing.T) {
	b := NewBuilder()
	if err := b.RegisterUnknown(func(name string, arguments []any) ([]byte, error) {
		return []byte("fallback:" + name), nil
	}); err != nil {
		t.Fatalf("RegisterUnknown failed: %v", err)
	}
	r, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	instance := NewInstance(r)

	out, err := instance.Invoke("mystery", []any{})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if string(out) != "fallback:mystery" {
		t.Errorf("expected fallback response, got %s", out)
	}
}

func TestDuplicateUnknownCommandFails(t *testing.T) {
	b := NewBuilder()
	noop := func(name string, arguments []any) ([]byte, error) { return nil, nil }
	if err := b.RegisterUnknown(noop); err != nil {
		t.Fatalf("first RegisterUnknown failed: %v", err)
	}
	if err := b.RegisterUnknown(noop); !errors.Is(err, gpcperr.Sentinel(gpcperr.HandlerLoadingError)) {
		t.Fatalf("expected HandlerLoadingError, got %v", err)
	}
}

func TestRequestCommandsIntrospection(t *testing.T) {
	instance := NewInstance(buildEchoRegistry(t))

	out, err := instance.Invoke("requestCommands", []any{})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	var descriptors []CommandDescriptor
	if err := json.Unmarshal(out, &descriptors); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if len(descriptors) != 1 || descriptors[0].Name != "echo" {
		t.Fatalf("expected a single 'echo' descriptor, got %+v", descriptors)
	}
	if descriptors[0].Arguments[0].Name != "a" {
		t.Errorf("expected argument named 'a', got %+v", descriptors[0].Arguments)
	}
}
