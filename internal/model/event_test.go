package model

import (
	"fmt"
	"testing"
)

func TestEventFieldAccess(t *testing.T) {
	e := NewEvent(map[string]interface{}{"status": 200})

	v, ok := e.Get("status")
	if !ok || v != 200 {
		t.Fatalf("Get(status) = %v, %v; want 200, true", v, ok)
	}

	e.SetField("host", "web-1")
	if v, _ := e.Get("host"); v != "web-1" {
		t.Errorf("Get(host) = %v; want web-1", v)
	}

	e.RemoveField("host")
	if _, ok := e.Get("host"); ok {
		t.Error("field still present after RemoveField")
	}
}

func TestEventCancel(t *testing.T) {
	e := NewEvent(nil)
	if e.Cancelled() {
		t.Fatal("new event should not be cancelled")
	}
	e.Cancel()
	if !e.Cancelled() {
		t.Fatal("event not cancelled after Cancel")
	}
	e.Uncancel()
	if e.Cancelled() {
		t.Fatal("event still cancelled after Uncancel")
	}
}

func TestEventClone(t *testing.T) {
	e := NewEvent(map[string]interface{}{"a": 1})
	e.Cancel()

	c := e.Clone()
	if c.Cancelled() {
		t.Error("clone inherited cancellation")
	}

	c.SetField("a", 2)
	if v, _ := e.Get("a"); v != 1 {
		t.Errorf("mutating clone affected original: a = %v", v)
	}
}

func TestSecretRedaction(t *testing.T) {
	s := NewSecret("hunter2")

	if s.Reveal() != "hunter2" {
		t.Errorf("Reveal = %q", s.Reveal())
	}
	if got := fmt.Sprintf("%v", s); got != "<secret>" {
		t.Errorf("formatted secret leaked: %q", got)
	}

	e := NewEvent(map[string]interface{}{"password": s})
	if e.Fields()["password"] != "<secret>" {
		t.Errorf("Fields() leaked secret: %v", e.Fields()["password"])
	}
}
