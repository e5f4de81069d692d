package ghes

import (
	"strings"
	"testing"
	"time"
)

func TestPoolAcquireRelease(t *testing.T) {
	p := NewPool(2, Options{BaseURL: "https://github.example.com", Token: "t"})

	a, err := p.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	b, err := p.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := p.Acquire(30 * time.Millisecond); err == nil {
		t.Fatal("third Acquire should time out")
	} else if !strings.Contains(err.Error(), "no client available") {
		t.Errorf("timeout error = %q", err)
	}

	p.Release(a)
	c, err := p.Acquire(time.Second)
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	if c != a {
		t.Error("released client should be handed out next (FIFO)")
	}
	p.Release(b)
	p.Release(c)
}

func TestPoolMembersShareThrottle(t *testing.T) {
	p := NewPool(3, Options{BaseURL: "https://github.example.com", Token: "t", SearchInterval: time.Second})
	a, _ := p.Acquire(time.Second)
	b, _ := p.Acquire(time.Second)
	if a.throttle != b.throttle {
		t.Error("pool members must share one search throttle")
	}
}
