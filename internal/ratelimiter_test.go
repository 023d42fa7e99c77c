package internal

import (
	"testing"
	"time"
)

func TestRateLimiterBlocksAtLimit(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("client-a") {
			t.Fatalf("request %d refused inside the limit", i+1)
		}
	}
	if rl.Allow("client-a") {
		t.Fatal("request over the limit allowed")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	if !rl.Allow("client-a") {
		t.Fatal("first client refused")
	}
	if !rl.Allow("client-b") {
		t.Fatal("second client throttled by the first")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(2, 40*time.Millisecond)

	rl.Allow("client-a")
	rl.Allow("client-a")
	if rl.Allow("client-a") {
		t.Fatal("burst over the limit allowed")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.Allow("client-a") {
		t.Fatal("request refused after the window slid past the burst")
	}
}
