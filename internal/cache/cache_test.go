package cache_test

import (
	"testing"
	"time"

	"github.com/podworks/podworks/internal/cache"
)

func TestGetSet(t *testing.T) {
	c := cache.New[[]string](time.Minute, time.Minute)

	if _, ok := c.Get("variants:hoodie"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set("variants:hoodie", []string{"s", "m", "l"}, time.Minute)
	got, ok := c.Get("variants:hoodie")
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got) != 3 || got[0] != "s" {
		t.Fatalf("unexpected value %v", got)
	}
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	c := cache.New[string](time.Minute, time.Hour)

	c.Set("k", "v", 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Fatal("entry past its TTL must not be returned")
	}
}
