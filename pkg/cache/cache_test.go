package cache

import (
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()

	c.Set("key", "value")

	got, ok := c.Get("key")
	if !ok {
		t.Fatal("Expected hit")
	}
	if got.(string) != "value" {
		t.Errorf("Expected value, got: %v", got)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Expected miss for unknown key")
	}
}

func TestCache_Expiry(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()

	c.SetWithTTL("short", 1, 10*time.Millisecond)

	if _, ok := c.Get("short"); !ok {
		t.Error("Expected hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("short"); ok {
		t.Error("Expected miss after expiry")
	}
}

func TestCache_Delete(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()

	c.Set("key", 1)
	c.Delete("key")

	if _, ok := c.Get("key"); ok {
		t.Error("Expected miss after delete")
	}
}

func TestCache_InvalidatePrefix(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()

	c.Set("room:a", 1)
	c.Set("room:b", 2)
	c.Set("user:a", 3)

	c.Invalidate("room:")

	if _, ok := c.Get("room:a"); ok {
		t.Error("Expected room:a invalidated")
	}
	if _, ok := c.Get("room:b"); ok {
		t.Error("Expected room:b invalidated")
	}
	if _, ok := c.Get("user:a"); !ok {
		t.Error("Expected user:a untouched")
	}
}

func TestCache_Size(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()

	if c.Size() != 0 {
		t.Errorf("Expected empty cache, got size %d", c.Size())
	}
	c.Set("a", 1)
	c.Set("b", 2)
	if c.Size() != 2 {
		t.Errorf("Expected size 2, got %d", c.Size())
	}
}
