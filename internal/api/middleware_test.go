package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newLimitedRouter(rl *RateLimiter) *gin.Engine {
	r := gin.New()
	r.GET("/plain", rl.ByIP(2, time.Minute), func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/generate", rl.Generate(1), func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	rl := NewRateLimiter(time.Hour)
	defer rl.Stop()
	r := newLimitedRouter(rl)

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plain", nil))
		if w.Code != want {
			t.Fatalf("request %d: status %d, want %d", i+1, w.Code, want)
		}
		if w.Header().Get("X-RateLimit-Limit") != "2" {
			t.Fatalf("missing limit header: %v", w.Header())
		}
		if want == http.StatusTooManyRequests {
			var body APIResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Success || body.Error == nil || body.Error.Code != ErrorRateLimited {
				t.Fatalf("unexpected body %s", w.Body.String())
			}
			if w.Header().Get("X-RateLimit-Remaining") != "0" {
				t.Fatalf("remaining = %q", w.Header().Get("X-RateLimit-Remaining"))
			}
		}
	}

	// generate-* calls use their own bucket
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/generate", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("generate bucket shared with the default one: %d", w.Code)
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	rl := NewRateLimiter(time.Hour)
	defer rl.Stop()

	if ok, _, _ := rl.Allow("k", 1, 20*time.Millisecond); !ok {
		t.Fatal("first request rejected")
	}
	if ok, _, _ := rl.Allow("k", 1, 20*time.Millisecond); ok {
		t.Fatal("second request in window allowed")
	}
	time.Sleep(30 * time.Millisecond)
	if ok, remaining, _ := rl.Allow("k", 1, 20*time.Millisecond); !ok || remaining != 0 {
		t.Fatalf("new window: ok=%v remaining=%d", ok, remaining)
	}
}

func TestRateLimiterSweepsAndStops(t *testing.T) {
	rl := NewRateLimiter(5 * time.Millisecond)
	rl.Allow("a", 1, time.Millisecond)
	rl.Allow("b", 1, time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for rl.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expired windows not swept, %d remain", rl.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}

	rl.Stop()
	rl.Stop()
	select {
	case <-rl.stopped:
	case <-time.After(time.Second):
		t.Fatal("sweeper still running after Stop")
	}

	// counting keeps working without the sweeper
	if ok, _, _ := rl.Allow("c", 1, time.Minute); !ok {
		t.Fatal("limiter stopped counting")
	}
}
