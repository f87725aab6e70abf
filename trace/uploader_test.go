package trace

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestUploaderStreamsSingleBatch(t *testing.T) {
	var mu sync.Mutex
	var received []byte
	done := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, body...)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer srv.Close()

	u := &Uploader{
		Endpoint:    srv.URL,
		AppID:       "app1",
		EnvID:       "prod",
		DeployID:    "d1",
		AppCommit:   "abc123",
		IdleTimeout: 50 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go u.Run(ctx)

	u.Enqueue([]byte("event-1"))
	u.Enqueue([]byte("event-2"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upload")
	}

	mu.Lock()
	got := string(received)
	mu.Unlock()
	if got != "event-1event-2" {
		t.Errorf("received = %q", got)
	}
}
