// Uploader implements §4.8's operation: a single reader draining an
// event queue, opening a streaming HTTP upload on the first event of a
// batch and closing it after a 10-second idle period.
//
// Grounded on the shape of appruntime/shared/platform/platform.go's
// SendTrace (the same outbound headers: app/env/deploy id, app commit,
// protocol version, time-anchor, platform-auth signature), generalized
// from a single-shot io.Reader upload into the streaming, idle-flushed
// pipe the spec requires.
package trace

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/relaycore/rplane/internal/platformauth"
)

const idleFlushTimeout = 10 * time.Second

const ProtocolVersion = 1

// queueCapacity bounds the otherwise-unbounded MPSC event queue described
// in §4.8 step 1; a buffered channel this large is the practical stand-in
// for "unbounded" without building a custom growable-queue type.
const queueCapacity = 1 << 16

// Uploader drains events and streams them to Endpoint.
type Uploader struct {
	Endpoint                          string
	Signer                            *platformauth.Signer
	AppID, EnvID, DeployID, AppCommit string
	Client                            *http.Client
	OnUploadError                     func(error) // optional; defaults to discarding
	// IdleTimeout overrides idleFlushTimeout; zero means the default 10s.
	IdleTimeout time.Duration

	initOnce sync.Once
	ch       chan []byte
}

func (u *Uploader) init() {
	u.initOnce.Do(func() {
		u.ch = make(chan []byte, queueCapacity)
	})
}

// Enqueue adds an event's already-framed bytes to the upload queue. It
// does not block under normal load (§5); under sustained overload it
// applies backpressure rather than growing unboundedly.
func (u *Uploader) Enqueue(frame []byte) {
	u.init()
	u.ch <- frame
}

// Run drains the queue until ctx is canceled, opening one streaming HTTP
// request per "batch" of events separated by idleFlushTimeout of silence
// (§4.8 steps 2-4). Run is meant to be called once, from a single
// background goroutine — the reporter task referenced in §5.
func (u *Uploader) Run(ctx context.Context) {
	u.init()
	for {
		select {
		case <-ctx.Done():
			return
		case first, ok := <-u.ch:
			if !ok {
				return
			}
			u.runBatch(ctx, first)
		}
	}
}

func (u *Uploader) runBatch(ctx context.Context, first []byte) {
	pr, pw := io.Pipe()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint, pr)
	if err != nil {
		u.reportError(err)
		_ = pr.CloseWithError(err)
		return
	}
	u.setHeaders(req)

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}

	done := make(chan error, 1)
	go func() {
		resp, err := client.Do(req)
		if err != nil {
			done <- err
			return
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 300 {
			done <- &uploadStatusError{resp.StatusCode}
		} else {
			done <- nil
		}
	}()

	if _, err := pw.Write(first); err != nil {
		u.reportError(err)
		return
	}

	idle := u.IdleTimeout
	if idle <= 0 {
		idle = idleFlushTimeout
	}
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = pw.Close()
			<-done
			return

		case <-timer.C:
			// Idle timeout: drop the sender, close the body, and return to
			// Run's outer loop so the next event opens a fresh request
			// (§4.8 step 3).
			_ = pw.Close()
			if err := <-done; err != nil {
				u.reportError(err)
			}
			return

		case frame, ok := <-u.ch:
			if !ok {
				_ = pw.Close()
				<-done
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idle)
			if _, err := pw.Write(frame); err != nil {
				u.reportError(err)
				return
			}
		}
	}
}

func (u *Uploader) setHeaders(req *http.Request) {
	ta, _ := NewTimeAnchorNow().MarshalText()
	req.Header.Set("X-Encore-App-ID", u.AppID)
	req.Header.Set("X-Encore-Env-ID", u.EnvID)
	req.Header.Set("X-Encore-Deploy-ID", u.DeployID)
	req.Header.Set("X-Encore-App-Commit", u.AppCommit)
	req.Header.Set("X-Encore-Trace-Version", strconv.Itoa(ProtocolVersion))
	req.Header.Set("X-Encore-Trace-TimeAnchor", string(ta))
	if u.Signer != nil {
		_ = u.Signer.Sign(req)
	}
}

func (u *Uploader) reportError(err error) {
	if u.OnUploadError != nil {
		u.OnUploadError(err)
	}
}

type uploadStatusError struct{ status int }

func (e *uploadStatusError) Error() string {
	return "trace: upload rejected with status " + strconv.Itoa(e.status)
}
