package console

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/purchasing/internal/purchasing"
)

type streamEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) streamEvent {
	t.Helper()
	var ev streamEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openWatch(t *testing.T, srv *httptest.Server, id string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/purchases/"+id+"/watch", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewReader(resp.Body)
}

func TestWatchStreamsCompletionThenDismisses(t *testing.T) {
	h := newHarnessWithGrace(t, 20*time.Millisecond, fixedCatalog{snap: testCatalog()}, pendingOrder(5))
	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)

	stream := openWatch(t, srv, "5")
	ev := readEvent(t, stream)
	require.Equal(t, eventSnapshot, ev.name)
	var order orderResponse
	require.NoError(t, json.Unmarshal([]byte(ev.data), &order))
	require.Equal(t, "pending", order.Status)

	rr := h.do(t, http.MethodPatch, "/purchases/5/complete", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	ev = readEvent(t, stream)
	require.Equal(t, eventStatus, ev.name)
	require.NoError(t, json.Unmarshal([]byte(ev.data), &order))
	require.Equal(t, "completed", order.Status)
	require.False(t, order.Editable)

	ev = readEvent(t, stream)
	require.Equal(t, eventDismiss, ev.name)
	require.JSONEq(t, `{"order_id":5}`, ev.data)

	_, err := stream.ReadString('\n')
	require.ErrorIs(t, err, io.EOF)
}

func TestWatchTerminalOrderSendsSnapshotOnly(t *testing.T) {
	done := pendingOrder(6)
	done.Status = purchasing.StatusCancelled
	h := newHarnessWithGrace(t, 20*time.Millisecond, fixedCatalog{snap: testCatalog()}, done)
	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)

	stream := openWatch(t, srv, "6")
	ev := readEvent(t, stream)
	require.Equal(t, eventSnapshot, ev.name)
	require.Contains(t, ev.data, `"status":"cancelled"`)

	_, err := stream.ReadString('\n')
	require.ErrorIs(t, err, io.EOF)
}

func TestWatchDeletedOrderEndsWithoutDismiss(t *testing.T) {
	h := newHarnessWithGrace(t, time.Hour, fixedCatalog{snap: testCatalog()}, pendingOrder(7))
	srv := httptest.NewServer(h.router)
	t.Cleanup(srv.Close)

	stream := openWatch(t, srv, "7")
	require.Equal(t, eventSnapshot, readEvent(t, stream).name)

	rr := h.do(t, http.MethodDelete, "/purchases/7", "")
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	_, err := stream.ReadString('\n')
	require.ErrorIs(t, err, io.EOF)
}

func TestWatchUnknownOrder(t *testing.T) {
	h := newHarness(t, fixedCatalog{snap: testCatalog()})

	rr := h.do(t, http.MethodGet, "/purchases/404/watch", "")
	require.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}
