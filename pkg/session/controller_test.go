package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/voicerelay/pkg/persistence/relaylog"
	"github.com/go-go-golems/voicerelay/pkg/relay"
	"github.com/go-go-golems/voicerelay/pkg/render"
	"github.com/go-go-golems/voicerelay/pkg/transcript"
)

var pending = render.Directive{Text: render.PendingText, DurationMs: render.PendingDurationMs}

func fallback() render.Directive {
	return render.Directive{Text: render.DefaultFallbackText, DurationMs: render.ReplyDurationMs}
}

func startController(t *testing.T, s *fakeSession, opts Options) *Controller {
	t.Helper()
	c, err := NewController(context.Background(), s, opts)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(func() {
		c.Close()
		c.Wait()
	})
	return c
}

func TestController_InterimTranscriptionsNeverRelay(t *testing.T) {
	s := newFakeSession("s1", "u1")
	sender := &recordingSender{reply: relay.Reply{ShouldRespond: true, ResponseText: "x"}}
	c := startController(t, s, Options{Relay: sender})

	s.events.emit("computer what", false)
	s.events.emit("computer what time", false)
	c.Wait()

	require.Empty(t, sender.messages())
	require.Empty(t, s.layouts.snapshot())
	require.Equal(t, StateIdle, c.Info().State)
}

func TestController_RelaysNormalizedMessageAndRendersReply(t *testing.T) {
	s := newFakeSession("s1", "user-42")
	sender := &recordingSender{reply: relay.Reply{ShouldRespond: true, ResponseText: "hello"}}
	c := startController(t, s, Options{Relay: sender})

	s.events.emit("  Hello THERE  ", true)
	c.Wait()

	require.Equal(t, []sentMessage{{userID: "user-42", message: "hello there"}}, sender.messages())
	require.Equal(t, []render.Directive{pending, {Text: "hello", DurationMs: 7000}}, s.layouts.snapshot())
}

func TestController_ShouldRespondFalseStillShowsText(t *testing.T) {
	s := newFakeSession("s1", "u1")
	sender := &recordingSender{reply: relay.Reply{ShouldRespond: false, ResponseText: "ignored"}}
	c := startController(t, s, Options{Relay: sender})

	s.events.emit("background chatter", true)
	c.Wait()

	require.Equal(t, []render.Directive{pending, {Text: "ignored", DurationMs: 7000}}, s.layouts.snapshot())
}

func TestController_EndToEndAgainstChatEndpoint(t *testing.T) {
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req relay.Request
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotBody.Store(req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"shouldRespond":true,"responseText":"It's 3 PM."}`))
	}))
	defer srv.Close()

	client, err := relay.NewClient(srv.URL)
	require.NoError(t, err)

	s := newFakeSession("s1", "u1")
	c := startController(t, s, Options{Relay: client})

	s.events.emit("Computer, what time is it?", true)
	c.Wait()

	require.Equal(t, relay.Request{UserID: "u1", UserMessage: "computer, what time is it?"}, gotBody.Load())
	require.Equal(t, []render.Directive{pending, {Text: "It's 3 PM.", DurationMs: 7000}}, s.layouts.snapshot())
}

func TestController_MalformedReplyShowsFallbackAndKeepsListening(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"foo":1}`))
			return
		}
		_, _ = w.Write([]byte(`{"shouldRespond":true,"responseText":"ok"}`))
	}))
	defer srv.Close()

	client, err := relay.NewClient(srv.URL)
	require.NoError(t, err)
	store := relaylog.NewInMemoryStore(0)

	s := newFakeSession("s1", "u1")
	c := startController(t, s, Options{Relay: client, Recorder: store})

	s.events.emit("first", true)
	c.Wait()
	s.events.emit("second", true)
	c.Wait()

	require.Equal(t, []render.Directive{pending, fallback(), pending, {Text: "ok", DurationMs: 7000}}, s.layouts.snapshot())

	exchanges, err := store.List(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, exchanges, 2)
	statuses := []relaylog.Status{exchanges[0].Status, exchanges[1].Status}
	require.ElementsMatch(t, []relaylog.Status{relaylog.StatusMalformed, relaylog.StatusOK}, statuses)
}

func TestController_TransportFailureShowsFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client, err := relay.NewClient(url, relay.WithTimeout(2*time.Second))
	require.NoError(t, err)

	s := newFakeSession("s1", "u1")
	c := startController(t, s, Options{Relay: client})

	s.events.emit("anyone there", true)
	c.Wait()

	require.Equal(t, []render.Directive{pending, fallback()}, s.layouts.snapshot())
	require.False(t, c.Closed())
	require.Equal(t, 1, s.events.subscribers())
}

func TestController_CustomFallbackText(t *testing.T) {
	s := newFakeSession("s1", "u1")
	sender := &recordingSender{err: &relay.UnavailableError{StatusCode: 503, Err: fmt.Errorf("down")}}
	c := startController(t, s, Options{Relay: sender, FallbackText: "Try again later."})

	s.events.emit("hi", true)
	c.Wait()

	require.Equal(t, []render.Directive{pending, {Text: "Try again later.", DurationMs: 7000}}, s.layouts.snapshot())
}

func TestController_TeardownDiscardsLateReply(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	sender := senderFunc(func(ctx context.Context, userID, message string) (relay.Reply, error) {
		close(started)
		<-release
		return relay.Reply{ShouldRespond: true, ResponseText: "too late"}, nil
	})
	store := relaylog.NewInMemoryStore(0)

	s := newFakeSession("s1", "u1")
	c := startController(t, s, Options{Relay: sender, Recorder: store})

	s.events.emit("hello", true)
	<-started
	require.Equal(t, StateAwaitingReply, c.Info().State)

	s.cleanup.run()
	require.True(t, c.Closed())
	require.Equal(t, 0, s.events.subscribers())

	close(release)
	c.Wait()

	c.HandleTranscription(transcriptEvent("after teardown"))
	c.Wait()

	require.Equal(t, []render.Directive{pending}, s.layouts.snapshot())

	exchanges, err := store.List(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, exchanges, 1)
	require.Equal(t, relaylog.StatusDiscarded, exchanges[0].Status)
	require.Equal(t, ErrSessionClosed.Error(), exchanges[0].Error)
}

func TestController_TeardownCancelsInFlightRelay(t *testing.T) {
	started := make(chan struct{})
	sender := senderFunc(func(ctx context.Context, userID, message string) (relay.Reply, error) {
		close(started)
		<-ctx.Done()
		return relay.Reply{}, &relay.UnavailableError{Err: ctx.Err()}
	})

	s := newFakeSession("s1", "u1")
	c := startController(t, s, Options{Relay: sender})

	s.events.emit("hello", true)
	<-started
	c.Close()
	c.Wait()

	require.Equal(t, []render.Directive{pending}, s.layouts.snapshot())
}

func TestController_ConcurrentPolicyRunsRelaysInParallel(t *testing.T) {
	release := make(chan struct{})
	var inFlight atomic.Int32
	sender := senderFunc(func(ctx context.Context, userID, message string) (relay.Reply, error) {
		inFlight.Add(1)
		<-release
		return relay.Reply{ShouldRespond: true, ResponseText: "re: " + message}, nil
	})

	s := newFakeSession("s1", "u1")
	c := startController(t, s, Options{Relay: sender, Policy: PolicyConcurrent})

	s.events.emit("one", true)
	s.events.emit("two", true)
	require.Eventually(t, func() bool { return inFlight.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 2, c.Info().InFlight)
	require.Equal(t, []render.Directive{pending, pending}, s.layouts.snapshot())

	close(release)
	c.Wait()

	got := s.layouts.snapshot()
	require.Len(t, got, 4)
	require.ElementsMatch(t,
		[]render.Directive{{Text: "re: one", DurationMs: 7000}, {Text: "re: two", DurationMs: 7000}},
		got[2:])
}

func TestController_SerializedPolicyRelaysInOrder(t *testing.T) {
	gate := make(chan struct{}, 3)
	var order []string
	var inFlight, maxInFlight atomic.Int32
	sender := senderFunc(func(ctx context.Context, userID, message string) (relay.Reply, error) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		<-gate
		order = append(order, message)
		inFlight.Add(-1)
		return relay.Reply{ShouldRespond: true, ResponseText: "re: " + message}, nil
	})

	s := newFakeSession("s1", "u1")
	c := startController(t, s, Options{Relay: sender, Policy: PolicySerialized})

	s.events.emit("one", true)
	s.events.emit("two", true)
	s.events.emit("three", true)
	require.Equal(t, 2, c.Info().Queued)

	for i := 0; i < 3; i++ {
		gate <- struct{}{}
	}
	require.Eventually(t, func() bool { return len(s.layouts.snapshot()) == 6 }, 2*time.Second, 5*time.Millisecond)
	c.Wait()

	require.Equal(t, int32(1), maxInFlight.Load())
	require.Equal(t, []string{"one", "two", "three"}, order)
	require.Equal(t, []render.Directive{
		pending, {Text: "re: one", DurationMs: 7000},
		pending, {Text: "re: two", DurationMs: 7000},
		pending, {Text: "re: three", DurationMs: 7000},
	}, s.layouts.snapshot())
}

func TestController_SerializedQueueDropsOverflow(t *testing.T) {
	release := make(chan struct{})
	sender := &recordingSender{reply: relay.Reply{ShouldRespond: true, ResponseText: "ok"}}
	blocking := senderFunc(func(ctx context.Context, userID, message string) (relay.Reply, error) {
		<-release
		return sender.Send(ctx, userID, message)
	})

	s := newFakeSession("s1", "u1")
	c := startController(t, s, Options{Relay: blocking, Policy: PolicySerialized, MaxQueue: 1})

	s.events.emit("one", true)
	s.events.emit("two", true)
	s.events.emit("three", true)
	require.Equal(t, 1, c.Info().Queued)

	close(release)
	c.Wait()

	require.Equal(t, []sentMessage{{"u1", "one"}, {"u1", "two"}}, sender.messages())
}

func TestController_RequireTextSkipsEmptyUtterances(t *testing.T) {
	s := newFakeSession("s1", "u1")
	sender := &recordingSender{reply: relay.Reply{ShouldRespond: true, ResponseText: "x"}}
	c := startController(t, s, Options{Relay: sender, Filter: transcript.Filter{RequireText: true}})

	s.events.emit("   ", true)
	c.Wait()
	require.Empty(t, sender.messages())

	s2 := newFakeSession("s2", "u1")
	c2 := startController(t, s2, Options{Relay: sender})
	s2.events.emit("   ", true)
	c2.Wait()
	require.Equal(t, []sentMessage{{"u1", ""}}, sender.messages())
}

func TestController_StartTwiceFails(t *testing.T) {
	s := newFakeSession("s1", "u1")
	c := startController(t, s, Options{Relay: &recordingSender{}})
	require.Error(t, c.Start())

	c.Close()
	require.ErrorIs(t, c.Start(), ErrSessionClosed)
}

func TestNewController_Validation(t *testing.T) {
	_, err := NewController(context.Background(), newFakeSession("s", "u"), Options{})
	require.Error(t, err)

	_, err = NewController(context.Background(), newFakeSession("s", "u"), Options{Relay: &recordingSender{}, Policy: "random"})
	require.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyConcurrent, p)

	p, err = ParsePolicy(" Serialized ")
	require.NoError(t, err)
	require.Equal(t, PolicySerialized, p)

	_, err = ParsePolicy("parallel")
	require.Error(t, err)
}
