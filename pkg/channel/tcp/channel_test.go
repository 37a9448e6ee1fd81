package tcp

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"dominicbreuker/sockchan/mocks"
	"dominicbreuker/sockchan/pkg/address"
	"dominicbreuker/sockchan/pkg/channel"
	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/retry"
	"dominicbreuker/sockchan/pkg/socket"

	"golang.org/x/sys/unix"
)

const waitTimeout = 5 * time.Second

// listen returns a listening socket on an ephemeral loopback port.
func listen(t *testing.T) (*socket.Socket, address.Address) {
	t.Helper()

	l, err := socket.New(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		t.Fatalf("socket.New() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })

	if err := l.SetReuseAddr(true); err != nil {
		t.Fatalf("SetReuseAddr() error = %v", err)
	}
	if err := l.Bind(address.MustNew("127.0.0.1", 0)); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if err := l.Listen(8); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	addr, err := l.LocalAddress()
	if err != nil {
		t.Fatalf("LocalAddress() error = %v", err)
	}
	return l, addr
}

// accept takes the next pending connection off l.
func accept(t *testing.T, l *socket.Socket) *socket.Socket {
	t.Helper()

	conn, _, err := l.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// result turns a completion callback into a channel.
func result() (func(error), <-chan error) {
	ch := make(chan error, 1)
	return func(err error) { ch <- err }, ch
}

func wait(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for callback")
		return nil
	}
}

type recorder struct {
	mu     sync.Mutex
	states []State
	data   bytes.Buffer
	errs   []error
	cond   *sync.Cond
}

func newRecorder() *recorder {
	r := &recorder{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *recorder) observe(_, new State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, new)
	r.cond.Broadcast()
}

func (r *recorder) read(data []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errs = append(r.errs, err)
	} else {
		r.data.Write(data)
	}
	r.cond.Broadcast()
}

// waitFor blocks until cond holds under the recorder lock.
func (r *recorder) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(waitTimeout)
	go func() {
		for time.Now().Before(deadline) {
			time.Sleep(20 * time.Millisecond)
			r.cond.Broadcast()
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		r.cond.Wait()
	}
}

func (r *recorder) waitState(t *testing.T, s State, count int) {
	t.Helper()
	r.waitFor(t, "state "+s.String(), func() bool {
		n := 0
		for _, st := range r.states {
			if st == s {
				n++
			}
		}
		return n >= count
	})
}

func TestChannel_ConnectExchangeDisconnect(t *testing.T) {
	t.Parallel()

	l, addr := listen(t)
	rec := newRecorder()

	c := New(addr, &Options{Label: "exchange"})
	c.SetReadCallback(rec.read)
	c.Observe(rec.observe)

	cb, done := result()
	c.Connect(time.Second, cb)
	if err := wait(t, done); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.State() != Connected {
		t.Fatalf("State() = %s; want %s", c.State(), Connected)
	}

	server := accept(t, l)

	// inbound
	if _, err := server.Write([]byte("hello ")); err != nil {
		t.Fatalf("server Write() error = %v", err)
	}
	if _, err := server.Write([]byte("world")); err != nil {
		t.Fatalf("server Write() error = %v", err)
	}
	rec.waitFor(t, "inbound data", func() bool { return rec.data.String() == "hello world" })

	// outbound, in submission order
	var wg sync.WaitGroup
	for _, msg := range []string{"one,", "two,", "three"} {
		wg.Add(1)
		c.Write([]byte(msg), func(err error) {
			defer wg.Done()
			if err != nil {
				t.Errorf("Write() error = %v", err)
			}
		})
	}
	wg.Wait()

	got := make([]byte, 0, 64)
	buf := make([]byte, 64)
	for len(got) < len("one,two,three") {
		n, err := server.Read(buf)
		if err != nil || n == 0 {
			t.Fatalf("server Read() = %d, %v", n, err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "one,two,three" {
		t.Errorf("server received %q; want %q", got, "one,two,three")
	}

	cb, done = result()
	c.Disconnect(cb)
	if err := wait(t, done); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if c.State() != Disconnected {
		t.Errorf("State() = %s; want %s", c.State(), Disconnected)
	}

	// the peer sees end of stream
	if n, err := server.Read(buf); n != 0 || err != nil {
		t.Errorf("server Read() after disconnect = %d, %v; want 0, nil", n, err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []State{Connecting, Connected, Disconnecting, Disconnected}
	if len(rec.states) != len(want) {
		t.Fatalf("states = %v; want %v", rec.states, want)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Errorf("state %d = %s; want %s", i, rec.states[i], want[i])
		}
	}
}

func TestChannel_IncorrectState(t *testing.T) {
	t.Parallel()

	l, addr := listen(t)
	c := New(addr, nil)

	// nothing is connected yet
	cb, done := result()
	c.Disconnect(cb)
	if err := wait(t, done); !errors.Is(err, channel.ErrIncorrectState) {
		t.Errorf("Disconnect() error = %v; want %v", err, channel.ErrIncorrectState)
	}
	cb, done = result()
	c.Write([]byte("x"), cb)
	if err := wait(t, done); !errors.Is(err, channel.ErrIncorrectState) {
		t.Errorf("Write() error = %v; want %v", err, channel.ErrIncorrectState)
	}

	cb, done = result()
	c.Connect(time.Second, cb)
	if err := wait(t, done); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	accept(t, l)

	var transitions int
	c.Observe(func(_, _ State) { transitions++ })

	cb, done = result()
	c.Connect(time.Second, cb)
	err := wait(t, done)
	var ise *channel.IncorrectStateError
	if !errors.As(err, &ise) {
		t.Fatalf("second Connect() error = %v; want IncorrectStateError", err)
	}
	if ise.State != Connected {
		t.Errorf("IncorrectStateError.State = %v; want %s", ise.State, Connected)
	}
	if c.State() != Connected || transitions != 0 {
		t.Errorf("state changed to %s after rejected connect (%d transitions)", c.State(), transitions)
	}

	cb, done = result()
	c.Disconnect(cb)
	if err := wait(t, done); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
}

func TestChannel_SettersPanicUnlessDisconnected(t *testing.T) {
	t.Parallel()

	l, addr := listen(t)
	c := New(addr, nil)

	cb, done := result()
	c.Connect(time.Second, cb)
	if err := wait(t, done); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	accept(t, l)
	t.Cleanup(func() { c.Disconnect(nil) })

	setters := map[string]func(){
		"SetReadCallback":    func() { c.SetReadCallback(nil) },
		"SetShouldReconnect": func() { c.SetShouldReconnect(nil) },
		"SetReconnectDelay":  func() { c.SetReconnectDelay(time.Second) },
		"SetConfigureSocket": func() { c.SetConfigureSocket(nil) },
	}
	for name, fn := range setters {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s on a connected channel did not panic", name)
				}
			}()
			fn()
		}()
	}
}

func TestChannel_ConnectRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	t.Parallel()

	l, addr := listen(t)
	l.Close()

	c := New(addr, nil)
	cb, done := result()
	c.Connect(time.Second, cb)
	if err := wait(t, done); !errors.Is(err, unix.ECONNREFUSED) {
		t.Errorf("Connect() error = %v; want ECONNREFUSED", err)
	}
	if c.State() != Disconnected {
		t.Errorf("State() = %s; want %s", c.State(), Disconnected)
	}
}

func fastPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond, MaxAttempts: maxAttempts}
}

func TestChannel_ConnectWithRetry_GivesUp(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	t.Parallel()

	l, addr := listen(t)
	l.Close()

	factory := mocks.NewSocketFactory(0, nil)
	c := New(addr, &Options{Deps: &config.Dependencies{Socket: factory.New}, ConnectTimeout: time.Second})

	cb, done := result()
	c.ConnectWithRetry(fastPolicy(2), cb)
	if err := wait(t, done); !errors.Is(err, unix.ECONNREFUSED) {
		t.Errorf("ConnectWithRetry() error = %v; want ECONNREFUSED", err)
	}
	if factory.Calls() != 3 {
		t.Errorf("connect attempts = %d; want 3", factory.Calls())
	}
	for i, s := range factory.Created() {
		if s.Descriptor() != -1 {
			t.Errorf("socket %d still open after failed connect", i)
		}
	}
}

func TestChannel_ConnectWithRetry_Succeeds(t *testing.T) {
	t.Parallel()

	l, addr := listen(t)

	errFake := errors.New("no sockets today")
	factory := mocks.NewSocketFactory(2, errFake)
	c := New(addr, &Options{Deps: &config.Dependencies{Socket: factory.New}})

	cb, done := result()
	c.ConnectWithRetry(fastPolicy(0), cb)
	if err := wait(t, done); err != nil {
		t.Fatalf("ConnectWithRetry() error = %v", err)
	}
	if factory.Calls() != 3 {
		t.Errorf("socket creations = %d; want 3", factory.Calls())
	}
	accept(t, l)

	cb, done = result()
	c.Disconnect(cb)
	if err := wait(t, done); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}
}

func TestChannel_DisconnectCancelsRetry(t *testing.T) {
	t.Parallel()

	_, addr := listen(t)

	factory := mocks.NewSocketFactory(1<<30, errors.New("always failing"))
	c := New(addr, &Options{Deps: &config.Dependencies{Socket: factory.New}})

	connectCb, connectDone := result()
	c.ConnectWithRetry(retry.Policy{BaseDelay: 10 * time.Millisecond, Multiplier: 1, MaxDelay: 10 * time.Millisecond}, connectCb)
	time.Sleep(50 * time.Millisecond)

	cb, done := result()
	c.Disconnect(cb)
	if err := wait(t, done); !errors.Is(err, channel.ErrIncorrectState) {
		t.Errorf("Disconnect() error = %v; want %v", err, channel.ErrIncorrectState)
	}
	if err := wait(t, connectDone); !errors.Is(err, channel.ErrCancelled) {
		t.Errorf("ConnectWithRetry() error = %v; want %v", err, channel.ErrCancelled)
	}

	calls := factory.Calls()
	time.Sleep(50 * time.Millisecond)
	if factory.Calls() != calls {
		t.Errorf("connect attempts continued after Disconnect: %d -> %d", calls, factory.Calls())
	}
}

func TestChannel_RemoteDrop(t *testing.T) {
	t.Parallel()

	l, addr := listen(t)
	rec := newRecorder()

	c := New(addr, nil)
	c.Observe(rec.observe)

	cb, done := result()
	c.Connect(time.Second, cb)
	if err := wait(t, done); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	server := accept(t, l)
	server.Close()

	rec.waitState(t, Disconnected, 1)

	// the channel can be reused
	cb, done = result()
	c.Connect(time.Second, cb)
	if err := wait(t, done); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	accept(t, l)
	c.Disconnect(nil)
	rec.waitState(t, Disconnected, 2)
}

func TestChannel_RemoteDropReconnects(t *testing.T) {
	t.Parallel()

	l, addr := listen(t)
	rec := newRecorder()

	var asked int
	c := New(addr, &Options{ReconnectDelay: 10 * time.Millisecond})
	c.Observe(rec.observe)
	c.SetReadCallback(rec.read)
	c.SetShouldReconnect(func() bool {
		asked++
		return asked == 1
	})

	cb, done := result()
	c.ConnectWithRetry(fastPolicy(0), cb)
	if err := wait(t, done); err != nil {
		t.Fatalf("ConnectWithRetry() error = %v", err)
	}

	first := accept(t, l)
	first.Close()

	// the channel dials in again by itself
	second := accept(t, l)
	rec.waitState(t, Connected, 2)

	if _, err := second.Write([]byte("again")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	rec.waitFor(t, "data after reconnect", func() bool { return rec.data.String() == "again" })

	// a second drop is final
	second.Close()
	rec.waitState(t, Disconnected, 2)
	time.Sleep(50 * time.Millisecond)
	if c.State() != Disconnected {
		t.Errorf("State() = %s; want %s", c.State(), Disconnected)
	}
}

func TestNewFromSocket(t *testing.T) {
	t.Parallel()

	l, addr := listen(t)

	client, err := socket.New(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		t.Fatalf("socket.New() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	if err := client.Connect(addr, time.Second); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	conn, peer, err := l.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	rec := newRecorder()
	var stateInSetup State = -1
	c := NewFromSocket(peer, conn, func(c *Channel) {
		stateInSetup = c.State()
		c.SetReadCallback(rec.read)
		c.Observe(rec.observe)
	}, &Options{Label: "accepted"})

	if stateInSetup != Disconnected {
		t.Errorf("state during setup = %s; want %s", stateInSetup, Disconnected)
	}
	if c.State() != Connected {
		t.Errorf("State() = %s; want %s", c.State(), Connected)
	}

	if _, err := client.Write([]byte("from client")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	rec.waitFor(t, "data", func() bool { return rec.data.String() == "from client" })

	cb, done := result()
	c.Disconnect(cb)
	if err := wait(t, done); err != nil {
		t.Errorf("Disconnect() error = %v", err)
	}
}

func TestChannel_ConfigureSocket(t *testing.T) {
	t.Parallel()

	l, addr := listen(t)
	c := New(addr, nil)

	var configured *socket.Socket
	c.SetConfigureSocket(func(s *socket.Socket) { configured = s })

	cb, done := result()
	c.Connect(time.Second, cb)
	if err := wait(t, done); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	accept(t, l)

	if configured == nil {
		t.Error("configure hook did not run")
	}
	c.Disconnect(nil)
}

func TestChannel_String(t *testing.T) {
	t.Parallel()

	c := New(address.MustNew("127.0.0.1", 80), &Options{Label: "web"})
	if got, want := c.String(), "TCPChannel(web, 127.0.0.1:80, disconnected)"; got != want {
		t.Errorf("String() = %q; want %q", got, want)
	}

	defer func() {
		if recover() == nil {
			t.Error("New() without port did not panic")
		}
	}()
	noPort, _ := address.NoPort("127.0.0.1")
	New(noPort, nil)
}

func TestChannel_Closed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		reconnect bool
		wantErr   error
	}{
		{name: "remote drop", reconnect: false, wantErr: nil},
		{name: "pending reconnect cancelled", reconnect: true, wantErr: channel.ErrCancelled},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			l, addr := listen(t)
			rec := newRecorder()

			closedCb, closed := result()
			c := New(addr, &Options{ReconnectDelay: time.Hour, Closed: closedCb})
			c.Observe(rec.observe)
			c.SetShouldReconnect(func() bool { return tc.reconnect })

			cb, done := result()
			c.Connect(time.Second, cb)
			if err := wait(t, done); err != nil {
				t.Fatalf("Connect() error = %v", err)
			}
			accept(t, l).Close()
			rec.waitState(t, Disconnected, 1)

			if tc.reconnect {
				c.Disconnect(nil)
			}

			err := wait(t, closed)
			if tc.wantErr == nil && err != nil {
				t.Errorf("Closed(%v); want nil", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("Closed(%v); want %v", err, tc.wantErr)
			}
		})
	}
}
