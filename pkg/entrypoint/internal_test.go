package entrypoint

import (
	"bytes"
	"sync"
	"time"

	"dominicbreuker/sockchan/pkg/address"
	"dominicbreuker/sockchan/pkg/channel/tcp"
	"dominicbreuker/sockchan/pkg/channel/udp"
	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/queue"
	"dominicbreuker/sockchan/pkg/retry"
	"dominicbreuker/sockchan/pkg/socket"
)

// fakeStream is a streamChannel that never touches the network. Callbacks
// run on their own goroutine like on a channel queue.
type fakeStream struct {
	mu sync.Mutex

	opts       *tcp.Options
	connectErr error
	writeErr   error
	// onConnect runs synchronously once a connect succeeded.
	onConnect func(f *fakeStream)

	connected   bool
	retried     bool
	policy      retry.Policy
	read        tcp.ReadCallback
	reconnect   func() bool
	written     bytes.Buffer
	writes      int
	disconnects int
}

func (f *fakeStream) factory() streamFactory {
	return func(_ address.Address, opts *tcp.Options) streamChannel {
		f.mu.Lock()
		f.opts = opts
		f.mu.Unlock()
		return f
	}
}

func (f *fakeStream) Connect(_ time.Duration, callback func(error)) {
	f.connect(callback)
}

func (f *fakeStream) ConnectWithRetry(policy retry.Policy, callback func(error)) {
	f.mu.Lock()
	f.retried = true
	f.policy = policy
	f.mu.Unlock()
	f.connect(callback)
}

func (f *fakeStream) connect(callback func(error)) {
	f.mu.Lock()
	err := f.connectErr
	f.connected = err == nil
	onConnect := f.onConnect
	f.mu.Unlock()

	if err == nil && onConnect != nil {
		onConnect(f)
	}
	go callback(err)
}

func (f *fakeStream) Write(data []byte, callback func(error)) {
	f.mu.Lock()
	f.written.Write(data)
	f.writes++
	err := f.writeErr
	f.mu.Unlock()
	go callback(err)
}

func (f *fakeStream) Disconnect(callback func(error)) {
	f.mu.Lock()
	f.disconnects++
	wasConnected := f.connected
	f.connected = false
	closed := f.opts.Closed
	f.mu.Unlock()

	if wasConnected && closed != nil {
		go closed(nil)
	}
	if callback != nil {
		go callback(nil)
	}
}

func (f *fakeStream) SetReadCallback(fn tcp.ReadCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = fn
}

func (f *fakeStream) SetShouldReconnect(fn func() bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnect = fn
}

// dropRemote simulates the peer closing the connection for good.
func (f *fakeStream) dropRemote() {
	f.mu.Lock()
	f.connected = false
	closed := f.opts.Closed
	f.mu.Unlock()
	closed(nil)
}

func (f *fakeStream) deliver(data []byte) {
	f.mu.Lock()
	read := f.read
	f.mu.Unlock()
	read(data, nil)
}

func (f *fakeStream) stats() (written string, writes, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String(), f.writes, f.disconnects
}

// fakeDatagram is a datagramChannel whose datagrams are injected by tests.
type fakeDatagram struct {
	mu        sync.Mutex
	opts      *udp.Options
	resumeErr error
	resumed   bool
	configure func(*socket.Socket)
	cancelled int
}

func (f *fakeDatagram) factory() datagramFactory {
	return func(_ address.Address, opts *udp.Options) datagramChannel {
		f.mu.Lock()
		f.opts = opts
		f.mu.Unlock()
		return f
	}
}

func (f *fakeDatagram) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.resumed = true
	return nil
}

func (f *fakeDatagram) Cancel() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = false
	f.cancelled++
	done := make(chan struct{})
	close(done)
	return done
}

func (f *fakeDatagram) LocalAddress() (address.Address, error) {
	return address.MustNew("127.0.0.1", 4000), nil
}

func (f *fakeDatagram) SetConfigureSocket(fn func(*socket.Socket)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configure = fn
}

func (f *fakeDatagram) receive(d udp.Datagram) {
	f.mu.Lock()
	handler := f.opts.ReadHandler
	f.mu.Unlock()
	handler(d)
}

// fakeSender records datagrams instead of sending them.
type fakeSender struct {
	mu       sync.Mutex
	err      error
	payloads [][]byte
	targets  []address.Address
}

func (f *fakeSender) send(q *queue.Serial, data []byte, to address.Address, _ *config.Dependencies, callback func(error)) {
	payload := bytes.Clone(data)
	q.Async(func() {
		f.mu.Lock()
		err := f.err
		if err == nil {
			f.payloads = append(f.payloads, payload)
			f.targets = append(f.targets, to)
		}
		f.mu.Unlock()
		callback(err)
	})
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.payloads))
	for i, p := range f.payloads {
		out[i] = string(p)
	}
	return out
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
