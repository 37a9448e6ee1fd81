package entrypoint

import (
	"time"

	"dominicbreuker/sockchan/pkg/address"
	"dominicbreuker/sockchan/pkg/channel/tcp"
	"dominicbreuker/sockchan/pkg/channel/udp"
	"dominicbreuker/sockchan/pkg/config"
	"dominicbreuker/sockchan/pkg/queue"
	"dominicbreuker/sockchan/pkg/retry"
	"dominicbreuker/sockchan/pkg/socket"
)

// streamChannel is the part of a tcp.Channel the entrypoints use.
type streamChannel interface {
	Connect(timeout time.Duration, callback func(error))
	ConnectWithRetry(policy retry.Policy, callback func(error))
	Write(data []byte, callback func(error))
	Disconnect(callback func(error))
	SetReadCallback(fn tcp.ReadCallback)
	SetShouldReconnect(fn func() bool)
}

// streamFactory is a function type for creating stream channels.
type streamFactory func(addr address.Address, opts *tcp.Options) streamChannel

// realStreamFactory returns the actual stream factory used in production.
func realStreamFactory() streamFactory {
	return func(addr address.Address, opts *tcp.Options) streamChannel {
		return tcp.New(addr, opts)
	}
}

// datagramChannel is the part of a udp.Channel the entrypoints use.
type datagramChannel interface {
	Resume() error
	Cancel() <-chan struct{}
	LocalAddress() (address.Address, error)
	SetConfigureSocket(fn func(*socket.Socket))
}

// datagramFactory is a function type for creating datagram channels.
type datagramFactory func(addr address.Address, opts *udp.Options) datagramChannel

// realDatagramFactory returns the actual datagram factory used in production.
func realDatagramFactory() datagramFactory {
	return func(addr address.Address, opts *udp.Options) datagramChannel {
		return udp.New(addr, opts)
	}
}

// datagramSender sends one datagram without a channel.
type datagramSender func(q *queue.Serial, data []byte, to address.Address, deps *config.Dependencies, callback func(error))

// realDatagramSender returns the actual sender used in production.
func realDatagramSender() datagramSender {
	return udp.Send
}
