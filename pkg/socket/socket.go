// Package socket wraps a single OS socket descriptor.
//
// A Socket has exactly one owner, which is responsible for calling Close once
// all I/O on the socket has ceased. Close itself is idempotent; the descriptor
// reads -1 afterwards. Operations on a closed socket fail with EBADF.
package socket

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"dominicbreuker/sockchan/pkg/address"

	"golang.org/x/sys/unix"
)

// DefaultConnectTimeout is used by callers that do not pick a timeout.
const DefaultConnectTimeout = 30 * time.Second

// Socket owns one OS socket descriptor.
type Socket struct {
	mu  sync.RWMutex
	fd  int
	typ int
}

// New creates a socket, see socket(2).
func New(family, typ, proto int) (*Socket, error) {
	fd, err := unix.Socket(family, typ, proto)
	if err != nil {
		return nil, newSystemError(fmt.Sprintf("socket(%d, %d, %d)", family, typ, proto), err)
	}
	unix.CloseOnExec(fd)
	return &Socket{fd: fd, typ: typ}, nil
}

// FromDescriptor takes ownership of an existing socket descriptor.
func FromDescriptor(fd int) (*Socket, error) {
	typ, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return nil, newSystemError("getsockopt(SO_TYPE)", err)
	}
	return &Socket{fd: fd, typ: typ}, nil
}

// Descriptor returns the descriptor, or -1 once closed.
func (s *Socket) Descriptor() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fd
}

// Type returns the socket type, e.g. unix.SOCK_STREAM.
func (s *Socket) Type() int {
	return s.typ
}

func (s *Socket) String() string {
	return fmt.Sprintf("Socket(fd: %d, type: %d)", s.Descriptor(), s.typ)
}

func (s *Socket) descriptor(op string) (int, error) {
	fd := s.Descriptor()
	if fd < 0 {
		return -1, &SystemError{Op: op, Errno: unix.EBADF}
	}
	return fd, nil
}

// Close closes the descriptor. Calling it again is a no-op.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	if err != nil {
		return newSystemError("close", err)
	}
	return nil
}

// SetNonBlocking toggles O_NONBLOCK.
func (s *Socket) SetNonBlocking(nonBlocking bool) error {
	fd, err := s.descriptor("fcntl")
	if err != nil {
		return err
	}
	if err := unix.SetNonblock(fd, nonBlocking); err != nil {
		return newSystemError("fcntl(O_NONBLOCK)", err)
	}
	return nil
}

// SetReuseAddr sets SO_REUSEADDR.
func (s *Socket) SetReuseAddr(reuse bool) error {
	fd, err := s.descriptor("setsockopt")
	if err != nil {
		return err
	}
	v := 0
	if reuse {
		v = 1
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, v); err != nil {
		return newSystemError("setsockopt(SO_REUSEADDR)", err)
	}
	return nil
}

// Connect connects to addr, waiting at most timeout for the handshake. A
// timeout <= 0 waits indefinitely.
//
// The socket is switched to non-blocking mode for the handshake and back to
// blocking mode on success. On any failure the descriptor is closed.
func (s *Socket) Connect(addr address.Address, timeout time.Duration) error {
	sa, err := addr.Sockaddr()
	if err != nil {
		_ = s.Close()
		return err
	}

	if err := s.SetNonBlocking(true); err != nil {
		_ = s.Close()
		return err
	}
	fd, err := s.descriptor("connect")
	if err != nil {
		return err
	}

	err = unix.Connect(fd, sa)
	switch {
	case err == nil:
		return s.SetNonBlocking(false)
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
	default:
		_ = s.Close()
		return newSystemError(fmt.Sprintf("connect(%s)", addr), err)
	}

	if err := waitWritable(fd, timeout); err != nil {
		_ = s.Close()
		return err
	}

	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		_ = s.Close()
		return newSystemError("getsockopt(SO_ERROR)", err)
	}
	if soErr != 0 {
		_ = s.Close()
		return &SystemError{Op: fmt.Sprintf("connect(%s)", addr), Errno: unix.Errno(soErr)}
	}

	return s.SetNonBlocking(false)
}

// waitWritable blocks until fd is writable or timeout expires.
func waitWritable(fd int, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		wait := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrTimedOut
			}
			// round up so that we never spin on a sub-millisecond remainder
			wait = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}

		fds[0].Revents = 0
		n, err := unix.Poll(fds, wait)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return newSystemError("poll", err)
		}
		if n == 0 {
			continue // deadline check at the top decides
		}
		return nil
	}
}

// Bind binds the socket to addr.
func (s *Socket) Bind(addr address.Address) error {
	fd, err := s.descriptor("bind")
	if err != nil {
		return err
	}
	sa, err := addr.Sockaddr()
	if err != nil {
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		return newSystemError(fmt.Sprintf("bind(%s)", addr), err)
	}
	return nil
}

// Listen marks a stream socket as passive. Calling it on any other socket
// type is a programming error and panics.
func (s *Socket) Listen(backlog int) error {
	s.mustBeStream("Listen")
	fd, err := s.descriptor("listen")
	if err != nil {
		return err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return newSystemError("listen", err)
	}
	return nil
}

// Accept waits for a connection on a listening stream socket. Calling it on
// any other socket type is a programming error and panics.
func (s *Socket) Accept() (*Socket, address.Address, error) {
	s.mustBeStream("Accept")
	fd, err := s.descriptor("accept")
	if err != nil {
		return nil, address.Address{}, err
	}

	for {
		nfd, sa, err := unix.Accept(fd)
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
			continue
		}
		if err != nil {
			return nil, address.Address{}, newSystemError("accept", err)
		}
		unix.CloseOnExec(nfd)

		peer, err := address.FromSockaddr(sa)
		if err != nil {
			_ = unix.Close(nfd)
			return nil, address.Address{}, err
		}
		return &Socket{fd: nfd, typ: unix.SOCK_STREAM}, peer, nil
	}
}

func (s *Socket) mustBeStream(op string) {
	if s.typ != unix.SOCK_STREAM {
		panic(fmt.Sprintf("socket: %s should only be used on SOCK_STREAM sockets", op))
	}
}

// LocalAddress returns the address the socket is bound to.
func (s *Socket) LocalAddress() (address.Address, error) {
	fd, err := s.descriptor("getsockname")
	if err != nil {
		return address.Address{}, err
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return address.Address{}, newSystemError("getsockname", err)
	}
	return address.FromSockaddr(sa)
}

// PeerAddress returns the address of the connected peer.
func (s *Socket) PeerAddress() (address.Address, error) {
	fd, err := s.descriptor("getpeername")
	if err != nil {
		return address.Address{}, err
	}
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return address.Address{}, newSystemError("getpeername", err)
	}
	return address.FromSockaddr(sa)
}

// Shutdown shuts down part of a full-duplex connection, see shutdown(2).
// Blocked reads return end-of-stream afterwards.
func (s *Socket) Shutdown(how int) error {
	fd, err := s.descriptor("shutdown")
	if err != nil {
		return err
	}
	if err := unix.Shutdown(fd, how); err != nil {
		return newSystemError("shutdown", err)
	}
	return nil
}

// Read reads up to len(p) bytes. It returns 0, nil at end of stream.
func (s *Socket) Read(p []byte) (int, error) {
	fd, err := s.descriptor("read")
	if err != nil {
		return 0, err
	}
	for {
		n, err := unix.Read(fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, newSystemError("read", err)
		}
		return n, nil
	}
}

// Write writes all of p, or fails.
func (s *Socket) Write(p []byte) (int, error) {
	fd, err := s.descriptor("write")
	if err != nil {
		return 0, err
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(fd, p[written:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return written, newSystemError("write", err)
		}
		written += n
	}
	return written, nil
}

// SendTo sends one datagram. Sending fewer bytes than len(p) is an error;
// the send is not retried.
func (s *Socket) SendTo(p []byte, addr address.Address) error {
	fd, err := s.descriptor("sendto")
	if err != nil {
		return err
	}
	sa, err := addr.Sockaddr()
	if err != nil {
		return err
	}

	n, err := unix.SendmsgN(fd, p, nil, sa, 0)
	if err != nil {
		return newSystemError(fmt.Sprintf("sendto(%s)", addr), err)
	}
	if n < len(p) {
		return &SystemError{Op: fmt.Sprintf("sendto(%s): sent %d of %d bytes", addr, n, len(p)), Errno: unix.EIO}
	}
	return nil
}

// RecvFrom receives one datagram into p. Datagrams larger than p are
// truncated.
func (s *Socket) RecvFrom(p []byte) (int, address.Address, error) {
	fd, err := s.descriptor("recvfrom")
	if err != nil {
		return 0, address.Address{}, err
	}
	for {
		n, sa, err := unix.Recvfrom(fd, p, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, address.Address{}, newSystemError("recvfrom", err)
		}
		var from address.Address
		if sa != nil {
			if from, err = address.FromSockaddr(sa); err != nil {
				return 0, address.Address{}, err
			}
		}
		if n > len(p) {
			n = len(p)
		}
		return n, from, nil
	}
}
