//go:build linux

package canbus

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
	"unsafe"
)

// socketCAN implements Bus over Linux SocketCAN using raw syscalls only.
type socketCAN struct {
	fd     int
	file   *os.File
	closed chan struct{}
}

// DialSocketCAN opens a raw CAN socket bound to the given interface name
// (e.g. "can0"). This is the production transport for a Linux host; the
// real transceiver/filtering hardware is out of scope (spec §1) — SocketCAN
// is the kernel's own abstraction over it.
func DialSocketCAN(iface string) (Bus, error) {
	const afCAN = 29
	const canRaw = 1
	fd, err := syscall.Socket(afCAN, syscall.SOCK_RAW, canRaw)
	if err != nil {
		return nil, fmt.Errorf("canbus: open raw CAN socket: %w", err)
	}

	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("canbus: lookup interface %s: %w", iface, err)
	}

	// struct sockaddr_can { sa_family_t can_family; int can_ifindex; union {...} addr; }
	type sockaddrCAN struct {
		Family  uint16
		_pad    uint16
		Ifindex int32
		Addr    [8]byte
	}
	sa := sockaddrCAN{Family: afCAN, Ifindex: int32(netIf.Index)}
	_, _, e := syscall.Syscall(syscall.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa))
	if e != 0 {
		syscall.Close(fd)
		return nil, fmt.Errorf("canbus: bind to %s: %w", iface, e)
	}

	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("canbus: set nonblocking on %s: %w", iface, err)
	}

	f := os.NewFile(uintptr(fd), "socketcan")
	return &socketCAN{fd: fd, file: f, closed: make(chan struct{})}, nil
}

func (s *socketCAN) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	return s.file.Close()
}

// Send writes one frame using the Linux can_frame binary layout.
func (s *socketCAN) Send(ctx context.Context, frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	for {
		n, werr := syscall.Write(s.fd, buf)
		if werr == nil {
			if n != len(buf) {
				return fmt.Errorf("canbus: short write (%d of %d bytes)", n, len(buf))
			}
			return nil
		}
		if werr == syscall.EAGAIN || werr == syscall.EWOULDBLOCK {
			if err := s.waitWritable(ctx); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("canbus: write to socketcan fd: %w", werr)
	}
}

// Receive reads one frame, respecting context cancellation.
func (s *socketCAN) Receive(ctx context.Context) (Frame, error) {
	var f Frame
	buf := make([]byte, 16)
	for {
		n, rerr := syscall.Read(s.fd, buf)
		if rerr == nil {
			if n != len(buf) {
				return Frame{}, fmt.Errorf("canbus: short read (%d of %d bytes)", n, len(buf))
			}
			if err := f.UnmarshalBinary(buf); err != nil {
				return Frame{}, fmt.Errorf("canbus: decode socketcan frame: %w", err)
			}
			return f, nil
		}
		if rerr == syscall.EAGAIN || rerr == syscall.EWOULDBLOCK {
			if err := s.waitReadable(ctx); err != nil {
				return Frame{}, err
			}
			continue
		}
		return Frame{}, fmt.Errorf("canbus: read from socketcan fd: %w", rerr)
	}
}

func (s *socketCAN) waitReadable(ctx context.Context) error { return s.wait(ctx, true, false) }
func (s *socketCAN) waitWritable(ctx context.Context) error { return s.wait(ctx, false, true) }

func (s *socketCAN) wait(ctx context.Context, r, w bool) error {
	for {
		var timeout *syscall.Timeval
		if deadline, ok := ctx.Deadline(); ok {
			d := time.Until(deadline)
			if d <= 0 {
				return ctx.Err()
			}
			timeout = &syscall.Timeval{Sec: int64(d / time.Second), Usec: int64((d % time.Second) / time.Microsecond)}
		} else {
			timeout = &syscall.Timeval{Sec: 0, Usec: 50_000}
		}

		var readfds, writefds syscall.FdSet
		if r {
			fdSetAdd(&readfds, s.fd)
		}
		if w {
			fdSetAdd(&writefds, s.fd)
		}
		nfds := s.fd + 1
		_, err := syscall.Select(nfds, &readfds, &writefds, nil, timeout)
		if err == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return nil
			}
		}
		if err == syscall.EINTR {
			continue
		}
		return err
	}
}

func fdSetAdd(set *syscall.FdSet, fd int) {
	set.Bits[fd/64] |= int64(1) << (uint(fd) % 64)
}
