package canbus

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.bug.st/serial"
)

// slcanBus talks the Lawicel "slcan" ASCII protocol to a USB-CAN dongle over
// a serial port. This is the bench/field alternative to SocketCAN for a
// laptop with no native CAN interface — the same shape of tradeoff
// Thermoquad-heliostat makes between its SerialConnection and
// WebSocketConnection transports.
type slcanBus struct {
	port   serial.Port
	reader *bufio.Reader

	mu     sync.Mutex
	closed bool

	rxMu sync.Mutex
	rxCh chan Frame
	errC chan error
}

// SlcanConfig configures the serial port underlying a slcan dongle.
type SlcanConfig struct {
	BaudRate int // dongle USB-serial baud rate, e.g. 115200 or 230400
	Bitrate  int // requested CAN bus bitrate in bit/s, e.g. 500000
}

// DefaultSlcanConfig returns sane defaults for the common dongle firmwares.
func DefaultSlcanConfig() SlcanConfig {
	return SlcanConfig{BaudRate: 115200, Bitrate: 500000}
}

// bitrateCode maps standard CAN bitrates to the slcan "Sn" command argument.
var bitrateCode = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// DialSlcan opens the named serial port, configures the dongle for the
// requested bitrate, and opens the CAN channel.
func DialSlcan(portName string, cfg SlcanConfig) (Bus, error) {
	mode := &serial.Mode{BaudRate: cfg.BaudRate}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("canbus: open %s: %w", portName, err)
	}

	code, ok := bitrateCode[cfg.Bitrate]
	if !ok {
		port.Close()
		return nil, fmt.Errorf("canbus: unsupported slcan bitrate %d", cfg.Bitrate)
	}

	b := &slcanBus{
		port:   port,
		reader: bufio.NewReader(port),
		rxCh:   make(chan Frame, 64),
		errC:   make(chan error, 1),
	}

	if err := b.writeCmd(fmt.Sprintf("S%c", code)); err != nil {
		port.Close()
		return nil, err
	}
	if err := b.writeCmd("O"); err != nil {
		port.Close()
		return nil, err
	}

	go b.readLoop()
	return b, nil
}

func (b *slcanBus) writeCmd(cmd string) error {
	_, err := b.port.Write([]byte(cmd + "\r"))
	return err
}

// readLoop parses slcan lines off the serial port and feeds decoded frames
// into rxCh. It runs until the port is closed.
func (b *slcanBus) readLoop() {
	for {
		line, err := b.reader.ReadString('\r')
		if err != nil {
			select {
			case b.errC <- err:
			default:
			}
			close(b.rxCh)
			return
		}
		if len(line) < 2 {
			continue
		}
		f, ok := decodeSlcanLine(line[:len(line)-1])
		if !ok {
			continue
		}
		select {
		case b.rxCh <- f:
		default:
			// Drop if the consumer isn't keeping up.
		}
	}
}

// Send encodes and writes one frame as an slcan "t"/"T"/"r"/"R" line.
func (b *slcanBus) Send(ctx context.Context, frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	line := encodeSlcanLine(frame)
	done := make(chan error, 1)
	go func() {
		_, err := b.port.Write([]byte(line + "\r"))
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next decoded frame, respecting context cancellation.
func (b *slcanBus) Receive(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-b.rxCh:
		if !ok {
			select {
			case err := <-b.errC:
				return Frame{}, err
			default:
				return Frame{}, ErrClosed
			}
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (b *slcanBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.writeCmd("C")
	return b.port.Close()
}

// encodeSlcanLine renders a frame as a slcan ASCII command.
//
//	t<id3><dlc><data>    standard data frame
//	T<id8><dlc><data>    extended data frame
//	r<id3><dlc>          standard remote frame
//	R<id8><dlc>          extended remote frame
func encodeSlcanLine(f Frame) string {
	var head string
	switch {
	case f.Extended && f.RTR:
		head = fmt.Sprintf("R%08X%d", f.ID, f.Len)
	case f.Extended && !f.RTR:
		head = fmt.Sprintf("T%08X%d", f.ID, f.Len)
	case !f.Extended && f.RTR:
		head = fmt.Sprintf("r%03X%d", f.ID, f.Len)
	default:
		head = fmt.Sprintf("t%03X%d", f.ID, f.Len)
	}
	if f.RTR {
		return head
	}
	for i := 0; i < int(f.Len); i++ {
		head += fmt.Sprintf("%02X", f.Data[i])
	}
	return head
}

// decodeSlcanLine parses a received slcan ASCII command into a Frame.
func decodeSlcanLine(line string) (Frame, bool) {
	if len(line) == 0 {
		return Frame{}, false
	}
	var f Frame
	var idLen int
	switch line[0] {
	case 't':
		f.Extended, f.RTR, idLen = false, false, 3
	case 'T':
		f.Extended, f.RTR, idLen = true, false, 8
	case 'r':
		f.Extended, f.RTR, idLen = false, true, 3
	case 'R':
		f.Extended, f.RTR, idLen = true, true, 8
	default:
		return Frame{}, false
	}
	if len(line) < 1+idLen+1 {
		return Frame{}, false
	}
	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return Frame{}, false
	}
	f.ID = uint32(id)

	dlcPos := 1 + idLen
	dlc, err := strconv.ParseUint(line[dlcPos:dlcPos+1], 16, 8)
	if err != nil || dlc > 8 {
		return Frame{}, false
	}
	f.Len = uint8(dlc)

	if !f.RTR {
		dataStart := dlcPos + 1
		need := dataStart + int(dlc)*2
		if len(line) < need {
			return Frame{}, false
		}
		for i := 0; i < int(dlc); i++ {
			b, err := strconv.ParseUint(line[dataStart+i*2:dataStart+i*2+2], 16, 8)
			if err != nil {
				return Frame{}, false
			}
			f.Data[i] = byte(b)
		}
	}
	if err := f.Validate(); err != nil {
		return Frame{}, false
	}
	return f, true
}
