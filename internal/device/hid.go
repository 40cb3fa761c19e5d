package device

import (
	"context"

	"codeberg.org/mutker/laptopctl/internal/control"
	"golang.org/x/sys/unix"
)

const (
	ReportSize = 16

	reportID      = 0xcc
	reportCommand = 0x01
	modeSolid     = 0x01
	modeClear     = 0x53
)

// Report encodes an RGB state as the keyboard controller's 16 byte
// report: id, command, mode, red, green, blue, brightness, zero padding.
func Report(s control.RgbState) [ReportSize]byte {
	var r [ReportSize]byte
	r[0] = reportID
	r[1] = reportCommand

	if !s.Enabled {
		r[2] = modeClear
		return r
	}

	r[2] = modeSolid
	r[3], r[4], r[5] = s.Color[0], s.Color[1], s.Color[2]
	r[6] = s.Brightness

	return r
}

// hidWriter sends reports to a hidraw node.
type hidWriter interface {
	Send(ctx context.Context, report []byte) error
	Probe() error
}

type hidraw struct {
	path string
}

func (h hidraw) Send(ctx context.Context, report []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fd, err := unix.Open(h.path, unix.O_WRONLY|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	n, err := unix.Write(fd, report)
	if err != nil {
		return err
	}
	if n != len(report) {
		return unix.EIO
	}

	return nil
}

func (h hidraw) Probe() error {
	return unix.Access(h.path, unix.W_OK)
}
