package audio

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var errPickerAborted = fmt.Errorf("device selection aborted")

// picker tracks the cursor of the interactive device list.
type picker struct {
	devices []DeviceInfo
	cursor  int
}

// key applies one keypress read from a raw terminal. done is set on Enter,
// err on Ctrl+C.
func (p *picker) key(b []byte) (done bool, err error) {
	switch {
	case len(b) == 1 && b[0] == '\r', len(b) == 1 && b[0] == '\n':
		return true, nil
	case len(b) == 1 && b[0] == 3:
		return false, errPickerAborted
	case len(b) == 1 && b[0] == 'j', len(b) == 3 && b[0] == 0x1b && b[1] == '[' && b[2] == 'B':
		if p.cursor < len(p.devices)-1 {
			p.cursor++
		}
	case len(b) == 1 && b[0] == 'k', len(b) == 3 && b[0] == 0x1b && b[1] == '[' && b[2] == 'A':
		if p.cursor > 0 {
			p.cursor--
		}
	}
	return false, nil
}

func (p *picker) render(w io.Writer) {
	var sb strings.Builder
	sb.WriteString("\r\x1b[J")
	sb.WriteString("Select input device (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range p.devices {
		btTag := ""
		if IsBluetooth(d.Name) {
			btTag = " \x1b[33m[⚠ Lower audio quality]\x1b[0m"
		}
		if i == p.cursor {
			fmt.Fprintf(&sb, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, btTag)
		} else {
			fmt.Fprintf(&sb, "    %s%s\r\n", d.Name, btTag)
		}
	}
	io.WriteString(w, sb.String())
}

// run reads keys from r until the user confirms or aborts.
func (p *picker) run(r io.Reader, w io.Writer) (*DeviceInfo, error) {
	p.render(w)
	buf := make([]byte, 3)
	for {
		n, err := r.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		done, err := p.key(buf[:n])
		if err != nil {
			io.WriteString(w, "\r\n")
			return nil, err
		}
		if done {
			io.WriteString(w, "\r\n")
			return &p.devices[p.cursor], nil
		}
		fmt.Fprintf(w, "\x1b[%dA", len(p.devices)+2)
		p.render(w)
	}
}

// SelectDevice presents an interactive device picker and returns the selected device.
// If only one device is available, it returns that device without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no capture devices found", ErrDeviceUnavailable)
	}

	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	p := &picker{devices: devices}
	return p.run(os.Stdin, os.Stdout)
}

// FindDevice returns the device whose name contains name, case-insensitively.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	want := strings.ToLower(name)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), want) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no device matching %q", ErrDeviceUnavailable, name)
}
