package encoder

import (
	"fmt"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

type Format string

const (
	FormatFLAC Format = "flac"
	FormatWAV  Format = "wav"
)

func (f Format) MIMEType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	default:
		return "audio/flac"
	}
}

func (f Format) Ext() string {
	if f == "" {
		return string(FormatFLAC)
	}
	return string(f)
}

// Encoder writes mono PCM16 blocks into an in-memory container. Every block
// except the last must hold BlockSize samples.
type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	Format() Format
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
}

func New(format Format, sampleRate int) (Encoder, error) {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	switch format {
	case FormatFLAC, "":
		return NewFlac(sampleRate)
	case FormatWAV:
		return NewWav(sampleRate), nil
	default:
		return nil, fmt.Errorf("unknown recording format %q", format)
	}
}

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatFLAC, FormatWAV:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown recording format %q (want flac or wav)", s)
	}
}
