package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	BytesPerSample   = 2
)

var ErrMisaligned = errors.New("pcm: byte length not aligned to sample stride")

// CodecError reports a frame that could not be decoded. Playback drops the
// frame and keeps the session running.
type CodecError struct {
	Len    int
	Stride int
	Err    error
}

func (e *CodecError) Error() string {
	if e.Stride > 0 {
		return fmt.Sprintf("pcm: %d bytes is not a multiple of %d: %v", e.Len, e.Stride, e.Err)
	}
	return fmt.Sprintf("pcm: decode %d bytes: %v", e.Len, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// Format identifies the sample rate and channel count of a PCM16LE stream.
type Format struct {
	SampleRate int
	Channels   int
}

var (
	InputFormat  = Format{SampleRate: InputSampleRate, Channels: 1}
	OutputFormat = Format{SampleRate: OutputSampleRate, Channels: 1}
)

// MIMEType renders the tag the live API expects, e.g. "audio/pcm;rate=16000".
func (f Format) MIMEType() string {
	return "audio/pcm;rate=" + strconv.Itoa(f.SampleRate)
}

// ParseMIMEType reads the rate parameter of an audio/pcm tag. Missing or
// unparsable rates fall back to the output rate.
func ParseMIMEType(mime string) Format {
	f := OutputFormat
	for _, part := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.ToLower(k) != "rate" {
			continue
		}
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			f.SampleRate = rate
		}
	}
	return f
}

// Encode packs samples as little-endian 16-bit words.
func Encode(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Decode is the inverse of Encode.
func Decode(b []byte) ([]int16, error) {
	if len(b)%BytesPerSample != 0 {
		return nil, &CodecError{Len: len(b), Stride: BytesPerSample, Err: ErrMisaligned}
	}
	out := make([]int16, len(b)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}

func EncodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func DecodeBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &CodecError{Len: len(s), Err: err}
	}
	return b, nil
}

// FromFloat converts normalized samples to PCM16, clamping anything outside
// [-1, 1] to the 16-bit range.
func FromFloat(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32768
		switch {
		case math.IsNaN(v):
			v = 0
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// Buffer holds de-interleaved normalized samples.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

func (b *Buffer) Seconds() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

func (b *Buffer) Duration() time.Duration {
	return time.Duration(b.Seconds() * float64(time.Second))
}

// ToFloat reinterprets interleaved PCM16LE bytes as a Buffer.
func ToFloat(b []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, &CodecError{Len: len(b), Err: fmt.Errorf("invalid channel count %d", channels)}
	}
	stride := channels * BytesPerSample
	if len(b)%stride != 0 {
		return nil, &CodecError{Len: len(b), Stride: stride, Err: ErrMisaligned}
	}

	frames := len(b) / stride
	buf := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			s := int16(binary.LittleEndian.Uint16(b[(i*channels+ch)*2:]))
			buf.Channels[ch][i] = float32(s) / 32768
		}
	}
	return buf, nil
}

// RMS returns the root mean square level of normalized samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
