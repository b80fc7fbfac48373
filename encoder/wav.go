package encoder

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"omnimind/pcm"
)

const wavHeaderSize = 44

// WavEncoder collects PCM16LE mono samples and wraps them in a RIFF/WAVE
// container.
type WavEncoder struct {
	sampleRate  int
	mu          sync.Mutex
	data        bytes.Buffer
	totalFrames uint64
	encodeTime  time.Duration
}

func NewWav(sampleRate int) *WavEncoder {
	return &WavEncoder{sampleRate: sampleRate}
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data.Write(pcm.Encode(block))
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *WavEncoder) Close() error { return nil }

// Bytes returns a complete WAV file for everything encoded so far.
func (e *WavEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]byte, wavHeaderSize, wavHeaderSize+e.data.Len())
	writeWAVHeader(out, e.data.Len(), e.sampleRate)
	return append(out, e.data.Bytes()...)
}

func writeWAVHeader(h []byte, dataSize, sampleRate int) {
	const blockAlign = Channels * BitsPerSample / 8
	le := binary.LittleEndian
	copy(h[0:], "RIFF")
	le.PutUint32(h[4:], uint32(36+dataSize))
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	le.PutUint32(h[16:], 16)
	le.PutUint16(h[20:], 1) // PCM
	le.PutUint16(h[22:], Channels)
	le.PutUint32(h[24:], uint32(sampleRate))
	le.PutUint32(h[28:], uint32(sampleRate*blockAlign))
	le.PutUint16(h[32:], blockAlign)
	le.PutUint16(h[34:], BitsPerSample)
	copy(h[36:], "data")
	le.PutUint32(h[40:], uint32(dataSize))
}

func (e *WavEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}

func (e *WavEncoder) Format() Format { return FormatWAV }

func (e *WavEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *WavEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}
