// Package audio, arayan sesini G.711 mu-law'dan PCM16'ya çevirip WAV dosyasına yazar.
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	SampleRate = 8000
	bitDepth   = 16
	channels   = 1
	pcmFormat  = 1
)

var ulawTable [256]int16

func init() {
	for i := range ulawTable {
		ulawTable[i] = decodeULaw(byte(i))
	}
}

func decodeULaw(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int(mantissa) << 3) + 0x84) << exponent
	sample -= 0x84
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// DecodeULaw, mu-law baytlarını işaretli 16 bit örneklere çevirir.
func DecodeULaw(mulaw []byte) []int {
	out := make([]int, len(mulaw))
	for i, b := range mulaw {
		out[i] = int(ulawTable[b])
	}
	return out
}

// Capture, tek bir çağrının arayan sesini <dir>/<call_id>.wav dosyasına yazar.
type Capture struct {
	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	format *goaudio.Format
	closed bool
	Path   string
}

func NewCapture(dir, callID string) (*Capture, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kayıt dizini oluşturulamadı: %w", err)
	}
	path := filepath.Join(dir, callID+".wav")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("kayıt dosyası açılamadı: %w", err)
	}
	return &Capture{
		file:   f,
		enc:    wav.NewEncoder(f, SampleRate, bitDepth, channels, pcmFormat),
		format: &goaudio.Format{NumChannels: channels, SampleRate: SampleRate},
		Path:   path,
	}, nil
}

// Write, bir medya çerçevesini dosyaya ekler. Kapatıldıktan sonraki yazımlar yok sayılır.
func (c *Capture) Write(mulaw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(mulaw) == 0 {
		return nil
	}
	buf := &goaudio.IntBuffer{
		Format:         c.format,
		Data:           DecodeULaw(mulaw),
		SourceBitDepth: bitDepth,
	}
	return c.enc.Write(buf)
}

// Close, WAV başlığını tamamlar ve dosyayı kapatır. Birden fazla çağrılabilir.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	encErr := c.enc.Close()
	fileErr := c.file.Close()
	if encErr != nil {
		return fmt.Errorf("wav başlığı yazılamadı: %w", encErr)
	}
	return fileErr
}
