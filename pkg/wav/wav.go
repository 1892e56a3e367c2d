// Package wav packs raw linear PCM into canonical RIFF/WAVE containers and
// reads their headers back. Only uncompressed 16-bit PCM is supported; the
// bridge never transcodes audio, it only repackages it.
package wav

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the size of the canonical RIFF header for linear PCM.
	HeaderSize = 44

	// MicSampleRate is the capture rate used by push-to-talk and ambient uploads.
	MicSampleRate = 16000
	// SynthSampleRate is the rate TTS engines emit for playback injection.
	SynthSampleRate = 24000
)

// Header describes a decoded WAV container.
type Header struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataLength    int
}

// Encode wraps pcm in a canonical 44-byte RIFF/WAVE header.
func Encode(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(pcm)))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// EncodeMic wraps microphone-rate mono PCM.
func EncodeMic(pcm []byte) []byte {
	return Encode(pcm, MicSampleRate, 1, 16)
}

// DecodeHeader parses the canonical header produced by Encode.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("wav: container too short (%d bytes)", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Header{}, fmt.Errorf("wav: not a RIFF/WAVE container")
	}
	if string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return Header{}, fmt.Errorf("wav: non-canonical chunk layout")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return Header{}, fmt.Errorf("wav: unsupported audio format %d", format)
	}

	return Header{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
		DataLength:    int(binary.LittleEndian.Uint32(data[40:44])),
	}, nil
}

// IsWAV reports whether data already carries a RIFF/WAVE header, in which
// case the adapters pass it through instead of double-wrapping.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
