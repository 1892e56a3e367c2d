package wav

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name       string
		sampleRate int
		channels   int
		bits       int
		pcmLen     int
	}{
		{"mic mono 16k", MicSampleRate, 1, 16, 3200},
		{"synth mono 24k", SynthSampleRate, 1, 16, 4800},
		{"stereo 44k", 44100, 2, 16, 1764},
		{"empty payload", MicSampleRate, 1, 16, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pcm := make([]byte, tc.pcmLen)
			for i := range pcm {
				pcm[i] = byte(i % 251)
			}

			wavData := Encode(pcm, tc.sampleRate, tc.channels, tc.bits)
			if len(wavData) != HeaderSize+tc.pcmLen {
				t.Fatalf("expected %d bytes, got %d", HeaderSize+tc.pcmLen, len(wavData))
			}

			hdr, err := DecodeHeader(wavData)
			if err != nil {
				t.Fatalf("DecodeHeader failed: %v", err)
			}
			if hdr.SampleRate != tc.sampleRate {
				t.Errorf("sample rate: expected %d, got %d", tc.sampleRate, hdr.SampleRate)
			}
			if hdr.Channels != tc.channels {
				t.Errorf("channels: expected %d, got %d", tc.channels, hdr.Channels)
			}
			if hdr.BitsPerSample != tc.bits {
				t.Errorf("bits: expected %d, got %d", tc.bits, hdr.BitsPerSample)
			}
			if hdr.DataLength != tc.pcmLen {
				t.Errorf("data length: expected %d, got %d", tc.pcmLen, hdr.DataLength)
			}

			if !bytes.Equal(wavData[HeaderSize:], pcm) {
				t.Error("payload does not survive encoding")
			}
		})
	}
}

func TestDecodeHeaderRejectsGarbage(t *testing.T) {
	if _, err := DecodeHeader([]byte("short")); err == nil {
		t.Error("expected error for short input")
	}

	bogus := make([]byte, HeaderSize)
	copy(bogus, "RIFX")
	if _, err := DecodeHeader(bogus); err == nil {
		t.Error("expected error for non-RIFF input")
	}
}

func TestIsWAV(t *testing.T) {
	wavData := EncodeMic([]byte{0, 0, 0, 0})
	if !IsWAV(wavData) {
		t.Error("encoded container not recognised")
	}
	if IsWAV([]byte("plain pcm bytes here")) {
		t.Error("raw bytes misrecognised as WAV")
	}
}
