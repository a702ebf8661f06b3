package services

import (
	"encoding/binary"
	"testing"
)

func TestWavFromPCMHeader(t *testing.T) {
	pcm := make([]byte, 48000)
	wav := wavFromPCM(pcm, 24000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("wav length: want %d, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad container magic: %q %q", wav[0:4], wav[8:12])
	}
	if string(wav[12:16]) != "fmt " || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q %q", wav[12:16], wav[36:40])
	}

	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Fatalf("channels: want 1, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Fatalf("sample rate: want 24000, got %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Fatalf("bits per sample: want 16, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size: want %d, got %d", len(pcm), got)
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Fatalf("riff size: want %d, got %d", 36+len(pcm), got)
	}
}
