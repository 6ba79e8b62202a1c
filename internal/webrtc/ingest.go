package webrtc

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/voicebridge/internal/audio"
	"github.com/pion/webrtc/v3"
)

// decodePayload turns one RTP payload into a normalized frame using the
// negotiated codec. Linear PCM arrives in network byte order.
func decodePayload(codec webrtc.RTPCodecParameters, payload []byte) (audio.Frame, error) {
	mime := strings.ToLower(codec.MimeType)
	switch {
	case mime == strings.ToLower(audio.MimeTypeL16):
		if len(payload)%2 != 0 {
			return audio.Frame{}, fmt.Errorf("odd L16 payload length %d", len(payload))
		}
		samples := make([]float64, len(payload)/2)
		for i := range samples {
			samples[i] = float64(int16(binary.BigEndian.Uint16(payload[i*2:])))
		}
		return pcmFrame(samples, int(codec.ClockRate)), nil

	case mime == strings.ToLower(webrtc.MimeTypePCMU):
		samples := make([]float64, len(payload))
		for i, b := range payload {
			samples[i] = float64(mulawToLinear(b))
		}
		return pcmFrame(samples, int(codec.ClockRate)), nil

	case mime == strings.ToLower(webrtc.MimeTypePCMA):
		samples := make([]float64, len(payload))
		for i, b := range payload {
			samples[i] = float64(alawToLinear(b))
		}
		return pcmFrame(samples, int(codec.ClockRate)), nil

	default:
		return audio.Frame{}, fmt.Errorf("unsupported inbound codec %s", codec.MimeType)
	}
}

func pcmFrame(samples []float64, sampleRate int) audio.Frame {
	return audio.Frame{
		Data:       samples,
		Shape:      []int{len(samples)},
		Samples:    len(samples),
		SampleRate: sampleRate,
		Format:     audio.FormatS16,
	}
}

// mulawToLinear expands one G.711 mu-law byte to a 16-bit sample.
func mulawToLinear(u byte) int16 {
	u = ^u
	t := (int32(u&0x0f) << 3) + 0x84
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(0x84 - t)
	}
	return int16(t - 0x84)
}

// alawToLinear expands one G.711 A-law byte to a 16-bit sample.
func alawToLinear(a byte) int16 {
	a ^= 0x55
	t := int32(a&0x0f) << 4
	seg := (a & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}
