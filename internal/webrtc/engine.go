package webrtc

import (
	"fmt"

	"github.com/Harshitk-cp/voicebridge/internal/audio"
	"github.com/pion/webrtc/v3"
)

const (
	// DataChannelLabel is the label both roles agree on for the
	// application messaging channel.
	DataChannelLabel = "kvsDataChannel"

	payloadTypeL16 = 118
)

// ICEServerConfig mirrors one ICE server entry from the config file.
type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// NewAPI builds a webrtc API registering only the audio codecs the ingest
// path can decode without an external decoder: G.711 for browser peers and
// linear PCM for the output track and bridge-to-bridge links.
func NewAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	codecs := []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypePCMU,
				ClockRate: 8000,
				Channels:  1,
			},
			PayloadType: 0,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypePCMA,
				ClockRate: 8000,
				Channels:  1,
			},
			PayloadType: 8,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  audio.MimeTypeL16,
				ClockRate: audio.OutputSampleRate,
				Channels:  1,
			},
			PayloadType: payloadTypeL16,
		},
	}
	for _, codec := range codecs {
		if err := mediaEngine.RegisterCodec(codec, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", codec.MimeType, err)
		}
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)), nil
}

// PeerConfiguration builds the pion configuration from config-file entries.
func PeerConfiguration(servers []ICEServerConfig) webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0, len(servers))
	for _, server := range servers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	return webrtc.Configuration{ICEServers: iceServers}
}
