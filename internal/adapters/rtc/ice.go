package rtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/streamrelay/internal/config"
)

// ICEServers converts configured STUN/TURN entries into the shape browsers
// accept in RTCPeerConnection's iceServers.
func ICEServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: append([]string(nil), s.URLs...)}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
			srv.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, srv)
	}
	return out
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{config.DefaultSTUN},
			},
		},
	}
}

// Configuration is what a client should build its peer connection with.
func Configuration(cfg *config.Config) webrtc.Configuration {
	if len(cfg.ICEServers) == 0 {
		return DefaultWebRTCConfig()
	}
	return webrtc.Configuration{ICEServers: ICEServers(cfg.ICEServers)}
}
