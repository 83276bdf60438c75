package sipgw

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// Payload types offered for the audio stream. G.711 is the lowest common
// denominator every PBX speaks; 101 carries RFC 4733 DTMF events.
const (
	payloadPCMU = "0"
	payloadPCMA = "8"
	payloadDTMF = "101"
)

// mediaEndpoint is the negotiated remote audio destination.
type mediaEndpoint struct {
	IP       string
	Port     int
	Payloads []string
}

// buildOffer produces the SDP body for an outgoing INVITE: one sendrecv
// audio stream offering PCMU, PCMA and telephone-event.
func buildOffer(ip string, port int, sessionID uint64) ([]byte, error) {
	sd := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "softdial",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ip,
		},
		SessionName: "softdial",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ip},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{payloadPCMU, payloadPCMA, payloadDTMF},
			},
			Attributes: []sdp.Attribute{
				{Key: "rtpmap", Value: "0 PCMU/8000"},
				{Key: "rtpmap", Value: "8 PCMA/8000"},
				{Key: "rtpmap", Value: "101 telephone-event/8000"},
				{Key: "fmtp", Value: "101 0-16"},
				{Key: "sendrecv"},
			},
		}},
	}
	body, err := sd.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshaling sdp offer: %w", err)
	}
	return body, nil
}

// buildAnswer produces the SDP body for the 200 OK to an incoming INVITE,
// echoing the first G.711 payload the remote offered.
func buildAnswer(ip string, port int, sessionID uint64, remote *mediaEndpoint) ([]byte, error) {
	codec := choosePayload(remote.Payloads)
	if codec == "" {
		return nil, fmt.Errorf("no common audio codec in offer (got %s)", strings.Join(remote.Payloads, ","))
	}

	codecName := "PCMU"
	if codec == payloadPCMA {
		codecName = "PCMA"
	}
	formats := []string{codec}
	attributes := []sdp.Attribute{
		{Key: "rtpmap", Value: fmt.Sprintf("%s %s/8000", codec, codecName)},
	}
	if hasPayload(remote.Payloads, payloadDTMF) {
		formats = append(formats, payloadDTMF)
		attributes = append(attributes,
			sdp.Attribute{Key: "rtpmap", Value: "101 telephone-event/8000"},
			sdp.Attribute{Key: "fmtp", Value: "101 0-16"},
		)
	}
	attributes = append(attributes, sdp.Attribute{Key: "sendrecv"})

	sd := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "softdial",
			SessionID:      sessionID,
			SessionVersion: sessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ip,
		},
		SessionName: "softdial",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ip},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: port},
				Protos:  []string{"RTP", "AVP"},
				Formats: formats,
			},
			Attributes: attributes,
		}},
	}
	body, err := sd.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshaling sdp answer: %w", err)
	}
	return body, nil
}

// parseRemoteEndpoint extracts the remote audio address from an SDP offer
// or answer. The first active audio stream wins; a media-level c= line
// overrides the session-level one.
func parseRemoteEndpoint(raw []byte) (*mediaEndpoint, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty sdp body")
	}
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("parsing sdp: %w", err)
	}

	sessionIP := ""
	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		sessionIP = sd.ConnectionInformation.Address.Address
	}

	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media != "audio" || m.MediaName.Port.Value == 0 {
			continue
		}
		ip := sessionIP
		if m.ConnectionInformation != nil && m.ConnectionInformation.Address != nil {
			ip = m.ConnectionInformation.Address.Address
		}
		if ip == "" {
			return nil, fmt.Errorf("audio stream has no connection address")
		}
		if choosePayload(m.MediaName.Formats) == "" {
			return nil, fmt.Errorf("no common audio codec (remote offers %s)",
				strings.Join(m.MediaName.Formats, ","))
		}
		return &mediaEndpoint{
			IP:       ip,
			Port:     m.MediaName.Port.Value,
			Payloads: m.MediaName.Formats,
		}, nil
	}
	return nil, fmt.Errorf("no active audio stream in sdp")
}

// choosePayload picks the first G.711 payload we support, preferring PCMU.
func choosePayload(formats []string) string {
	if hasPayload(formats, payloadPCMU) {
		return payloadPCMU
	}
	if hasPayload(formats, payloadPCMA) {
		return payloadPCMA
	}
	return ""
}

func hasPayload(formats []string, want string) bool {
	for _, f := range formats {
		if f == want {
			return true
		}
	}
	return false
}
