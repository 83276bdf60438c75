package sipgw

import (
	"strings"
	"testing"
)

func TestParseServerURL(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		transport string
		host      string
		port      int
		wantErr   bool
	}{
		{name: "wss with port", raw: "wss://pbx.example.com:7443/ws", transport: "wss", host: "pbx.example.com", port: 7443},
		{name: "wss default port", raw: "wss://pbx.example.com", transport: "wss", host: "pbx.example.com", port: 443},
		{name: "ws default port", raw: "ws://pbx.example.com/ws", transport: "ws", host: "pbx.example.com", port: 80},
		{name: "sip scheme", raw: "sip://pbx.example.com:5080", transport: "udp", host: "pbx.example.com", port: 5080},
		{name: "tcp scheme", raw: "tcp://pbx.example.com", transport: "tcp", host: "pbx.example.com", port: 5060},
		{name: "bare host", raw: "pbx.example.com", transport: "udp", host: "pbx.example.com", port: 5060},
		{name: "bare host port", raw: "pbx.example.com:5061", transport: "udp", host: "pbx.example.com", port: 5061},
		{name: "empty", raw: "", wantErr: true},
		{name: "unsupported scheme", raw: "https://pbx.example.com", wantErr: true},
		{name: "bad port", raw: "wss://pbx.example.com:notaport", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, host, port, err := parseServerURL(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %s/%s/%d", tt.raw, transport, host, port)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseServerURL(%q): %v", tt.raw, err)
			}
			if transport != tt.transport || host != tt.host || port != tt.port {
				t.Errorf("parseServerURL(%q) = %s/%s/%d, want %s/%s/%d",
					tt.raw, transport, host, port, tt.transport, tt.host, tt.port)
			}
		})
	}
}

func TestAllocRTPPortStaysEvenAndInRange(t *testing.T) {
	g := &Gateway{}
	seen := make(map[int]bool)
	for i := 0; i < 600; i++ {
		p := g.allocRTPPort()
		if p%2 != 0 {
			t.Fatalf("allocated odd rtp port %d", p)
		}
		if p < rtpPortBase || p >= rtpPortBase+rtpPortSpan {
			t.Fatalf("port %d outside [%d, %d)", p, rtpPortBase, rtpPortBase+rtpPortSpan)
		}
		seen[p] = true
	}
	if len(seen) < 2 {
		t.Errorf("allocator handed out a single port across 600 calls")
	}
}

func TestBuildOfferRoundTrip(t *testing.T) {
	body, err := buildOffer("192.0.2.10", 10004, 42)
	if err != nil {
		t.Fatalf("buildOffer: %v", err)
	}

	ep, err := parseRemoteEndpoint(body)
	if err != nil {
		t.Fatalf("parseRemoteEndpoint: %v", err)
	}
	if ep.IP != "192.0.2.10" {
		t.Errorf("IP = %q, want 192.0.2.10", ep.IP)
	}
	if ep.Port != 10004 {
		t.Errorf("Port = %d, want 10004", ep.Port)
	}
	for _, want := range []string{payloadPCMU, payloadPCMA, payloadDTMF} {
		if !hasPayload(ep.Payloads, want) {
			t.Errorf("offer missing payload %s (got %v)", want, ep.Payloads)
		}
	}
	if !strings.Contains(string(body), "a=sendrecv") {
		t.Errorf("offer missing sendrecv attribute:\n%s", body)
	}
}

func TestBuildAnswerEchoesOfferedCodec(t *testing.T) {
	tests := []struct {
		name     string
		offered  []string
		want     string
		wantDTMF bool
		wantErr  bool
	}{
		{name: "pcmu preferred", offered: []string{"8", "0", "101"}, want: "0 PCMU/8000", wantDTMF: true},
		{name: "pcma only", offered: []string{"8"}, want: "8 PCMA/8000"},
		{name: "no g711", offered: []string{"9", "18"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &mediaEndpoint{IP: "198.51.100.7", Port: 32000, Payloads: tt.offered}
			body, err := buildAnswer("192.0.2.10", 10006, 7, remote)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got answer:\n%s", body)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildAnswer: %v", err)
			}
			if !strings.Contains(string(body), "a=rtpmap:"+tt.want) {
				t.Errorf("answer missing rtpmap %q:\n%s", tt.want, body)
			}
			hasDTMF := strings.Contains(string(body), "telephone-event")
			if hasDTMF != tt.wantDTMF {
				t.Errorf("answer dtmf = %v, want %v:\n%s", hasDTMF, tt.wantDTMF, body)
			}
		})
	}
}

func TestParseRemoteEndpointMediaLevelConnection(t *testing.T) {
	raw := strings.Join([]string{
		"v=0",
		"o=asterisk 1 1 IN IP4 203.0.113.1",
		"s=session",
		"c=IN IP4 203.0.113.1",
		"t=0 0",
		"m=audio 0 RTP/AVP 0",
		"m=audio 18522 RTP/AVP 0 101",
		"c=IN IP4 203.0.113.99",
		"a=rtpmap:0 PCMU/8000",
		"",
	}, "\r\n")

	ep, err := parseRemoteEndpoint([]byte(raw))
	if err != nil {
		t.Fatalf("parseRemoteEndpoint: %v", err)
	}
	if ep.IP != "203.0.113.99" {
		t.Errorf("IP = %q, want media-level 203.0.113.99", ep.IP)
	}
	if ep.Port != 18522 {
		t.Errorf("Port = %d, want 18522 (disabled stream must be skipped)", ep.Port)
	}
}

func TestParseRemoteEndpointErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty body", raw: ""},
		{
			name: "video only",
			raw: strings.Join([]string{
				"v=0",
				"o=x 1 1 IN IP4 203.0.113.1",
				"s=s",
				"c=IN IP4 203.0.113.1",
				"t=0 0",
				"m=video 5004 RTP/AVP 96",
				"",
			}, "\r\n"),
		},
		{
			name: "no shared codec",
			raw: strings.Join([]string{
				"v=0",
				"o=x 1 1 IN IP4 203.0.113.1",
				"s=s",
				"c=IN IP4 203.0.113.1",
				"t=0 0",
				"m=audio 5004 RTP/AVP 9 18",
				"",
			}, "\r\n"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseRemoteEndpoint([]byte(tt.raw)); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}

func TestParseContactExpires(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{name: "basic", value: "<sip:1001@192.0.2.10:5070>;expires=300", want: 300},
		{name: "uppercase param", value: "<sip:1001@192.0.2.10>;EXPIRES=120", want: 120},
		{name: "trailing params", value: "<sip:1001@192.0.2.10>;expires=60;q=0.5", want: 60},
		{name: "missing", value: "<sip:1001@192.0.2.10>", want: 0},
		{name: "garbage", value: "<sip:1001@192.0.2.10>;expires=soon", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseContactExpires(tt.value); got != tt.want {
				t.Errorf("parseContactExpires(%q) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseExpiresHeader(t *testing.T) {
	if got := parseExpiresHeader(" 600 "); got != 600 {
		t.Errorf("parseExpiresHeader(\" 600 \") = %d, want 600", got)
	}
	if got := parseExpiresHeader("soon"); got != 0 {
		t.Errorf("parseExpiresHeader(\"soon\") = %d, want 0", got)
	}
}

func TestReasonForKnownCodes(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{code: 486, want: "Busy Here"},
		{code: 487, want: "Request Terminated"},
		{code: 488, want: "Not Acceptable Here"},
		{code: 603, want: "Decline"},
		{code: 500, want: "Call Ended"},
	}
	for _, tt := range tests {
		if got := reasonFor(tt.code); got != tt.want {
			t.Errorf("reasonFor(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
