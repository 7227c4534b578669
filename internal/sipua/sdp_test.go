package sipua

import (
	"strings"
	"testing"
)

func TestBuildSDPRoundTrip(t *testing.T) {
	body, err := buildSDP("203.0.113.5", 40002)
	if err != nil {
		t.Fatalf("buildSDP() error = %v", err)
	}

	addr, port, err := parseSDP(body)
	if err != nil {
		t.Fatalf("parseSDP() error = %v", err)
	}
	if addr != "203.0.113.5" || port != 40002 {
		t.Errorf("parsed endpoint = %s:%d, want 203.0.113.5:40002", addr, port)
	}

	sdp := string(body)
	for _, want := range []string{"PCMU/8000", "telephone-event/8000", "a=sendrecv"} {
		if !strings.Contains(sdp, want) {
			t.Errorf("sdp missing %q:\n%s", want, sdp)
		}
	}
}

func TestParseSDPSessionLevelConnection(t *testing.T) {
	body := strings.Join([]string{
		"v=0",
		"o=test 1 1 IN IP4 192.0.2.10",
		"s=call",
		"c=IN IP4 192.0.2.10",
		"t=0 0",
		"m=audio 5004 RTP/AVP 0",
		"",
	}, "\r\n")

	addr, port, err := parseSDP([]byte(body))
	if err != nil {
		t.Fatalf("parseSDP() error = %v", err)
	}
	if addr != "192.0.2.10" || port != 5004 {
		t.Errorf("parsed endpoint = %s:%d, want 192.0.2.10:5004", addr, port)
	}
}

func TestParseSDPRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"garbage", "not sdp at all"},
		{"no media", "v=0\r\no=t 1 1 IN IP4 1.2.3.4\r\ns=x\r\nc=IN IP4 1.2.3.4\r\nt=0 0\r\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := parseSDP([]byte(tc.body)); err == nil {
				t.Error("parseSDP() error = nil, want error")
			}
		})
	}
}
