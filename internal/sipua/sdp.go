package sipua

import (
	"fmt"
	"strconv"

	psdp "github.com/pion/sdp/v3"

	"github.com/sebas/aria/internal/rtpengine"
)

// buildSDP produces the session description we place in an INVITE offer
// or a 200 OK answer: one audio line carrying PCMU plus telephone-event.
func buildSDP(advertiseIP string, rtpPort int) ([]byte, error) {
	formats := []string{
		strconv.Itoa(int(rtpengine.PCMU.PayloadType)),
		strconv.Itoa(int(rtpengine.TelephoneEvent.PayloadType)),
	}

	desc := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username:       "aria",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: advertiseIP,
		},
		SessionName: "Aria Media Session",
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: advertiseIP},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*psdp.MediaDescription{
			{
				MediaName: psdp.MediaName{
					Media:   "audio",
					Port:    psdp.RangedPort{Value: rtpPort},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: []psdp.Attribute{
					{Key: "rtpmap", Value: formats[0] + " PCMU/8000"},
					{Key: "rtpmap", Value: formats[1] + " telephone-event/8000"},
					{Key: "fmtp", Value: formats[1] + " 0-15"},
					{Key: "ptime", Value: "20"},
					{Key: "sendrecv"},
				},
			},
		},
	}

	body, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal sdp: %w", err)
	}
	return body, nil
}

// parseSDP extracts the remote media endpoint from an offer or answer.
// The connection address may live at the media level or the session
// level.
func parseSDP(body []byte) (addr string, port int, err error) {
	if len(body) == 0 {
		return "", 0, fmt.Errorf("empty sdp body")
	}

	desc := &psdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return "", 0, fmt.Errorf("parse sdp: %w", err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return "", 0, fmt.Errorf("no media descriptions in sdp")
	}

	media := desc.MediaDescriptions[0]
	port = media.MediaName.Port.Value

	if media.ConnectionInformation != nil && media.ConnectionInformation.Address != nil {
		addr = media.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		addr = desc.ConnectionInformation.Address.Address
	}
	if addr == "" {
		return "", 0, fmt.Errorf("no connection address in sdp")
	}
	return addr, port, nil
}
