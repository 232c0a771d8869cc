package rtsp

import (
	"net"
	"strings"
	"time"

	"github.com/lscube/feng/stream"
	"github.com/pion/sdp/v3"
)

// generateSDP DESCRIBE响应, 每个track的control为trackID=N
func generateSDP(name string, tracks []stream.TrackInfo, duration float64, live bool, host string) ([]byte, error) {
	addressType := "IP4"
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		addressType = "IP6"
	}

	description := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(time.Now().UnixNano()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    addressType,
			UnicastAddress: host,
		},
		SessionName: sdp.SessionName(name),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("tool", "feng"),
			sdp.NewAttribute("control", "*"),
			sdp.NewAttribute("range", formatRange(0, duration, live)),
		},
	}

	for _, info := range tracks {
		media := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:  info.MediaType,
				Port:   sdp.RangedPort{Value: 0},
				Protos: []string{"RTP", "AVP"},
			},
		}

		media.WithCodec(info.PayloadType, info.Encoding, info.ClockRate, uint16(info.Channels), info.Fmtp)
		for _, attribute := range info.Attributes {
			if key, value, ok := strings.Cut(attribute, ":"); ok {
				media.WithValueAttribute(key, value)
			} else {
				media.WithPropertyAttribute(attribute)
			}
		}

		media.WithValueAttribute("control", info.Control())
		description.MediaDescriptions = append(description.MediaDescriptions, media)
	}

	return description.Marshal()
}
