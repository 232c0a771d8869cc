package rtsp

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
)

const (
	LowerTransportUDP  = "UDP"
	LowerTransportTCP  = "TCP"
	LowerTransportSCTP = "SCTP"
)

// transportSpec Transport头中的一个候选项
type transportSpec struct {
	lower       string
	multicast   bool
	clientPorts [2]int // 未指定为0
	interleaved [2]int // 未指定为-1
	streams     [2]int // 未指定为-1
	destination string
}

// parseTransports 解析逗号分隔的候选列表, 不支持的profile跳过
func parseTransports(header string) ([]transportSpec, error) {
	var specs []transportSpec

	for _, item := range strings.Split(header, ",") {
		params := strings.Split(strings.TrimSpace(item), ";")

		spec := transportSpec{interleaved: [2]int{-1, -1}, streams: [2]int{-1, -1}}
		switch strings.ToUpper(strings.TrimSpace(params[0])) {
		case "RTP/AVP", "RTP/AVP/UDP":
			spec.lower = LowerTransportUDP
		case "RTP/AVP/TCP":
			spec.lower = LowerTransportTCP
		case "RTP/AVP/SCTP":
			spec.lower = LowerTransportSCTP
		default:
			continue
		}

		var supported = true
		for _, param := range params[1:] {
			key, value, _ := strings.Cut(strings.TrimSpace(param), "=")

			var err error
			switch strings.ToLower(key) {
			case "multicast":
				spec.multicast = true
			case "unicast":
				spec.multicast = false
			case "client_port":
				spec.clientPorts[0], spec.clientPorts[1], err = parsePair(value)
			case "interleaved":
				spec.interleaved[0], spec.interleaved[1], err = parsePair(value)
			case "streams":
				spec.streams[0], spec.streams[1], err = parsePair(value)
			case "destination":
				spec.destination = value
			case "mode":
				mode := strings.ToUpper(strings.Trim(value, "\""))
				supported = mode == "" || mode == "PLAY"
			}

			if err != nil {
				return nil, fmt.Errorf("failed to parse transport param %s: %w", param, err)
			}
		}

		if supported {
			specs = append(specs, spec)
		}
	}

	return specs, nil
}

// acceptDestination 只向发起请求的客户端地址发送, 组播地址由服务器分配
func (spec transportSpec) acceptDestination(remote net.IP) bool {
	if spec.destination == "" {
		return true
	} else if spec.multicast {
		return false
	}

	ip := net.ParseIP(spec.destination)
	return ip != nil && ip.Equal(remote)
}

// parsePair a-b, 只有a时b=a+1
func parsePair(value string) (int, int, error) {
	first, second, ok := strings.Cut(value, "-")
	a, err := strconv.Atoi(first)
	if err != nil || a < 0 {
		return 0, 0, fmt.Errorf("invalid pair %s", value)
	}

	if !ok {
		return a, a + 1, nil
	}

	b, err := strconv.Atoi(second)
	if err != nil || b < 0 {
		return 0, 0, fmt.Errorf("invalid pair %s", value)
	}

	return a, b, nil
}

// playRange Range: npt=a-b
type playRange struct {
	start    float64
	end      float64
	hasStart bool
	hasEnd   bool
	now      bool
}

func parseRange(header string) (*playRange, error) {
	header = strings.TrimSpace(header)
	if i := strings.Index(header, ";"); i >= 0 {
		header = header[:i]
	}

	unit, value, ok := strings.Cut(header, "=")
	if !ok || strings.TrimSpace(strings.ToLower(unit)) != "npt" {
		return nil, fmt.Errorf("unsupported range %s", header)
	}

	start, end, ok := strings.Cut(strings.TrimSpace(value), "-")
	if !ok {
		return nil, fmt.Errorf("invalid range %s", header)
	}

	r := &playRange{}
	start = strings.TrimSpace(start)
	if strings.EqualFold(start, "now") {
		r.now = true
	} else if start != "" {
		v, err := parseNPT(start)
		if err != nil {
			return nil, err
		}

		r.start = v
		r.hasStart = true
	}

	if end = strings.TrimSpace(end); end != "" {
		v, err := parseNPT(end)
		if err != nil {
			return nil, err
		}

		r.end = v
		r.hasEnd = true
	}

	if r.hasStart && r.hasEnd && r.end < r.start {
		return nil, fmt.Errorf("range end before start %s", header)
	}

	return r, nil
}

// parseNPT 秒数或hh:mm:ss[.frac]
func parseNPT(value string) (float64, error) {
	parts := strings.Split(value, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid npt %s", value)
	}

	var seconds float64
	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("invalid npt %s", value)
		}

		seconds = seconds*60 + v
	}

	return seconds, nil
}

func formatRange(start, end float64, live bool) string {
	if live {
		return "npt=now-"
	} else if end > 0 {
		return fmt.Sprintf("npt=%.3f-%.3f", start, end)
	}

	return fmt.Sprintf("npt=%.3f-", start)
}

// sessionId 去掉Session头的timeout参数
func sessionId(header string) string {
	id, _, _ := strings.Cut(header, ";")
	return strings.TrimSpace(id)
}
