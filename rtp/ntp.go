package rtp

import "time"

// 1900到1970年的秒数
const ntpEpochOffset = 2208988800

// toNTP 高32位为秒, 低32位为秒的小数部分
func toNTP(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := (uint64(t.Nanosecond()) << 32) / uint64(time.Second)
	return secs<<32 | frac
}

// ntpMiddle RTCP中LSR/DLSR使用的中间32位, 单位1/65536秒
func ntpMiddle(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}

func middleToDuration(v uint32) time.Duration {
	return time.Duration(uint64(v) * uint64(time.Second) >> 16)
}
