package stream

import (
	"github.com/lscube/feng/log"
)

// HookPlayEvent 新建RTSP会话时通知, 失败则拒绝播放
func HookPlayEvent(info PlayEventInfo) error {
	if !AppConfig.Hooks.IsEnableOnPlay() {
		return nil
	}

	if _, err := Hook(HookEventPlay, info); err != nil {
		log.Sugar.Errorf("failed to notify play event err:%s session:%s resource:%s", err.Error(), info.Session, info.Resource)
		return err
	}

	return nil
}

// HookPlayDoneEvent 会话结束通知, 失败只打印日志
func HookPlayDoneEvent(info PlayEventInfo) {
	if !AppConfig.Hooks.IsEnableOnPlayDone() {
		return
	}

	if _, err := Hook(HookEventPlayDone, info); err != nil {
		log.Sugar.Errorf("failed to notify play done event err:%s session:%s resource:%s", err.Error(), info.Session, info.Resource)
	}
}
