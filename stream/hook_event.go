package stream

import "fmt"

type HookEvent int

const (
	HookEventPlay     = HookEvent(0x1)
	HookEventPlayDone = HookEvent(0x2)
)

var (
	hookUrls map[HookEvent]string
)

func InitHookUrl() {
	hookUrls = map[HookEvent]string{
		HookEventPlay:     AppConfig.Hooks.OnPlayUrl,
		HookEventPlayDone: AppConfig.Hooks.OnPlayDoneUrl,
	}
}

func (h HookEvent) String() string {
	if HookEventPlay == h {
		return "play"
	} else if HookEventPlayDone == h {
		return "play done"
	}

	panic(fmt.Sprintf("unknow hook type %d", h))
}
