package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/lscube/feng/log"
	"github.com/lscube/feng/stream"
)

// readRunArgs 运行参数项优先级高于配置文件
// --disable-rtsp 		--enable-rtsp=8554
// --disable-http 		--enable-http=18080
// --disable-multicast 	--enable-multicast
// --disable-hooks		--enable-hooks
// --config=./config.toml
func readRunArgs(args []string) (string, map[string]string, map[string]string) {
	var configPath string
	disableOptions := map[string]string{}
	enableOptions := map[string]string{}
	for _, arg := range args {
		if strings.HasPrefix(arg, "--config=") {
			configPath = arg[len("--config="):]
			continue
		}

		// 参数忽略大小写
		arg = strings.ToLower(arg)

		var option string
		var enable bool
		if strings.HasPrefix(arg, "--disable-") {
			option = arg[len("--disable-"):]
		} else if strings.HasPrefix(arg, "--enable-") {
			option = arg[len("--enable-"):]
			enable = true
		} else {
			continue
		}

		name, value, _ := strings.Cut(option, "=")
		if enable {
			enableOptions[name] = value
		} else {
			disableOptions[name] = value
		}
	}

	// 删除重叠参数, 禁用和开启同时声明时, 以开启为准.
	for k := range enableOptions {
		delete(disableOptions, k)
	}

	return configPath, disableOptions, enableOptions
}

func mergeArgs(options map[string]stream.EnableConfig, disableOptions, enableOptions map[string]string) {
	for k := range disableOptions {
		option, ok := options[k]
		if !ok {
			log.Sugar.Warnf("unknown run arg --disable-%s", k)
			continue
		}

		option.SetEnable(false)
	}

	for k, v := range enableOptions {
		option, ok := options[k]
		if !ok {
			log.Sugar.Warnf("unknown run arg --enable-%s", k)
			continue
		}

		option.SetEnable(true)

		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			if config, ok := option.(stream.PortConfig); ok {
				config.SetPort(port)
			}
		}
	}
}

func defaultConfigPath() string {
	for _, path := range []string{"./config.toml", "./config.json"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
