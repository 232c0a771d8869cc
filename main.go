package main

import (
	"net"
	"os"
	"time"

	"github.com/lscube/feng/log"
	"github.com/lscube/feng/rtsp"
	"github.com/lscube/feng/stream"
	"go.uber.org/zap/zapcore"
)

func NewDefaultAppConfig() stream.AppConfig_ {
	config := stream.AppConfig_{
		ListenIP:       "0.0.0.0",
		DocumentRoot:   "./media",
		MaxConnections: 1000,
		BufferedFrames: stream.DefaultBufferedFrames,
		MaxQueue:       stream.DefaultMaxQueue,
		IdleTimeout:    10,
		SessionTimeout: 60,
		WriteQueueSize: 1024,

		Rtsp: stream.RtspConfig{
			TransportConfig: stream.TransportConfig{
				Transport: "UDP|TCP",
			},
			PortRange: []int{30000, 40000},
		},

		Multicast: stream.MulticastConfig{
			GroupStart: "239.0.0.1",
			TTL:        16,
		},

		Hooks: stream.HooksConfig{
			Timeout: 10,
		},

		Log: stream.LogConfig{
			FileLogging: false,
			Level:       int(zapcore.InfoLevel),
			Name:        "./logs/feng.log",
			MaxSize:     10,
			MaxBackup:   100,
			MaxAge:      7,
			Compress:    false,
		},
	}

	config.Rtsp.SetEnable(true)
	config.Rtsp.SetPort(554)
	config.Http.SetEnable(true)
	config.Http.SetPort(8080)
	config.Multicast.SetPort(20000)
	return config
}

func loadConfig() {
	configPath, disableOptions, enableOptions := readRunArgs(os.Args[1:])
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	config := NewDefaultAppConfig()
	if configPath != "" {
		loaded, err := stream.LoadConfigFile(configPath)
		if err != nil {
			panic(err)
		}

		config = *loaded
	}

	mergeArgs(config.Options(), disableOptions, enableOptions)
	stream.SetDefaultConfig(&config)
	stream.AppConfig = config
}

func newRtspOptions(config *stream.AppConfig_) rtsp.Options {
	options := rtsp.Options{
		Password:       config.Rtsp.Password,
		PublicIP:       config.PublicIP,
		ListenIP:       config.ListenIP,
		MaxConnections: config.MaxConnections,
		BufferedFrames: config.BufferedFrames,
		MaxQueue:       config.MaxQueue,
		Policy:         stream.ResyncHead,
		IdleTimeout:    time.Duration(config.IdleTimeout),
		SessionTimeout: time.Duration(config.SessionTimeout),
		WriteQueueSize: config.WriteQueueSize,
		EnableTCP:      config.Rtsp.IsEnableTCP(),
		EnableUDP:      config.Rtsp.IsEnableUDP(),
		EnableSCTP:     config.Rtsp.IsEnableSCTP() && config.Rtsp.SctpPort > 0,
		Multicast: rtsp.MulticastOptions{
			Enable:     config.Multicast.IsEnable(),
			GroupStart: config.Multicast.GroupStart,
			Port:       config.Multicast.GetPort(),
			TTL:        config.Multicast.TTL,
		},
		Opener: stream.FileOpener{Root: config.DocumentRoot},
	}

	// 单端口配置时使用默认范围
	if config.Rtsp.IsMultiPort() {
		options.Ports = stream.NewTransportManager(uint16(config.Rtsp.PortRange[0]), uint16(config.Rtsp.PortRange[1]))
	} else {
		options.Ports = stream.NewTransportManager(30000, 40000)
	}

	if config.Hooks.IsEnableOnPlay() {
		options.OnPlay = stream.HookPlayEvent
	}

	if config.Hooks.IsEnableOnPlayDone() {
		options.OnPlayDone = stream.HookPlayDoneEvent
	}

	return options
}

func main() {
	loadConfig()
	stream.InitHookUrl()

	//初始化日志
	config := &stream.AppConfig
	log.InitLogger(config.Log.FileLogging, zapcore.Level(config.Log.Level), config.Log.Name, config.Log.MaxSize, config.Log.MaxBackup, config.Log.MaxAge, config.Log.Compress)
	log.InitAccessLogger(config.Log.AccessLog, config.Log.MaxSize, config.Log.MaxBackup, config.Log.MaxAge, config.Log.Compress)

	if !config.Rtsp.IsEnable() {
		log.Sugar.Error("rtsp is disabled, nothing to serve")
		return
	}

	rtspServer := rtsp.NewServer(newRtspOptions(config))

	rtspAddr, err := net.ResolveTCPAddr("tcp", stream.ListenAddr(config.Rtsp.GetPort()))
	if err != nil {
		panic(err)
	}

	if err = rtspServer.Start(rtspAddr); err != nil {
		panic(err)
	}

	log.Sugar.Info("启动rtsp服务成功 addr:", rtspAddr.String())

	if config.Rtsp.IsEnableSCTP() && config.Rtsp.SctpPort > 0 {
		sctpAddr, err := net.ResolveUDPAddr("udp", stream.ListenAddr(config.Rtsp.SctpPort))
		if err != nil {
			panic(err)
		}

		if err = rtspServer.StartSCTP(sctpAddr); err != nil {
			panic(err)
		}

		log.Sugar.Info("启动rtsp over sctp服务成功 addr:", sctpAddr.String())
	}

	if config.Http.IsEnable() {
		addr := stream.ListenAddr(config.Http.GetPort())
		log.Sugar.Info("启动Http服务 addr:", addr)

		go startApiServer(addr, NewApiServer(rtspServer))
	}

	log.Sugar.Infof("document root:%s max connections:%d buffered frames:%d", config.DocumentRoot, config.MaxConnections, config.BufferedFrames)
	select {}
}
