package stream

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultBufferedFrames  = 16
	DefaultMaxQueue        = 4096
	DefaultStarvationRetry = 10 * time.Millisecond
)

type TransportConfig struct {
	Transport string `json:"transport" toml:"transport"` // "UDP|TCP|SCTP"
}

type EnableConfig interface {
	IsEnable() bool

	SetEnable(bool)
}

type enableConfig struct {
	Enable bool `json:"enable" toml:"enable"`
}

func (e *enableConfig) IsEnable() bool {
	return e.Enable
}

func (e *enableConfig) SetEnable(b bool) {
	e.Enable = b
}

type PortConfig interface {
	GetPort() int

	SetPort(port int)
}

type portConfig struct {
	Port int `json:"port" toml:"port"`
}

func (s *portConfig) GetPort() int {
	return s.Port
}

func (s *portConfig) SetPort(port int) {
	s.Port = port
}

type RtspConfig struct {
	TransportConfig
	enableConfig
	portConfig

	Password  string `json:"password" toml:"password"`
	PortRange []int  `json:"port_range" toml:"port_range"` // UDP传输的端口范围
	SctpPort  int    `json:"sctp_port" toml:"sctp_port"`   // RTSP over SCTP, 0不开启
}

type MulticastConfig struct {
	enableConfig
	portConfig

	GroupStart string `json:"group_start" toml:"group_start"` // 组播地址从该地址开始递增分配
	TTL        int    `json:"ttl" toml:"ttl"`
}

type HttpConfig struct {
	enableConfig
	portConfig
}

type HooksConfig struct {
	enableConfig
	Timeout       int64  `json:"timeout" toml:"timeout"`
	OnPlayUrl     string `json:"on_play" toml:"on_play"`           // 拉流回调
	OnPlayDoneUrl string `json:"on_play_done" toml:"on_play_done"` // 拉流结束回调
}

type LogConfig struct {
	FileLogging bool   `json:"file_logging" toml:"file_logging"`
	Level       int    `json:"level" toml:"level"`
	Name        string `json:"name" toml:"name"`
	MaxSize     int    `json:"max_size" toml:"max_size"` // 单位M
	MaxBackup   int    `json:"max_backup" toml:"max_backup"`
	MaxAge      int    `json:"max_age" toml:"max_age"` // 天数
	Compress    bool   `json:"compress" toml:"compress"`
	AccessLog   string `json:"access_log" toml:"access_log"` // 访问日志文件, 为空输出到控制台
}

func (g TransportConfig) IsEnableTCP() bool {
	return strings.Contains(strings.ToUpper(g.Transport), "TCP")
}

func (g TransportConfig) IsEnableUDP() bool {
	return strings.Contains(strings.ToUpper(g.Transport), "UDP")
}

func (g TransportConfig) IsEnableSCTP() bool {
	return strings.Contains(strings.ToUpper(g.Transport), "SCTP")
}

func (c RtspConfig) IsMultiPort() bool {
	return len(c.PortRange) == 2 && c.PortRange[1] > c.PortRange[0]
}

func (hook *HooksConfig) IsEnableOnPlay() bool {
	return hook.Enable && hook.OnPlayUrl != ""
}

func (hook *HooksConfig) IsEnableOnPlayDone() bool {
	return hook.Enable && hook.OnPlayDoneUrl != ""
}

func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func ListenAddr(port int) string {
	return JoinHostPort(AppConfig.ListenIP, port)
}

var AppConfig AppConfig_

// AppConfig_ 时间单位在配置文件中为秒, SetDefaultConfig后转换为纳秒
type AppConfig_ struct {
	PublicIP       string `json:"public_ip" toml:"public_ip"`
	ListenIP       string `json:"listen_ip" toml:"listen_ip"`
	DocumentRoot   string `json:"document_root" toml:"document_root"`     // 点播文件根目录
	MaxConnections int    `json:"max_connections" toml:"max_connections"` // 最大RTSP会话数
	BufferedFrames int    `json:"buffered_frames" toml:"buffered_frames"` // 未读数据低于该值时请求读取
	MaxQueue       int    `json:"max_queue" toml:"max_queue"`             // 每个track最多缓存的单元数, 读得慢的会话被强制跳过
	IdleTimeout    int64  `json:"idle_timeout" toml:"idle_timeout"`       // 直播源持续发送失败多久后断开会话
	SessionTimeout int64  `json:"session_timeout" toml:"session_timeout"` // 多长时间没有收到请求或RTCP, 关闭会话
	WriteQueueSize int    `json:"write_queue_size" toml:"write_queue_size"`

	Rtsp      RtspConfig      `json:"rtsp" toml:"rtsp"`
	Multicast MulticastConfig `json:"multicast" toml:"multicast"`
	Http      HttpConfig      `json:"http" toml:"http"`
	Hooks     HooksConfig     `json:"hooks" toml:"hooks"`
	Log       LogConfig       `json:"log" toml:"log"`
}

// LoadConfigFile 根据扩展名解析json或toml
func LoadConfigFile(path string) (*AppConfig_, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := AppConfig_{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err = toml.Decode(string(file), &config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err = json.Unmarshal(file, &config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	return &config, nil
}

// Options 运行参数可以开启或关闭的配置项
func (c *AppConfig_) Options() map[string]EnableConfig {
	return map[string]EnableConfig{
		"rtsp":      &c.Rtsp,
		"multicast": &c.Multicast,
		"http":      &c.Http,
		"hooks":     &c.Hooks,
	}
}

func SetDefaultConfig(config *AppConfig_) {
	if config.ListenIP == "" {
		config.ListenIP = "0.0.0.0"
	}

	if config.DocumentRoot == "" {
		config.DocumentRoot = "./media"
	}

	if config.Rtsp.Port == 0 {
		config.Rtsp.Port = 554
	}

	if config.Rtsp.Transport == "" {
		config.Rtsp.Transport = "UDP|TCP"
	}

	if config.Multicast.GroupStart == "" {
		config.Multicast.GroupStart = "239.0.0.1"
	}

	if config.Multicast.Port == 0 {
		config.Multicast.Port = 20000
	}

	if config.Log.Name == "" {
		config.Log.Name = "./logs/feng.log"
	}

	if config.MaxConnections <= 0 {
		config.MaxConnections = 1000
	}

	if config.BufferedFrames == 0 {
		config.BufferedFrames = DefaultBufferedFrames
	}

	if config.WriteQueueSize == 0 {
		config.WriteQueueSize = 1024
	}

	if config.MaxQueue == 0 {
		config.MaxQueue = DefaultMaxQueue
	}

	config.BufferedFrames = limitInt(1, 4096, config.BufferedFrames)
	config.WriteQueueSize = limitInt(16, 65536, config.WriteQueueSize)
	config.MaxQueue = limitMin(config.BufferedFrames*2, config.MaxQueue)
	config.Multicast.TTL = limitInt(1, 255, config.Multicast.TTL)

	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 10
	}

	if config.SessionTimeout <= 0 {
		config.SessionTimeout = 60
	}

	if config.Hooks.Timeout <= 0 {
		config.Hooks.Timeout = 10
	}

	config.Log.Level = limitInt(int(zapcore.DebugLevel), int(zapcore.FatalLevel), config.Log.Level)
	config.Log.MaxSize = limitMin(1, config.Log.MaxSize)
	config.Log.MaxBackup = limitMin(1, config.Log.MaxBackup)
	config.Log.MaxAge = limitMin(1, config.Log.MaxAge)

	config.IdleTimeout *= int64(time.Second)
	config.SessionTimeout *= int64(time.Second)
	config.Hooks.Timeout *= int64(time.Second)
}

func limitMin(min, value int) int {
	if value < min {
		return min
	}
	return value
}

func limitInt(min, max, value int) int {
	if value < min {
		return min
	} else if value > max {
		return max
	}

	return value
}
