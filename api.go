package main

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/lscube/feng/log"
	"github.com/lscube/feng/rtsp"
	"github.com/lscube/feng/stream"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

type ApiServer struct {
	upgrader *websocket.Upgrader
	router   *mux.Router
	rtsp     *rtsp.Server
}

type ResourceInfo struct {
	Id         string    `json:"id"`
	Name       string    `json:"name"`
	Live       bool      `json:"live"`
	Duration   float64   `json:"duration"`
	Refs       int       `json:"refs"`
	Tracks     []string  `json:"tracks"`
	CreateTime time.Time `json:"create_time"`
}

type ServerInfo struct {
	Connections     int     `json:"connections"`
	Sessions        int     `json:"sessions"`
	MulticastGroups int     `json:"multicast_groups"`
	Goroutines      int     `json:"goroutines"`
	CPUUsage        float64 `json:"cpu_usage"`
	MemoryUsage     float64 `json:"memory_usage"`
	MemoryTotal     uint64  `json:"memory_total"`
}

func NewApiServer(server *rtsp.Server) *ApiServer {
	api := &ApiServer{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},

		router: mux.NewRouter(),
		rtsp:   server,
	}

	r := api.router.PathPrefix("/api/v1").Subrouter()
	r.HandleFunc("/sessions", api.onSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", api.onTeardown).Methods(http.MethodDelete)
	r.HandleFunc("/resources", api.onResources).Methods(http.MethodGet)
	r.HandleFunc("/resources/{id}", api.onResource).Methods(http.MethodGet)
	r.HandleFunc("/server", api.onServer).Methods(http.MethodGet)
	r.HandleFunc("/events", api.onEvents)
	return api
}

func (api *ApiServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.router.ServeHTTP(w, r)
}

func startApiServer(addr string, api *ApiServer) {
	srv := &http.Server{
		Handler: api,
		Addr:    addr,
		// websocket长连接, 不设置写超时
		ReadTimeout: 30 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil {
		panic(err)
	}
}

func (api *ApiServer) onSessions(w http.ResponseWriter, r *http.Request) {
	sessions := api.rtsp.Sessions()
	if sessions == nil {
		sessions = []rtsp.SessionInfo{}
	}

	httpResponseOk(w, sessions)
}

func (api *ApiServer) onTeardown(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !api.rtsp.Teardown(id) {
		httpResponse(w, http.StatusNotFound, "session not found")
		return
	}

	log.Sugar.Infof("teardown session by api session:%s remote:%s", id, r.RemoteAddr)
	httpResponseOk(w, nil)
}

func newResourceInfo(resource *stream.Resource) ResourceInfo {
	info := ResourceInfo{
		Id:         resource.Id(),
		Name:       resource.Name(),
		Live:       resource.Live(),
		Duration:   resource.Duration(),
		Refs:       stream.ResourceManager.Refs(resource),
		CreateTime: resource.CreateTime(),
	}

	for _, track := range resource.Tracks() {
		info.Tracks = append(info.Tracks, track.Info().Encoding)
	}

	return info
}

func (api *ApiServer) onResources(w http.ResponseWriter, r *http.Request) {
	resources := stream.ResourceManager.All()
	infos := make([]ResourceInfo, 0, len(resources))
	for _, resource := range resources {
		infos = append(infos, newResourceInfo(resource))
	}

	httpResponseOk(w, infos)
}

func (api *ApiServer) onResource(w http.ResponseWriter, r *http.Request) {
	resource := stream.ResourceManager.Find(mux.Vars(r)["id"])
	if resource == nil {
		httpResponse(w, http.StatusNotFound, "resource not found")
		return
	}

	httpResponseOk(w, newResourceInfo(resource))
}

func (api *ApiServer) onServer(w http.ResponseWriter, r *http.Request) {
	info := ServerInfo{
		Connections:     api.rtsp.ConnectionCount(),
		Sessions:        api.rtsp.SessionCount(),
		MulticastGroups: api.rtsp.MulticastGroupCount(),
		Goroutines:      runtime.NumGoroutine(),
	}

	// 主机信息获取失败不影响其它字段
	if usage, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(usage) > 0 {
		info.CPUUsage = usage[0]
	} else if err != nil {
		log.Sugar.Warnf("failed to read cpu usage err:%s", err.Error())
	}

	if memory, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		info.MemoryUsage = memory.UsedPercent
		info.MemoryTotal = memory.Total
	} else {
		log.Sugar.Warnf("failed to read memory usage err:%s", err.Error())
	}

	httpResponseOk(w, info)
}

// onEvents 推送会话的创建/播放/暂停/关闭事件
func (api *ApiServer) onEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := api.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Sugar.Errorf("websocket头检查失败 err:%s", err.Error())
		return
	}

	events, cancel := api.rtsp.Events().Subscribe(64)
	defer cancel()
	defer conn.Close()

	// 读取客户端消息, 只为了检测断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err = conn.WriteJSON(event); err != nil {
				log.Sugar.Warnf("failed to push event err:%s remote:%s", err.Error(), r.RemoteAddr)
				return
			}
		case <-ticker.C:
			if err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
