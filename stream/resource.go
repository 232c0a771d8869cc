package stream

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lscube/feng/log"
	"go.uber.org/multierr"
)

type ResourceOptions struct {
	BufferedFrames int          // 每次请求读取的单元数
	Policy         ResyncPolicy // 直播重启或seek后消费者的重新定位方式
	MaxQueue       int          // 每个track的缓存上限, 0不限制
}

// Resource 一个打开的媒体源. 点播源每个RTSP会话独占一个, 直播源按名称共享.
// 唯一的读取协程负责把Demuxer数据写入各个Track.
type Resource struct {
	id         string
	name       string
	demuxer    Demuxer
	tracks     []*Track
	options    ResourceOptions
	createTime time.Time

	lock    sync.Mutex // 保护读取协程的启停和seek
	running bool
	stop    chan struct{}
	done    chan struct{}
	work    chan struct{}
	seeks   chan seekRequest
	closed  bool

	// 由resourceManager.lock保护
	refs int
}

func NewResource(name string, demuxer Demuxer, options ResourceOptions) *Resource {
	if options.BufferedFrames < 1 {
		options.BufferedFrames = 1
	}

	infos := demuxer.Tracks()
	tracks := make([]*Track, len(infos))
	for i, info := range infos {
		info.Index = i
		tracks[i] = NewTrack(info, options.Policy)
		tracks[i].SetMaxQueue(options.MaxQueue)
	}

	return &Resource{
		id:         uuid.New().String(),
		name:       name,
		demuxer:    demuxer,
		tracks:     tracks,
		options:    options,
		createTime: time.Now(),
		work:       make(chan struct{}, 1),
		seeks:      make(chan seekRequest, 1),
	}
}

func (r *Resource) Id() string {
	return r.id
}

func (r *Resource) Name() string {
	return r.name
}

func (r *Resource) Tracks() []*Track {
	return r.tracks
}

func (r *Resource) Track(index int) (*Track, error) {
	if index < 0 || index >= len(r.tracks) {
		return nil, fmt.Errorf("%s/%s: %w", r.name, ControlName(index), ErrTrackNotFound)
	}

	return r.tracks[index], nil
}

func (r *Resource) Live() bool {
	return r.demuxer.Live()
}

func (r *Resource) Seekable() bool {
	return !r.demuxer.Live()
}

func (r *Resource) Duration() float64 {
	return r.demuxer.Duration()
}

func (r *Resource) CreateTime() time.Time {
	return r.createTime
}

// Start 启动读取协程
func (r *Resource) Start() {
	r.lock.Lock()
	defer r.lock.Unlock()

	if !r.running && !r.closed {
		r.startWorker()
	}
}

// RequestMore 请求读取更多数据, 不阻塞. 直播源持续读取, 忽略请求.
func (r *Resource) RequestMore() {
	select {
	case r.work <- struct{}{}:
	default:
	}
}

type seekRequest struct {
	position float64
	done     func(err error)
}

// SeekAsync 交给读取协程执行demuxer seek并重置所有track. done在读取协程或者单独的协程中回调,
// 不会在调用者的协程中同步执行
func (r *Resource) SeekAsync(sec float64, done func(err error)) {
	if !r.Seekable() {
		go done(ErrNotSeekable)
		return
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		go done(fmt.Errorf("resource %s: %w", r.name, ErrResourceClosed))
		return
	}

	if !r.running {
		r.startWorker()
	}

	select {
	case r.seeks <- seekRequest{position: sec, done: done}:
	default:
		go done(fmt.Errorf("resource %s: %w", r.name, ErrSeekInProgress))
	}
}

// Seek 同步等待SeekAsync完成
func (r *Resource) Seek(sec float64) error {
	result := make(chan error, 1)
	r.SeekAsync(sec, func(err error) {
		result <- err
	})

	return <-result
}

func (r *Resource) seek(request seekRequest) {
	err := r.demuxer.Seek(request.position)
	for _, track := range r.tracks {
		track.Reset()
	}

	if err != nil {
		err = fmt.Errorf("failed to seek %s to %.3f: %w", r.name, request.position, err)
	} else {
		log.Sugar.Debugf("resource seek name:%s position:%.3f", r.name, request.position)
	}

	request.done(err)
}

func (r *Resource) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	if r.running {
		r.stopWorker()
	}

	var err error
	for _, track := range r.tracks {
		if n := track.ConsumerCount(); n > 0 {
			err = multierr.Append(err, fmt.Errorf("track %d still has %d consumers", track.info.Index, n))
		}
	}

	return multierr.Append(err, r.demuxer.Close())
}

func (r *Resource) startWorker() {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.running = true

	if r.Live() {
		go r.readLive(r.stop, r.done)
	} else {
		go r.readStored(r.stop, r.done)
	}
}

func (r *Resource) stopWorker() {
	close(r.stop)
	<-r.done
	r.running = false

	// 还没执行的seek
	select {
	case request := <-r.seeks:
		go request.done(fmt.Errorf("resource %s: %w", r.name, ErrResourceClosed))
	default:
	}
}

func (r *Resource) stopTracks() {
	for _, track := range r.tracks {
		if !track.IsStopped() {
			track.Stop()
		}
	}
}

func (r *Resource) append(index int, buffer *Buffer) {
	if index < 0 || index >= len(r.tracks) {
		log.Sugar.Warnf("drop packet of unknown track name:%s track:%d", r.name, index)
		return
	}

	r.tracks[index].Append(buffer)
}

// 点播源, 收到请求后读取BufferedFrames个单元. seek也在这里执行
func (r *Resource) readStored(stop, done chan struct{}) {
	defer close(done)

	var eof bool
	for {
		select {
		case <-stop:
			return
		case request := <-r.seeks:
			r.seek(request)
			eof = false
			continue
		case <-r.work:
		}

		for i := 0; i < r.options.BufferedFrames && !eof; i++ {
			select {
			case <-stop:
				return
			default:
			}

			index, buffer, err := r.demuxer.ReadPacket()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Sugar.Errorf("failed to read packet name:%s err:%s", r.name, err.Error())
				}

				eof = true
				r.stopTracks()
				break
			}

			r.append(index, buffer)
		}
	}
}

// 直播源, 按时间戳匀速读取. 读到结尾后重新开始, 并重置track
func (r *Resource) readLive(stop, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var offset, end float64
	var count int
	firstTs := -1.0
	base := time.Now()

	for {
		select {
		case <-stop:
			return
		default:
		}

		index, buffer, err := r.demuxer.ReadPacket()
		if errors.Is(err, io.EOF) && count > 0 {
			count = 0
			if err = r.demuxer.Seek(0); err == nil {
				for _, track := range r.tracks {
					track.Reset()
				}

				offset = end
				log.Sugar.Infof("live resource restarted name:%s offset:%.3f", r.name, offset)
				continue
			}
		}

		if err != nil {
			log.Sugar.Errorf("failed to read live packet name:%s err:%s", r.name, err.Error())
			r.stopTracks()
			<-stop
			return
		}

		count++
		buffer.Timestamp += offset
		buffer.Delivery += offset
		if firstTs < 0 {
			firstTs = buffer.Delivery
		}

		if e := buffer.Timestamp + buffer.Duration; e > end {
			end = e
		}

		due := base.Add(time.Duration((buffer.Delivery - firstTs) * float64(time.Second)))
		if wait := time.Until(due); wait > 0 {
			timer.Reset(wait)
			select {
			case <-stop:
				return
			case <-timer.C:
			}
		}

		r.append(index, buffer)
	}
}
