package stream

import (
	"sync"
)

// ResourceManager 全局管理所有打开的媒体源
var ResourceManager *resourceManager

func init() {
	ResourceManager = NewResourceManager()
}

type resourceManager struct {
	m sync.Map // id->*Resource

	lock sync.Mutex // 只用于直播源的查找或创建
	live map[string]*Resource
}

func NewResourceManager() *resourceManager {
	return &resourceManager{live: make(map[string]*Resource, 8)}
}

// Acquire 直播源按名称共享并增加引用计数, 点播源每次打开新的实例
func (s *resourceManager) Acquire(name string, opener Opener, options ResourceOptions) (*Resource, error) {
	if r := s.findLive(name); r != nil {
		return r, nil
	}

	demuxer, err := opener.Open(name)
	if err != nil {
		return nil, err
	}

	resource := NewResource(name, demuxer, options)
	resource.refs = 1

	if resource.Live() {
		s.lock.Lock()
		if exist, ok := s.live[name]; ok {
			exist.refs++
			s.lock.Unlock()
			_ = demuxer.Close()
			return exist, nil
		}

		s.live[name] = resource
		s.lock.Unlock()
	}

	s.m.Store(resource.id, resource)
	resource.Start()
	return resource, nil
}

func (s *resourceManager) findLive(name string) *Resource {
	s.lock.Lock()
	defer s.lock.Unlock()

	r, ok := s.live[name]
	if !ok {
		return nil
	}

	r.refs++
	return r
}

// Release 最后一个引用释放时关闭
func (s *resourceManager) Release(resource *Resource) error {
	s.lock.Lock()
	resource.refs--
	if resource.refs > 0 {
		s.lock.Unlock()
		return nil
	}

	if resource.Live() && s.live[resource.name] == resource {
		delete(s.live, resource.name)
	}
	s.lock.Unlock()

	s.m.Delete(resource.id)
	return resource.Close()
}

func (s *resourceManager) Find(id string) *Resource {
	value, ok := s.m.Load(id)
	if ok {
		return value.(*Resource)
	}

	return nil
}

func (s *resourceManager) Refs(resource *Resource) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return resource.refs
}

func (s *resourceManager) All() []*Resource {
	var all []*Resource

	s.m.Range(func(key, value any) bool {
		all = append(all, value.(*Resource))
		return true
	})

	return all
}
