package stream

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// 写入n组记录, 每组每个track一个单元, 间隔40ms
func writeTestDump(t *testing.T, dir, name string, live bool, n int) {
	t.Helper()

	writer, err := NewDumpWriter(filepath.Join(dir, name), DumpMeta{
		Live: live,
		Tracks: []TrackInfo{
			{MediaType: "video", PayloadType: 96, Encoding: "H264", ClockRate: 90000},
			{MediaType: "audio", PayloadType: 97, Encoding: "MPEG4-GENERIC", ClockRate: 48000, Channels: 2},
		},
	})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		ts := float64(i) * 0.04
		require.NoError(t, writer.WritePacket(0, &Buffer{Timestamp: ts, Duration: 0.04, Marker: true, Payload: []byte{0x65, byte(i)}}))
		require.NoError(t, writer.WritePacket(1, &Buffer{Timestamp: ts, Duration: 0.04, Payload: []byte{0x21, byte(i)}}))
	}

	require.NoError(t, writer.Close())
}

func TestDumpDemuxer(t *testing.T) {
	dir := t.TempDir()
	writeTestDump(t, dir, "demo.dump", false, 50)

	demuxer, err := FileOpener{Root: dir}.Open("/demo.dump")
	require.NoError(t, err)
	defer demuxer.Close()

	require.False(t, demuxer.Live())
	require.InDelta(t, 2.0, demuxer.Duration(), 1e-9)
	require.Len(t, demuxer.Tracks(), 2)
	require.Equal(t, 1, demuxer.Tracks()[1].Index)

	index, buffer, err := demuxer.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, 0, index)
	require.True(t, buffer.Marker)
	require.Equal(t, []byte{0x65, 0}, buffer.Payload)

	require.NoError(t, demuxer.Seek(1.0))
	index, buffer, err = demuxer.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, 0, index)
	require.InDelta(t, 1.0, buffer.Timestamp, 1e-9)

	// seek到结尾之后
	require.NoError(t, demuxer.Seek(100))
	_, _, err = demuxer.ReadPacket()
	require.ErrorIs(t, err, io.EOF)
}

func TestOpenMissingResource(t *testing.T) {
	_, err := FileOpener{Root: t.TempDir()}.Open("missing.dump")
	require.ErrorIs(t, err, ErrResourceNotFound)

	_, err = FileOpener{Root: t.TempDir()}.Open("/")
	require.ErrorIs(t, err, ErrResourceNotFound)
}

func TestStoredResource(t *testing.T) {
	dir := t.TempDir()
	writeTestDump(t, dir, "demo.dump", false, 50)

	manager := NewResourceManager()
	opener := FileOpener{Root: dir}
	resource, err := manager.Acquire("demo.dump", opener, ResourceOptions{BufferedFrames: 10})
	require.NoError(t, err)
	require.True(t, resource.Seekable())
	require.Len(t, manager.All(), 1)

	// 点播源每次打开新的实例
	other, err := manager.Acquire("demo.dump", opener, ResourceOptions{BufferedFrames: 10})
	require.NoError(t, err)
	require.NotEqual(t, resource.Id(), other.Id())
	require.NoError(t, manager.Release(other))

	track, err := resource.Track(0)
	require.NoError(t, err)
	_, err = resource.Track(2)
	require.ErrorIs(t, err, ErrTrackNotFound)

	consumer := track.NewConsumer()
	resource.RequestMore()
	require.Eventually(t, func() bool {
		return consumer.Unseen() > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, resource.Seek(1.0))
	resource.RequestMore()
	require.Eventually(t, func() bool {
		return consumer.Get() != nil
	}, time.Second, 5*time.Millisecond)
	require.InDelta(t, 1.0, consumer.Get().Timestamp, 1e-9)

	// 读到结尾后track停止
	require.Eventually(t, func() bool {
		for consumer.Get() != nil {
			consumer.Advance()
		}

		resource.RequestMore()
		return consumer.IsStopped()
	}, 2*time.Second, 5*time.Millisecond)

	consumer.Detach()
	require.NoError(t, manager.Release(resource))
	require.Empty(t, manager.All())
}

func TestStoredResourceSeekAsync(t *testing.T) {
	dir := t.TempDir()
	writeTestDump(t, dir, "async.dump", false, 50)

	manager := NewResourceManager()
	resource, err := manager.Acquire("async.dump", FileOpener{Root: dir}, ResourceOptions{BufferedFrames: 10})
	require.NoError(t, err)

	track, err := resource.Track(0)
	require.NoError(t, err)
	consumer := track.NewConsumer()
	epoch := track.Epoch()

	result := make(chan error, 1)
	resource.SeekAsync(1.0, func(err error) {
		result <- err
	})

	select {
	case err = <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("seek did not complete")
	}
	require.Equal(t, epoch+1, track.Epoch())

	resource.RequestMore()
	require.Eventually(t, func() bool {
		return consumer.Get() != nil
	}, time.Second, 5*time.Millisecond)
	require.InDelta(t, 1.0, consumer.Get().Timestamp, 1e-9)

	consumer.Detach()
	require.NoError(t, manager.Release(resource))

	// 关闭之后仍然回调
	resource.SeekAsync(0, func(err error) {
		result <- err
	})
	require.ErrorIs(t, <-result, ErrResourceClosed)
}

func TestLiveResourceShared(t *testing.T) {
	dir := t.TempDir()
	writeTestDump(t, dir, "live.dump", true, 5)

	manager := NewResourceManager()
	opener := FileOpener{Root: dir}
	first, err := manager.Acquire("live.dump", opener, ResourceOptions{BufferedFrames: 4})
	require.NoError(t, err)
	second, err := manager.Acquire("live.dump", opener, ResourceOptions{BufferedFrames: 4})
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 2, manager.Refs(first))
	require.False(t, first.Seekable())
	require.ErrorIs(t, first.Seek(1), ErrNotSeekable)

	track, _ := first.Track(0)
	consumer := track.NewConsumer()
	epoch := track.Epoch()

	// 直播源持续读取, 读到结尾后重新开始
	require.Eventually(t, func() bool {
		for consumer.Get() != nil {
			consumer.Advance()
		}

		return track.Epoch() > epoch
	}, 2*time.Second, 5*time.Millisecond)

	consumer.Detach()
	require.NoError(t, manager.Release(first))
	require.Len(t, manager.All(), 1)
	require.NoError(t, manager.Release(second))
	require.Empty(t, manager.All())
}
