package stream

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// dump文件格式, 用4字节帧长分割:
// [len:4][track:1][marker:1][timestamp:8][duration:8][payload]
// 同名.json文件保存track信息

const dumpRecordHeaderSize = 18

type DumpMeta struct {
	Live     bool        `json:"live"`
	Duration float64     `json:"duration"`
	Tracks   []TrackInfo `json:"tracks"`
}

type DumpWriter struct {
	file *os.File
	w    *bufio.Writer
}

// NewDumpWriter 创建dump文件及对应的json描述
func NewDumpWriter(path string, meta DumpMeta) (*DumpWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	for i := range meta.Tracks {
		meta.Tracks[i].Index = i
	}

	bytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}

	if err = os.WriteFile(path+".json", bytes, 0644); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	return &DumpWriter{file: file, w: bufio.NewWriter(file)}, nil
}

func (d *DumpWriter) WritePacket(index int, buffer *Buffer) error {
	header := make([]byte, 4+dumpRecordHeaderSize)
	binary.BigEndian.PutUint32(header, uint32(dumpRecordHeaderSize+len(buffer.Payload)))
	header[4] = byte(index)
	if buffer.Marker {
		header[5] = 1
	}

	binary.BigEndian.PutUint64(header[6:], math.Float64bits(buffer.Timestamp))
	binary.BigEndian.PutUint64(header[14:], math.Float64bits(buffer.Duration))

	if _, err := d.w.Write(header); err != nil {
		return err
	}

	_, err := d.w.Write(buffer.Payload)
	return err
}

func (d *DumpWriter) Close() error {
	err := d.w.Flush()
	if closeErr := d.file.Close(); err == nil {
		err = closeErr
	}

	return err
}

type dumpIndex struct {
	offset    int64
	timestamp float64
}

type dumpDemuxer struct {
	meta     DumpMeta
	file     *os.File
	reader   *bufio.Reader
	index    []dumpIndex
	duration float64
}

// OpenDumpFile 打开时扫描一遍建立索引, 用于seek
func OpenDumpFile(path string) (Demuxer, error) {
	bytes, err := os.ReadFile(path + ".json")
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrResourceNotFound)
	} else if err != nil {
		return nil, err
	}

	d := &dumpDemuxer{}
	if err = json.Unmarshal(bytes, &d.meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s.json: %w", path, err)
	}

	for i := range d.meta.Tracks {
		d.meta.Tracks[i].Index = i
	}

	d.file, err = os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrResourceNotFound)
	} else if err != nil {
		return nil, err
	}

	if err = d.buildIndex(); err != nil {
		d.file.Close()
		return nil, err
	}

	d.duration = d.meta.Duration
	return d, nil
}

func (d *dumpDemuxer) buildIndex() error {
	reader := bufio.NewReader(d.file)
	header := make([]byte, 4+dumpRecordHeaderSize)
	var offset int64

	for {
		if _, err := io.ReadFull(reader, header); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("truncated dump record at %d: %w", offset, err)
		}

		size := int64(binary.BigEndian.Uint32(header))
		if size < dumpRecordHeaderSize {
			return fmt.Errorf("invalid dump record length %d at %d", size, offset)
		}

		ts := math.Float64frombits(binary.BigEndian.Uint64(header[6:]))
		duration := math.Float64frombits(binary.BigEndian.Uint64(header[14:]))
		d.index = append(d.index, dumpIndex{offset: offset, timestamp: ts})
		if end := ts + duration; end > d.duration {
			d.duration = end
		}

		if _, err := reader.Discard(int(size - dumpRecordHeaderSize)); err != nil {
			return fmt.Errorf("truncated dump payload at %d: %w", offset, err)
		}

		offset += 4 + size
	}

	if d.meta.Duration == 0 {
		d.meta.Duration = d.duration
	}

	_, err := d.file.Seek(0, io.SeekStart)
	d.reader = bufio.NewReader(d.file)
	return err
}

func (d *dumpDemuxer) Tracks() []TrackInfo {
	return d.meta.Tracks
}

func (d *dumpDemuxer) ReadPacket() (int, *Buffer, error) {
	header := make([]byte, 4+dumpRecordHeaderSize)
	if _, err := io.ReadFull(d.reader, header); err == io.EOF || err == io.ErrUnexpectedEOF {
		return 0, nil, io.EOF
	} else if err != nil {
		return 0, nil, err
	}

	size := int(binary.BigEndian.Uint32(header))
	if size < dumpRecordHeaderSize {
		return 0, nil, fmt.Errorf("invalid dump record length %d", size)
	}

	payload := make([]byte, size-dumpRecordHeaderSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return 0, nil, io.EOF
	}

	ts := math.Float64frombits(binary.BigEndian.Uint64(header[6:]))
	buffer := &Buffer{
		Timestamp: ts,
		Delivery:  ts,
		Duration:  math.Float64frombits(binary.BigEndian.Uint64(header[14:])),
		Marker:    header[5] != 0,
		Payload:   payload,
	}

	return int(header[4]), buffer, nil
}

// Seek 定位到第一个时间戳不小于sec的记录
func (d *dumpDemuxer) Seek(sec float64) error {
	i := sort.Search(len(d.index), func(i int) bool {
		return d.index[i].timestamp >= sec
	})

	var offset int64
	if i < len(d.index) {
		offset = d.index[i].offset
	} else {
		offset, _ = d.file.Seek(0, io.SeekEnd)
	}

	if _, err := d.file.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	d.reader.Reset(d.file)
	return nil
}

func (d *dumpDemuxer) Duration() float64 {
	if d.meta.Live {
		return 0
	}

	return d.meta.Duration
}

func (d *dumpDemuxer) Live() bool {
	return d.meta.Live
}

func (d *dumpDemuxer) Close() error {
	return d.file.Close()
}

// FileOpener 从DocumentRoot下打开dump文件
type FileOpener struct {
	Root string
}

func (f FileOpener) Open(path string) (Demuxer, error) {
	clean := filepath.Clean("/" + strings.TrimSpace(path))
	if clean == "/" {
		return nil, fmt.Errorf("empty path: %w", ErrResourceNotFound)
	}

	return OpenDumpFile(filepath.Join(f.Root, filepath.FromSlash(clean)))
}
