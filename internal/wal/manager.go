// Package wal owns the on-disk command log: a directory of append-only segment
// files named by a monotonically increasing generation number.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/sajjad-MoBe/kvs/internal/codec"
	kvErr "github.com/sajjad-MoBe/kvs/internal/errors"
	"github.com/sajjad-MoBe/kvs/internal/shared"
)

const (
	segmentExt = ".log"
	tmpExt     = ".tmp"
)

var (
	segmentFilePattern = regexp.MustCompile(`^(\d+)\.log$`)
	tmpFilePattern     = regexp.MustCompile(`^(\d+)\.log\.tmp$`)
)

// Config contains configuration for segment management
type Config struct {
	MaxSegmentBytes int64 // Active segment size that triggers a rollover
	SyncWrites      bool  // fsync the active segment after every append
}

// Metrics tracks operational metrics for the log
type Metrics struct {
	TotalEntries     int64     // Number of commands appended
	TotalSize        int64     // Bytes appended
	ReadCount        int64     // Number of random reads
	CurrentFileSize  int64     // Size of the active segment
	RotationCount    int64     // Number of rollovers performed
	LastRotationTime time.Time // Timestamp of last rollover
	DeletedSegments  int64     // Number of segments removed by compaction
	ErrorCount       int64     // Number of errors encountered
}

// Manager manages segment files and operations. It is not safe for concurrent use.
type Manager struct {
	config  Config
	dir     string
	gens    []uint64
	active  *segmentFile
	nextGen uint64
	metrics Metrics
	logger  *shared.Logger
}

// Open discovers the segments in dir, discards leftovers of an interrupted
// compaction and designates the newest segment as active, creating one if the
// directory holds none.
func Open(dir string, config Config, logger *shared.Logger) (*Manager, error) {
	if config.MaxSegmentBytes <= 0 {
		return nil, kvErr.New(kvErr.ErrorTypeInvalidInput, "max segment bytes must be positive", nil)
	}
	if logger == nil {
		logger = shared.DefaultLogger
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, kvErr.New(kvErr.ErrorTypeIO, "failed to create data directory", err)
	}

	m := &Manager{
		config:  config,
		dir:     dir,
		nextGen: 1,
		logger:  logger,
	}

	if err := m.discover(); err != nil {
		return nil, err
	}

	if len(m.gens) == 0 {
		if err := m.createActive(); err != nil {
			return nil, err
		}
	} else {
		newest := m.gens[len(m.gens)-1]
		seg, err := openSegmentFile(m.segmentPath(newest), newest, 0, config.SyncWrites)
		if err != nil {
			return nil, err
		}
		m.active = seg
		m.metrics.CurrentFileSize = seg.size
	}

	m.logger.Debug("opened log at %s: %d segment(s), active %d", dir, len(m.gens), m.active.gen)
	return m, nil
}

func (m *Manager) discover() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return kvErr.New(kvErr.ErrorTypeIO, "failed to list data directory", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		if match := tmpFilePattern.FindStringSubmatch(name); match != nil {
			gen, err := strconv.ParseUint(match[1], 10, 64)
			if err == nil && gen >= m.nextGen {
				m.nextGen = gen + 1
			}
			m.logger.Warn("removing unfinished compaction segment %s", name)
			if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
				return kvErr.New(kvErr.ErrorTypeIO, "failed to remove unfinished segment "+name, err)
			}
			continue
		}

		match := segmentFilePattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		gen, err := strconv.ParseUint(match[1], 10, 64)
		if err != nil {
			return kvErr.New(kvErr.ErrorTypeCorruptLog, "invalid segment name "+name, err)
		}
		m.gens = append(m.gens, gen)
		if gen >= m.nextGen {
			m.nextGen = gen + 1
		}
	}

	sort.Slice(m.gens, func(i, j int) bool { return m.gens[i] < m.gens[j] })
	return nil
}

func (m *Manager) segmentPath(gen uint64) string {
	return filepath.Join(m.dir, fmt.Sprintf("%020d%s", gen, segmentExt))
}

func (m *Manager) allocate() uint64 {
	gen := m.nextGen
	m.nextGen++
	return gen
}

func (m *Manager) register(gen uint64) {
	i := sort.Search(len(m.gens), func(i int) bool { return m.gens[i] >= gen })
	if i < len(m.gens) && m.gens[i] == gen {
		return
	}
	m.gens = append(m.gens, 0)
	copy(m.gens[i+1:], m.gens[i:])
	m.gens[i] = gen
}

func (m *Manager) has(gen uint64) bool {
	i := sort.Search(len(m.gens), func(i int) bool { return m.gens[i] >= gen })
	return i < len(m.gens) && m.gens[i] == gen
}

func (m *Manager) createActive() error {
	gen := m.allocate()
	seg, err := openSegmentFile(m.segmentPath(gen), gen, os.O_CREATE|os.O_EXCL, m.config.SyncWrites)
	if err != nil {
		return err
	}
	m.active = seg
	m.register(gen)
	m.metrics.CurrentFileSize = 0
	return nil
}

// Append encodes cmd and writes it to the active segment, returning the exact
// location written. A rollover happens after the write so a command is never
// split across segments.
func (m *Manager) Append(cmd codec.Command) (Location, error) {
	if m.active == nil {
		return Location{}, kvErr.New(kvErr.ErrorTypeInternal, "log is closed", nil)
	}

	loc, err := m.active.append(cmd)
	if err != nil {
		m.metrics.ErrorCount++
		return Location{}, err
	}

	m.metrics.TotalEntries++
	m.metrics.TotalSize += loc.Length
	m.metrics.CurrentFileSize = m.active.size

	if m.active.size >= m.config.MaxSegmentBytes {
		// the command is already durable in the current segment; a failed
		// rollover only means the segment keeps growing until the next try
		if err := m.Rollover(); err != nil {
			m.metrics.ErrorCount++
			m.logger.Warn("failed to roll over segment %d: %v", m.active.gen, err)
		}
	}
	return loc, nil
}

// Rollover closes the active segment and starts a new one with the next generation.
func (m *Manager) Rollover() error {
	previous := m.active
	if err := m.createActive(); err != nil {
		m.active = previous
		return err
	}
	if previous != nil {
		if err := previous.close(); err != nil {
			m.logger.Warn("failed to close segment %d: %v", previous.gen, err)
		}
	}

	m.metrics.RotationCount++
	m.metrics.LastRotationTime = time.Now()
	m.logger.Debug("rolled over to segment %d", m.active.gen)
	return nil
}

// Read decodes the command stored at loc. The segment file is opened only for
// the duration of the call.
func (m *Manager) Read(loc Location) (codec.Command, error) {
	if !m.has(loc.Segment) {
		return codec.Command{}, kvErr.New(kvErr.ErrorTypeNotFound, fmt.Sprintf("segment %d does not exist", loc.Segment), nil)
	}
	if loc.Offset < 0 || loc.Length < codec.HeaderSize {
		return codec.Command{}, kvErr.New(kvErr.ErrorTypeCorruptLog, "invalid location "+loc.String(), nil)
	}

	file, err := os.Open(m.segmentPath(loc.Segment))
	if err != nil {
		m.metrics.ErrorCount++
		if os.IsNotExist(err) {
			return codec.Command{}, kvErr.New(kvErr.ErrorTypeNotFound, fmt.Sprintf("segment %d does not exist", loc.Segment), err)
		}
		return codec.Command{}, kvErr.New(kvErr.ErrorTypeIO, fmt.Sprintf("failed to open segment %d", loc.Segment), err)
	}
	defer file.Close()

	buf := make([]byte, loc.Length)
	if _, err := file.ReadAt(buf, loc.Offset); err != nil {
		m.metrics.ErrorCount++
		if errors.Is(err, io.EOF) {
			return codec.Command{}, kvErr.New(kvErr.ErrorTypeCorruptLog, "location past end of segment: "+loc.String(), err)
		}
		return codec.Command{}, kvErr.New(kvErr.ErrorTypeIO, "failed to read "+loc.String(), err)
	}

	cmd, n, err := codec.Decode(buf)
	if err != nil {
		m.metrics.ErrorCount++
		return codec.Command{}, fmt.Errorf("failed to decode %s: %w", loc, err)
	}
	if int64(n) != loc.Length {
		m.metrics.ErrorCount++
		return codec.Command{}, kvErr.New(kvErr.ErrorTypeCorruptLog,
			fmt.Sprintf("frame at %s is %d bytes", loc, n), nil)
	}

	m.metrics.ReadCount++
	return cmd, nil
}

// Replay calls handler for every command in ascending generation order and,
// within a segment, in file order.
func (m *Manager) Replay(handler func(Location, codec.Command) error) error {
	for _, gen := range m.Generations() {
		if err := m.replaySegment(gen, handler); err != nil {
			return fmt.Errorf("failed to replay segment %d: %w", gen, err)
		}
	}
	return nil
}

func (m *Manager) replaySegment(gen uint64, handler func(Location, codec.Command) error) error {
	file, err := os.Open(m.segmentPath(gen))
	if err != nil {
		return kvErr.New(kvErr.ErrorTypeIO, "failed to open segment", err)
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, 64*1024)
	var offset int64
	for {
		cmd, n, err := codec.ReadFrame(reader)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("at offset %d: %w", offset, err)
		}

		loc := Location{Segment: gen, Offset: offset, Length: int64(n)}
		if err := handler(loc, cmd); err != nil {
			return err
		}
		offset += int64(n)
	}
}

// CreateSegment allocates the next generation and returns a writer for it.
// The segment is invisible to Replay and Read until the writer commits.
func (m *Manager) CreateSegment() (*SegmentWriter, error) {
	gen := m.allocate()
	tmpPath := m.segmentPath(gen) + tmpExt

	seg, err := openSegmentFile(tmpPath, gen, os.O_CREATE|os.O_EXCL, false)
	if err != nil {
		return nil, err
	}
	return &SegmentWriter{manager: m, seg: seg, tmpPath: tmpPath}, nil
}

// DeleteSegment removes a read-only segment from disk.
func (m *Manager) DeleteSegment(gen uint64) error {
	if m.active != nil && m.active.gen == gen {
		return kvErr.New(kvErr.ErrorTypeInternal, fmt.Sprintf("cannot delete active segment %d", gen), nil)
	}
	if !m.has(gen) {
		return kvErr.New(kvErr.ErrorTypeNotFound, fmt.Sprintf("segment %d does not exist", gen), nil)
	}

	if err := os.Remove(m.segmentPath(gen)); err != nil && !os.IsNotExist(err) {
		m.metrics.ErrorCount++
		return kvErr.New(kvErr.ErrorTypeIO, fmt.Sprintf("failed to delete segment %d", gen), err)
	}

	i := sort.Search(len(m.gens), func(i int) bool { return m.gens[i] >= gen })
	m.gens = append(m.gens[:i], m.gens[i+1:]...)
	m.metrics.DeletedSegments++
	return nil
}

// Generations returns the committed segment generations in ascending order.
func (m *Manager) Generations() []uint64 {
	gens := make([]uint64, len(m.gens))
	copy(gens, m.gens)
	return gens
}

// ActiveGeneration returns the generation receiving appends.
func (m *Manager) ActiveGeneration() uint64 {
	if m.active == nil {
		return 0
	}
	return m.active.gen
}

// DiskSize returns the total size of all committed segments in bytes.
func (m *Manager) DiskSize() (int64, error) {
	var total int64
	for _, gen := range m.gens {
		info, err := os.Stat(m.segmentPath(gen))
		if err != nil {
			return 0, kvErr.New(kvErr.ErrorTypeIO, fmt.Sprintf("failed to stat segment %d", gen), err)
		}
		total += info.Size()
	}
	return total, nil
}

// Sync flushes the active segment to disk.
func (m *Manager) Sync() error {
	if m.active == nil {
		return nil
	}
	return m.active.sync()
}

// GetMetrics returns the current log metrics
func (m *Manager) GetMetrics() Metrics {
	return m.metrics
}

// Close closes the active segment. The manager cannot be used afterwards.
func (m *Manager) Close() error {
	if m.active == nil {
		return nil
	}
	err := m.active.close()
	m.active = nil
	return err
}
