package testsupport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"tubemux/internal/job"
	"tubemux/internal/muxer"
	"tubemux/internal/services"
	"tubemux/internal/source"
)

// MuxedInfo lists a muxed mp4, a video-only mp4, and two audio-only encodings.
func MuxedInfo(title string) *job.SourceInfo {
	return &job.SourceInfo{
		Title:           title,
		Author:          "Test Channel",
		DurationSeconds: 10,
		Encodings: []job.Encoding{
			{ID: "137", QualityLabel: "1080p", Container: "mp4", HasVideo: true, ApproxBytes: 64},
			{ID: "18", QualityLabel: "360p", Container: "mp4", HasVideo: true, HasAudio: true, ApproxBytes: 32},
			{ID: "139", QualityLabel: "audio", Container: "m4a", HasAudio: true, ApproxBytes: 8},
			{ID: "140", QualityLabel: "audio", Container: "m4a", HasAudio: true, ApproxBytes: 16},
		},
	}
}

// VideoOnlyInfo lists a single video-only encoding and nothing to pair it with.
func VideoOnlyInfo(title string) *job.SourceInfo {
	return &job.SourceInfo{
		Title:           title,
		DurationSeconds: 10,
		Encodings: []job.Encoding{
			{ID: "137", QualityLabel: "1080p", Container: "mp4", HasVideo: true, ApproxBytes: 64},
		},
	}
}

// FakeProvider is a scripted source.Provider.
type FakeProvider struct {
	mu           sync.Mutex
	infos        map[string]*job.SourceInfo
	resolveErrs  map[string]error
	openFailures map[string]int
	payloads     map[string][]byte
	delay        time.Duration
	block        bool
	unknownTotal bool

	resolveCalls int
	openCalls    int
	active       int
	maxActive    int
}

// NewFakeProvider builds an empty provider; unknown refs fail resolution.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		infos:        map[string]*job.SourceInfo{},
		resolveErrs:  map[string]error{},
		openFailures: map[string]int{},
		payloads:     map[string][]byte{},
	}
}

// AddSource registers info for ref.
func (p *FakeProvider) AddSource(ref string, info *job.SourceInfo) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infos[ref] = info
	return p
}

// FailResolve makes Resolve return err for ref.
func (p *FakeProvider) FailResolve(ref string, err error) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolveErrs[ref] = err
	return p
}

// FailOpens makes the next n streams for ref break mid-transfer.
func (p *FakeProvider) FailOpens(ref string, n int) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openFailures[ref] = n
	return p
}

// SetPayload fixes the bytes served for an encoding id.
func (p *FakeProvider) SetPayload(encodingID string, data []byte) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads[encodingID] = data
	return p
}

// SetDelay holds every stream open for d before EOF.
func (p *FakeProvider) SetDelay(d time.Duration) *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
	return p
}

// BlockStreams makes streams stall after their first chunk until cancelled.
func (p *FakeProvider) BlockStreams() *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.block = true
	return p
}

// HideTotals makes streams report an unknown total length.
func (p *FakeProvider) HideTotals() *FakeProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unknownTotal = true
	return p
}

// Resolve implements source.Provider.
func (p *FakeProvider) Resolve(ctx context.Context, sourceRef string) (*job.SourceInfo, error) {
	if err := source.ValidateRef(sourceRef); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolveCalls++
	if err := p.resolveErrs[sourceRef]; err != nil {
		return nil, err
	}
	info, ok := p.infos[sourceRef]
	if !ok {
		return nil, services.Wrap(services.ErrInvalidSource, "fake", "resolve", "unknown source "+sourceRef, nil)
	}
	return info.Clone(), ctx.Err()
}

// Open implements source.Provider.
func (p *FakeProvider) Open(ctx context.Context, sourceRef string, encoding job.Encoding) (*source.Stream, error) {
	p.mu.Lock()
	p.openCalls++
	p.active++
	p.maxActive = max(p.maxActive, p.active)
	payload, ok := p.payloads[encoding.ID]
	if !ok {
		payload = []byte(fmt.Sprintf("payload-%s-%s", encoding.ID, sourceRef))
	}
	fail := p.openFailures[sourceRef] > 0
	if fail {
		p.openFailures[sourceRef]--
	}
	total := int64(len(payload))
	if p.unknownTotal {
		total = 0
	}
	stream := &fakeStream{
		ctx:     ctx,
		data:    bytes.NewReader(payload),
		fail:    fail,
		block:   p.block,
		delay:   p.delay,
		release: p.release,
	}
	p.mu.Unlock()
	return &source.Stream{ReadCloser: stream, Total: total}, nil
}

func (p *FakeProvider) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active--
}

// ResolveCalls reports how many times Resolve ran.
func (p *FakeProvider) ResolveCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolveCalls
}

// OpenCalls reports how many streams were opened.
func (p *FakeProvider) OpenCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openCalls
}

// MaxActive reports the highest number of simultaneously open streams.
func (p *FakeProvider) MaxActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

type fakeStream struct {
	ctx     context.Context
	data    *bytes.Reader
	fail    bool
	block   bool
	delay   time.Duration
	served  bool
	release func()
	closed  bool
}

func (s *fakeStream) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	if s.served || s.data.Len() == 0 {
		switch {
		case s.fail:
			return 0, services.Wrap(services.ErrTransfer, "fake", "stream", "connection reset", nil)
		case s.block:
			<-s.ctx.Done()
			return 0, s.ctx.Err()
		case s.delay > 0:
			select {
			case <-time.After(s.delay):
				s.delay = 0
			case <-s.ctx.Done():
				return 0, s.ctx.Err()
			}
		}
		if s.data.Len() == 0 {
			return 0, io.EOF
		}
	}
	// Serve half the payload first so failing and blocking streams leave a partial file.
	limit := max(s.data.Len()/2, 1)
	if s.served {
		limit = s.data.Len()
	}
	s.served = true
	return s.data.Read(p[:min(len(p), limit)])
}

func (s *fakeStream) Close() error {
	if !s.closed {
		s.closed = true
		s.release()
	}
	return nil
}

// FakeMuxer is a scripted muxer.Muxer that concatenates its inputs.
type FakeMuxer struct {
	mu       sync.Mutex
	percents []float64
	failures int
	block    bool
	calls    int
}

// NewFakeMuxer reports the given percentages on every merge.
func NewFakeMuxer(percents ...float64) *FakeMuxer {
	return &FakeMuxer{percents: percents}
}

// FailNext makes the next n merges fail after writing a partial output.
func (m *FakeMuxer) FailNext(n int) *FakeMuxer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
	return m
}

// Block makes merges wait for cancellation.
func (m *FakeMuxer) Block() *FakeMuxer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = true
	return m
}

// Calls reports how many merges ran.
func (m *FakeMuxer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Merge implements muxer.Muxer.
func (m *FakeMuxer) Merge(ctx context.Context, req muxer.Request, progress muxer.ProgressFunc) error {
	m.mu.Lock()
	m.calls++
	fail := m.failures > 0
	if fail {
		m.failures--
	}
	block := m.block
	percents := append([]float64(nil), m.percents...)
	m.mu.Unlock()

	for _, p := range percents {
		if progress != nil {
			progress(p)
		}
	}
	if block || fail {
		if err := os.WriteFile(req.OutputPath, []byte("partial"), 0o644); err != nil {
			return err
		}
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return services.Wrap(services.ErrMerge, "fake", "merge", "codec not supported in container", nil)
	}

	video, err := os.ReadFile(req.VideoPath)
	if err != nil {
		return services.Wrap(services.ErrMerge, "fake", "merge", "read video", err)
	}
	audio, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return services.Wrap(services.ErrMerge, "fake", "merge", "read audio", err)
	}
	return os.WriteFile(req.OutputPath, append(video, audio...), 0o644)
}
