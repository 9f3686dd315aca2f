package relay

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sheerbytes/camrelay/internal/artifact"
	"github.com/sheerbytes/camrelay/internal/catalog"
	"github.com/sheerbytes/camrelay/internal/scheduler"
	"github.com/sheerbytes/camrelay/pkg/protocol"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2020, 10, 1, 12, 0, 0, 0, time.UTC)

type sent struct {
	deviceID string
	cmd      protocol.Command
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sent
}

func (s *recordingSender) Send(deviceID string, cmd protocol.Command) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{deviceID: deviceID, cmd: cmd})
	return fmt.Sprintf("dispatch-%d", len(s.sent))
}

func (s *recordingSender) commands(deviceID string) []protocol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Command
	for _, c := range s.sent {
		if c.deviceID == deviceID {
			out = append(out, c.cmd)
		}
	}
	return out
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []catalog.Record
}

func (m *memoryRecorder) Record(ctx context.Context, r catalog.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memoryRecorder) all() []catalog.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]catalog.Record(nil), m.records...)
}

type failingArtifacts struct{}

func (failingArtifacts) SaveLocation(ctx context.Context, deviceID, stem string, loc protocol.Location) (string, error) {
	return "", errors.New("disk full")
}

func (failingArtifacts) SaveImage(ctx context.Context, deviceID, stem string, data []byte) (string, error) {
	return "", errors.New("disk full")
}

type harness struct {
	t        *testing.T
	clock    *scheduler.Manual
	sender   *recordingSender
	recorder *memoryRecorder
	store    *artifact.Store
	dataDir  string
	router   *Router
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := artifact.NewStore(dir, discardLogger())
	require.NoError(t, err)
	return newHarnessWith(t, store, dir)
}

func newHarnessWith(t *testing.T, arts Artifacts, dir string) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    scheduler.NewManual(epoch),
		sender:   &recordingSender{},
		recorder: &memoryRecorder{},
		dataDir:  dir,
	}
	if s, ok := arts.(*artifact.Store); ok {
		h.store = s
	}
	h.router = NewRouter(&Env{
		Sender:    h.sender,
		Artifacts: arts,
		Recorder:  h.recorder,
		Clock:     h.clock,
		Timing: Timing{
			ChunkTimeout: 20 * time.Second,
			RestartDelay: 30 * time.Second,
		},
		Logger: discardLogger(),
	})
	return h
}

func (h *harness) route(ev protocol.Event) {
	h.router.Route(context.Background(), ev)
}

func (h *harness) start(deviceID string, file, chunkSize, fileSize int, hash, ts string) {
	h.route(protocol.Event{
		DeviceID:  deviceID,
		Kind:      protocol.KindTransfer,
		Name:      protocol.DefaultTransferEventName,
		Payload:   fmt.Sprintf(`{"op":"start","fileNum":%d,"chunkSize":%d,"fileSize":%d,"hash":%q}`, file, chunkSize, fileSize, hash),
		Timestamp: ts,
	})
}

func (h *harness) chunk(deviceID string, file, index int, data []byte) {
	h.route(protocol.Event{
		DeviceID:  deviceID,
		Kind:      protocol.KindTransfer,
		Name:      protocol.DefaultTransferEventName,
		Payload:   fmt.Sprintf(`{"op":"chunk","fileNum":%d,"chunk":%d,"data":%q}`, file, index, base64.StdEncoding.EncodeToString(data)),
		Timestamp: epoch.Format(time.RFC3339),
	})
}

func (h *harness) location(deviceID, payload string) {
	h.route(protocol.Event{
		DeviceID:  deviceID,
		Kind:      protocol.KindLocation,
		Name:      protocol.DefaultLocationEventName,
		Payload:   payload,
		Timestamp: epoch.Format(time.RFC3339),
	})
}

func (h *harness) session(deviceID string) *Session {
	h.t.Helper()
	s, ok := h.router.Session(deviceID)
	require.True(h.t, ok, "no session for %s", deviceID)
	return s
}

func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func slice(src []byte, chunkSize, index int) []byte {
	start := index * chunkSize
	end := start + chunkSize
	if end > len(src) {
		end = len(src)
	}
	return src[start:end]
}

func randomPerm(n int, seed int64) []int {
	return rand.New(rand.NewSource(seed)).Perm(n)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
