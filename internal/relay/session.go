package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sheerbytes/camrelay/internal/artifact"
	"github.com/sheerbytes/camrelay/internal/catalog"
	"github.com/sheerbytes/camrelay/internal/scheduler"
	"github.com/sheerbytes/camrelay/internal/transfer"
	"github.com/sheerbytes/camrelay/pkg/protocol"
)

// State is a session's position in the transfer protocol.
type State int

const (
	// StateIdle has no active transfer.
	StateIdle State = iota
	// StateReceiving has a transfer with chunks outstanding.
	StateReceiving
	// StateVerifying is entered and left within the reaction to the final chunk.
	StateVerifying
	// StateAwaitingRestart holds a complete transfer that failed verification
	// until the delayed restart command goes out.
	StateAwaitingRestart
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateVerifying:
		return "verifying"
	case StateAwaitingRestart:
		return "awaiting_restart"
	default:
		return "unknown"
	}
}

const (
	timerMissing = "missing_chunks"
	timerRestart = "restart"
)

// Session is the per-device transfer state machine.
//
// Every event and timer reaction holds mu from start to finish, so reactions
// for one device never interleave. Timer callbacks carry the slot generation
// and the transfer they were armed for and do nothing if either is stale.
type Session struct {
	deviceID string
	env      *Env
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	location *protocol.Location
	transfer *transfer.Transfer
	slot     *scheduler.Slot
}

func newSession(deviceID string, env *Env) *Session {
	return &Session{
		deviceID: deviceID,
		env:      env,
		logger:   env.Logger.With("device_id", deviceID),
		slot:     scheduler.NewSlot(env.Clock),
	}
}

// DeviceID returns the device this session belongs to.
func (s *Session) DeviceID() string { return s.deviceID }

// CacheLocation keeps loc until the next start frame, replacing any earlier one.
func (s *Session) CacheLocation(loc protocol.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = &loc
}

// Handle applies one transfer frame.
func (s *Session) Handle(ctx context.Context, frame protocol.Frame, timestamp string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch f := frame.(type) {
	case protocol.StartFrame:
		s.handleStart(ctx, f, timestamp)
	case protocol.ChunkFrame:
		s.handleChunk(ctx, f)
	default:
		s.logger.Warn("ignoring unsupported frame", "op", frame.Op())
	}
}

func (s *Session) handleStart(ctx context.Context, f protocol.StartFrame, timestamp string) {
	if f.FileSize > s.env.MaxFileSize {
		s.logger.Warn("rejecting start, file too large", "file", f.File, "file_size", f.FileSize, "max", s.env.MaxFileSize)
		s.discard()
		return
	}
	stem := artifact.SanitizeName(timestamp)
	t, err := transfer.NewTransfer(f.File, f.ChunkSize, f.FileSize, f.Hash, stem)
	if err != nil {
		s.logger.Warn("rejecting start", "file", f.File, "error", err)
		s.discard()
		return
	}
	t.StartedAt = s.env.Clock.Now()

	if s.transfer != nil {
		s.logger.Info("replacing transfer", "old_file", s.transfer.FileNum, "received", s.transfer.Received(), "chunks", s.transfer.NumChunks())
	}
	s.slot.Cancel()
	s.transfer = t
	s.state = StateReceiving

	s.logger.Info("transfer started",
		"file", f.File,
		"file_size", f.FileSize,
		"chunk_size", f.ChunkSize,
		"chunks", t.NumChunks(),
		"output", stem,
	)

	s.send(protocol.StartAck(f.File))

	if s.location != nil {
		if _, err := s.env.Artifacts.SaveLocation(ctx, s.deviceID, stem, *s.location); err != nil {
			s.logger.Error("failed to save location snapshot", "file", f.File, "error", err)
		}
		s.location = nil
	}
}

// discard drops the active transfer and its pending timer. A start always
// ends the previous transfer, even one that is rejected.
func (s *Session) discard() {
	if s.transfer != nil {
		s.logger.Info("discarding transfer", "file", s.transfer.FileNum, "received", s.transfer.Received(), "chunks", s.transfer.NumChunks())
	}
	s.slot.Cancel()
	s.transfer = nil
	s.state = StateIdle
}

// send hands cmd to the dispatcher.
func (s *Session) send(cmd protocol.Command) {
	id := s.env.Sender.Send(s.deviceID, cmd)
	s.logger.Debug("command queued", "dispatch_id", id, "op", cmd.Op, "file", cmd.File)
}

func (s *Session) handleChunk(ctx context.Context, f protocol.ChunkFrame) {
	t := s.transfer
	if t == nil || f.File != t.FileNum {
		expected := -1
		if t != nil {
			expected = t.FileNum
		}
		s.logger.Info("chunk for unknown file, requesting restart", "file", f.File, "expected", expected, "chunk", f.Index)
		s.send(protocol.Restart(f.File))
		return
	}

	if !t.Valid(f.Index) {
		s.logger.Warn("chunk index out of range", "file", f.File, "chunk", f.Index, "chunks", t.NumChunks())
		return
	}

	t.Apply(f.Index, f.Data)
	s.logger.Debug("chunk accepted", "file", f.File, "chunk", f.Index, "bytes", len(f.Data), "received", t.Received(), "chunks", t.NumChunks())

	if !t.Complete() {
		s.state = StateReceiving
		s.armMissing(t)
		return
	}
	s.verify(ctx, t)
}

// verify runs with all chunks present.
func (s *Session) verify(ctx context.Context, t *transfer.Transfer) {
	s.state = StateVerifying
	s.slot.Cancel()

	actual, ok := s.env.Verifier.Verify(t.Bytes(), t.Hash)
	rec := catalog.Record{
		DeviceID:       s.deviceID,
		FileNum:        t.FileNum,
		Name:           t.Output + artifact.ImageExt,
		Size:           t.TotalSize,
		Chunks:         t.NumChunks(),
		ExpectedDigest: t.Hash,
		ActualDigest:   actual,
		StartedAt:      t.StartedAt,
		FinishedAt:     s.env.Clock.Now(),
	}

	if !ok {
		s.logger.Warn("hash mismatch, scheduling restart", "file", t.FileNum, "expected", t.Hash, "got", actual, "delay", s.env.Timing.RestartDelay)
		rec.Outcome = catalog.OutcomeMismatch
		s.record(ctx, rec)
		s.awaitRestart(t)
		return
	}

	path, err := s.env.Artifacts.SaveImage(ctx, s.deviceID, t.Output, t.Bytes())
	if err != nil {
		s.logger.Error("failed to save file, scheduling restart", "file", t.FileNum, "error", err)
		rec.Outcome = catalog.OutcomeFailed
		s.record(ctx, rec)
		s.awaitRestart(t)
		return
	}

	s.logger.Info("transfer complete", "file", t.FileNum, "path", path, "bytes", t.TotalSize)
	rec.Outcome = catalog.OutcomeSaved
	rec.Path = path
	s.record(ctx, rec)

	s.send(protocol.Done(t.FileNum))
	s.transfer = nil
	s.state = StateIdle
}

func (s *Session) record(ctx context.Context, rec catalog.Record) {
	if s.env.Recorder == nil {
		return
	}
	if err := s.env.Recorder.Record(ctx, rec); err != nil {
		s.logger.Warn("failed to record transfer outcome", "file", rec.FileNum, "error", err)
	}
}

func (s *Session) armMissing(t *transfer.Transfer) {
	s.slot.Arm(s.env.Timing.ChunkTimeout, timerMissing, func(gen uint64) {
		s.onMissingTimeout(t, gen)
	})
}

func (s *Session) awaitRestart(t *transfer.Transfer) {
	s.state = StateAwaitingRestart
	s.slot.Arm(s.env.Timing.RestartDelay, timerRestart, func(gen uint64) {
		s.onRestartDue(t, gen)
	})
}

func (s *Session) onMissingTimeout(t *transfer.Transfer, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.slot.Claim(gen) || s.transfer != t {
		return
	}
	missing := t.Missing()
	if len(missing) == 0 {
		return
	}
	s.logger.Info("requesting missing chunks", "file", t.FileNum, "missing", len(missing))
	s.send(protocol.Resend(t.FileNum, missing))
	s.armMissing(t)
}

func (s *Session) onRestartDue(t *transfer.Transfer, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.slot.Claim(gen) || s.transfer != t {
		return
	}
	s.logger.Info("sending restart request", "file", t.FileNum)
	s.send(protocol.Restart(t.FileNum))
	s.transfer = nil
	s.state = StateIdle
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	DeviceID     string
	State        State
	FileNum      int
	Chunks       int
	Received     int
	Missing      []int
	HasLocation  bool
	PendingTimer string
}

// Snapshot returns the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		DeviceID:    s.deviceID,
		State:       s.state,
		FileNum:     -1,
		HasLocation: s.location != nil,
	}
	if t := s.transfer; t != nil {
		snap.FileNum = t.FileNum
		snap.Chunks = t.NumChunks()
		snap.Received = t.Received()
		snap.Missing = t.Missing()
	}
	snap.PendingTimer, _ = s.slot.Pending()
	return snap
}

// State returns the session's protocol state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Missing returns the chunk indices still outstanding for the active transfer.
func (s *Session) Missing() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transfer == nil {
		return nil
	}
	return s.transfer.Missing()
}
