package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports a payload that is not valid JSON or misses required fields.
	ErrMalformed = errors.New("malformed payload")
	// ErrUnknownOp reports a transfer frame with an op this relay does not handle.
	ErrUnknownOp = errors.New("unknown op")
)

// Frame is a parsed transfer frame: either StartFrame or ChunkFrame.
type Frame interface {
	Op() string
	FileNum() int
}

// StartFrame announces a new file.
type StartFrame struct {
	File      int
	ChunkSize int
	FileSize  int
	Hash      string
}

func (StartFrame) Op() string { return OpStart }
func (f StartFrame) FileNum() int { return f.File }

// ChunkFrame carries one slice of a file. Index is not range checked here;
// only the owning transfer knows how many chunks exist.
type ChunkFrame struct {
	File  int
	Index int
	Data  []byte
}

func (ChunkFrame) Op() string { return OpChunk }
func (f ChunkFrame) FileNum() int { return f.File }

type rawFrame struct {
	Op        string  `json:"op"`
	FileNum   *int    `json:"fileNum"`
	ChunkSize *int    `json:"chunkSize"`
	FileSize  *int    `json:"fileSize"`
	Hash      *string `json:"hash"`
	Chunk     *int    `json:"chunk"`
	Data      *string `json:"data"`
}

// ParseFrame decodes a transfer event payload.
func ParseFrame(payload string) (Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.FileNum == nil {
		return nil, fmt.Errorf("%w: fileNum is required", ErrMalformed)
	}

	switch raw.Op {
	case OpStart:
		if raw.ChunkSize == nil || *raw.ChunkSize <= 0 {
			return nil, fmt.Errorf("%w: chunkSize must be > 0", ErrMalformed)
		}
		if raw.FileSize == nil || *raw.FileSize <= 0 {
			return nil, fmt.Errorf("%w: fileSize must be > 0", ErrMalformed)
		}
		if raw.Hash == nil || *raw.Hash == "" {
			return nil, fmt.Errorf("%w: hash is required", ErrMalformed)
		}
		return StartFrame{
			File:      *raw.FileNum,
			ChunkSize: *raw.ChunkSize,
			FileSize:  *raw.FileSize,
			Hash:      *raw.Hash,
		}, nil
	case OpChunk:
		if raw.Chunk == nil {
			return nil, fmt.Errorf("%w: chunk is required", ErrMalformed)
		}
		if raw.Data == nil {
			return nil, fmt.Errorf("%w: data is required", ErrMalformed)
		}
		data, err := base64.StdEncoding.DecodeString(*raw.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: decode data: %v", ErrMalformed, err)
		}
		return ChunkFrame{File: *raw.FileNum, Index: *raw.Chunk, Data: data}, nil
	case "":
		return nil, fmt.Errorf("%w: op is required", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownOp, raw.Op)
	}
}

// Location is a location report, kept verbatim.
type Location struct {
	Raw json.RawMessage
}

// ParseLocation accepts any JSON object.
func ParseLocation(payload string) (Location, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if obj == nil {
		return Location{}, fmt.Errorf("%w: location must be an object", ErrMalformed)
	}
	raw := make(json.RawMessage, len(payload))
	copy(raw, payload)
	return Location{Raw: raw}, nil
}

// Indented returns the location pretty-printed with two-space indentation.
func (l Location) Indented() ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, l.Raw, "", "  "); err != nil {
		return nil, fmt.Errorf("indent location: %w", err)
	}
	return buf.Bytes(), nil
}

// Command is a control instruction for a device. Build it with StartAck,
// Restart, Resend or Done.
type Command struct {
	Op     string `json:"op"`
	File   int    `json:"file"`
	Chunks []int  `json:"chunks,omitempty"`
}

// StartAck confirms a start frame.
func StartAck(file int) Command { return Command{Op: OpStart, File: file} }

// Restart asks the device to send the file again from its start frame.
func Restart(file int) Command { return Command{Op: OpRestart, File: file} }

// Resend asks the device to retransmit the listed chunks.
func Resend(file int, chunks []int) Command {
	out := make([]int, len(chunks))
	copy(out, chunks)
	return Command{Op: OpResend, File: file, Chunks: out}
}

// Done tells the device the file was received and verified.
func Done(file int) Command { return Command{Op: OpDone, File: file} }

// Encode serializes the command to the function-call argument format.
func (c Command) Encode() (string, error) {
	switch c.Op {
	case OpStart, OpRestart, OpDone:
		if len(c.Chunks) > 0 {
			return "", fmt.Errorf("%s command cannot carry chunks", c.Op)
		}
	case OpResend:
		if len(c.Chunks) == 0 {
			return "", errors.New("resend command requires chunks")
		}
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownOp, c.Op)
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}
	return string(b), nil
}
