package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chaz8081/gostt-stream/internal/chunk"
	"github.com/chaz8081/gostt-stream/internal/codec"
)

// ErrMalformedMessage is returned for inbound frames that are not valid
// results: bad JSON, a missing chunk_idx or transcript, or a negative index.
var ErrMalformedMessage = errors.New("transport: malformed message")

// ResultStatusError is the status value a service uses to flag a chunk it
// failed to transcribe.
const ResultStatusError = "error"

// Request is the outbound frame carrying one chunk.
type Request struct {
	ChunkIdx   int    `json:"chunk_idx"`
	SampleRate int    `json:"sample_rate"`
	Audio      string `json:"audio"`
}

// Reply is the inbound frame as it appears on the wire. Required fields are
// pointers so that absence can be told apart from a zero value.
type Reply struct {
	ChunkIdx       *int     `json:"chunk_idx"`
	Transcript     *string  `json:"transcript"`
	Language       string   `json:"language,omitempty"`
	ProcessingTime *float64 `json:"processing_time,omitempty"`
	Status         string   `json:"status,omitempty"`
}

// Result is a validated transcription result for one chunk.
type Result struct {
	Index          int
	Transcript     string
	Language       string
	ProcessingTime time.Duration
	Status         string
}

// Failed reports whether the service marked the result as an error.
func (r Result) Failed() bool {
	return r.Status == ResultStatusError
}

// NewRequest builds the outbound frame for c.
func NewRequest(c chunk.Chunk) Request {
	return Request{
		ChunkIdx:   c.Index,
		SampleRate: c.SampleRate,
		Audio:      codec.EncodeBase64(c.Samples),
	}
}

// EncodeRequest serializes c as a JSON text frame.
func EncodeRequest(c chunk.Chunk) ([]byte, error) {
	data, err := json.Marshal(NewRequest(c))
	if err != nil {
		return nil, fmt.Errorf("transport: encode chunk %d: %w", c.Index, err)
	}
	return data, nil
}

// DecodeRequest parses an outbound frame. It is used by services and test
// doubles on the receiving end.
func DecodeRequest(data []byte) (Request, []float32, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if req.ChunkIdx < 0 || req.SampleRate <= 0 {
		return Request{}, nil, fmt.Errorf("%w: chunk_idx %d sample_rate %d", ErrMalformedMessage, req.ChunkIdx, req.SampleRate)
	}
	samples, err := codec.DecodeBase64(req.Audio)
	if err != nil {
		return Request{}, nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return req, samples, nil
}

// EncodeReply serializes a result in wire form.
func EncodeReply(r Result) ([]byte, error) {
	reply := Reply{
		ChunkIdx:   &r.Index,
		Transcript: &r.Transcript,
		Language:   r.Language,
		Status:     r.Status,
	}
	if r.ProcessingTime > 0 {
		secs := r.ProcessingTime.Seconds()
		reply.ProcessingTime = &secs
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("transport: encode reply %d: %w", r.Index, err)
	}
	return data, nil
}

// DecodeResult validates an inbound frame.
func DecodeResult(data []byte) (Result, error) {
	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if reply.ChunkIdx == nil {
		return Result{}, fmt.Errorf("%w: missing chunk_idx", ErrMalformedMessage)
	}
	if *reply.ChunkIdx < 0 {
		return Result{}, fmt.Errorf("%w: negative chunk_idx %d", ErrMalformedMessage, *reply.ChunkIdx)
	}
	if reply.Transcript == nil {
		return Result{}, fmt.Errorf("%w: chunk %d missing transcript", ErrMalformedMessage, *reply.ChunkIdx)
	}

	res := Result{
		Index:      *reply.ChunkIdx,
		Transcript: *reply.Transcript,
		Language:   reply.Language,
		Status:     reply.Status,
	}
	if reply.ProcessingTime != nil && *reply.ProcessingTime > 0 {
		res.ProcessingTime = time.Duration(*reply.ProcessingTime * float64(time.Second))
	}
	return res, nil
}
