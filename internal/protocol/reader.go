package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"mirrorcast/internal/core/domain"
)

// EventKind discriminates server→client stream events.
type EventKind int

const (
	EventFrame EventKind = iota
	EventAudio
	EventWindowsDisplays
)

// Event is one parsed server→client packet.
type Event struct {
	Kind EventKind

	Status Status
	Image  []byte

	AudioInfo    AudioInfo
	AudioSamples []byte

	WindowsDisplays WindowsDisplays
}

// maxStrikes is how many consecutive malformed packets a reader
// tolerates before declaring the stream unrecoverable.
const maxStrikes = 2

// StreamReader incrementally parses the server→client byte stream. It
// is fragmentation-tolerant: reads block until a whole packet is
// available, regardless of how the transport chunks the bytes.
//
// Malformed packets are discarded and reported through the OnMalformed
// callback; the reader only fails once maxStrikes arrive consecutively
// or the underlying transport errors.
type StreamReader struct {
	br          *bufio.Reader
	onMalformed func(error)
	strikes     int
}

// NewStreamReader wraps r for parsing.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{br: bufio.NewReaderSize(r, 64*1024)}
}

// OnMalformed registers a callback invoked for every discarded packet.
func (r *StreamReader) OnMalformed(fn func(error)) { r.onMalformed = fn }

// Next returns the next well-formed event. It returns an error wrapping
// domain.ErrProtocolViolation when the stream is unrecoverable, or the
// transport error (io.EOF included) when the connection ends.
func (r *StreamReader) Next() (Event, error) {
	for {
		head, err := r.br.Peek(1)
		if err != nil {
			return Event{}, err
		}

		var ev Event
		switch head[0] {
		case TagAudio:
			ev, err = r.readAudio()
		case TagWindowsDisplays:
			ev, err = r.readWindowsDisplays()
		default:
			ev, err = r.readVideoFrame()
		}

		if err == nil {
			r.strikes = 0
			return ev, nil
		}
		if !errors.Is(err, domain.ErrMalformedPacket) {
			return Event{}, err
		}
		if err := r.strike(err); err != nil {
			return Event{}, err
		}
	}
}

func (r *StreamReader) strike(cause error) error {
	if r.onMalformed != nil {
		r.onMalformed(cause)
	}
	r.strikes++
	if r.strikes >= maxStrikes {
		return fmt.Errorf("%w: %d consecutive malformed packets, last: %v",
			domain.ErrProtocolViolation, r.strikes, cause)
	}
	return nil
}

func (r *StreamReader) readVideoFrame() (Event, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r.br, hdr[:]); err != nil {
		return Event{}, err
	}
	imageLen := int(binary.BigEndian.Uint32(hdr[:4]))
	statusLen := int(hdr[4])

	if imageLen > MaxPacketBytes {
		if err := r.discard(statusLen + imageLen); err != nil {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("%w: image length %d exceeds budget", domain.ErrMalformedPacket, imageLen)
	}

	statusJSON := make([]byte, statusLen)
	if _, err := io.ReadFull(r.br, statusJSON); err != nil {
		return Event{}, err
	}
	image := make([]byte, imageLen)
	if _, err := io.ReadFull(r.br, image); err != nil {
		return Event{}, err
	}

	var st Status
	if err := json.Unmarshal(statusJSON, &st); err != nil {
		return Event{}, fmt.Errorf("%w: status envelope: %v", domain.ErrMalformedPacket, err)
	}

	return Event{Kind: EventFrame, Status: st, Image: image}, nil
}

func (r *StreamReader) readAudio() (Event, error) {
	var hdr [7]byte // tag, u16 info_len, u32 audio_len
	if _, err := io.ReadFull(r.br, hdr[:]); err != nil {
		return Event{}, err
	}
	infoLen := int(binary.BigEndian.Uint16(hdr[1:3]))
	audioLen := int(binary.BigEndian.Uint32(hdr[3:7]))

	if infoLen+audioLen > MaxPacketBytes {
		if err := r.discard(infoLen + audioLen); err != nil {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("%w: audio packet length %d exceeds budget", domain.ErrMalformedPacket, infoLen+audioLen)
	}

	infoJSON := make([]byte, infoLen)
	if _, err := io.ReadFull(r.br, infoJSON); err != nil {
		return Event{}, err
	}
	samples := make([]byte, audioLen)
	if _, err := io.ReadFull(r.br, samples); err != nil {
		return Event{}, err
	}

	var info AudioInfo
	if err := json.Unmarshal(infoJSON, &info); err != nil {
		return Event{}, fmt.Errorf("%w: audio info: %v", domain.ErrMalformedPacket, err)
	}

	return Event{Kind: EventAudio, AudioInfo: info, AudioSamples: samples}, nil
}

func (r *StreamReader) readWindowsDisplays() (Event, error) {
	var hdr [5]byte // tag, u32 resp_len
	if _, err := io.ReadFull(r.br, hdr[:]); err != nil {
		return Event{}, err
	}
	respLen := int(binary.BigEndian.Uint32(hdr[1:5]))

	if respLen > MaxPacketBytes {
		if err := r.discard(respLen); err != nil {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("%w: response length %d exceeds budget", domain.ErrMalformedPacket, respLen)
	}

	body := make([]byte, respLen)
	if _, err := io.ReadFull(r.br, body); err != nil {
		return Event{}, err
	}

	var resp WindowsDisplays
	if err := json.Unmarshal(body, &resp); err != nil {
		return Event{}, fmt.Errorf("%w: windows/displays response: %v", domain.ErrMalformedPacket, err)
	}
	if resp.Windows == nil {
		resp.Windows = []WindowEntry{}
	}
	if resp.Displays == nil {
		resp.Displays = []DisplayEntry{}
	}

	return Event{Kind: EventWindowsDisplays, WindowsDisplays: resp}, nil
}

func (r *StreamReader) discard(n int) error {
	_, err := io.CopyN(io.Discard, r.br, int64(n))
	return err
}

// ControlKind discriminates client→server control events.
type ControlKind int

const (
	ControlAck ControlKind = iota
	ControlSettings
	ControlRequest
)

// ControlEvent is one parsed client→server packet.
type ControlEvent struct {
	Kind     ControlKind
	Settings SettingsUpdate
	Request  Request
}

// ControlReader incrementally parses the client→server byte stream
// with the same discard-and-strike policy as StreamReader. Only 0x01
// is an ack; any untagged byte is malformed.
type ControlReader struct {
	br          *bufio.Reader
	onMalformed func(error)
	strikes     int
}

// NewControlReader wraps r for parsing.
func NewControlReader(r io.Reader) *ControlReader {
	return &ControlReader{br: bufio.NewReaderSize(r, 4*1024)}
}

// OnMalformed registers a callback invoked for every discarded packet.
func (r *ControlReader) OnMalformed(fn func(error)) { r.onMalformed = fn }

// Next returns the next well-formed control event.
func (r *ControlReader) Next() (ControlEvent, error) {
	for {
		tag, err := r.br.ReadByte()
		if err != nil {
			return ControlEvent{}, err
		}

		var ev ControlEvent
		switch tag {
		case TagAck:
			ev = ControlEvent{Kind: ControlAck}
		case TagSettings:
			ev, err = r.readSettings()
		case TagRequest:
			ev, err = r.readRequest()
		default:
			err = fmt.Errorf("%w: unexpected tag 0x%02X", domain.ErrMalformedPacket, tag)
		}

		if err == nil {
			r.strikes = 0
			return ev, nil
		}
		if !errors.Is(err, domain.ErrMalformedPacket) {
			return ControlEvent{}, err
		}
		if err := r.strike(err); err != nil {
			return ControlEvent{}, err
		}
	}
}

func (r *ControlReader) strike(cause error) error {
	if r.onMalformed != nil {
		r.onMalformed(cause)
	}
	r.strikes++
	if r.strikes >= maxStrikes {
		return fmt.Errorf("%w: %d consecutive malformed packets, last: %v",
			domain.ErrProtocolViolation, r.strikes, cause)
	}
	return nil
}

func (r *ControlReader) readSettings() (ControlEvent, error) {
	body, err := r.readBody()
	if err != nil {
		return ControlEvent{}, err
	}
	var s SettingsUpdate
	if err := json.Unmarshal(body, &s); err != nil {
		return ControlEvent{}, fmt.Errorf("%w: settings body: %v", domain.ErrMalformedPacket, err)
	}
	return ControlEvent{Kind: ControlSettings, Settings: s}, nil
}

func (r *ControlReader) readRequest() (ControlEvent, error) {
	body, err := r.readBody()
	if err != nil {
		return ControlEvent{}, err
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return ControlEvent{}, fmt.Errorf("%w: request body: %v", domain.ErrMalformedPacket, err)
	}
	return ControlEvent{Kind: ControlRequest, Request: req}, nil
}

func (r *ControlReader) readBody() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.br, lenBuf[:]); err != nil {
		return nil, err
	}
	bodyLen := int(binary.BigEndian.Uint32(lenBuf[:]))
	if bodyLen > MaxPacketBytes {
		if _, err := io.CopyN(io.Discard, r.br, int64(bodyLen)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: body length %d exceeds budget", domain.ErrMalformedPacket, bodyLen)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r.br, body); err != nil {
		return nil, err
	}
	return body, nil
}
