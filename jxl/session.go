package jxl

import (
	"fmt"

	"github.com/cocosip/go-jxl/internal/engine"
)

// Event is reported by Session.Next.
type Event int

const (
	// EventNeedMoreInput asks for the next chunk through Feed, or Close
	// when there is none.
	EventNeedMoreInput Event = iota
	EventBasicInfo
	EventColorProfile
	EventFrame
	EventFullImage
	EventSuccess
)

func (e Event) String() string {
	switch e {
	case EventNeedMoreInput:
		return "need more input"
	case EventBasicInfo:
		return "basic info"
	case EventColorProfile:
		return "color profile"
	case EventFrame:
		return "frame"
	case EventFullImage:
		return "full image"
	case EventSuccess:
		return "success"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Session decodes one image from input that arrives in chunks. It drives the
// same state machine as Decode and shares its Decoder, so only one Session
// or one-shot call may be active on a Decoder at a time.
type Session struct {
	d       *Decoder
	pending []byte
}

// Session starts a chunked decode with the sample type inferred from the
// image depth.
func (d *Decoder) Session() (*Session, error) {
	if err := d.begin(0, false, false); err != nil {
		return nil, err
	}
	return &Session{d: d}, nil
}

// SessionAs starts a chunked decode into samples of type t.
func (d *Decoder) SessionAs(t SampleType) (*Session, error) {
	if t.Size() == 0 {
		return nil, fmt.Errorf("%w: sample type %v", ErrUnsupported, t)
	}
	if err := d.begin(t, true, false); err != nil {
		return nil, err
	}
	return &Session{d: d}, nil
}

// Feed hands the next chunk to the decoder. It fails with
// ErrInputAlreadySet until Next has reported EventNeedMoreInput for the
// previous chunk, and after Close.
func (s *Session) Feed(chunk []byte) error {
	data := chunk
	if len(s.pending) > 0 {
		data = append(s.pending, chunk...)
	}
	if err := s.d.setInput(data); err != nil {
		return err
	}
	s.pending = nil
	return nil
}

// Close marks the input fed so far as complete.
func (s *Session) Close() {
	if s.d.eng != nil {
		s.d.closeInput()
	}
}

// Next advances decoding to the next event. Output buffer requests are
// answered internally.
func (s *Session) Next() (Event, error) {
	d := s.d
	if d.state == stateDone {
		return EventSuccess, nil
	}
	for {
		st, err := d.step()
		if err != nil {
			return 0, err
		}
		switch st {
		case engine.DecNeedMoreInput:
			if rest := d.releaseInput(); len(rest) > 0 {
				s.pending = append([]byte(nil), rest...)
			}
			return EventNeedMoreInput, nil
		case engine.DecBasicInfo:
			return EventBasicInfo, nil
		case engine.DecColorEncoding:
			return EventColorProfile, nil
		case engine.DecFrame:
			return EventFrame, nil
		case engine.DecFullImage:
			return EventFullImage, nil
		case engine.DecSuccess:
			return EventSuccess, nil
		}
	}
}

// Info returns the image header, nil before EventBasicInfo.
func (s *Session) Info() *BasicInfo {
	if s.d.info == nil {
		return nil
	}
	info := *s.d.info
	return &info
}

// Format returns the effective pixel format, valid after EventBasicInfo.
func (s *Session) Format() PixelFormat {
	return s.d.format
}

// Pixels returns the output buffer, which holds a complete frame after
// EventFullImage. It is reused by later frames.
func (s *Session) Pixels() Pixels {
	return s.d.pixels
}

// Result returns the decoded image, nil before EventSuccess.
func (s *Session) Result() *DecodeResult {
	return s.d.result
}
