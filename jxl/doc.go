// Package jxl is an incremental JPEG XL codec front-end.
//
// A Decoder drives the codec engine through a fixed event order (basic
// info, color profile, frames, full image, success), negotiating the pixel
// format and handing the engine correctly sized buffers on the way. An
// Encoder accepts basic info, one or more frames and metadata, then pulls
// the encoded stream into a growable buffer. Both take an optional
// parallel.Runner that the engine uses for its per-group work.
//
// Basic usage:
//
//	dec, err := jxl.NewDecoder(nil)
//	if err != nil {
//		return err
//	}
//	defer dec.Close()
//	res, err := dec.Decode(data)
//
// Chunked input is handled through a Session, which reports the same events
// one at a time.
package jxl
