package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Encoding selects the sample format written by [EncodeWAV].
type Encoding string

const (
	// EncodingPCM16 writes 16-bit signed integer samples (WAVE format tag 1).
	EncodingPCM16 Encoding = "pcm16"

	// EncodingFloat32 writes 32-bit IEEE float samples (WAVE format tag 3).
	EncodingFloat32 Encoding = "float32"
)

// IsValid reports whether e is a supported encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingPCM16 || e == EncodingFloat32
}

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// ErrInvalidWAV is returned by [DecodeWAV] for malformed or unsupported input.
var ErrInvalidWAV = errors.New("audio: invalid wav")

// EncodeWAV writes samples as a mono WAV file at sampleRate. Samples are
// normalised to [-1, 1) before being written in the requested encoding. An
// empty encoding selects [EncodingPCM16].
func EncodeWAV(w io.Writer, samples []int16, sampleRate int, enc Encoding) error {
	if sampleRate <= 0 {
		return fmt.Errorf("audio: encode wav: invalid sample rate %d", sampleRate)
	}
	if enc == "" {
		enc = EncodingPCM16
	}
	if !enc.IsValid() {
		return fmt.Errorf("audio: encode wav: unsupported encoding %q", enc)
	}

	norm := Normalize(samples)

	var (
		format  uint16
		bps     int
		payload []byte
	)
	switch enc {
	case EncodingPCM16:
		format, bps = wavFormatPCM, 16
		payload = make([]byte, len(norm)*2)
		for i, f := range norm {
			v := math.Round(float64(f) * 32768)
			v = math.Max(-32768, math.Min(32767, v))
			binary.LittleEndian.PutUint16(payload[i*2:], uint16(int16(v)))
		}
	case EncodingFloat32:
		format, bps = wavFormatFloat, 32
		payload = make([]byte, len(norm)*4)
		for i, f := range norm {
			binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(f))
		}
	}

	const channels = 1
	blockAlign := channels * bps / 8
	byteRate := sampleRate * blockAlign

	// Non-PCM formats carry a fact chunk with the frame count.
	factSize := 0
	if format != wavFormatPCM {
		factSize = 12
	}

	hdr := make([]byte, 0, 44+factSize)
	hdr = append(hdr, "RIFF"...)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(36+factSize+len(payload)))
	hdr = append(hdr, "WAVE"...)

	hdr = append(hdr, "fmt "...)
	hdr = binary.LittleEndian.AppendUint32(hdr, 16)
	hdr = binary.LittleEndian.AppendUint16(hdr, format)
	hdr = binary.LittleEndian.AppendUint16(hdr, channels)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(sampleRate))
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(byteRate))
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(blockAlign))
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(bps))

	if factSize > 0 {
		hdr = append(hdr, "fact"...)
		hdr = binary.LittleEndian.AppendUint32(hdr, 4)
		hdr = binary.LittleEndian.AppendUint32(hdr, uint32(len(samples)))
	}

	hdr = append(hdr, "data"...)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(len(payload)))

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("audio: encode wav: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("audio: encode wav: write data: %w", err)
	}
	return nil
}

// DecodeWAV reads a 16-bit PCM or 32-bit float WAV stream and returns its
// samples downmixed to mono together with the sample rate.
func DecodeWAV(r io.Reader) ([]int16, int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: read riff header: %v", ErrInvalidWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: missing RIFF/WAVE signature", ErrInvalidWAV)
	}

	var (
		format     uint16
		channels   int
		sampleRate int
		bps        int
		haveFmt    bool
	)
	for {
		var chunkHdr [8]byte
		if _, err := io.ReadFull(r, chunkHdr[:]); err != nil {
			return nil, 0, fmt.Errorf("%w: no data chunk: %v", ErrInvalidWAV, err)
		}
		id := string(chunkHdr[0:4])
		size := int(binary.LittleEndian.Uint32(chunkHdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("%w: fmt chunk too short", ErrInvalidWAV)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("%w: read fmt chunk: %v", ErrInvalidWAV, err)
			}
			format = binary.LittleEndian.Uint16(body[0:2])
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bps = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("%w: read data chunk: %v", ErrInvalidWAV, err)
			}
			samples, err := decodePayload(body, format, bps)
			if err != nil {
				return nil, 0, err
			}
			return Downmix(samples, channels), sampleRate, nil

		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return nil, 0, fmt.Errorf("%w: skip %q chunk: %v", ErrInvalidWAV, id, err)
			}
		}
	}
}

func decodePayload(body []byte, format uint16, bps int) ([]int16, error) {
	switch {
	case format == wavFormatPCM && bps == 16:
		return BytesToSamples(body), nil
	case format == wavFormatFloat && bps == 32:
		out := make([]int16, len(body)/4)
		for i := range out {
			f := float64(math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:])))
			v := math.Max(-32768, math.Min(32767, math.Round(f*32768)))
			out[i] = int16(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported format %d with %d bits per sample", ErrInvalidWAV, format, bps)
}
