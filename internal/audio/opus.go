package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pion/opus"
	"github.com/pion/opus/pkg/oggreader"
)

// OpusSampleRate is the rate Opus decodes at regardless of encoder input.
const OpusSampleRate = 48000

// one 20ms packet at 48kHz; doubled when the stream is stereo
const opusFrameBytes = 960 * 2

// DecodeOggOpus decodes an Ogg-encapsulated Opus stream into S16LE PCM
// at 48kHz, returning the number of PCM bytes written. Packets are
// assumed to carry 20ms of audio, which is what speech encoders emit.
func DecodeOggOpus(r io.Reader, dst io.Writer) (int64, error) {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return 0, fmt.Errorf("read ogg container: %w", err)
	}

	decoder := opus.NewDecoder()
	frame := make([]byte, opusFrameBytes*2)
	var written int64
	for {
		segments, _, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("parse ogg page: %w", err)
		}
		for _, segment := range segments {
			if bytes.HasPrefix(segment, []byte("OpusTags")) {
				continue
			}
			_, isStereo, err := decoder.Decode(segment, frame)
			if err != nil {
				return written, fmt.Errorf("decode opus packet: %w", err)
			}
			size := opusFrameBytes
			if isStereo {
				size *= 2
			}
			n, err := dst.Write(frame[:size])
			written += int64(n)
			if err != nil {
				return written, err
			}
		}
	}
}
