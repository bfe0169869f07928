package audio

import "errors"

const (
	SampleRateHertz = 16000
	ChannelCount    = 1
	BytesPerSample  = 2

	// 10 seconds of audio; larger frames are rejected rather than buffered.
	MaxFrameBytes = SampleRateHertz * ChannelCount * BytesPerSample * 10
)

var (
	ErrOddFrameLength = errors.New("pcm frame length is not a multiple of the sample width")
	ErrFrameTooLarge  = errors.New("pcm frame exceeds maximum size")
)

// IsStopSignal reports whether an inbound frame asks the session to stop:
// an empty frame or a single zero byte.
func IsStopSignal(frame []byte) bool {
	return len(frame) == 0 || (len(frame) == 1 && frame[0] == 0)
}

func ValidateFrame(frame []byte) error {
	if len(frame) > MaxFrameBytes {
		return ErrFrameTooLarge
	}
	if len(frame)%(BytesPerSample*ChannelCount) != 0 {
		return ErrOddFrameLength
	}
	return nil
}
