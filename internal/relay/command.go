package relay

import (
	"fmt"
	"strconv"
	"strings"
)

// Encoding captures the ffmpeg encoding parameters applied to every
// session's pipeline. The values are passed through verbatim; the relay
// does not validate that ffmpeg accepts them.
type Encoding struct {
	VideoCodec   string
	Preset       string
	Tune         string
	VideoBitrate string
	MaxRate      string
	BufferSize   string
	GOPSize      int
	FrameRate    int
	AudioCodec   string
	AudioBitrate string
	SampleRate   int
}

// DefaultEncoding returns the low-latency H.264/AAC profile used when the
// operator supplies no overrides.
func DefaultEncoding() Encoding {
	return Encoding{
		VideoCodec:   "libx264",
		Preset:       "veryfast",
		Tune:         "zerolatency",
		VideoBitrate: "1000k",
		MaxRate:      "1000k",
		BufferSize:   "2000k",
		GOPSize:      30,
		FrameRate:    30,
		AudioCodec:   "aac",
		AudioBitrate: "128k",
		SampleRate:   44100,
	}
}

func (e Encoding) withDefaults() Encoding {
	def := DefaultEncoding()
	if strings.TrimSpace(e.VideoCodec) == "" {
		e.VideoCodec = def.VideoCodec
	}
	if strings.TrimSpace(e.Preset) == "" {
		e.Preset = def.Preset
	}
	if strings.TrimSpace(e.Tune) == "" {
		e.Tune = def.Tune
	}
	if strings.TrimSpace(e.VideoBitrate) == "" {
		e.VideoBitrate = def.VideoBitrate
	}
	if strings.TrimSpace(e.MaxRate) == "" {
		e.MaxRate = def.MaxRate
	}
	if strings.TrimSpace(e.BufferSize) == "" {
		e.BufferSize = def.BufferSize
	}
	if e.GOPSize <= 0 {
		e.GOPSize = def.GOPSize
	}
	if e.FrameRate <= 0 {
		e.FrameRate = def.FrameRate
	}
	if strings.TrimSpace(e.AudioCodec) == "" {
		e.AudioCodec = def.AudioCodec
	}
	if strings.TrimSpace(e.AudioBitrate) == "" {
		e.AudioBitrate = def.AudioBitrate
	}
	if e.SampleRate <= 0 {
		e.SampleRate = def.SampleRate
	}
	return e
}

// buildArgs assembles the ffmpeg argument list for one session: a single
// encode of the stdin stream duplicated via the tee muxer, once per
// destination, each duplicate tolerant of its own failure.
func buildArgs(enc Encoding, destinations []string) ([]string, error) {
	if len(destinations) == 0 {
		return nil, fmt.Errorf("at least one destination is required")
	}
	enc = enc.withDefaults()
	args := []string{
		"-re", "-i", "pipe:0",
		"-c:v", enc.VideoCodec,
		"-preset", enc.Preset,
		"-tune", enc.Tune,
		"-b:v", enc.VideoBitrate,
		"-maxrate", enc.MaxRate,
		"-bufsize", enc.BufferSize,
		"-g", strconv.Itoa(enc.GOPSize),
		"-r", strconv.Itoa(enc.FrameRate),
		"-c:a", enc.AudioCodec,
		"-b:a", enc.AudioBitrate,
		"-ar", strconv.Itoa(enc.SampleRate),
		"-f", "tee",
		"-map", "0:v",
		"-map", "0:a",
	}
	outputs := make([]string, 0, len(destinations))
	for _, destination := range destinations {
		trimmed := strings.TrimSpace(destination)
		if trimmed == "" {
			return nil, fmt.Errorf("destination address must not be empty")
		}
		outputs = append(outputs, "[f=flv:onfail=ignore]"+trimmed)
	}
	return append(args, strings.Join(outputs, "|")), nil
}
