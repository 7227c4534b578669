package rtpengine

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/zaf/g711"
)

// wavAudio is the decoded content of a PCM WAV file.
type wavAudio struct {
	sampleRate uint32
	channels   uint16
	bits       uint16
	pcm        []byte
}

// LoadPrompt reads a WAV file and returns its audio as µ-law bytes at
// 8 kHz mono, ready to be framed onto an RTP stream.
func LoadPrompt(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load prompt: %w", err)
	}
	audio, err := parseWAV(data)
	if err != nil {
		return nil, fmt.Errorf("load prompt %s: %w", path, err)
	}
	pcm, err := toTelephonyPCM(audio)
	if err != nil {
		return nil, fmt.Errorf("load prompt %s: %w", path, err)
	}
	return g711.EncodeUlaw(pcm), nil
}

// parseWAV walks the RIFF chunk list and extracts the format and data
// chunks. Unknown chunks are skipped.
func parseWAV(data []byte) (*wavAudio, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	var audio wavAudio
	var haveFmt, haveData bool

	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			size = len(data) - off
		}
		body := data[off : off+size]

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return nil, fmt.Errorf("unsupported audio format %d, want PCM", format)
			}
			audio.channels = binary.LittleEndian.Uint16(body[2:4])
			audio.sampleRate = binary.LittleEndian.Uint32(body[4:8])
			audio.bits = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
		case "data":
			audio.pcm = body
			haveData = true
		}

		// Chunks are word-aligned.
		off += size + (size & 1)
	}

	if !haveFmt {
		return nil, fmt.Errorf("fmt chunk not found")
	}
	if !haveData {
		return nil, fmt.Errorf("data chunk not found")
	}
	if audio.bits != 16 {
		return nil, fmt.Errorf("unsupported sample width %d bits, want 16", audio.bits)
	}
	return &audio, nil
}

// toTelephonyPCM converts decoded WAV audio to 8 kHz mono 16-bit PCM.
func toTelephonyPCM(audio *wavAudio) ([]byte, error) {
	mono, err := downmix(audio)
	if err != nil {
		return nil, err
	}
	if audio.sampleRate == PCMU.SampleRate {
		return mono, nil
	}
	return resample(mono, audio.sampleRate, PCMU.SampleRate), nil
}

func downmix(audio *wavAudio) ([]byte, error) {
	switch audio.channels {
	case 1:
		return audio.pcm, nil
	case 2:
		frames := len(audio.pcm) / 4
		mono := make([]byte, frames*2)
		for i := 0; i < frames; i++ {
			left := int16(binary.LittleEndian.Uint16(audio.pcm[i*4:]))
			right := int16(binary.LittleEndian.Uint16(audio.pcm[i*4+2:]))
			avg := (int32(left) + int32(right)) / 2
			binary.LittleEndian.PutUint16(mono[i*2:], uint16(avg))
		}
		return mono, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d", audio.channels)
	}
}

// resample performs linear-interpolation resampling of 16-bit mono PCM.
func resample(pcm []byte, from, to uint32) []byte {
	inSamples := len(pcm) / 2
	if inSamples < 2 {
		return nil
	}
	ratio := float64(from) / float64(to)
	outSamples := int(float64(inSamples) / ratio)
	out := make([]byte, 0, outSamples*2)

	for i := 0; i < outSamples; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx+1 >= inSamples {
			break
		}
		frac := pos - float64(idx)
		a := int16(binary.LittleEndian.Uint16(pcm[idx*2:]))
		b := int16(binary.LittleEndian.Uint16(pcm[idx*2+2:]))
		sample := int16(float64(a)*(1-frac) + float64(b)*frac)
		out = binary.LittleEndian.AppendUint16(out, uint16(sample))
	}
	return out
}

// writeWAV writes 8 kHz mono 16-bit PCM to a WAV file.
func writeWAV(path string, pcm []byte) error {
	const headerSize = 44
	buf := make([]byte, headerSize, headerSize+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], PCMU.SampleRate)
	binary.LittleEndian.PutUint32(buf[28:32], PCMU.SampleRate*2)
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))

	buf = append(buf, pcm...)
	return os.WriteFile(path, buf, 0o644)
}
