package headcam

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// H264 NAL unit types carrying decoder parameter sets.
const (
	nalSPS = 7
	nalPPS = 8
)

const (
	// minDecodeBytes is the smallest buffer worth handing to ffmpeg.
	minDecodeBytes = 100

	// minJPEGBytes filters out truncated decoder output.
	minJPEGBytes = 1000

	// decodeTimeout bounds one ffmpeg invocation.
	decodeTimeout = 500 * time.Millisecond
)

// auAssembler reassembles H264 access units from depacketized RTP. The
// marker bit closes an access unit per RFC 6184.
type auAssembler struct {
	depkt codecs.H264Packet
	buf   bytes.Buffer
}

// push feeds one RTP packet and returns a complete Annex-B access unit
// when the packet carries the marker bit. Fragmented NAL units are held
// by the depacketizer until their final fragment arrives.
func (a *auAssembler) push(pkt *rtp.Packet) ([]byte, bool) {
	if nal, err := a.depkt.Unmarshal(pkt.Payload); err == nil && len(nal) > 0 {
		a.buf.Write(nal)
	}
	if !pkt.Marker || a.buf.Len() == 0 {
		return nil, false
	}
	au := append([]byte(nil), a.buf.Bytes()...)
	a.buf.Reset()
	return au, true
}

// scanParams extracts the SPS and PPS NAL units from an Annex-B access
// unit, returning them with start codes, or nil when it carries none.
func scanParams(au []byte) []byte {
	var params []byte
	forEachNAL(au, func(nal []byte) {
		if len(nal) == 0 {
			return
		}
		switch nal[0] & 0x1F {
		case nalSPS, nalPPS:
			params = append(params, 0, 0, 0, 1)
			params = append(params, nal...)
		}
	})
	return params
}

// hasParams reports whether an Annex-B buffer already opens with an SPS.
func hasParams(data []byte) bool {
	found := false
	forEachNAL(data, func(nal []byte) {
		if len(nal) > 0 && nal[0]&0x1F == nalSPS {
			found = true
		}
	})
	return found
}

// forEachNAL walks the NAL units of an Annex-B stream, calling fn with
// each unit's bytes (start code excluded).
func forEachNAL(data []byte, fn func(nal []byte)) {
	start := -1
	for i := 0; i+2 < len(data); {
		if data[i] != 0 || data[i+1] != 0 {
			i++
			continue
		}
		var sc int
		switch {
		case data[i+2] == 1:
			sc = 3
		case data[i+2] == 0 && i+3 < len(data) && data[i+3] == 1:
			sc = 4
		default:
			i++
			continue
		}
		if start >= 0 {
			fn(data[start:i])
		}
		i += sc
		start = i
	}
	if start >= 0 && start <= len(data) {
		fn(data[start:])
	}
}

// decodeJPEG runs a single-shot ffmpeg over pipes to turn buffered H264
// into one JPEG frame. ffmpeg exits non-zero when the buffer holds no
// decodable picture, which is routine between keyframes.
func decodeJPEG(h264 []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), decodeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "h264",
		"-i", "pipe:0",
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(h264)

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	if out.Len() < minJPEGBytes {
		return nil, fmt.Errorf("undersized frame (%d bytes)", out.Len())
	}
	return out.Bytes(), nil
}
