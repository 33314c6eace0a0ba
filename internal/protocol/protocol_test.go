package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/rand"
	"testing"
	"testing/iotest"

	"mirrorcast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStatus() Status {
	return Status{FPS: 30, Quality: 50, LatencyMS: 12, AudioEnabled: true, AudioLatencyMS: 12}
}

func randomImage(rng *rand.Rand, n int) []byte {
	img := make([]byte, n)
	rng.Read(img)
	return img
}

func TestVideoFrameRoundTrip(t *testing.T) {
	img := randomImage(rand.New(rand.NewSource(1)), 4096)
	buf, err := EncodeVideoFrame(testStatus(), img)
	require.NoError(t, err)

	r := NewStreamReader(bytes.NewReader(buf))
	ev, err := r.Next()
	require.NoError(t, err)

	assert.Equal(t, EventFrame, ev.Kind)
	assert.Equal(t, testStatus(), ev.Status)
	assert.Equal(t, img, ev.Image)
}

func TestVideoFramePadsSmallImages(t *testing.T) {
	img := []byte{0xDE, 0xAD}
	buf, err := EncodeVideoFrame(testStatus(), img)
	require.NoError(t, err)

	// Length prefix must reflect the padded size.
	assert.Equal(t, uint32(MinImageBytes), binary.BigEndian.Uint32(buf[:4]))

	r := NewStreamReader(bytes.NewReader(buf))
	ev, err := r.Next()
	require.NoError(t, err)
	require.Len(t, ev.Image, MinImageBytes)
	assert.Equal(t, img, ev.Image[:2])
}

func TestAudioPacketRoundTrip(t *testing.T) {
	info := AudioInfo{
		Type:       "audio",
		SampleRate: 44100,
		Channels:   2,
		Samples:    512,
		Timestamp:  12.5,
		Quality:    0.8,
		Format:     "int16",
	}
	samples := randomImage(rand.New(rand.NewSource(2)), 2048)

	buf, err := EncodeAudioPacket(info, samples)
	require.NoError(t, err)
	assert.Equal(t, TagAudio, buf[0])

	r := NewStreamReader(bytes.NewReader(buf))
	ev, err := r.Next()
	require.NoError(t, err)

	assert.Equal(t, EventAudio, ev.Kind)
	assert.Equal(t, info, ev.AudioInfo)
	assert.Equal(t, samples, ev.AudioSamples)
}

func TestWindowsDisplaysRoundTrip(t *testing.T) {
	resp := WindowsDisplays{
		Windows:  []WindowEntry{{ID: 7, Title: "Editor", OwnerName: "editor"}},
		Displays: []DisplayEntry{{ID: 1, Name: "Main", Width: 2560, Height: 1440}},
	}
	buf, err := EncodeWindowsDisplays(resp)
	require.NoError(t, err)
	assert.Equal(t, TagWindowsDisplays, buf[0])

	r := NewStreamReader(bytes.NewReader(buf))
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventWindowsDisplays, ev.Kind)
	assert.Equal(t, resp, ev.WindowsDisplays)
}

func TestWindowsDisplaysEmptyArraysPresent(t *testing.T) {
	buf, err := EncodeWindowsDisplays(WindowsDisplays{})
	require.NoError(t, err)

	body := buf[5:]
	assert.Contains(t, string(body), `"windows":[]`)
	assert.Contains(t, string(body), `"displays":[]`)
}

// Tag disambiguation: for any mix of frames and tagged packets, byte 0
// of a frame's length prefix never parses as a tag, given the minimum
// image length.
func TestTagDisambiguationRandomStream(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	var stream bytes.Buffer
	var want []EventKind
	for i := 0; i < 200; i++ {
		switch rng.Intn(3) {
		case 0:
			img := randomImage(rng, MinImageBytes+rng.Intn(64*1024))
			buf, err := EncodeVideoFrame(testStatus(), img)
			require.NoError(t, err)
			stream.Write(buf)
			want = append(want, EventFrame)
		case 1:
			samples := randomImage(rng, 2*rng.Intn(2048))
			buf, err := EncodeAudioPacket(AudioInfo{Type: "audio", Format: "int16"}, samples)
			require.NoError(t, err)
			stream.Write(buf)
			want = append(want, EventAudio)
		default:
			buf, err := EncodeWindowsDisplays(WindowsDisplays{})
			require.NoError(t, err)
			stream.Write(buf)
			want = append(want, EventWindowsDisplays)
		}
	}

	r := NewStreamReader(&stream)
	for i, kind := range want {
		ev, err := r.Next()
		require.NoError(t, err, "event %d", i)
		assert.Equal(t, kind, ev.Kind, "event %d", i)
	}
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

// Parser resilience: byte-level fragmentation must not change the
// parsed sequence.
func TestStreamReaderFragmentation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	var stream bytes.Buffer
	images := make([][]byte, 5)
	for i := range images {
		images[i] = randomImage(rng, MinImageBytes+rng.Intn(4096))
		buf, err := EncodeVideoFrame(testStatus(), images[i])
		require.NoError(t, err)
		stream.Write(buf)

		audio, err := EncodeAudioPacket(AudioInfo{Type: "audio", Format: "int16"}, randomImage(rng, 256))
		require.NoError(t, err)
		stream.Write(audio)
	}

	// One byte per read is the worst possible fragmentation.
	r := NewStreamReader(iotest.OneByteReader(&stream))
	for i := range images {
		ev, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, EventFrame, ev.Kind)
		assert.Equal(t, images[i], ev.Image)

		ev, err = r.Next()
		require.NoError(t, err)
		assert.Equal(t, EventAudio, ev.Kind)
	}
}

func TestStreamReaderSkipsSingleMalformedPacket(t *testing.T) {
	// A frame whose status bytes are not JSON, followed by a good frame.
	img := randomImage(rand.New(rand.NewSource(3)), MinImageBytes)

	var stream bytes.Buffer
	stream.Write(binary.BigEndian.AppendUint32(nil, uint32(len(img))))
	stream.WriteByte(4)
	stream.WriteString("????")
	stream.Write(img)

	good, err := EncodeVideoFrame(testStatus(), img)
	require.NoError(t, err)
	stream.Write(good)

	var malformed []error
	r := NewStreamReader(&stream)
	r.OnMalformed(func(err error) { malformed = append(malformed, err) })

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, EventFrame, ev.Kind)
	assert.Equal(t, img, ev.Image)
	assert.Len(t, malformed, 1)
}

func TestStreamReaderTwoConsecutiveMalformedIsFatal(t *testing.T) {
	img := randomImage(rand.New(rand.NewSource(4)), MinImageBytes)

	var stream bytes.Buffer
	for i := 0; i < 2; i++ {
		stream.Write(binary.BigEndian.AppendUint32(nil, uint32(len(img))))
		stream.WriteByte(4)
		stream.WriteString("????")
		stream.Write(img)
	}

	r := NewStreamReader(&stream)
	_, err := r.Next()
	assert.ErrorIs(t, err, domain.ErrProtocolViolation)
}

func TestStreamReaderGoodPacketResetsStrikes(t *testing.T) {
	img := randomImage(rand.New(rand.NewSource(5)), MinImageBytes)
	good, err := EncodeVideoFrame(testStatus(), img)
	require.NoError(t, err)

	bad := func(stream *bytes.Buffer) {
		stream.Write(binary.BigEndian.AppendUint32(nil, uint32(len(img))))
		stream.WriteByte(4)
		stream.WriteString("????")
		stream.Write(img)
	}

	var stream bytes.Buffer
	bad(&stream)
	stream.Write(good)
	bad(&stream)
	stream.Write(good)

	r := NewStreamReader(&stream)
	for i := 0; i < 2; i++ {
		ev, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, EventFrame, ev.Kind)
	}
}

func TestStreamReaderStatusUnknownKeysIgnored(t *testing.T) {
	img := make([]byte, MinImageBytes)
	statusJSON := `{"fps":45,"quality":30,"latency":5,"audioEnabled":false,"audioLatency":5,"futureKey":"x"}`

	var stream bytes.Buffer
	stream.Write(binary.BigEndian.AppendUint32(nil, uint32(len(img))))
	stream.WriteByte(byte(len(statusJSON)))
	stream.WriteString(statusJSON)
	stream.Write(img)

	r := NewStreamReader(&stream)
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 45, ev.Status.FPS)
	assert.Equal(t, 30, ev.Status.Quality)
}

func TestControlReaderAckSettingsRequest(t *testing.T) {
	mode := "Performance"
	fps := 40
	settings, err := EncodeSettings(SettingsUpdate{StreamingMode: &mode, PreferredFPS: &fps})
	require.NoError(t, err)
	request, err := EncodeRequest(Request{Action: ActionGetWindowsDisplays})
	require.NoError(t, err)

	var stream bytes.Buffer
	stream.Write(EncodeAck())
	stream.Write(settings)
	stream.Write(request)

	r := NewControlReader(&stream)

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, ControlAck, ev.Kind)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, ControlSettings, ev.Kind)
	require.NotNil(t, ev.Settings.StreamingMode)
	assert.Equal(t, "Performance", *ev.Settings.StreamingMode)
	require.NotNil(t, ev.Settings.PreferredFPS)
	assert.Equal(t, 40, *ev.Settings.PreferredFPS)
	assert.Nil(t, ev.Settings.AudioEnabled)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, ControlRequest, ev.Kind)
	assert.Equal(t, ActionGetWindowsDisplays, ev.Request.Action)
}

func TestControlReaderUnknownTagIsMalformed(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteByte(0x42) // not a C→S tag
	stream.Write(EncodeAck())

	var malformed int
	r := NewControlReader(&stream)
	r.OnMalformed(func(error) { malformed++ })

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, ControlAck, ev.Kind)
	assert.Equal(t, 1, malformed)
}

func TestControlReaderInboundResponseTagRejected(t *testing.T) {
	// 0xFD is strictly server→client; two in a row closes the stream.
	stream := bytes.NewReader([]byte{TagWindowsDisplays, TagWindowsDisplays})
	r := NewControlReader(stream)
	_, err := r.Next()
	assert.ErrorIs(t, err, domain.ErrProtocolViolation)
}

func TestControlReaderBodyOverBudget(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteByte(TagSettings)
	stream.Write(binary.BigEndian.AppendUint32(nil, MaxPacketBytes+1))
	stream.Write(make([]byte, MaxPacketBytes+1))
	stream.Write(EncodeAck())

	var malformed int
	r := NewControlReader(&stream)
	r.OnMalformed(func(error) { malformed++ })

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, ControlAck, ev.Kind)
	assert.Equal(t, 1, malformed)
}

func TestStreamReaderFrameOverBudgetTwiceIsFatal(t *testing.T) {
	oversize := func(stream *bytes.Buffer) {
		stream.Write(binary.BigEndian.AppendUint32(nil, MaxPacketBytes+1))
		stream.WriteByte(0)
		stream.Write(make([]byte, MaxPacketBytes+1))
	}

	var stream bytes.Buffer
	oversize(&stream)
	oversize(&stream)

	r := NewStreamReader(&stream)
	_, err := r.Next()
	assert.ErrorIs(t, err, domain.ErrProtocolViolation)
}
