package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// EncodeVideoFrame frames a status envelope and a compressed image into
// one untagged packet: u32 image_len, u8 status_len, status JSON, image
// bytes. Images shorter than MinImageBytes are zero-padded.
func EncodeVideoFrame(status Status, image []byte) ([]byte, error) {
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}
	if len(statusJSON) > MaxStatusBytes {
		return nil, fmt.Errorf("status envelope too large: %d bytes", len(statusJSON))
	}

	imageLen := len(image)
	if imageLen < MinImageBytes {
		imageLen = MinImageBytes
	}

	buf := make([]byte, 0, 4+1+len(statusJSON)+imageLen)
	buf = binary.BigEndian.AppendUint32(buf, uint32(imageLen))
	buf = append(buf, byte(len(statusJSON)))
	buf = append(buf, statusJSON...)
	buf = append(buf, image...)
	for len(buf) < 4+1+len(statusJSON)+imageLen {
		buf = append(buf, 0)
	}
	return buf, nil
}

// EncodeAudioPacket frames an audio info envelope and int16 sample
// bytes: tag 0xFA, u16 info_len, u32 audio_len, info JSON, samples.
func EncodeAudioPacket(info AudioInfo, samples []byte) ([]byte, error) {
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal audio info: %w", err)
	}

	buf := make([]byte, 0, 1+2+4+len(infoJSON)+len(samples))
	buf = append(buf, TagAudio)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(infoJSON)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(samples)))
	buf = append(buf, infoJSON...)
	buf = append(buf, samples...)
	return buf, nil
}

// EncodeWindowsDisplays frames a windows/displays response: tag 0xFD,
// u32 resp_len, JSON. Nil slices are normalized so the body always
// carries both arrays.
func EncodeWindowsDisplays(resp WindowsDisplays) ([]byte, error) {
	if resp.Windows == nil {
		resp.Windows = []WindowEntry{}
	}
	if resp.Displays == nil {
		resp.Displays = []DisplayEntry{}
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal windows/displays: %w", err)
	}
	return appendTagged(TagWindowsDisplays, body), nil
}

// EncodeRequest frames a control request: tag 0xFE, u32 body_len, JSON.
func EncodeRequest(req Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return appendTagged(TagRequest, body), nil
}

// EncodeSettings frames a settings update: tag 0xFF, u32 body_len, JSON.
func EncodeSettings(s SettingsUpdate) ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return appendTagged(TagSettings, body), nil
}

// EncodeAck returns the single-byte ack packet.
func EncodeAck() []byte {
	return []byte{TagAck}
}

func appendTagged(tag byte, body []byte) []byte {
	buf := make([]byte, 0, 1+4+len(body))
	buf = append(buf, tag)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
	buf = append(buf, body...)
	return buf
}
