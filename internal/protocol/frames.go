// ABOUTME: Binary audio frame encoding and decoding
// ABOUTME: Frames are opaque PCM payloads behind a 1-byte type tag
package protocol

// Frames carry no sequence number or timestamp. Each participant holds
// exactly one WebSocket (TCP) connection, so delivery is in-order per
// sender-to-receiver path; that transport guarantee is the only
// ordering this protocol relies on.

// EncodeAudioData builds a host-to-server frame carrying the target
// room code and raw PCM bytes.
func EncodeAudioData(roomCode string, pcm []byte) ([]byte, error) {
	if len(roomCode) == 0 || len(roomCode) > MaxRoomCodeLen {
		return nil, &ProtocolError{Reason: "invalid room code length"}
	}
	frame := make([]byte, 2+len(roomCode)+len(pcm))
	frame[0] = FrameAudioData
	frame[1] = byte(len(roomCode))
	copy(frame[2:], roomCode)
	copy(frame[2+len(roomCode):], pcm)
	return frame, nil
}

// DecodeAudioData splits a host-to-server frame into room code and PCM.
func DecodeAudioData(frame []byte) (string, []byte, error) {
	if len(frame) < 2 || frame[0] != FrameAudioData {
		return "", nil, &ProtocolError{Reason: "malformed audio-data frame"}
	}
	codeLen := int(frame[1])
	if codeLen == 0 || len(frame) < 2+codeLen {
		return "", nil, &ProtocolError{Reason: "truncated audio-data frame"}
	}
	return string(frame[2 : 2+codeLen]), frame[2+codeLen:], nil
}

// EncodeAudioStream builds a server-to-listener frame around PCM bytes.
func EncodeAudioStream(pcm []byte) []byte {
	frame := make([]byte, 1+len(pcm))
	frame[0] = FrameAudioStream
	copy(frame[1:], pcm)
	return frame
}

// DecodeAudioStream strips the tag from a server-to-listener frame.
func DecodeAudioStream(frame []byte) ([]byte, error) {
	if len(frame) < 1 || frame[0] != FrameAudioStream {
		return nil, &ProtocolError{Reason: "malformed audio-stream frame"}
	}
	return frame[1:], nil
}
