package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// MaxMessageSize bounds a message after decompression.
const MaxMessageSize = 1 << 20

// ErrMessageTooLarge is returned for frames that inflate past MaxMessageSize.
var ErrMessageTooLarge = errors.New("message too large")

// SerializeMessage encodes m as zstd compressed JSON.
func SerializeMessage(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %v", err)
	}

	compressed := bytes.NewBuffer(nil)
	// The window must fit in what DeserializeMessage accepts.
	compWriter, err := zstd.NewWriter(compressed,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithWindowSize(MaxMessageSize),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %v", err)
	}
	if _, err := compWriter.Write(b); err != nil {
		return nil, fmt.Errorf("failed to compress message: %v", err)
	}
	if err := compWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zstd writer: %v", err)
	}

	return compressed.Bytes(), nil
}

// DeserializeMessage decodes a frame written by SerializeMessage.
func DeserializeMessage(data []byte) (*Message, error) {
	compReader, err := zstd.NewReader(bytes.NewReader(data),
		zstd.WithDecoderMaxMemory(MaxMessageSize),
		zstd.WithDecoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %v", err)
	}
	defer compReader.Close()
	b, err := io.ReadAll(io.LimitReader(compReader, MaxMessageSize+1))
	if err != nil {
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) || errors.Is(err, zstd.ErrFrameSizeExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrMessageTooLarge, err)
		}
		return nil, fmt.Errorf("failed to read decompressed message: %v", err)
	}
	if len(b) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	return DeserializeMessageJSON(b)
}

// DeserializeMessageJSON decodes an uncompressed JSON message, as sent by
// browser clients over text frames.
func DeserializeMessageJSON(b []byte) (*Message, error) {
	message := &Message{}
	if err := json.Unmarshal(b, message); err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %v", err)
	}
	if message.Method == "" {
		return nil, fmt.Errorf("message has no method")
	}
	return message, nil
}
