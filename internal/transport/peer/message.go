package peer

import (
	"encoding/json"
	"fmt"
)

// MessageType tags a Message on the data channel
type MessageType string

// Receiver to sender
const (
	MsgReady       MessageType = "READY"
	MsgBatchResult MessageType = "BATCH_RESULT"
	MsgError       MessageType = "ERROR"
)

// Sender to receiver. MsgError travels both ways.
const (
	MsgBatchStart MessageType = "BATCH_START"
	MsgFileData   MessageType = "FILE_DATA"
	MsgFileEnd    MessageType = "FILE_END"
	MsgBatchEnd   MessageType = "BATCH_END"
)

// Message is one JSON frame on the data channel. Batch is the wire batch id
// (0 for channel level messages), File the index of the file in the batch.
type Message struct {
	Type    MessageType `json:"type"`
	Batch   int         `json:"batch"`
	File    int         `json:"file,omitempty"`
	Payload []byte      `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func EncodeMessage(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	return data, nil
}

func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed channel message: %w", err)
	}
	return msg, nil
}

// ControlMessage builds a payload-less message, carrying errMsg when set
func ControlMessage(t MessageType, batch int, errMsg string) Message {
	return Message{Type: t, Batch: batch, Error: errMsg}
}
