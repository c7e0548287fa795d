package handlers

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTermDataFramesSurviveRuneSplit(t *testing.T) {
	// A PTY read can end mid-rune; each half must cross the wire intact so
	// the client reassembles the original bytes.
	raw := []byte("héllo")
	chunks := [][]byte{raw[:2], raw[2:]}

	var rebuilt []byte
	for _, chunk := range chunks {
		wire, err := json.Marshal(termFrame{Type: "data", Data: termData(chunk)})
		require.NoError(t, err)

		var frame termFrame
		require.NoError(t, json.Unmarshal(wire, &frame))
		decoded, err := base64.StdEncoding.DecodeString(frame.Data)
		require.NoError(t, err)
		rebuilt = append(rebuilt, decoded...)
	}

	assert.Equal(t, raw, rebuilt)
}
