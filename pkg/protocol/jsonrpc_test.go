package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageClassification(t *testing.T) {
	request := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	response := []byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`)
	errResponse := []byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)
	notification := []byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{}}`)

	assert.True(t, IsRequest(request))
	assert.False(t, IsRequest(response))
	assert.False(t, IsRequest(notification))

	assert.True(t, IsResponse(response))
	assert.True(t, IsResponse(errResponse))
	assert.False(t, IsResponse(request))

	assert.True(t, IsNotification(notification))
	assert.False(t, IsNotification(request))
	assert.False(t, IsNotification([]byte(`not json`)))
}

func TestNewResponseDefaultsEmptyResult(t *testing.T) {
	resp, err := NewResponse(int64(3), nil)
	require.NoError(t, err)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":3,"result":{}}`, string(data))
}

func TestErrorImplementsError(t *testing.T) {
	e := &Error{Code: MethodNotFound, Message: "method not found: tools/list"}
	assert.Contains(t, e.Error(), "-32601")
	assert.Contains(t, e.Error(), "tools/list")
}

func TestProgressParamsWire(t *testing.T) {
	data, err := json.Marshal(ProgressParams{ProgressToken: int64(5), Progress: 0.4, Total: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"progressToken":5,"progress":0.4,"total":1}`, string(data))

	var decoded ProgressParams
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 5, decoded.ProgressToken)
}
