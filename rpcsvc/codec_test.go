package rpcsvc

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	assert.Equal(t, jsonCodecName, c.Name())

	req := &HaltRequest{RequesterID: uuid.New()}
	data, err := c.Marshal(req)
	require.NoError(t, err)

	var out HaltRequest
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, req.RequesterID, out.RequesterID)
}
