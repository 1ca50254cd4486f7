package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamAndGroupNames(t *testing.T) {
	assert.Equal(t, "reading:jobs:import", StreamFor(KindImport))
	assert.Equal(t, "reading-workers-resolve", GroupFor(KindResolve))
}

func TestPayloadRoundTrip(t *testing.T) {
	raw, err := EncodePayload(ResolvePayload{ImportID: "imp-1", ConnectionID: "conn-1"})
	require.NoError(t, err)

	var decoded ResolvePayload
	require.NoError(t, DecodePayload(raw, &decoded))
	assert.Equal(t, "imp-1", decoded.ImportID)
	assert.Equal(t, "conn-1", decoded.ConnectionID)
}
