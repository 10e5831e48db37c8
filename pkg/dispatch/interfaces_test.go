package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
)

func TestParseTargetKind(t *testing.T) {
	kind, err := dispatch.ParseTargetKind("user")
	require.NoError(t, err)
	assert.Equal(t, dispatch.TargetUser, kind)
	assert.Equal(t, "user", kind.String())

	kind, err = dispatch.ParseTargetKind("device")
	require.NoError(t, err)
	assert.Equal(t, dispatch.TargetDevice, kind)

	_, err = dispatch.ParseTargetKind("group")
	assert.ErrorIs(t, err, dispatch.ErrUnknownTargetKind)
	assert.False(t, dispatch.TargetKind(9).Valid())
}

func TestParsePlatform(t *testing.T) {
	for _, s := range []string{"fcm", "apns", "web"} {
		p, err := dispatch.ParsePlatform(s)
		require.NoError(t, err)
		assert.Equal(t, dispatch.Platform(s), p)
	}
	_, err := dispatch.ParsePlatform("sms")
	assert.Error(t, err)
}
