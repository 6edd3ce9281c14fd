package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePlatform(t *testing.T) {
	assert.Equal(t, PlatformInstagram, ParsePlatform("instagram"))
	assert.Equal(t, PlatformTikTok, ParsePlatform(" TikTok "))
	assert.Equal(t, PlatformFacebook, ParsePlatform("FACEBOOK"))
	assert.Equal(t, Platform("YOUTUBE"), ParsePlatform("youtube"))
}

func TestPlatformKnown(t *testing.T) {
	assert.True(t, PlatformInstagram.Known())
	assert.True(t, PlatformTikTok.Known())
	assert.True(t, PlatformFacebook.Known())
	assert.False(t, Platform("YOUTUBE").Known())
	assert.False(t, Platform("").Known())
}
