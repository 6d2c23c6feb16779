package audioerr

import (
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := CorruptStreamf("too many invalid frames: %d", 100)
	wrapped := errors.Wrap(err, "decode")
	assert.Equal(t, CorruptStream, Kind(wrapped))
	assert.True(t, Is(wrapped, CorruptStream))
	assert.False(t, Is(wrapped, FileAccess))
}

func TestUnclassified(t *testing.T) {
	assert.Equal(t, Unclassified, Kind(fmt.Errorf("plain")))
	assert.False(t, Is(nil, Unclassified))
}

func TestToReport(t *testing.T) {
	err := WrapFileAccess(errors.New("no such file"), "open %s", "a.mp3")
	r := ToReport(err)
	assert.Equal(t, "FileAccessError", r.Name)
	assert.Equal(t, "open a.mp3: no such file", r.Message)
	assert.True(t, strings.Contains(r.Stack, "audioerr_test.go"))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, WrapFileAccess(nil, "noop"))
}
