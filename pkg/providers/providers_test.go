package providers_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"detector-capture/pkg/providers"
)

func TestStaticPathProvider(t *testing.T) {
	p := providers.NewStaticPathProvider("/data/visit1", 2)

	a := p.PathInfo("det")
	b := p.PathInfo("det")
	assert.Equal(t, "/data/visit1", a.DirectoryPath)
	assert.Equal(t, 2, a.CreateDirDepth)
	// fresh filename per session
	assert.NotEqual(t, a.Filename, b.Filename)
}

func TestStaticDescriber(t *testing.T) {
	d := &providers.StaticDescriber{FrameShape: []int{240, 320}, Datatype: "|u1"}

	shape, err := d.Shape(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{240, 320}, shape)

	dtype, err := d.NpDatatype(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "|u1", dtype)
}
