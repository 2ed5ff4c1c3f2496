package vm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	data map[string][]byte
}

func (f *fakeLoader) Load(className string) ([]byte, error) {
	if d, ok := f.data[className]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("fake: %s not found", className)
}
func (f *fakeLoader) Close() error { return nil }

func TestChainLoaderTriesEachInOrder(t *testing.T) {
	first := &fakeLoader{data: map[string][]byte{"a/A": []byte("from-first")}}
	second := &fakeLoader{data: map[string][]byte{"a/A": []byte("from-second"), "b/B": []byte("from-second-b")}}
	chain := NewChainLoader(first, second)

	data, err := chain.Load("a/A")
	require.NoError(t, err)
	assert.Equal(t, "from-first", string(data))

	data, err = chain.Load("b/B")
	require.NoError(t, err)
	assert.Equal(t, "from-second-b", string(data))
}

func TestChainLoaderReturnsFirstErrorWhenNoneServe(t *testing.T) {
	chain := NewChainLoader(&fakeLoader{data: map[string][]byte{}}, &fakeLoader{data: map[string][]byte{}})
	_, err := chain.Load("missing/Class")
	assert.Error(t, err)
}
