package helpers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldErrors(t *testing.T) {
	t.Parallel()
	assert.NoError(t, FoldErrors(nil))
	assert.NoError(t, FoldErrors([]error{}))
	assert.NoError(t, FoldErrors([]error{nil, nil}))

	e1 := fmt.Errorf("close listener")
	e2 := fmt.Errorf("close session")
	folded := FoldErrors([]error{e1, nil, e2})
	assert.Error(t, folded)
	assert.Equal(t, "close listener\nclose session", folded.Error())
}
