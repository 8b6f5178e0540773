package ids

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7{}.NewID()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestSequence_Deterministic(t *testing.T) {
	s := NewSequence("sess")
	assert.Equal(t, "sess-1", s.NewID())
	assert.Equal(t, "sess-2", s.NewID())
}

func TestSequence_Concurrent(t *testing.T) {
	s := NewSequence("a")
	seen := sync.Map{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, dup := seen.LoadOrStore(s.NewID(), true)
			assert.False(t, dup)
		}()
	}
	wg.Wait()
}
