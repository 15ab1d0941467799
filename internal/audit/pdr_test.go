package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fentz26/petfeeder/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashInputsStable(t *testing.T) {
	a := HashInputs(map[string]any{"device": "dev-1", "grams": 50})
	b := HashInputs(map[string]any{"grams": 50, "device": "dev-1"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, HashInputs(map[string]any{"device": "dev-1", "grams": 51}))
	assert.Equal(t, "hash_error", HashInputs(make(chan int)))
}

func TestRecordWritesToStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer s.Close()

	w := NewPDRWriter(s)
	require.NoError(t, w.Record(ctx, ActionCancel, map[string]string{"id": "cmd-1"}, OutcomeSuccess, "cmd-1", ""))

	entries, err := s.ListPDR(ctx, "cmd-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionCancel, entries[0].Action)
	assert.Equal(t, HashInputs(map[string]string{"id": "cmd-1"}), entries[0].InputsHash)
}
