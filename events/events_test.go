package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalRoundTrip(t *testing.T) {
	in := &NoteLog{Note: "hello"}
	for i := range in.LeafHash {
		in.LeafHash[i] = byte(i)
	}

	out, err := Unmarshal(in.Marshal())
	require.NoError(t, err)
	require.Equal(t, in, out)

	empty := &NoteLog{}
	out, err = Unmarshal(empty.Marshal())
	require.NoError(t, err)
	require.Equal(t, empty, out)
}

func TestUnmarshalRejects(t *testing.T) {
	_, err := Unmarshal(nil)
	require.Error(t, err)

	raw := (&NoteLog{Note: "hello"}).Marshal()
	_, err = Unmarshal(raw[:len(raw)-1])
	require.Error(t, err)
}

func TestChannelEmitterOrder(t *testing.T) {
	e := NewChannelEmitter()
	ch, cancel := e.Subscribe()
	defer cancel()

	notes := []string{"a", "b", "c"}
	for _, note := range notes {
		e.Emit(&NoteLog{Note: note})
	}
	for _, note := range notes {
		got := <-ch
		require.Equal(t, note, got.Note)
	}
}

func TestChannelEmitterCancel(t *testing.T) {
	e := NewChannelEmitter()
	ch, cancel := e.Subscribe()
	cancel()
	cancel() // cancel is idempotent

	_, ok := <-ch
	require.False(t, ok)

	// Emitting with no subscribers is a no-op.
	e.Emit(&NoteLog{Note: "dropped"})
}

func TestChannelEmitterSlowSubscriber(t *testing.T) {
	e := NewChannelEmitter()
	ch, cancel := e.Subscribe()
	defer cancel()

	// Overflow the subscriber buffer; Emit must not block.
	for i := 0; i < 1000; i++ {
		e.Emit(&NoteLog{Note: "n"})
	}
	require.Equal(t, 64, len(ch))
}
