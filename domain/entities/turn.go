package entities

import "strings"

// Turn accumulates one model response: every text and audio fragment seen
// since the previous completed turn. A Turn is mutable while assembling and
// is flushed exactly once when the completion flag arrives.
type Turn struct {
	text      strings.Builder
	audio     []AudioFragment
	completed bool
}

// AppendText adds a partial text fragment to the turn.
func (t *Turn) AppendText(text string) {
	t.text.WriteString(text)
}

// AppendAudio adds an ordered audio fragment to the turn.
func (t *Turn) AppendAudio(f AudioFragment) {
	t.audio = append(t.audio, f)
}

// Text returns the concatenation of all text fragments seen so far.
func (t *Turn) Text() string {
	return t.text.String()
}

// AudioCount returns the number of accumulated audio fragments.
func (t *Turn) AudioCount() int {
	return len(t.audio)
}

// Completed reports whether this turn has been flushed.
func (t *Turn) Completed() bool {
	return t.completed
}

// Flush marks the turn complete and hands back the accumulated audio
// fragments, clearing them from the turn. The second and later calls return
// nil so a fragment can never be played twice.
func (t *Turn) Flush() []AudioFragment {
	if t.completed {
		return nil
	}
	t.completed = true
	audio := t.audio
	t.audio = nil
	return audio
}
