package lyricsync

// Sink is the display boundary. Render receives the previous, current and
// next lyric lines; rendering with three empty strings clears the display.
// A failing sink never blocks the logical line transition.
type Sink interface {
	Render(prev, cur, next string) error
}
