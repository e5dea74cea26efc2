package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds all TUI key bindings.
type keyMap struct {
	Cancel key.Binding
	Quit   key.Binding
	Up     key.Binding
	Down   key.Binding
}

var keys = keyMap{
	Cancel: key.NewBinding(
		key.WithKeys("c", "esc"),
		key.WithHelp("c", "cancel run"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "scroll down"),
	),
}

// keyBarText renders the key hints for the current run state.
func keyBarText(running bool) string {
	hint := func(b key.Binding) string {
		h := b.Help()
		return keyStyle.Render(h.Key) + keyDescStyle.Render(":"+h.Desc)
	}
	if running {
		return hint(keys.Cancel) + "  " + hint(keys.Up) + "  " + hint(keys.Down) + "  " + hint(keys.Quit)
	}
	return hint(keys.Up) + "  " + hint(keys.Down) + "  " + hint(keys.Quit)
}
