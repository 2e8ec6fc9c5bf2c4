package main

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the watch view shortcuts
type KeyMap struct {
	ClearCache  key.Binding
	LockCache   key.Binding
	ToggleCache key.Binding
	Maintain    key.Binding
	Copy        key.Binding
	Help        key.Binding
	Quit        key.Binding
}

// DefaultKeyMap returns the default keybindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		ClearCache: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "clear cache"),
		),
		LockCache: key.NewBinding(
			key.WithKeys("l"),
			key.WithHelp("l", "lock/unlock cache"),
		),
		ToggleCache: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "enable/disable cache"),
		),
		Maintain: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "run maintenance"),
		),
		Copy: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "copy snapshot"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns the bindings shown in the status bar
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.ClearCache, k.LockCache, k.Help, k.Quit}
}

// FullHelp returns all key bindings for the full help view
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.ClearCache, k.LockCache, k.ToggleCache, k.Maintain},
		{k.Copy, k.Help, k.Quit},
	}
}
