package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Optimize key.Binding
	Mode     key.Binding
	Target   key.Binding
	Auto     key.Binding
	Template key.Binding
	Copy     key.Binding
	Clear    key.Binding
	Restore  key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Optimize: key.NewBinding(
		key.WithKeys("ctrl+s"),
		key.WithHelp("ctrl+s", "optimize"),
	),
	Mode: key.NewBinding(
		key.WithKeys("ctrl+o"),
		key.WithHelp("ctrl+o", "mode"),
	),
	Target: key.NewBinding(
		key.WithKeys("ctrl+g"),
		key.WithHelp("ctrl+g", "target"),
	),
	Auto: key.NewBinding(
		key.WithKeys("ctrl+a"),
		key.WithHelp("ctrl+a", "auto"),
	),
	Template: key.NewBinding(
		key.WithKeys("ctrl+t"),
		key.WithHelp("ctrl+t", "template"),
	),
	Copy: key.NewBinding(
		key.WithKeys("ctrl+y"),
		key.WithHelp("ctrl+y", "copy"),
	),
	Clear: key.NewBinding(
		key.WithKeys("ctrl+l"),
		key.WithHelp("ctrl+l", "clear"),
	),
	Restore: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("ctrl+r", "restore last"),
	),
	Quit: key.NewBinding(
		key.WithKeys("esc", "ctrl+c"),
		key.WithHelp("esc", "quit"),
	),
}

func (k keyMap) all() []key.Binding {
	return []key.Binding{k.Optimize, k.Mode, k.Target, k.Auto, k.Template, k.Copy, k.Clear, k.Restore, k.Quit}
}
