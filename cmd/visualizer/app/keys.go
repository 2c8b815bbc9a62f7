package app

import "github.com/charmbracelet/bubbles/key"

// keymap holds the key bindings of the terminal UI
type keymap struct {
	Quit       key.Binding
	Focus      key.Binding
	PortMenu   key.Binding
	Select     key.Binding
	Close      key.Binding
	Reset      key.Binding
	Export     key.Binding
	ClearLog   key.Binding
	Follow     key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
	Help       key.Binding
}

var keys = keymap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Focus: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "switch pane"),
	),
	PortMenu: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "serial port"),
	),
	Select: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "connect"),
	),
	Close: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "close menu"),
	),
	Reset: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "reset plots"),
	),
	Export: key.NewBinding(
		key.WithKeys("e"),
		key.WithHelp("e", "export picture"),
	),
	ClearLog: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear panes"),
	),
	Follow: key.NewBinding(
		key.WithKeys("f"),
		key.WithHelp("f", "follow"),
	),
	ScrollUp: key.NewBinding(
		key.WithKeys("up", "k", "pgup"),
		key.WithHelp("↑/pgup", "scroll up"),
	),
	ScrollDown: key.NewBinding(
		key.WithKeys("down", "j", "pgdown"),
		key.WithHelp("↓/pgdn", "scroll down"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
}

// ShortHelp implements help.KeyMap.
func (k keymap) ShortHelp() []key.Binding {
	return []key.Binding{k.PortMenu, k.Export, k.Reset, k.Focus, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keymap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.PortMenu, k.Select, k.Close},
		{k.Focus, k.ScrollUp, k.ScrollDown, k.Follow},
		{k.Reset, k.ClearLog, k.Export},
		{k.Help, k.Quit},
	}
}
