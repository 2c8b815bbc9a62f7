package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/roman-kulish/quadcopter-visualizer/internal/chart"
	"github.com/roman-kulish/quadcopter-visualizer/internal/rawlog"
	"github.com/roman-kulish/quadcopter-visualizer/internal/serialport"
	"github.com/roman-kulish/quadcopter-visualizer/internal/window"
)

const (
	portRefreshInterval = time.Second

	gutterWidth    = 8
	minWidth       = 60
	minHeight      = 16
	stallThreshold = 50 // Samples a channel may lag behind its timestamps
)

type pane int

const (
	terminalPane pane = iota
	errorsPane
)

type (
	refreshMsg time.Time

	portsMsg struct {
		ports []serialport.PortInfo
		err   error
	}

	actionMsg struct {
		notice string
		err    error
	}
)

// portItem is an entry of the port menu
type portItem struct {
	name string
	desc string
}

func (i portItem) Title() string       { return i.name }
func (i portItem) Description() string { return i.desc }
func (i portItem) FilterValue() string { return i.name }

// model is the terminal UI. It drives the window refresh cadence and reads
// the raw feed incrementally.
type model struct {
	config *Config
	c      *components
	logger *slog.Logger
	colors [][]colorful.Color // Per instrument, in channel order

	width, height int
	ready         bool
	focus         pane
	menuOpen      bool

	ports    list.Model
	terminal viewport.Model
	errors   viewport.Model
	help     help.Model

	lastSeq   uint64
	termLines []string
	errLines  []string
	slices    []window.Slice

	notice    string
	noticeErr bool
}

func newModel(config *Config, c *components, logger *slog.Logger) *model {
	var colors [][]colorful.Color
	for _, inst := range c.registry.Instruments() {
		colors = append(colors, chart.Palette(len(inst.Channels)))
	}

	delegate := list.NewDefaultDelegate()
	ports := list.New([]list.Item{portItem{name: NoPort, desc: "disconnected"}}, delegate, 0, 0)
	ports.Title = "Serial port"
	ports.SetShowStatusBar(false)
	ports.SetFilteringEnabled(false)
	ports.SetShowHelp(false)

	return &model{
		config:   config,
		c:        c,
		logger:   logger.With(slog.String("component", "tui")),
		colors:   colors,
		ports:    ports,
		terminal: viewport.New(0, 0),
		errors:   viewport.New(0, 0),
		help:     help.New(),
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.refreshAfter(0), m.listPorts(0))
}

func (m *model) refreshAfter(d time.Duration) tea.Cmd {
	if d <= 0 {
		return func() tea.Msg { return refreshMsg(time.Now()) }
	}
	return tea.Tick(d, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m *model) listPorts(d time.Duration) tea.Cmd {
	fetch := func() tea.Msg {
		ports, err := m.c.listPorts()
		return portsMsg{ports: ports, err: err}
	}
	if d <= 0 {
		return fetch
	}
	return tea.Tick(d, func(time.Time) tea.Msg { return fetch() })
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		return m, nil

	case refreshMsg:
		m.refresh()
		return m, m.refreshAfter(m.config.Window.RefreshInterval)

	case portsMsg:
		cmd := m.setPorts(msg.ports, msg.err)
		return m, tea.Batch(cmd, m.listPorts(portRefreshInterval))

	case actionMsg:
		m.notice, m.noticeErr = msg.notice, msg.err != nil
		if msg.err != nil {
			m.notice = msg.err.Error()
			m.logger.Error(msg.err.Error())
		}
		return m, nil

	case tea.KeyMsg:
		if m.menuOpen {
			return m.updateMenu(msg)
		}
		return m.updateKey(msg)
	}

	return m, nil
}

func (m *model) updateMenu(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Close), key.Matches(msg, keys.PortMenu):
		m.menuOpen = false
		return m, nil

	case key.Matches(msg, keys.Select):
		m.menuOpen = false
		item, ok := m.ports.SelectedItem().(portItem)
		if !ok {
			return m, nil
		}
		return m, m.connect(item.name)
	}

	var cmd tea.Cmd
	m.ports, cmd = m.ports.Update(msg)
	return m, cmd
}

func (m *model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.PortMenu):
		m.menuOpen = true
		return m, nil

	case key.Matches(msg, keys.Focus):
		m.focus = (m.focus + 1) % 2
		return m, nil

	case key.Matches(msg, keys.Reset):
		m.c.station.ResetData()
		m.notice, m.noticeErr = "plots reset", false
		return m, nil

	case key.Matches(msg, keys.ClearLog):
		m.lastSeq = m.c.feed.LastSeq()
		m.c.feed.Clear()
		m.termLines, m.errLines = nil, nil
		m.terminal.SetContent("")
		m.errors.SetContent("")
		return m, nil

	case key.Matches(msg, keys.Export):
		return m, m.export()

	case key.Matches(msg, keys.Follow):
		m.focused().GotoBottom()
		return m, nil

	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()
		return m, nil

	case key.Matches(msg, keys.ScrollUp), key.Matches(msg, keys.ScrollDown):
		vp := m.focused()
		var cmd tea.Cmd
		*vp, cmd = vp.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *model) focused() *viewport.Model {
	if m.focus == errorsPane {
		return &m.errors
	}
	return &m.terminal
}

// connect switches the station to the named port, or disconnects it for
// the "None" entry. Opening a port may take a while, so it runs as a command.
func (m *model) connect(name string) tea.Cmd {
	st := m.c.station
	return func() tea.Msg {
		if name == NoPort {
			if err := st.Disconnect(); err != nil {
				return actionMsg{err: fmt.Errorf("disconnecting: %w", err)}
			}
			return actionMsg{notice: "disconnected"}
		}
		if err := st.Connect(name); err != nil {
			return actionMsg{err: fmt.Errorf("connecting to %s: %w", name, err)}
		}
		return actionMsg{notice: "connected to " + name}
	}
}

func (m *model) export() tea.Cmd {
	config := m.config.Export
	if config.Path == "" {
		config.Path = fmt.Sprintf("telemetry-%s.png", time.Now().Format("20060102-150405"))
	}
	windows := m.c.windows
	return func() tea.Msg {
		if err := exportPicture(config, windows); err != nil {
			return actionMsg{err: fmt.Errorf("exporting picture: %w", err)}
		}
		return actionMsg{notice: "exported " + config.Path}
	}
}

// refresh runs one refresh cycle: windows advance, visible slices are
// copied and the panes receive the new raw lines.
func (m *model) refresh() {
	if err := m.c.windows.Refresh(); err != nil {
		m.logger.Error(err.Error())
	}

	visible, err := m.c.windows.VisibleSlices()
	if err != nil {
		m.logger.Error(err.Error())
	} else {
		m.slices = visible
	}

	m.pullFeed()
}

func (m *model) pullFeed() {
	var newTerm, newErr bool
	for line := range m.c.feed.Since(m.lastSeq) {
		m.lastSeq = line.Seq
		stamp := subtleStyle.Render(line.Time.Format("15:04:05.000"))

		if line.Kind != rawlog.KindTransport {
			m.termLines = append(m.termLines, stamp+" "+line.Text)
			newTerm = true
		}
		if line.Kind.IsError() {
			text := line.Text
			if line.Err != nil {
				text = fmt.Sprintf("%s: %v", text, line.Err)
			}
			m.errLines = append(m.errLines, stamp+" "+errorStyle.Render(line.Kind.String())+" "+text)
			newErr = true
		}
	}

	limit := m.config.RawLog.Capacity
	if newTerm {
		m.termLines = keepLast(m.termLines, limit)
		setFollowing(&m.terminal, m.termLines)
	}
	if newErr {
		m.errLines = keepLast(m.errLines, limit)
		setFollowing(&m.errors, m.errLines)
	}
}

func keepLast(lines []string, n int) []string {
	if n <= 0 || len(lines) <= n {
		return lines
	}
	return slices.Clone(lines[len(lines)-n:])
}

// setFollowing replaces the content of vp, staying at the bottom when the
// user has not scrolled away from it.
func setFollowing(vp *viewport.Model, lines []string) {
	following := vp.AtBottom()
	vp.SetContent(strings.Join(lines, "\n"))
	if following {
		vp.GotoBottom()
	}
}

func (m *model) setPorts(ports []serialport.PortInfo, err error) tea.Cmd {
	if err != nil {
		m.logger.Warn(fmt.Sprintf("failed to list ports: %s", err.Error()))
	}

	active := m.c.station.State().Port
	items := []list.Item{portItem{name: NoPort, desc: "disconnected"}}
	for _, p := range ports {
		desc := "serial port"
		if p.IsUSB {
			desc = strings.TrimSpace(fmt.Sprintf("%s %s:%s", p.Product, p.VID, p.PID))
		}
		if p.Name == active {
			desc += " (active)"
		}
		items = append(items, portItem{name: p.Name, desc: desc})
	}

	var selected string
	if item, ok := m.ports.SelectedItem().(portItem); ok {
		selected = item.name
	}

	cmd := m.ports.SetItems(items)
	for i, item := range items {
		if item.(portItem).name == selected {
			m.ports.Select(i)
			break
		}
	}
	return cmd
}

// sizes of the layout regions
func (m *model) plotWidth() int {
	return m.width * 2 / 3
}

func (m *model) sideWidth() int {
	return m.width - m.plotWidth()
}

func (m *model) bodyHeight() int {
	return max(m.height-2-lipgloss.Height(m.help.View(keys)), 0)
}

func (m *model) layout() {
	m.help.Width = m.width

	sw := m.sideWidth() - 2 // borders
	paneHeight := m.bodyHeight() / 2

	m.terminal.Width, m.terminal.Height = max(sw, 0), max(paneHeight-3, 1)
	m.errors.Width, m.errors.Height = max(sw, 0), max(m.bodyHeight()-paneHeight-3, 1)
	m.ports.SetSize(max(sw, 0), max(m.bodyHeight()-2, 1))
}

func (m *model) View() string {
	if !m.ready {
		return "starting..."
	}
	if m.width < minWidth || m.height < minHeight {
		return fmt.Sprintf("terminal too small, need %dx%d", minWidth, minHeight)
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.viewPlots(), m.viewSide())
	return lipgloss.JoinVertical(lipgloss.Left, m.viewHeader(), body, m.viewFooter())
}

func (m *model) viewHeader() string {
	state := m.c.station.State()

	status := state.Summary()
	switch {
	case state.Connected:
		status = okStyle.Render(status)
	case state.LastError != nil:
		status = warnStyle.Render(status + ": " + state.LastError.Error())
	default:
		status = statusStyle.Render(status)
	}

	header := titleStyle.Render("Quadcopter telemetry") + "  " + status
	if stalled := m.stalledChannels(); len(stalled) > 0 {
		header += "  " + warnStyle.Render("stalled: "+strings.Join(stalled, ", "))
	}
	return lipgloss.NewStyle().MaxWidth(m.width).Render(header)
}

// stalledChannels lists the channels lagging far behind their timestamps.
func (m *model) stalledChannels() []string {
	var stalled []string
	for _, inst := range m.c.registry.Instruments() {
		n, channels, err := m.c.registry.Lengths(inst.Name)
		if err != nil {
			continue
		}
		for _, name := range inst.ChannelNames() {
			if n-channels[name] > stallThreshold {
				stalled = append(stalled, inst.Name+"."+name)
			}
		}
	}
	return stalled
}

func (m *model) viewFooter() string {
	notice := ""
	if m.notice != "" {
		notice = statusStyle.Render(m.notice)
		if m.noticeErr {
			notice = errorStyle.Render(m.notice)
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, notice, m.help.View(keys))
}

func (m *model) viewPlots() string {
	width, height := m.plotWidth(), m.bodyHeight()
	if len(m.slices) == 0 {
		return lipgloss.NewStyle().Width(width).Height(height).Render("no data")
	}

	panelHeight := height / len(m.slices)
	panels := make([]string, 0, len(m.slices))
	for i, s := range m.slices {
		panels = append(panels, m.viewPlot(s, m.colors[i], width, panelHeight))
	}
	return lipgloss.NewStyle().Width(width).Height(height).Render(lipgloss.JoinVertical(lipgloss.Left, panels...))
}

// viewPlot renders one instrument: a legend line, the traces with a value
// gutter and the time axis.
func (m *model) viewPlot(s window.Slice, colors []colorful.Color, width, height int) string {
	rows := height - 2
	cols := width - gutterWidth
	if rows < 2 || cols < 2 {
		return ""
	}

	img := image.NewRGBA(image.Rect(0, 0, cols, rows*2))
	chart.Plot(img, img.Bounds(), s, colors, chart.DarkStyle)

	traces := lipgloss.JoinHorizontal(lipgloss.Top, gutter(s, rows), renderBlocks(img))
	return lipgloss.JoinVertical(lipgloss.Left, legend(s, colors), traces, timeAxis(s.Bounds, width))
}

func legend(s window.Slice, colors []colorful.Color) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(s.Instrument.Name))
	sb.WriteString(subtleStyle.Render(" (" + s.Instrument.Units + ")"))

	for i, name := range s.Instrument.ChannelNames() {
		label := name
		if values := s.Channels[name]; len(values) > 0 {
			label = fmt.Sprintf("%s %s", name, humanize.Comma(values[len(values)-1]))
		}
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(colors[i%len(colors)].Hex()))
		sb.WriteString("  " + style.Render("■ "+label))
	}
	return sb.String()
}

// gutter labels the top, middle and bottom rows with the display range.
func gutter(s window.Slice, rows int) string {
	lines := make([]string, rows)
	lines[0] = humanize.Comma(s.Instrument.Max)
	lines[rows/2] = humanize.Comma(s.Instrument.Min + (s.Instrument.Max-s.Instrument.Min)/2)
	lines[rows-1] = humanize.Comma(s.Instrument.Min)
	return gutterStyle.Width(gutterWidth - 1).Render(strings.Join(lines, "\n")) + " "
}

func timeAxis(b window.Bounds, width int) string {
	lo, hi := chart.FormatMillis(b.Lo), chart.FormatMillis(b.Hi)
	pad := max(width-gutterWidth-len(lo)-len(hi), 1)
	return subtleStyle.Render(strings.Repeat(" ", gutterWidth) + lo + strings.Repeat(" ", pad) + hi)
}

func (m *model) viewSide() string {
	width := m.sideWidth() - 2
	if m.menuOpen {
		return paneFrame(true).Width(width).Render(m.ports.View())
	}

	title := "Terminal"
	if dropped := m.c.feed.Dropped(); dropped > 0 {
		title = fmt.Sprintf("Terminal (%s dropped)", humanize.Comma(int64(dropped)))
	}
	terminal := titleStyle.Render(title) + "\n" + m.terminal.View()
	errs := titleStyle.Render(fmt.Sprintf("Errors (%s)", humanize.Comma(int64(len(m.errLines))))) + "\n" + m.errors.View()

	return lipgloss.JoinVertical(lipgloss.Left,
		paneFrame(m.focus == terminalPane).Width(width).Render(terminal),
		paneFrame(m.focus == errorsPane).Width(width).Render(errs))
}

// runTUI runs the terminal UI until the user quits or the context is
// cancelled.
func runTUI(ctx context.Context, config *Config, c *components, logger *slog.Logger) error {
	p := tea.NewProgram(newModel(config, c, logger), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("running terminal UI: %w", err)
	}
	return nil
}
