package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"omnimind/audio"
	"omnimind/session"
	"omnimind/transport"
)

type eventMsg struct{ ev session.Event }
type frameMsg time.Time

type tuiModel struct {
	state         session.State
	frame         int
	elapsed       time.Duration
	level         float64
	transcript    []session.TranscriptEntry
	status        string
	statusErr     bool
	width, height int
	modeLine      string
	deviceLine    string
	toggle        func()
}

func newTUIModel(transportName string, cfg session.Config, toggle func()) tuiModel {
	return tuiModel{
		modeLine:   fmt.Sprintf("[%s | %s | %s]", strings.ToUpper(string(cfg.RecordFormat)), transportName, cfg.Transport.Model),
		deviceLine: deviceLineText(cfg.Device),
		toggle:     toggle,
	}
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}

// Palettes indexed by ring, 0 is background.
var (
	orbColorsIdle    = []string{"", "231", "224", "217", "210", "160", "124", "88", "52", "236", "236", "255"}
	orbColorsConnect = []string{"", "230", "229", "228", "227", "221", "178", "136", "94", "236", "236", "255"}
	orbColorsLive    = []string{"", "226", "220", "214", "208", "196", "160", "124", "88", "236", "236", "255"}

	orbStyles [3][12]lipgloss.Style
	orbBg     [3][12][12]lipgloss.Style
)

func init() {
	for p, colors := range [][]string{orbColorsIdle, orbColorsConnect, orbColorsLive} {
		for i, fg := range colors {
			if fg == "" {
				continue
			}
			orbStyles[p][i] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
			for j, bg := range colors {
				if bg != "" {
					orbBg[p][i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
				}
			}
		}
	}
}

func frameTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return frameTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case " ", "enter":
			if m.toggle != nil {
				m.toggle()
			}
		}

	case frameMsg:
		m.frame++
		return m, frameTick()

	case eventMsg:
		m = m.apply(msg.ev)
	}
	return m, nil
}

func (m tuiModel) apply(ev session.Event) tuiModel {
	switch ev := ev.(type) {
	case session.StateChanged:
		m.state = ev.To
		if ev.To == session.Connecting {
			m.transcript = nil
			m.elapsed = 0
			m.status = ""
			m.statusErr = false
		}
		if ev.To != session.Live {
			m.level = 0
		}
	case session.Tick:
		m.elapsed = ev.Elapsed
	case session.Level:
		if m.state == session.Live {
			m.level = m.level*0.6 + ev.RMS*0.4
		}
	case session.TranscriptAppended:
		m.transcript = append(m.transcript, ev.Entry)
	case session.Status:
		m.status = ev.Msg
		m.statusErr = ev.Err != nil
	}
	return m
}

func (m tuiModel) statusLine() string {
	switch m.state {
	case session.Live:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).
			Render("● " + session.FormatElapsed(m.elapsed) + " REC")
	case session.Connecting:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Render("◌ connecting...")
	case session.Stopping:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("◌ stopping...")
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("○ STANDBY")
}

// levelBar renders the microphone level as a fixed-width meter.
func levelBar(level float64, width int) string {
	n := int(math.Round(math.Min(level*10, 1) * float64(width)))
	return strings.Repeat("▮", n) + strings.Repeat("▯", width-n)
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	const orbWidth = 45
	eye := renderOrb(m.frame, m.level, m.state)

	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	info := []string{m.statusLine()}
	if m.state == session.Live {
		info = append(info, dim.Render(levelBar(m.level, 20)))
	}
	if m.modeLine != "" {
		info = append(info, lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render(m.modeLine))
	}
	if m.deviceLine != "" {
		info = append(info, dim.Render(m.deviceLine))
	}
	if m.status != "" {
		color := lipgloss.Color("42")
		if m.statusErr {
			color = lipgloss.Color("208")
		}
		for _, line := range wrapText(m.status, orbWidth-2) {
			info = append(info, lipgloss.NewStyle().Foreground(color).Render(line))
		}
	}
	info = append(info, "")
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldStyle := helpStyle.Bold(true)
	info = append(info, boldStyle.Render("Space")+helpStyle.Render(" or ")+boldStyle.Render("Ctrl+Shift+Space")+helpStyle.Render(" to talk"))
	info = append(info, helpStyle.Render("omnimind "+version))

	eyeLines := strings.Split(strings.TrimSuffix(eye, "\n"), "\n")
	eyeLines = append(eyeLines, info...)
	eyePadded := make([]string, m.height)
	for i := range eyePadded {
		if i < len(eyeLines) {
			eyePadded[i] = eyeLines[i]
		} else {
			eyePadded[i] = strings.Repeat(" ", orbWidth-1)
		}
	}
	eyePanel := lipgloss.NewStyle().
		Width(orbWidth - 1).
		Height(m.height).
		Render(strings.Join(eyePadded, "\n"))

	logWidth := max(m.width-orbWidth-1, 20)
	logPanel := lipgloss.NewStyle().
		Width(logWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(m.renderTranscript(max(logWidth-2, 10), m.height))

	return lipgloss.JoinHorizontal(lipgloss.Top, eyePanel, logPanel)
}

// renderTranscript shows the newest lines that fit in height rows.
func (m tuiModel) renderTranscript(width, height int) string {
	if len(m.transcript) == 0 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("No conversation yet")
	}
	you := lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	ai := lipgloss.NewStyle().Foreground(lipgloss.Color("213"))

	var lines []string
	for _, e := range m.transcript {
		style := ai
		if e.Speaker == transport.User {
			style = you
		}
		for _, l := range wrapText(e.String(), width) {
			lines = append(lines, style.Render(l))
		}
	}
	if len(lines) > height {
		lines = lines[len(lines)-height:]
	}
	return strings.Join(lines, "\n")
}

func renderOrb(frame int, level float64, state session.State) string {
	const charsW = 44
	const charsH = 15
	const pixW = charsW
	const pixH = charsH * 2

	centerX := float64(pixW) / 2
	centerY := float64(pixH) / 2

	palette := 0
	var breathe float64
	switch state {
	case session.Live:
		palette = 2
		breathe = math.Sin(float64(frame)*0.10)*0.03 + level*10.0 - 0.05
	case session.Connecting:
		palette = 1
		breathe = math.Sin(float64(frame)*0.25)*0.05 - 0.05
	default:
		breathe = math.Sin(float64(frame)*0.08)*0.02 - 0.05
	}

	rings := []struct {
		radius     float64
		breatheAmt float64
		colorIdx   int
	}{
		{0.6, 0.10, 1},
		{1.3, 0.12, 2},
		{2.0, 0.15, 3},
		{2.8, 0.35, 4},
		{3.5, 0.40, 5},
		{4.2, 0.38, 6},
		{5.0, 0.30, 7},
		{5.8, 0.15, 8},
		{7.2, 0.0, 9},
		{10.0, 0.0, 10},
	}

	pixels := make([][]int, pixH)
	for y := range pixels {
		pixels[y] = make([]int, pixW)
		for x := range pixels[y] {
			dx := float64(x) - centerX
			dy := float64(y) - centerY
			dist := math.Sqrt(dx*dx + dy*dy)
			for _, r := range rings {
				radius := min(r.radius+breathe*r.breatheAmt*20, 10.0)
				if dist < radius {
					pixels[y][x] = r.colorIdx
					break
				}
			}
		}
	}
	// Highlight on the upper rim.
	for y := range pixels {
		for x := range pixels[y] {
			dx := float64(x) - centerX
			dy := float64(y) - centerY + 8.5
			if dx*dx/9.0+dy*dy < 0.6 {
				pixels[y][x] = 11
			}
		}
	}

	styles := &orbStyles[palette]
	bgStyles := &orbBg[palette]
	var out strings.Builder
	for cy := 0; cy < charsH; cy++ {
		for cx := 0; cx < charsW; cx++ {
			top := pixels[cy*2][cx]
			bot := pixels[cy*2+1][cx]
			switch {
			case top == 0 && bot == 0:
				out.WriteString(" ")
			case top == bot:
				out.WriteString(styles[top].Render("█"))
			case bot == 0:
				out.WriteString(styles[top].Render("▀"))
			case top == 0:
				out.WriteString(styles[bot].Render("▄"))
			default:
				out.WriteString(bgStyles[top][bot].Render("▀"))
			}
		}
		out.WriteString("\n")
	}
	return out.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
