package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/memcore/memcore/internal/debug"
	"github.com/memcore/memcore/internal/model"
)

// traceItem adapts a model.QueryTrace to bubbles/list's item interface.
type traceItem struct {
	trace *model.QueryTrace
}

func (i traceItem) Title() string {
	if i.trace.Error != nil {
		return "✗ " + i.trace.Query
	}
	return i.trace.Query
}

func (i traceItem) Description() string {
	desc := fmt.Sprintf("%s  mode=%s", i.trace.TraceID, i.trace.DetectedMode)
	if i.trace.Error != nil {
		desc += "  error=" + *i.trace.Error
	}
	return desc
}

func (i traceItem) FilterValue() string { return i.trace.Query }

// LifecycleCounts summarizes how many chunks sit in each lifecycle
// stage, shown in the inspector's footer.
type LifecycleCounts struct {
	Active, Demoted, Archived, Rehydratable int
}

// Model is the bubbletea model backing `memcore inspect`.
type Model struct {
	list     list.Model
	detail   viewport.Model
	styles   Styles
	counts   LifecycleCounts
	showing  bool // true once a trace has been selected and the detail pane is showing
	width    int
	height   int
}

var keyEnter = key.NewBinding(key.WithKeys("enter"))
var keyEsc = key.NewBinding(key.WithKeys("esc"))
var keyQuit = key.NewBinding(key.WithKeys("q", "ctrl+c"))

// NewModel builds the inspector model from a window of recent traces
// and the current lifecycle stage counts.
func NewModel(traces []*model.QueryTrace, counts LifecycleCounts) Model {
	items := make([]list.Item, len(traces))
	for i, t := range traces {
		items[i] = traceItem{trace: t}
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Recent query traces"
	l.SetShowStatusBar(false)

	return Model{
		list:   l,
		detail: viewport.New(0, 0),
		styles: DefaultStyles(),
		counts: counts,
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		listHeight := m.height - 3
		m.list.SetSize(m.width, listHeight)
		m.detail.Width = m.width
		m.detail.Height = listHeight
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keyQuit):
			return m, tea.Quit
		case key.Matches(msg, keyEsc) && m.showing:
			m.showing = false
			return m, nil
		case key.Matches(msg, keyEnter) && !m.showing:
			if item, ok := m.list.SelectedItem().(traceItem); ok {
				m.detail.SetContent(renderTraceDetail(item.trace, m.styles))
				m.detail.GotoTop()
				m.showing = true
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.showing {
		m.detail, cmd = m.detail.Update(msg)
	} else {
		m.list, cmd = m.list.Update(msg)
	}
	return m, cmd
}

func (m Model) View() string {
	footer := m.styles.Label.Render(fmt.Sprintf(
		"active=%d demoted=%d archived=%d rehydratable=%d  (enter: inspect, esc: back, q: quit)",
		m.counts.Active, m.counts.Demoted, m.counts.Archived, m.counts.Rehydratable))

	body := m.list.View()
	if m.showing {
		body = m.detail.View()
	}
	return body + "\n" + footer
}

func renderTraceDetail(t *model.QueryTrace, styles Styles) string {
	var b strings.Builder
	b.WriteString(styles.Header.Render(t.Query) + "\n\n")
	fmt.Fprintf(&b, "trace:       %s\n", t.TraceID)
	fmt.Fprintf(&b, "mode:        %s (confidence %.2f)\n", t.DetectedMode, t.DetectionConfidence)
	fmt.Fprintf(&b, "stores:      %s\n", strings.Join(t.StoresQueried, ", "))
	fmt.Fprintf(&b, "rationale:   %s\n", t.RoutingRationale)
	fmt.Fprintf(&b, "latency:     total=%s retrieval=%s mode=%s\n", t.TotalLatency, t.RetrievalLatency, t.ModeDetectionLatency)
	if t.Partial {
		b.WriteString(styles.WarnText.Render("partial result") + "\n")
	}
	if len(t.Degraded) > 0 {
		fmt.Fprintf(&b, "degraded:    %s\n", strings.Join(t.Degraded, ", "))
	}

	b.WriteString("\nretrieved chunks:\n")
	for _, c := range t.RetrievedChunks {
		fmt.Fprintf(&b, "  %-36s %.3f  (%s)\n", c.ChunkID, c.Score, c.Source)
	}

	if t.Error != nil {
		attribution := debug.ClassifyError(t)
		b.WriteString("\n" + styles.ErrorText.Render(fmt.Sprintf("error: %s (%s: %s)", *t.Error, attribution.ErrorType, attribution.Reason)) + "\n")
	}

	return b.String()
}
