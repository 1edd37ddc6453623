package agents

import (
	"fmt"

	live "github.com/bt-bridge/gemini-live"
	"github.com/bt-bridge/gemini-live/shared"
	"github.com/bytedance/sonic"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

var (
	userStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF"))
	toolStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AF87FF")).Italic(true)
)

// ConsoleTranscript prints the conversation as it streams: model text inline,
// user speech on its own "<-:" line, and one "name(**args)" line per tool
// call.
type ConsoleTranscript struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
}

var _ live.TranscriptSink = (*ConsoleTranscript)(nil)

func NewConsoleTranscript(logger shared.LoggerAdapter, printer *shared.Printer) (*ConsoleTranscript, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if printer == nil {
		return nil, shared.ErrNoTranscriptSink
	}
	return &ConsoleTranscript{
		logger:  logger.With(zap.String("component", "transcript")),
		printer: printer,
	}, nil
}

func (t *ConsoleTranscript) print(s string) {
	if err := t.printer.Print(s); err != nil {
		t.logger.Error("printing transcript", err)
	}
}

func (t *ConsoleTranscript) ToolCall(call live.ToolCall) {
	args := "{}"
	if len(call.Args) > 0 {
		var err error
		if args, err = sonic.MarshalString(call.Args); err != nil {
			args = fmt.Sprint(call.Args)
		}
	}
	t.print(toolStyle.Render(fmt.Sprintf("%s(**%s)", call.Name, args)) + "\n")
}

func (t *ConsoleTranscript) OutputText(text string) {
	t.print(text)
}

func (t *ConsoleTranscript) InputText(text string) {
	t.print(fmt.Sprintf("<-: %s\n->:", userStyle.Render(text)))
}

func (t *ConsoleTranscript) EndTurn(live.BoundaryReason) {
	t.print("\n")
}
