// This package contains internal CLI-related code that must be shared with
// other internal code outside of the CLI package.

package cli_helpers

import (
	"fmt"

	"github.com/tbjgolden/xnr-sub000/pkg/api"
)

type ErrorWithNote struct {
	Text string
	Note string
}

func MakeErrorWithNote(text string, note string) *ErrorWithNote {
	return &ErrorWithNote{
		Text: text,
		Note: note,
	}
}

func (e *ErrorWithNote) Error() string {
	if e.Note == "" {
		return e.Text
	}
	return fmt.Sprintf("%s\n\n  %s", e.Text, e.Note)
}

func ParseColor(text string) (api.StderrColor, *ErrorWithNote) {
	switch text {
	case "":
		return api.ColorIfTerminal, nil
	case "true":
		return api.ColorAlways, nil
	case "false":
		return api.ColorNever, nil
	default:
		return api.ColorIfTerminal, MakeErrorWithNote(
			fmt.Sprintf("Invalid color: %q", text),
			"Valid values are \"true\" or \"false\".",
		)
	}
}

func ParseLogLevel(text string) (api.LogLevel, *ErrorWithNote) {
	switch text {
	case "info":
		return api.LogLevelInfo, nil
	case "warning":
		return api.LogLevelWarning, nil
	case "error":
		return api.LogLevelError, nil
	case "silent":
		return api.LogLevelSilent, nil
	default:
		return api.LogLevelSilent, MakeErrorWithNote(
			fmt.Sprintf("Invalid log level: %q", text),
			"Valid values are \"info\", \"warning\", \"error\", or \"silent\".",
		)
	}
}
