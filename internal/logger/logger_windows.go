//go:build windows
// +build windows

package logger

import (
	"os"

	"golang.org/x/sys/windows"
)

const SupportsColorEscapes = true

func GetTerminalInfo(file *os.File) (info TerminalInfo) {
	handle := windows.Handle(file.Fd())

	// Is this file descriptor a console?
	var mode uint32
	if err := windows.GetConsoleMode(handle, &mode); err != nil {
		return
	}
	info.IsTTY = true

	// Ask the console to interpret escape sequences itself. Consoles older
	// than Windows 10 refuse, in which case we don't use color.
	if mode&windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING != 0 ||
		windows.SetConsoleMode(handle, mode|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING) == nil {
		info.UseColorEscapes = !hasNoColorEnvironmentVariable()
	}

	// Get the width of the window
	var buffer windows.ConsoleScreenBufferInfo
	if err := windows.GetConsoleScreenBufferInfo(handle, &buffer); err == nil {
		info.Width = int(buffer.Window.Right-buffer.Window.Left) + 1
		info.Height = int(buffer.Window.Bottom-buffer.Window.Top) + 1
	}

	return
}

func writeStringWithColor(file *os.File, text string) {
	file.WriteString(text)
}
