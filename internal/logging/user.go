package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// User-facing messages carry a status glyph and go to the command's output
// streams, separate from the structured log.

var (
	userMu  sync.Mutex
	userOut io.Writer = os.Stdout
	userErr io.Writer = os.Stderr
)

// SetUserOutput redirects user messages. Info and success lines go to out,
// warnings and errors to errOut. A nil writer restores the default.
func SetUserOutput(out, errOut io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	userMu.Lock()
	userOut, userErr = out, errOut
	userMu.Unlock()
}

func userPrint(toErr bool, glyph, format string, args []any) {
	userMu.Lock()
	w := userOut
	if toErr {
		w = userErr
	}
	userMu.Unlock()
	fmt.Fprintf(w, glyph+" "+format+"\n", args...)
}

// UserInfo prints an info message.
func UserInfo(format string, args ...any) {
	userPrint(false, "ℹ", format, args)
}

// UserSuccess prints a success message.
func UserSuccess(format string, args ...any) {
	userPrint(false, "✓", format, args)
}

// UserWarning prints a warning.
func UserWarning(format string, args ...any) {
	userPrint(true, "⚠", format, args)
}

// UserError prints an error.
func UserError(format string, args ...any) {
	userPrint(true, "✗", format, args)
}
