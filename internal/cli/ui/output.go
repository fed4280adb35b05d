// Package ui holds terminal output helpers shared by the chat commands.
package ui

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/oncolife/chatbot/internal/conversation"
	"github.com/oncolife/chatbot/internal/model/chat"
)

var (
	successColor   = color.New(color.FgGreen, color.Bold)
	errorColor     = color.New(color.FgRed, color.Bold)
	warningColor   = color.New(color.FgYellow, color.Bold)
	infoColor      = color.New(color.FgCyan)
	boldColor      = color.New(color.Bold)
	userColor      = color.New(color.FgBlue, color.Bold)
	assistantColor = color.New(color.FgMagenta, color.Bold)
)

// PrintSuccess prints a success message
func PrintSuccess(format string, args ...interface{}) {
	successColor.Printf("✓ %s\n", fmt.Sprintf(format, args...))
}

// PrintError prints an error message
func PrintError(format string, args ...interface{}) {
	errorColor.Printf("✗ %s\n", fmt.Sprintf(format, args...))
}

// PrintWarning prints a warning message
func PrintWarning(format string, args ...interface{}) {
	warningColor.Printf("⚠ %s\n", fmt.Sprintf(format, args...))
}

// PrintInfo prints an info message
func PrintInfo(format string, args ...interface{}) {
	infoColor.Printf("ℹ %s\n", fmt.Sprintf(format, args...))
}

// PrintBold prints a bold message
func PrintBold(format string, args ...interface{}) {
	boldColor.Println(fmt.Sprintf(format, args...))
}

// PrintWelcomeBanner prints the banner shown before a line-mode session.
func PrintWelcomeBanner() {
	fmt.Println(Styles.Banner.Render(Styles.Title.Render("OncoLife Symptom Check-in")))
}

// PrintMessage prints one transcript entry in line mode.
func PrintMessage(m chat.Message) {
	label := "Assistant"
	c := assistantColor
	if m.Sender == chat.SenderUser {
		label = "You"
		c = userColor
	}
	fmt.Printf("%s %s\n", c.Sprint(label+":"), FormatContent(m))
}

// FormatContent renders the content of a message the way both the
// terminal UI and line mode show it.
func FormatContent(m chat.Message) string {
	content := strings.TrimSpace(m.Content)
	if m.MessageType == chat.TypeFeelingResponse {
		if emoji := conversation.FeelingEmoji(content); emoji != "" {
			return emoji + " " + content
		}
	}
	return content
}
