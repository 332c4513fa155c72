// Package console handles the interactive side of a run: prompts,
// confirmations and colored status lines.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// ErrAborted is returned when input ends before the user answered.
var ErrAborted = errors.New("input closed")

const ruleWidth = 60

// Console reads answers from in and writes styled output to out.
type Console struct {
	in  *bufio.Reader
	out io.Writer
	fd  int // terminal fd for hidden input, -1 if in is not a terminal

	header  lipgloss.Style
	bold    lipgloss.Style
	info    lipgloss.Style
	step    lipgloss.Style
	success lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style
}

// New builds a console. Colors are only emitted when out is a terminal.
func New(in io.Reader, out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	c := &Console{
		in:      bufio.NewReader(in),
		out:     out,
		fd:      -1,
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("13")),
		bold:    r.NewStyle().Bold(true),
		info:    r.NewStyle().Foreground(lipgloss.Color("14")),
		step:    r.NewStyle().Foreground(lipgloss.Color("12")),
		success: r.NewStyle().Foreground(lipgloss.Color("10")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("11")),
		fail:    r.NewStyle().Foreground(lipgloss.Color("9")),
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.fd = int(f.Fd())
	}
	return c
}

// Std is a console on stdin/stdout.
func Std() *Console {
	return New(os.Stdin, os.Stdout)
}

func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			return "", ErrAborted
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Prompt prints msg and returns the trimmed answer.
func (c *Console) Prompt(msg string) (string, error) {
	fmt.Fprint(c.out, msg)
	return c.readLine()
}

// PromptDefault shows def in brackets and returns it for an empty answer.
func (c *Console) PromptDefault(msg, def string) (string, error) {
	label := msg
	if def != "" {
		label = fmt.Sprintf("%s [%s]", msg, def)
	}
	answer, err := c.Prompt(label + ": ")
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Ask prompts with the info style, as used for data collection.
func (c *Console) Ask(msg string) (string, error) {
	return c.Prompt(c.info.Render(msg))
}

// Password reads a secret without echo when stdin is a terminal.
func (c *Console) Password(msg string) (string, error) {
	if c.fd < 0 {
		return c.Prompt(msg)
	}
	fmt.Fprint(c.out, msg)
	b, err := term.ReadPassword(c.fd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

// Confirm asks a (Y/n) question. Anything but "n" counts as yes.
func (c *Console) Confirm(msg string) (bool, error) {
	answer, err := c.Prompt(msg + " (Y/n): ")
	if err != nil {
		return false, err
	}
	return strings.ToLower(answer) != "n", nil
}

// WaitEnter blocks until the user presses Enter.
func (c *Console) WaitEnter(msg string) error {
	_, err := c.Prompt(msg)
	return err
}

// Banner prints a title between two rules.
func (c *Console) Banner(title string) {
	rule := strings.Repeat("=", ruleWidth)
	pad := (ruleWidth - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintln(c.out, c.header.Render(rule+"\n"+strings.Repeat(" ", pad)+title+"\n"+rule))
}

// Section prints a "--- title ---" heading preceded by a blank line.
func (c *Console) Section(title string) {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, c.header.Render("--- "+title+" ---"))
}

func (c *Console) Bold(format string, args ...any) {
	fmt.Fprintln(c.out, c.bold.Render(fmt.Sprintf(format, args...)))
}

func (c *Console) Info(format string, args ...any) {
	fmt.Fprintln(c.out, c.info.Render(fmt.Sprintf(format, args...)))
}

// Step announces an action: "[*] ...".
func (c *Console) Step(format string, args ...any) {
	fmt.Fprintln(c.out, c.step.Render("[*] "+fmt.Sprintf(format, args...)))
}

func (c *Console) Success(format string, args ...any) {
	fmt.Fprintln(c.out, c.success.Render("[+] "+fmt.Sprintf(format, args...)))
}

func (c *Console) Warn(format string, args ...any) {
	fmt.Fprintln(c.out, c.warn.Render(fmt.Sprintf(format, args...)))
}

func (c *Console) Fail(format string, args ...any) {
	fmt.Fprintln(c.out, c.fail.Render("[!] "+fmt.Sprintf(format, args...)))
}

func (c *Console) Println(format string, args ...any) {
	fmt.Fprintln(c.out, fmt.Sprintf(format, args...))
}
