package migrate

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"es2os/internal/timeutil"

	"github.com/fatih/color"
)

// Prompter handles the two operator confirmation points. Both block
// without timeout; the only way out is an answer or process termination.
type Prompter interface {
	// ConfirmStartTime asks the operator to accept the resolved start
	// time. A negative answer cancels the run.
	ConfirmStartTime(t time.Time) (bool, error)

	// AwaitWritesStopped prints the cutover instructions and re-prompts
	// until the operator confirms writes have stopped.
	AwaitWritesStopped() error
}

// ConsolePrompter prompts on an interactive terminal
type ConsolePrompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewConsolePrompter creates a prompter on stdin/stdout
func NewConsolePrompter() *ConsolePrompter {
	return NewPrompter(os.Stdin, os.Stdout)
}

// NewPrompter creates a prompter on the given streams
func NewPrompter(in io.Reader, out io.Writer) *ConsolePrompter {
	return &ConsolePrompter{
		in:  bufio.NewScanner(in),
		out: out,
	}
}

var banner = strings.Repeat("=", 60)

func (p *ConsolePrompter) ConfirmStartTime(t time.Time) (bool, error) {
	fmt.Fprintln(p.out, banner)
	color.New(color.FgCyan, color.Bold).Fprintf(p.out, "Incremental migration start time: %s\n", timeutil.Format(t))
	fmt.Fprintln(p.out, banner)

	answer, err := p.ask("Confirm using this time as incremental migration start point? (y/N): ")
	if err != nil {
		return false, err
	}
	return affirmative(answer), nil
}

func (p *ConsolePrompter) AwaitWritesStopped() error {
	fmt.Fprintln(p.out, banner)
	color.New(color.FgYellow, color.Bold).Fprintln(p.out, "Incremental migration is near real-time!")
	fmt.Fprintln(p.out, "Please perform the following steps:")
	fmt.Fprintln(p.out, "1. Stop business write operations")
	fmt.Fprintln(p.out, "2. Enter 'y' to execute final sync and confirm sync completion")
	fmt.Fprintln(p.out, "3. Switch application endpoint to target cluster, resume writes")
	fmt.Fprintln(p.out, banner)

	answer, err := p.ask("Confirm write operations have been stopped? (y/N): ")
	if err != nil {
		return err
	}
	for !affirmative(answer) {
		answer, err = p.ask("Did not receive 'y', please confirm write operations are stopped (y/N): ")
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *ConsolePrompter) ask(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", fmt.Errorf("failed to read operator input: %w", err)
		}
		return "", fmt.Errorf("operator input closed")
	}
	return p.in.Text(), nil
}

func affirmative(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}
