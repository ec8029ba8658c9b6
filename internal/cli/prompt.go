package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// ErrPromptCancelled is returned when the user interrupts a prompt.
var ErrPromptCancelled = errors.New("prompt cancelled")

// PromptCredentials asks for the username (unless given) and the password on
// the terminal. The password is not echoed.
func PromptCredentials(username string) (string, string, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:                 "Username: ",
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to open terminal: %w", err)
	}
	defer rl.Close()

	if username == "" {
		line, err := rl.Readline()
		if err != nil {
			return "", "", promptError(err)
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return "", "", errors.New("username is required")
	}

	password, err := rl.ReadPassword("Password: ")
	if err != nil {
		return "", "", promptError(err)
	}
	return username, string(password), nil
}

// ReadPasswordFrom reads a password as the first line of r, for
// --password-stdin.
func ReadPasswordFrom(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("no password on stdin")
	}
	return password, nil
}

func promptError(err error) error {
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return ErrPromptCancelled
	}
	return err
}
