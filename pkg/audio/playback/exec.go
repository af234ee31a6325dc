// Package playback provides [audio.Player] implementations: an external
// command fed through stdin, and a paced player that only waits for the
// clip's length.
package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/babelcast/pkg/audio"
)

// DefaultCommand plays any clip format ffplay understands from stdin.
const DefaultCommand = "ffplay -nodisp -autoexit -loglevel quiet -i -"

// DefaultPCMCommand is used for raw PCM clips, which carry no header.
const DefaultPCMCommand = "ffplay -nodisp -autoexit -loglevel quiet -f s16le -ar {rate} -ch_layout mono -i -"

var _ audio.Player = (*Exec)(nil)

// ExecOption configures an [Exec] player.
type ExecOption func(*Exec)

// WithPCMCommand sets the command line used for raw PCM clips.
func WithPCMCommand(cmd string) ExecOption {
	return func(e *Exec) { e.pcmCommand = cmd }
}

// WithExecLogger sets the logger. Defaults to slog.Default().
func WithExecLogger(l *slog.Logger) ExecOption {
	return func(e *Exec) {
		if l != nil {
			e.log = l
		}
	}
}

// Exec plays each clip by starting a command and writing the encoded clip to
// its stdin. The command line is split with shell quoting rules; the
// placeholders {format} and {rate} are substituted per clip.
type Exec struct {
	command    string
	pcmCommand string
	log        *slog.Logger
}

// NewExec creates an Exec player. An empty command selects [DefaultCommand].
// The command line is validated up front.
func NewExec(command string, opts ...ExecOption) (*Exec, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	e := &Exec{command: command, pcmCommand: DefaultPCMCommand, log: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	for _, c := range []string{e.command, e.pcmCommand} {
		if _, err := splitCommand(c, audio.Clip{}); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Play runs the player command to completion and returns the wall time it
// took. Cancelling ctx kills the process.
func (e *Exec) Play(ctx context.Context, clip audio.Clip) (time.Duration, error) {
	if len(clip.Data) == 0 {
		return 0, fmt.Errorf("%w: empty clip", audio.ErrPlayback)
	}
	line := e.command
	if clip.Format == audio.ClipPCM {
		line = e.pcmCommand
	}
	argv, err := splitCommand(line, clip)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", audio.ErrPlayback, err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(clip.Data)
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return elapsed, fmt.Errorf("%w: %w", audio.ErrPlayback, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			e.log.Debug("playback: player exited with error", "cmd", argv[0], "stderr", strings.TrimSpace(stderr.String()))
		}
		return elapsed, fmt.Errorf("%w: %s: %w", audio.ErrPlayback, argv[0], err)
	}
	return elapsed, nil
}

func splitCommand(line string, clip audio.Clip) ([]string, error) {
	argv, err := shellwords.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("playback: parse command %q: %w", line, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("playback: empty command")
	}
	r := strings.NewReplacer("{format}", string(clip.Format), "{rate}", strconv.Itoa(clip.SampleRate))
	for i := range argv {
		argv[i] = r.Replace(argv[i])
	}
	return argv, nil
}
