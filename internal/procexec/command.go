// Package procexec runs the external engine commands behind the exec
// backends. Command lines use shell quoting and may carry {name}
// placeholders that are filled in per run.
package procexec

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// MaxLine bounds one line of streamed output. Base64 audio chunks are large.
const MaxLine = 64 * 1024 * 1024

// Command is a parsed command line. The zero value is not usable.
type Command struct {
	name string
	argv []string
}

// Parse splits line with shell quoting rules. name labels errors, e.g. "tts".
func Parse(name, line string) (Command, error) {
	argv, err := shellwords.Parse(line)
	if err != nil {
		return Command{}, fmt.Errorf("parse %s command: %w", name, err)
	}
	if len(argv) == 0 {
		return Command{}, fmt.Errorf("%s command is empty", name)
	}
	return Command{name: name, argv: argv}, nil
}

func (c Command) Name() string { return c.name }

// With returns a copy with every {key} in the arguments replaced by vars[key].
func (c Command) With(vars map[string]string) Command {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	replace := strings.NewReplacer(pairs...).Replace
	argv := make([]string, len(c.argv))
	for i, a := range c.argv {
		argv[i] = replace(a)
	}
	return Command{name: c.name, argv: argv}
}

// Args returns a copy with extra arguments appended.
func (c Command) Args(extra ...string) Command {
	argv := make([]string, 0, len(c.argv)+len(extra))
	argv = append(append(argv, c.argv...), extra...)
	return Command{name: c.name, argv: argv}
}

func (c Command) Cmd(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
}

// Run executes the command to completion and returns its raw stdout.
func (c Command) Run(ctx context.Context) ([]byte, error) {
	cmd := c.Cmd(ctx)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, c.failed(ctx, err, &stderr)
	}
	return stdout.Bytes(), nil
}

// Stream writes input as JSON to stdin and calls each with every non-blank
// stdout line. An error from each kills the process and is returned as is.
func (c Command) Stream(ctx context.Context, input any, each func(line []byte) error) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", c.name, err)
	}
	cmd := c.Cmd(ctx)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s command: %w", c.name, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := each(line); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("read %s output: %w", c.name, err)
	}
	if err := cmd.Wait(); err != nil {
		return c.failed(ctx, err, &stderr)
	}
	return nil
}

func (c Command) failed(ctx context.Context, err error, stderr *bytes.Buffer) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return fmt.Errorf("%s command failed: %w: %s", c.name, err, msg)
	}
	return fmt.Errorf("%s command failed: %w", c.name, err)
}
