package internal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/hoprnet/localcluster/framework/types"
	"go.uber.org/zap"
)

// Command describes a blocking invocation of an external tool.
type Command struct {
	Bin  string
	Args []string
	// Env is appended to the current process environment.
	Env []string
	Dir string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Bin}, c.Args...), " ")
}

// Run executes c to completion. Every stdout/stderr line is logged at debug level with
// colour codes removed, and all lines are returned in output order.
// A start failure or non-zero exit is reported as types.ErrProcess.
func Run(ctx context.Context, logger *zap.Logger, c Command) ([]string, error) {
	cmd := exec.CommandContext(ctx, c.Bin, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, fmt.Errorf("%w: starting %s: %v", types.ErrProcess, c.Bin, err)
	}

	lines := make(chan []string, 1)
	go func() {
		var out []string
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := StripANSI(scanner.Text())
			logger.Debug(line, zap.String("bin", c.Bin))
			out = append(out, line)
		}
		// drain anything left after a scanner error so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, pr)
		lines <- out
	}()

	waitErr := cmd.Wait()
	_ = pw.Close()
	out := <-lines

	if waitErr != nil {
		return out, fmt.Errorf("%w: %s: %v (last output: %q)", types.ErrProcess, c, waitErr, tail(out, 5))
	}
	return out, nil
}

func tail(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
