package internal

import (
	"context"
	"testing"

	"github.com/hoprnet/localcluster/framework/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRun(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	t.Run("collects stdout and stderr lines", func(t *testing.T) {
		out, err := Run(ctx, logger, Command{
			Bin:  "sh",
			Args: []string{"-c", `printf '\033[32mfirst\033[0m\n'; echo second 1>&2; echo "$EXTRA"`},
			Env:  []string{"EXTRA=third"},
		})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"first", "second", "third"}, out)
	})

	t.Run("non-zero exit is a process failure", func(t *testing.T) {
		out, err := Run(ctx, logger, Command{Bin: "sh", Args: []string{"-c", "echo boom; exit 3"}})
		require.ErrorIs(t, err, types.ErrProcess)
		require.Equal(t, []string{"boom"}, out)
	})

	t.Run("missing binary is a process failure", func(t *testing.T) {
		_, err := Run(ctx, logger, Command{Bin: "definitely-not-a-real-binary-xyz"})
		require.ErrorIs(t, err, types.ErrProcess)
	})
}
