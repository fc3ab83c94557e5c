// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestSpec_Command(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{"no args", Spec{Name: "Rscript"}, "Rscript"},
		{"flags", Spec{Name: "Rscript", Args: []string{"--vanilla", "-e", "1+1"}}, "Rscript --vanilla -e 1+1"},
		{"inline script", Spec{Name: "Rscript", Args: []string{"-e", "x <- 1\ny <- 2"}}, "Rscript -e <script>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Command())
		})
	}
}

func TestDefaultManager_Run_CapturesStreams(t *testing.T) {
	requireShell(t)
	pm := NewDefaultManager()

	res, err := pm.Run(context.Background(), Spec{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err 1>&2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
	assert.Equal(t, 0, res.ExitCode)
}

func TestDefaultManager_Run_Stdin(t *testing.T) {
	requireShell(t)
	pm := NewDefaultManager()

	res, err := pm.Run(context.Background(), Spec{
		Name:  "sh",
		Args:  []string{"-c", "cat"},
		Stdin: []byte(`{"call":"fetch_enr"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"call":"fetch_enr"}`, string(res.Stdout))
}

func TestDefaultManager_Run_Env(t *testing.T) {
	requireShell(t)
	pm := NewDefaultManager()

	res, err := pm.Run(context.Background(), Spec{
		Name: "sh",
		Args: []string{"-c", "printf %s \"$R_LIBS\""},
		Env:  []string{"R_LIBS=/opt/rlib"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/opt/rlib", string(res.Stdout))
}

func TestDefaultManager_Run_NonZeroExit(t *testing.T) {
	requireShell(t)
	pm := NewDefaultManager()

	before := testutil.ToFloat64(runsTotal.WithLabelValues("sh", "exit_nonzero"))

	res, err := pm.Run(context.Background(), Spec{
		Name: "sh",
		Args: []string{"-c", "echo partial; echo 'Error: package not found' 1>&2; exit 3"},
	})
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, "Error: package not found", exitErr.Stderr)

	require.NotNil(t, res)
	assert.Equal(t, "partial\n", string(res.Stdout))
	assert.Equal(t, before+1, testutil.ToFloat64(runsTotal.WithLabelValues("sh", "exit_nonzero")))
}

func TestDefaultManager_Run_MissingExecutable(t *testing.T) {
	pm := NewDefaultManager()

	res, err := pm.Run(context.Background(), Spec{Name: "definitely-not-rscript-xyz"})
	require.Error(t, err)
	assert.Nil(t, res)

	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
}

func TestDefaultManager_Run_ContextCancelled(t *testing.T) {
	requireShell(t)
	pm := NewDefaultManager()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := pm.Run(ctx, Spec{Name: "sh", Args: []string{"-c", "sleep 5"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDefaultManager_Run_OutputCap(t *testing.T) {
	requireShell(t)
	pm := &DefaultManager{MaxOutput: 4}

	res, err := pm.Run(context.Background(), Spec{Name: "sh", Args: []string{"-c", "echo 0123456789"}})
	require.ErrorIs(t, err, ErrOutputTooLarge)
	assert.Equal(t, "0123", string(res.Stdout))
}

func TestMockManager(t *testing.T) {
	mock := &MockManager{
		RunFunc: func(ctx context.Context, spec Spec) (*Result, error) {
			return &Result{Stdout: []byte("ok")}, nil
		},
	}

	res, err := mock.Run(context.Background(), Spec{Name: "Rscript", Stdin: []byte("{}")})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(res.Stdout))

	calls := mock.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Rscript", calls[0].Name)
	assert.Equal(t, []byte("{}"), calls[0].Stdin)

	path, err := mock.LookPath("Rscript")
	require.NoError(t, err)
	assert.Equal(t, "Rscript", path)

	mock.Reset()
	assert.Empty(t, mock.GetCalls())
}

func TestMockManager_PanicsWithoutRunFunc(t *testing.T) {
	mock := &MockManager{}
	assert.Panics(t, func() {
		_, _ = mock.Run(context.Background(), Spec{Name: "Rscript"})
	})
}
