// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/nyschooldata"
	"github.com/AleutianAI/nyschooldata/internal/config"
	"github.com/AleutianAI/nyschooldata/pkg/bridge"
	"github.com/AleutianAI/nyschooldata/pkg/bridge/bridgetest"
	"github.com/AleutianAI/nyschooldata/pkg/logging"
	"github.com/AleutianAI/nyschooldata/pkg/table"
)

const (
	firstYear = 2012
	lastYear  = 2024
)

// enrTable builds n districts of wide enrollment for year.
func enrTable(t *testing.T, year, n int) *table.Table {
	t.Helper()
	endYear := &table.Column{Name: "end_year", Type: table.TypeInt}
	district := &table.Column{Name: "district_id", Type: table.TypeString}
	gradeK := &table.Column{Name: "grade_k", Type: table.TypeFloat}
	for i := 0; i < n; i++ {
		endYear.Values = append(endYear.Values, int64(year))
		district.Values = append(district.Values, fmt.Sprintf("%06d", 10100+i))
		gradeK.Values = append(gradeK.Values, float64(100+i))
	}
	gradeK.Values[n-1] = nil
	tbl, err := table.New(endYear, district, gradeK)
	require.NoError(t, err)
	return tbl
}

func newFake(t *testing.T) *bridgetest.FakeRuntime {
	t.Helper()
	fake := bridgetest.NewFakeRuntime()
	fake.Handle("get_available_years", bridgetest.Years(firstYear, lastYear))
	fake.Handle("fetch_enr", func(ctx context.Context, req bridge.Request) (*bridge.Handle, error) {
		year, _ := req.Args["end_year"].(int)
		if year < firstYear || year > lastYear {
			return bridgetest.Error(fmt.Sprintf("end_year must be between %d and %d", firstYear, lastYear))(ctx, req)
		}
		return bridge.NewTableHandle(req.Function, enrTable(t, year, 2))
	})
	fake.Handle("tidy_enr", func(ctx context.Context, req bridge.Request) (*bridge.Handle, error) {
		level := &table.Column{Name: "grade_level", Type: table.TypeString}
		count := &table.Column{Name: "n_students", Type: table.TypeFloat}
		for r := 0; r < req.Data.NumRows(); r++ {
			level.Values = append(level.Values, "K")
			count.Values = append(count.Values, float64(r))
		}
		long, err := table.New(level, count)
		if err != nil {
			return nil, err
		}
		return bridge.NewTableHandle(req.Function, long)
	})
	return fake
}

type result struct {
	stdout string
	stderr string
	err    error
}

// run executes the CLI against fake with an isolated config location.
func run(t *testing.T, fake *bridgetest.FakeRuntime, stdin string, args ...string) result {
	t.Helper()
	c, stdout, stderr := newTestCLI(t, fake, stdin)
	err := c.execute(context.Background(), args)
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func newTestCLI(t *testing.T, fake *bridgetest.FakeRuntime, stdin string) (*cli, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	t.Setenv(config.EnvConfigPath, filepath.Join(t.TempDir(), "config.yaml"))
	t.Setenv(config.EnvRscript, "")
	t.Setenv(config.EnvLogLevel, "")
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")

	var stdout, stderr bytes.Buffer
	c := newCLI()
	c.stdin = strings.NewReader(stdin)
	c.stdout, c.stderr = &stdout, &stderr
	c.newRuntime = func(config.Config, *logging.Logger) bridge.Runtime { return fake }
	return c, &stdout, &stderr
}

func TestYears(t *testing.T) {
	fake := newFake(t)

	res := run(t, fake, "", "years")
	require.NoError(t, res.err)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	assert.Len(t, lines, lastYear-firstYear+1)
	assert.Equal(t, "2012", lines[0])
	assert.Equal(t, "2024", lines[len(lines)-1])

	res = run(t, fake, "", "years", "--format", "json")
	require.NoError(t, res.err)
	var years []int
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &years))
	assert.Equal(t, firstYear, years[0])
}

func TestFetch_CSVByDefault(t *testing.T) {
	fake := newFake(t)

	res := run(t, fake, "", "fetch", "2024")
	require.NoError(t, res.err)
	assert.Equal(t, "end_year,district_id,grade_k\n2024,010100,100\n2024,010101,\n", res.stdout)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"end_year": 2024}, calls[0].Args)
}

func TestFetch_ForwardsOnlySetFlags(t *testing.T) {
	fake := newFake(t)

	res := run(t, fake, "", "fetch", "2023", "--tidy", "--use-cache=false",
		"--arg", "level=district", "--arg", "limit=3", "--arg", "end_year=1999")
	require.NoError(t, res.err)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{
		"end_year":  2023,
		"tidy":      true,
		"use_cache": false,
		"level":     "district",
		"limit":     3,
	}, calls[0].Args)
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantMsg  string
	}{
		{"not a year", []string{"fetch", "abc"}, exitUsage, `invalid year "abc"`},
		{"out of range", []string{"fetch", "2031"}, exitDataError, "for year 2031"},
		{"bad arg", []string{"fetch", "2024", "--arg", "novalue"}, exitUsage, "expected name=value"},
		{"bad arg name", []string{"fetch", "2024", "--arg", "1x=2"}, exitUsage, "invalid --arg"},
		{"bad format", []string{"fetch", "2024", "--format", "xml"}, exitUsage, `unknown format "xml"`},
		{"bad log level", []string{"fetch", "2024", "--log-level", "loud"}, exitUsage, "invalid config"},
		{"missing year", []string{"fetch"}, exitUsage, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, newFake(t), "", tt.args...)
			require.Error(t, res.err)
			assert.Contains(t, res.err.Error(), tt.wantMsg)
			assert.Equal(t, tt.wantCode, exitCode(res.err))
		})
	}
}

func TestFetchMulti(t *testing.T) {
	fake := newFake(t)

	res := run(t, fake, "", "fetch-multi", "2022", "2024", "--tidy")
	require.NoError(t, res.err)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[1], "2022,"))
	assert.True(t, strings.HasPrefix(lines[4], "2024,"))

	calls := fake.Calls()
	require.Len(t, calls, 2)
	for _, call := range calls {
		assert.Equal(t, true, call.Args["tidy"])
	}

	res = run(t, newFake(t), "", "fetch-multi", "2024", "2031")
	var fe *nyschooldata.DataFetchError
	require.True(t, errors.As(res.err, &fe))
	assert.Equal(t, 2031, fe.Year)
}

func TestFetchJSONThenTidy(t *testing.T) {
	fake := newFake(t)

	fetched := run(t, fake, "", "fetch", "2024", "--format", "json")
	require.NoError(t, fetched.err)

	tidied := run(t, fake, fetched.stdout, "tidy", "-")
	require.NoError(t, tidied.err)
	assert.Equal(t, "grade_level,n_students\nK,0\nK,1\n", tidied.stdout)

	calls := fake.Calls()
	require.Len(t, calls, 2)
	require.NotNil(t, calls[1].Data)
	assert.True(t, enrTable(t, 2024, 2).Equal(calls[1].Data))
}

func TestTidy_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enr.json")
	data, err := json.Marshal(enrTable(t, 2020, 3))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	res := run(t, newFake(t), "", "tidy", path)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "grade_level,n_students")

	res = run(t, newFake(t), "", "tidy", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, res.err, "failed to read table")

	res = run(t, newFake(t), "not json", "tidy", "-")
	assert.ErrorContains(t, res.err, "failed to decode table")
}

func TestTidy_ForwardsArgs(t *testing.T) {
	fake := newFake(t)
	data, err := json.Marshal(enrTable(t, 2020, 2))
	require.NoError(t, err)

	res := run(t, fake, string(data), "tidy", "-", "--arg", "keep_totals=TRUE")
	require.NoError(t, res.err)

	var tidyCalls []bridge.Request
	for _, call := range fake.Calls() {
		if call.Function == "tidy_enr" {
			tidyCalls = append(tidyCalls, call)
		}
	}
	require.Len(t, tidyCalls, 1)
	assert.Equal(t, true, tidyCalls[0].Args["keep_totals"])

	res = run(t, newFake(t), string(data), "tidy", "-", "--arg", "1bad=x")
	assert.Error(t, res.err)
	assert.Equal(t, exitUsage, exitCode(res.err))
}

func TestFetch_TableFormat(t *testing.T) {
	res := run(t, newFake(t), "", "fetch", "2024", "--format", "table")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "district_id")
	assert.Contains(t, res.stdout, "010101")
	assert.Contains(t, res.stdout, "NA")
	assert.Contains(t, res.stdout, "2 rows x 3 columns")
}

func TestFetch_OutputFiles(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "enr.csv")
	res := run(t, newFake(t), "", "fetch", "2024", "-o", csvPath)
	require.NoError(t, res.err)
	assert.Empty(t, res.stdout)
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "end_year,district_id,grade_k\n"))

	arrowPath := filepath.Join(dir, "enr.arrow")
	res = run(t, newFake(t), "", "fetch", "2024", "-o", arrowPath)
	require.NoError(t, res.err)

	f, err := os.Open(arrowPath)
	require.NoError(t, err)
	defer f.Close()
	r, err := ipc.NewReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	require.NoError(t, err)
	defer r.Release()
	require.True(t, r.Next())
	rec := r.Record()
	assert.EqualValues(t, 2, rec.NumRows())
	assert.Equal(t, "district_id", rec.Schema().Field(1).Name)
	assert.EqualValues(t, 1, rec.Column(2).NullN())
}

func TestDoctor(t *testing.T) {
	res := run(t, newFake(t), "", "doctor")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "/usr/bin/Rscript")
	assert.Contains(t, res.stdout, "4.4.1")
	assert.Contains(t, res.stdout, "nyschooldata 0.1.0")
	assert.Contains(t, res.stdout, "2012-2024 (13)")

	res = run(t, newFake(t), "", "doctor", "--format", "json")
	require.NoError(t, res.err)
	var report doctorReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.True(t, report.OK)
	assert.Len(t, report.Years, 13)

	broken := newFake(t)
	broken.InitErr = &bridge.CallError{Function: bridge.InfoCall, Message: "there is no package called 'nyschooldata'"}
	res = run(t, broken, "", "doctor")
	require.Error(t, res.err)
	assert.Equal(t, exitInitError, exitCode(res.err))
	assert.Contains(t, res.stdout, "there is no package called")
}

func TestDoctor_ServeMetrics(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c, stdout, _ := newTestCLI(t, newFake(t), "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.execute(ctx, []string{"doctor", "--serve-metrics", addr}) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		body = string(b)
		return true
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, "# TYPE go_goroutines gauge")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("doctor did not stop after cancel")
	}
	assert.Contains(t, stdout.String(), "2012-2024 (13)")
}

func TestDoctor_ServeMetricsNeedsPrometheus(t *testing.T) {
	res := run(t, newFake(t), "", "doctor", "--serve-metrics", "127.0.0.1:0", "--metric-exporter", "stdout")
	assert.ErrorContains(t, res.err, "--serve-metrics needs --metric-exporter prometheus")
}

func TestVersion(t *testing.T) {
	res := run(t, newFake(t), "", "version")
	require.NoError(t, res.err)
	assert.True(t, strings.HasPrefix(res.stdout, "nyschooldata "+nyschooldata.Version+" (go"))
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	res := run(t, newFake(t), "", "config", "init", "--config", path)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, path)
	_, err := os.Stat(path)
	require.NoError(t, err)

	res = run(t, newFake(t), "", "config", "init", "--config", path)
	assert.ErrorContains(t, res.err, "already exists")

	res = run(t, newFake(t), "", "config", "init", "--config", path, "--force")
	require.NoError(t, res.err)

	res = run(t, newFake(t), "", "config", "show", "--config", path, "--rscript", "/opt/R/bin/Rscript")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "package: nyschooldata")
	assert.Contains(t, res.stdout, "rscript_path: /opt/R/bin/Rscript")
}

func TestConfigFileFeedsRuntime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bridge:\n  package: nyschooldata\n  min_package_version: 0.2.0\n  timeout: 2m\n"), 0o644))

	var got config.Config
	var stdout bytes.Buffer
	t.Setenv(config.EnvRscript, "")
	c := newCLI()
	c.stdout, c.stderr = &stdout, &bytes.Buffer{}
	c.newRuntime = func(cfg config.Config, _ *logging.Logger) bridge.Runtime {
		got = cfg
		return newFake(t)
	}
	require.NoError(t, c.execute(context.Background(), []string{"years", "--config", path, "--rscript", "/x/Rscript"}))

	assert.Equal(t, "0.2.0", got.Bridge.MinVersion)
	assert.Equal(t, "/x/Rscript", got.Bridge.RscriptPath)
	assert.Equal(t, "2m0s", got.Bridge.Timeout.String())
}

func TestMetricsDump(t *testing.T) {
	res := run(t, newFake(t), "", "fetch", "2024", "--metric-exporter", "prometheus", "--metrics-dump")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "# TYPE go_goroutines gauge")

	res = run(t, newFake(t), "", "version", "--metrics-dump")
	require.NoError(t, res.err)
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		raw   string
		name  string
		value any
	}{
		{"level=district", "level", "district"},
		{"n=3", "n", 3},
		{"w=0.5", "w", 0.5},
		{"flag=TRUE", "flag", true},
		{"flag=false", "flag", false},
		{"x=NULL", "x", nil},
		{`id="010100"`, "id", "010100"},
		{"id='42'", "id", "42"},
		{" spaced = value ", "spaced", "value"},
		{"empty=", "empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			name, value, err := parseArg(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.value, value)
		})
	}

	for _, bad := range []string{"novalue", "=3", "1x=2", "a b=1"} {
		_, _, err := parseArg(bad)
		assert.Error(t, err, bad)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitUsage, exitCode(errors.New("flag")))
	assert.Equal(t, exitInitError, exitCode(fmt.Errorf("wrapped: %w", &nyschooldata.InteropInitializationError{Step: nyschooldata.StepLocate})))
	assert.Equal(t, exitDataError, exitCode(&nyschooldata.DataFetchError{Function: "fetch_enr"}))
	assert.Equal(t, exitDataError, exitCode(&nyschooldata.TidyError{Function: "tidy_enr"}))
}

func TestFormatForPath(t *testing.T) {
	tests := map[string]string{
		"out.csv":      formatCSV,
		"out.JSON":     formatJSON,
		"out.arrow":    formatArrow,
		"out.arrows":   formatArrow,
		"out.txt":      formatCSV,
		"no-extension": formatCSV,
	}
	for path, want := range tests {
		assert.Equal(t, want, formatForPath(path), path)
	}
}
