package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sith/backend/internal/cache"
	"sith/backend/internal/config"
	"sith/backend/internal/service"
	"sith/backend/internal/store/memory"
)

type dumperStub struct {
	calls []string
	err   error
}

func (d *dumperStub) WarnInactiveAccounts(_ context.Context, dryRun bool) (service.DumpReport, error) {
	d.calls = append(d.calls, "warn")
	return service.DumpReport{DryRun: dryRun, Warned: []int64{3}}, d.err
}

func (d *dumperStub) DumpAccounts(_ context.Context, dryRun bool) (service.DumpReport, error) {
	d.calls = append(d.calls, "dump")
	return service.DumpReport{DryRun: dryRun, Dumped: []int64{3}}, d.err
}

func TestRunDispatchesSubcommands(t *testing.T) {
	stub := &dumperStub{}
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"warn", "--dry-run"}, stub, &out))
	var report service.DumpReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.True(t, report.DryRun)
	assert.Equal(t, []int64{3}, report.Warned)

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"dump"}, stub, &out))
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.False(t, report.DryRun)
	assert.Equal(t, []string{"warn", "dump"}, stub.calls)
}

func TestRunRejectsBadInput(t *testing.T) {
	stub := &dumperStub{}
	var out bytes.Buffer

	assert.Error(t, run(context.Background(), nil, stub, &out))
	err := run(context.Background(), []string{"purge"}, stub, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown subcommand")
	assert.Contains(t, out.String(), "usage:")

	assert.Error(t, run(context.Background(), []string{"warn", "--force"}, stub, &out))
	assert.Empty(t, stub.calls)
}

func TestRunWrapsServiceErrors(t *testing.T) {
	stub := &dumperStub{err: errors.New("connection reset")}
	err := run(context.Background(), []string{"dump"}, stub, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "dump failed"))
}

func TestRunAgainstSeededStore(t *testing.T) {
	svc := service.New(memory.NewSeeded(), config.DefaultCounterSettings(), service.Deps{Cache: cache.NewMemoryCache()})
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"warn", "--dry-run"}, svc, &out))
	var report service.DumpReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.True(t, report.DryRun)
}
