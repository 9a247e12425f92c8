package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-checkout-pipeline/internal/reconcile"
)

type fakeConsole struct {
	recovered []string
}

func (f *fakeConsole) ListOrphaned(context.Context) ([]reconcile.Candidate, error) {
	return []reconcile.Candidate{{OrderNumber: "ORD-1-AAAAAA", Occurrences: 3}}, nil
}

func (f *fakeConsole) PaymentStatus(_ context.Context, n string) (reconcile.PaymentStatus, error) {
	return reconcile.PaymentStatus{OrderNumber: n}, nil
}

func (f *fakeConsole) AttemptRecovery(_ context.Context, n string) (reconcile.RecoveryResult, error) {
	f.recovered = append(f.recovered, n)
	return reconcile.RecoveryResult{OrderNumber: n, Status: reconcile.StatusCannotAutoRecover}, nil
}

func (f *fakeConsole) Report(context.Context) (reconcile.Report, error) {
	return reconcile.Report{WebhooksReceived: 4, OrdersProcessed: 3}, nil
}

func execute(t *testing.T, c Console, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd(func(context.Context) (Console, error) { return c, nil }, &out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestOrphanedPrintsJSON(t *testing.T) {
	out, err := execute(t, &fakeConsole{}, "orphaned")
	require.NoError(t, err)

	var got []reconcile.Candidate
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Occurrences)
}

func TestRecoverPassesOrderNumber(t *testing.T) {
	c := &fakeConsole{}
	out, err := execute(t, c, "recover", "ORD-9-ZZZZZZ")
	require.NoError(t, err)
	assert.Equal(t, []string{"ORD-9-ZZZZZZ"}, c.recovered)
	assert.Contains(t, out, reconcile.StatusCannotAutoRecover)
}

func TestArgsAreChecked(t *testing.T) {
	_, err := execute(t, &fakeConsole{}, "payment")
	assert.Error(t, err)
}

func TestOpenFailureSurfaces(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd(func(context.Context) (Console, error) { return nil, errors.New("no credentials") }, &out)
	cmd.SetArgs([]string{"report"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
	assert.Empty(t, out.String())
}
