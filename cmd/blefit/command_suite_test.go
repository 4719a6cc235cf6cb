package main

import (
	"bytes"
	"context"
	"sync"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blefit/internal/testutils"
)

// syncBuffer is a bytes.Buffer safe for a command writing while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite resets the command flags between tests and runs rootCmd in-process.
// Every cmd/blefit suite embeds it.
type CommandTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	text   *testutils.TextAsserter
	json   *testutils.JSONAsserter

	Stdout *syncBuffer
	Stderr *syncBuffer
}

func (suite *CommandTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.text = testutils.NewTextAsserter(suite.T())
	suite.json = testutils.NewJSONAsserter(suite.T())
	suite.Stdout = &syncBuffer{}
	suite.Stderr = &syncBuffer{}

	scanCategory = "heart-rate"
	scanDuration = 0
	scanFormat = "table"
	monitorFilters = nil
	monitorDuration = 0
	monitorFormat = "table"
	suite.Require().NoError(rootCmd.PersistentFlags().Set("config", ""))
	suite.Require().NoError(rootCmd.PersistentFlags().Set("log-level", ""))

	// Cobra hands the root context to a subcommand only while the subcommand has none.
	//nolint:staticcheck // nil clears the context left by the previous run
	scanCmd.SetContext(nil)
	//nolint:staticcheck // nil clears the context left by the previous run
	monitorCmd.SetContext(nil)
}

// ExecuteCommand runs rootCmd with args and returns its error. Output lands in Stdout and Stderr.
func (suite *CommandTestSuite) ExecuteCommand(args ...string) error {
	return suite.ExecuteCommandContext(context.Background(), args...)
}

// ExecuteCommandContext is ExecuteCommand with a cancellable context.
func (suite *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) error {
	rootCmd.SetOut(suite.Stdout)
	rootCmd.SetErr(suite.Stderr)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
