package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// IntegrationTestSuite provides a survey tree on disk for end-to-end tests.
// Every test gets a fresh input root and output root.
type IntegrationTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	input     string
	output    string
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	s.startTime = time.Now()
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	s.T().Logf("Integration test suite completed in %v", time.Since(s.startTime))
}

// SetupTest creates the input and output roots and a test context.
func (s *IntegrationTestSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), time.Minute)
	root := s.T().TempDir()
	s.input = filepath.Join(root, "in")
	s.output = filepath.Join(root, "out")
	require.NoError(s.T(), os.MkdirAll(s.input, 0o755))
}

// TearDownTest cancels the test context.
func (s *IntegrationTestSuite) TearDownTest() {
	s.cancel()
}

// Context returns the test context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// InputRoot returns the root of the survey tree.
func (s *IntegrationTestSuite) InputRoot() string {
	return s.input
}

// OutputRoot returns the directory the tree is mirrored into. It does not
// exist until something creates it.
func (s *IntegrationTestSuite) OutputRoot() string {
	return s.output
}

// AddCloud writes a legacy LAS file with n points at rel under the input root.
func (s *IntegrationTestSuite) AddCloud(rel string, n int) string {
	path := filepath.Join(s.input, rel)
	require.NoError(s.T(), os.MkdirAll(filepath.Dir(path), 0o755))
	WriteCloud(s.T(), path, LegacyCloud(), RandomPoints(n, int64(len(rel)+n)))
	return path
}

// AddCorrupt writes a file that fails header parsing at rel under the input root.
func (s *IntegrationTestSuite) AddCorrupt(rel string) string {
	path := filepath.Join(s.input, rel)
	require.NoError(s.T(), os.MkdirAll(filepath.Dir(path), 0o755))
	WriteCorruptCloud(s.T(), path)
	return path
}

// BuildTree writes files clouds spread over dirs subdirectories and returns
// their paths.
func (s *IntegrationTestSuite) BuildTree(dirs, files, points int) []string {
	var paths []string
	for d := 0; d < dirs; d++ {
		for f := 0; f < files; f++ {
			rel := filepath.Join(fmt.Sprintf("block_%02d", d), fmt.Sprintf("tile_%03d.las", f))
			paths = append(paths, s.AddCloud(rel, points))
		}
	}
	return paths
}
