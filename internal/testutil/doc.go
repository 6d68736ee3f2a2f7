// Package testutil provides test fixtures and utilities.
//
// YAML fixtures are embedded using go:embed:
//
//	fixtures/valid_host_config.yml
//	fixtures/invalid_host_config.yml
//	fixtures/valid_project_config.yml
//
// Helper functions parse them into typed config objects:
//
//	cfg, err := testutil.ValidHostConfig()
//	proj, err := testutil.ValidProjectConfig()
//
// NewTestEnv builds a temporary config/state/runtime layout and installs a
// matching app.App as app.Default for the duration of a test:
//
//	env := testutil.NewTestEnv(t)
//	dir := env.CreateProject("webapp", &config.ProjectConfig{})
package testutil
