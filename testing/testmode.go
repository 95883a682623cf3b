// Package testing switches the process into test mode when blank-imported
// by a test package: serve and the worker exit before listening, completion
// events stay local and scheduled companies are ignored.
package testing

import "os"

func init() {
	_ = os.Setenv("FXREVAL_TEST_MODE", "1")
	_ = os.Unsetenv("KAFKA_BROKERS")
	_ = os.Unsetenv("FX_COMPANIES")
}
