package impl

import (
	"os"
	"testing"

	"mfa/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("mfa-test")
	os.Exit(m.Run())
}
