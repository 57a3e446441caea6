package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/flowix-ar/storefront/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestSystemServiceHealthReport(t *testing.T) {
	started := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: stubHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
				"storage":   {Status: domain.HealthStatusDegraded},
			},
		}},
		Clock: fixedClock(now),
		Build: BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "prod", StartedAt: started},
	})
	require.NoError(t, err)

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusDegraded, report.Status)
	assert.Equal(t, "1.4.0", report.Version)
	assert.Equal(t, "prod", report.Environment)
	assert.Equal(t, 90*time.Minute, report.Uptime)
	assert.True(t, report.GeneratedAt.Equal(now))
}

func TestSystemServiceHealthReportError(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: stubHealthRepository{err: errBoom}})
	require.NoError(t, err)
	_, err = svc.HealthReport(context.Background())
	assert.ErrorIs(t, err, errBoom)
}

func TestDeriveStatus(t *testing.T) {
	assert.Equal(t, domain.HealthStatusOK, deriveStatus(nil))
	assert.Equal(t, domain.HealthStatusError, deriveStatus(map[string]domain.SystemHealthCheck{
		"a": {Status: domain.HealthStatusDegraded},
		"b": {Status: domain.HealthStatusError},
	}))
}
