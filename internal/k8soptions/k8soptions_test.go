package k8soptions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.sykli.dev/core/internal/core/domain"
	"go.sykli.dev/core/internal/k8soptions"
)

func strPtr(s string) *string { return &s }

func TestValidate_Nil(t *testing.T) {
	require.NoError(t, k8soptions.Validate(nil))
}

func TestValidate_Memory(t *testing.T) {
	require.NoError(t, k8soptions.Validate(&domain.K8sOptions{
		Resources: &domain.ResourceOptions{RequestsMemory: strPtr("512Mi")},
	}))

	err := k8soptions.Validate(&domain.K8sOptions{
		Resources: &domain.ResourceOptions{RequestsMemory: strPtr("32gb")},
	})
	require.ErrorIs(t, err, domain.ErrInvalidMemoryQuantity)
	assert.Contains(t, err.Error(), "invalid memory quantity")
}

func TestValidate_CPU(t *testing.T) {
	require.NoError(t, k8soptions.Validate(&domain.K8sOptions{
		Resources: &domain.ResourceOptions{LimitsCPU: strPtr("500m")},
	}))
	err := k8soptions.Validate(&domain.K8sOptions{
		Resources: &domain.ResourceOptions{LimitsCPU: strPtr("half-a-core")},
	})
	require.ErrorIs(t, err, domain.ErrInvalidCPUQuantity)
}

func TestValidate_Toleration(t *testing.T) {
	err := k8soptions.Validate(&domain.K8sOptions{
		Tolerations: []domain.Toleration{{Operator: "Bogus"}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidToleration)
}

func TestValidate_DNSPolicy(t *testing.T) {
	bad := "NotAPolicy"
	err := k8soptions.Validate(&domain.K8sOptions{DNSPolicy: &bad})
	require.ErrorIs(t, err, domain.ErrInvalidDNSPolicy)
}

func TestValidate_Volume(t *testing.T) {
	err := k8soptions.Validate(&domain.K8sOptions{
		Volumes: []domain.VolumeSpec{{Name: "cache", MountPath: "relative/path"}},
	})
	require.ErrorIs(t, err, domain.ErrInvalidVolumeMount)
}

func TestMerge_ScalarTaskWins(t *testing.T) {
	base := &domain.K8sOptions{ServiceAccountName: strPtr("default")}
	task := &domain.K8sOptions{ServiceAccountName: strPtr("ci-runner")}

	merged := k8soptions.Merge(base, task)
	assert.Equal(t, "ci-runner", *merged.ServiceAccountName)
}

func TestMerge_ScalarFallsBackToBase(t *testing.T) {
	base := &domain.K8sOptions{ServiceAccountName: strPtr("default")}
	task := &domain.K8sOptions{}

	merged := k8soptions.Merge(base, task)
	assert.Equal(t, "default", *merged.ServiceAccountName)
}

func TestMerge_LabelsDeepMergeTaskWinsOnCollision(t *testing.T) {
	base := &domain.K8sOptions{Labels: map[string]string{"team": "platform", "env": "prod"}}
	task := &domain.K8sOptions{Labels: map[string]string{"team": "ci"}}

	merged := k8soptions.Merge(base, task)
	assert.Equal(t, "ci", merged.Labels["team"])
	assert.Equal(t, "prod", merged.Labels["env"])
}

func TestMerge_TolerationsReplaceWholesale(t *testing.T) {
	base := &domain.K8sOptions{Tolerations: []domain.Toleration{{Key: "base-taint", Operator: domain.TolerationExists}}}
	task := &domain.K8sOptions{Tolerations: []domain.Toleration{{Key: "task-taint", Operator: domain.TolerationExists}}}

	merged := k8soptions.Merge(base, task)
	require.Len(t, merged.Tolerations, 1)
	assert.Equal(t, "task-taint", merged.Tolerations[0].Key)
}

func TestMerge_ResourcesFieldByField(t *testing.T) {
	base := &domain.K8sOptions{Resources: &domain.ResourceOptions{
		RequestsCPU: strPtr("100m"), RequestsMemory: strPtr("128Mi"),
	}}
	task := &domain.K8sOptions{Resources: &domain.ResourceOptions{
		RequestsMemory: strPtr("256Mi"),
	}}

	merged := k8soptions.Merge(base, task)
	require.NotNil(t, merged.Resources)
	assert.Equal(t, "100m", *merged.Resources.RequestsCPU, "unset task field falls back to base")
	assert.Equal(t, "256Mi", *merged.Resources.RequestsMemory, "set task field wins")
}

func TestMerge_NilBaseOrTask(t *testing.T) {
	task := &domain.K8sOptions{ServiceAccountName: strPtr("ci")}
	assert.Same(t, task, k8soptions.Merge(nil, task))

	base := &domain.K8sOptions{ServiceAccountName: strPtr("default")}
	assert.Same(t, base, k8soptions.Merge(base, nil))
}
