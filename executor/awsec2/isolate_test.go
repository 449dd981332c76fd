package awsec2

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/executor"
)

// mockEC2 tracks group state for one instance.
type mockEC2 struct {
	instanceID  string
	groups      []string
	describeErr error
	modifyErr   error
	modified    bool
}

func (m *mockEC2) DescribeInstances(_ context.Context, params *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if m.describeErr != nil {
		return nil, m.describeErr
	}
	if len(params.InstanceIds) != 1 || params.InstanceIds[0] != m.instanceID {
		return &ec2.DescribeInstancesOutput{}, nil
	}

	groups := make([]ec2types.GroupIdentifier, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, ec2types.GroupIdentifier{GroupId: aws.String(g)})
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{
			Instances: []ec2types.Instance{{
				InstanceId:     aws.String(m.instanceID),
				SecurityGroups: groups,
			}},
		}},
	}, nil
}

func (m *mockEC2) ModifyInstanceAttribute(_ context.Context, params *ec2.ModifyInstanceAttributeInput, _ ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error) {
	if m.modifyErr != nil {
		return nil, m.modifyErr
	}
	m.groups = params.Groups
	m.modified = true
	return &ec2.ModifyInstanceAttributeOutput{}, nil
}

func TestExecuteQuarantinesInstance(t *testing.T) {
	mock := &mockEC2{instanceID: "i-abc123", groups: []string{"sg-web", "sg-ssh"}}
	isolator, err := NewIsolator(mock, "sg-quarantine")
	require.NoError(t, err)

	outcome, err := isolator.Execute(context.Background(), executor.ActionRequest{Target: "i-abc123"})
	require.NoError(t, err)

	assert.True(t, mock.modified)
	assert.Equal(t, []string{"sg-quarantine"}, mock.groups)
	assert.Contains(t, outcome.Detail, "sg-web,sg-ssh")
	assert.Contains(t, outcome.Detail, "sg-quarantine")
}

func TestCheckStateDetectsQuarantine(t *testing.T) {
	mock := &mockEC2{instanceID: "i-abc123", groups: []string{"sg-quarantine"}}
	isolator, err := NewIsolator(mock, "sg-quarantine")
	require.NoError(t, err)

	probe, err := isolator.CheckState(context.Background(), "i-abc123")
	require.NoError(t, err)
	assert.True(t, probe.InDesiredState)
}

func TestCheckStateNotQuarantined(t *testing.T) {
	tests := []struct {
		name   string
		groups []string
	}{
		{"normal groups", []string{"sg-web"}},
		{"quarantine plus extra", []string{"sg-quarantine", "sg-web"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockEC2{instanceID: "i-abc123", groups: tt.groups}
			isolator, err := NewIsolator(mock, "sg-quarantine")
			require.NoError(t, err)

			probe, err := isolator.CheckState(context.Background(), "i-abc123")
			require.NoError(t, err)
			assert.False(t, probe.InDesiredState)
		})
	}
}

func TestExecuteUnknownInstance(t *testing.T) {
	mock := &mockEC2{instanceID: "i-abc123", groups: []string{"sg-web"}}
	isolator, err := NewIsolator(mock, "sg-quarantine")
	require.NoError(t, err)

	_, err = isolator.Execute(context.Background(), executor.ActionRequest{Target: "i-missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.False(t, mock.modified)
}

func TestExecuteModifyFails(t *testing.T) {
	mock := &mockEC2{
		instanceID: "i-abc123",
		groups:     []string{"sg-web"},
		modifyErr:  errors.New("unauthorized"),
	}
	isolator, err := NewIsolator(mock, "sg-quarantine")
	require.NoError(t, err)

	_, err = isolator.Execute(context.Background(), executor.ActionRequest{Target: "i-abc123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to quarantine")
}

func TestNewIsolatorRequiresGroup(t *testing.T) {
	_, err := NewIsolator(&mockEC2{}, "")
	require.Error(t, err)
}
