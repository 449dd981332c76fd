// Package awsec2 implements host isolation for EC2 instances. Isolation
// swaps the instance's security groups for a single quarantine group that
// permits no traffic, which cuts the host off without stopping it so
// forensics can still reach it out of band.
package awsec2

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/yairfalse/vahti/executor"
)

// EC2API is the slice of the EC2 client the isolator uses.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
}

// Isolator quarantines EC2 instances. Target values are instance IDs.
type Isolator struct {
	client            EC2API
	quarantineGroupID string
}

// NewIsolator creates an isolator that moves instances into the given
// quarantine security group.
func NewIsolator(client EC2API, quarantineGroupID string) (*Isolator, error) {
	if quarantineGroupID == "" {
		return nil, fmt.Errorf("quarantine security group id cannot be empty")
	}
	return &Isolator{client: client, quarantineGroupID: quarantineGroupID}, nil
}

// NewIsolatorFromEnv builds an isolator with a real EC2 client from the
// ambient AWS credential chain.
func NewIsolatorFromEnv(ctx context.Context, region, quarantineGroupID string) (*Isolator, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewIsolator(ec2.NewFromConfig(cfg), quarantineGroupID)
}

// CheckState reports whether the instance already carries only the
// quarantine group.
func (i *Isolator) CheckState(ctx context.Context, target string) (executor.StateProbe, error) {
	groups, err := i.currentGroups(ctx, target)
	if err != nil {
		return executor.StateProbe{}, err
	}

	if len(groups) == 1 && groups[0] == i.quarantineGroupID {
		return executor.StateProbe{
			InDesiredState: true,
			Detail:         fmt.Sprintf("instance %s already quarantined in %s", target, i.quarantineGroupID),
		}, nil
	}

	return executor.StateProbe{
		Detail: fmt.Sprintf("instance %s in groups %s", target, strings.Join(groups, ",")),
	}, nil
}

// Execute replaces the instance's security groups with the quarantine
// group.
func (i *Isolator) Execute(ctx context.Context, req executor.ActionRequest) (executor.ActionOutcome, error) {
	previous, err := i.currentGroups(ctx, req.Target)
	if err != nil {
		return executor.ActionOutcome{}, err
	}

	_, err = i.client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId: aws.String(req.Target),
		Groups:     []string{i.quarantineGroupID},
	})
	if err != nil {
		return executor.ActionOutcome{}, fmt.Errorf("failed to quarantine instance %s: %w", req.Target, err)
	}

	return executor.ActionOutcome{
		Detail: fmt.Sprintf("instance %s moved from groups [%s] to quarantine group %s",
			req.Target, strings.Join(previous, ","), i.quarantineGroupID),
	}, nil
}

// currentGroups returns the security group IDs attached to the instance.
func (i *Isolator) currentGroups(ctx context.Context, instanceID string) ([]string, error) {
	output, err := i.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}

	for _, reservation := range output.Reservations {
		for _, instance := range reservation.Instances {
			if aws.ToString(instance.InstanceId) != instanceID {
				continue
			}
			groups := make([]string, 0, len(instance.SecurityGroups))
			for _, g := range instance.SecurityGroups {
				groups = append(groups, aws.ToString(g.GroupId))
			}
			return groups, nil
		}
	}

	return nil, fmt.Errorf("instance %s not found", instanceID)
}
