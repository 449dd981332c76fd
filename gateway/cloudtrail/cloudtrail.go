// Package cloudtrail adapts AWS CloudTrail into an evidence source. API
// calls touching the target resource are translated into raw alerts; only
// event names with a known security meaning are kept.
package cloudtrail

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"

	"github.com/yairfalse/vahti/gateway"
	"github.com/yairfalse/vahti/types"
)

// SourceName is the registered name of this source.
const SourceName = "cloudtrail"

// DefaultWindow is how far back events are fetched when the source config
// does not say.
const DefaultWindow = time.Hour

const maxResultsPerPage = 50

// LookupAPI is the slice of the CloudTrail client this source uses.
type LookupAPI interface {
	LookupEvents(ctx context.Context, params *cloudtrail.LookupEventsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.LookupEventsOutput, error)
}

// suspiciousEvents maps CloudTrail event names worth alerting on to their
// severity and technique tags. Everything else is routine API noise.
var suspiciousEvents = map[string]struct {
	severity types.Severity
	tags     []string
}{
	"StopLogging":                    {types.SeverityCritical, []string{"defense_evasion"}},
	"DeleteTrail":                    {types.SeverityCritical, []string{"defense_evasion"}},
	"DeleteFlowLogs":                 {types.SeverityHigh, []string{"defense_evasion"}},
	"CreateAccessKey":                {types.SeverityMedium, []string{"credential_access"}},
	"CreateUser":                     {types.SeverityMedium, []string{"persistence"}},
	"AttachUserPolicy":               {types.SeverityHigh, []string{"privilege_escalation"}},
	"PutUserPolicy":                  {types.SeverityHigh, []string{"privilege_escalation"}},
	"AuthorizeSecurityGroupIngress":  {types.SeverityMedium, []string{"lateral_movement"}},
	"ModifyInstanceAttribute":        {types.SeverityMedium, []string{"defense_evasion"}},
	"CreateSnapshot":                 {types.SeverityMedium, []string{"exfiltration"}},
	"ModifySnapshotAttribute":        {types.SeverityHigh, []string{"exfiltration"}},
	"GetPasswordData":                {types.SeverityHigh, []string{"credential_access"}},
	"AssumeRole":                     {types.SeverityLow, nil},
	"ConsoleLogin":                   {types.SeverityLow, nil},
	"UpdateAssumeRolePolicyDocument": {types.SeverityHigh, []string{"privilege_escalation"}},
}

// Source queries CloudTrail for API activity around a target resource.
type Source struct {
	client LookupAPI
	window time.Duration
}

func init() {
	gateway.Register(SourceName, func(cfg gateway.SourceConfig) (gateway.EvidenceSource, error) {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return NewSource(cloudtrail.NewFromConfig(awsCfg), cfg.Window), nil
	})
}

// NewSource creates a source over an existing client. window zero means
// DefaultWindow.
func NewSource(client LookupAPI, window time.Duration) *Source {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Source{client: client, window: window}
}

// Name identifies this source in factors and logs.
func (s *Source) Name() string { return SourceName }

// FetchAlerts returns alerts for suspicious CloudTrail events naming the
// target resource within the lookback window. Pagination follows NextToken
// until the window is exhausted or ctx is done.
func (s *Source) FetchAlerts(ctx context.Context, target string) ([]types.RawAlert, error) {
	endTime := time.Now()
	startTime := endTime.Add(-s.window)

	input := &cloudtrail.LookupEventsInput{
		LookupAttributes: []cttypes.LookupAttribute{{
			AttributeKey:   cttypes.LookupAttributeKeyResourceName,
			AttributeValue: aws.String(target),
		}},
		StartTime:  &startTime,
		EndTime:    &endTime,
		MaxResults: aws.Int32(maxResultsPerPage),
	}

	var alerts []types.RawAlert
	for {
		output, err := s.client.LookupEvents(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to lookup CloudTrail events: %w", err)
		}

		for _, event := range output.Events {
			if alert, ok := toAlert(event, target); ok {
				alerts = append(alerts, alert)
			}
		}

		if output.NextToken == nil {
			break
		}
		input.NextToken = output.NextToken
	}

	return alerts, nil
}

// toAlert converts one CloudTrail event, dropping routine API calls.
func toAlert(event cttypes.Event, target string) (types.RawAlert, bool) {
	name := aws.ToString(event.EventName)
	meta, ok := suspiciousEvents[name]
	if !ok {
		return types.RawAlert{}, false
	}

	return types.RawAlert{
		Source:        SourceName,
		Ref:           aws.ToString(event.EventId),
		Target:        target,
		Severity:      meta.severity,
		Timestamp:     aws.ToTime(event.EventTime),
		TechniqueTags: meta.tags,
		Summary:       fmt.Sprintf("%s by %s", name, aws.ToString(event.Username)),
	}, true
}
