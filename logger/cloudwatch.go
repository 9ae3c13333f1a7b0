package logger

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// cloudWatchAPI is the subset of the CloudWatch client used here.
type cloudWatchAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
	PutDashboard(ctx context.Context, in *cloudwatch.PutDashboardInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error)
}

// maxDatumsPerCall stays under the PutMetricData request limit.
const maxDatumsPerCall = 500

var (
	cwClient    cloudWatchAPI
	cwNamespace = "MarketPulse"
	cwDashboard = "MarketPulse"
)

// InitCloudWatch creates the CloudWatch client. An empty region falls back
// to AWS_REGION. Publishing stays disabled when the AWS config cannot load.
func InitCloudWatch(ctx context.Context, region, namespace, dashboard string) {
	log := GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	if namespace != "" {
		cwNamespace = namespace
	}
	if dashboard != "" {
		cwDashboard = dashboard
	}
	cwClient = cloudwatch.NewFromConfig(cfg)

	log.WithFields(Fields{"region": region, "namespace": cwNamespace}).Info("initialized CloudWatch client")
	CreateDefaultDashboard(ctx)
}

// publishMetrics is a no-op until InitCloudWatch succeeded.
func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	if cwClient == nil || len(data) == 0 {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")

	for start := 0; start < len(data); start += maxDatumsPerCall {
		end := start + maxDatumsPerCall
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]
		if _, err := cwClient.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(cwNamespace),
			MetricData: chunk,
		}); err != nil {
			log.WithError(err).WithFields(Fields{"metrics": metricNames(chunk)}).Warn("failed to publish CloudWatch metrics")
			return
		}
	}
	log.WithFields(Fields{"count": len(data)}).Debug("published metrics to CloudWatch")
}

type dashboardBody struct {
	Widgets []dashboardWidget `json:"widgets"`
}

type dashboardWidget struct {
	Type       string           `json:"type"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Properties widgetProperties `json:"properties"`
}

type widgetProperties struct {
	Metrics [][]string `json:"metrics"`
	Period  int        `json:"period"`
	Stat    string     `json:"stat"`
	Title   string     `json:"title"`
	Region  string     `json:"region,omitempty"`
}

func metricWidget(title, stat string, period int, names ...string) dashboardWidget {
	rows := make([][]string, 0, len(names))
	for _, n := range names {
		rows = append(rows, []string{cwNamespace, n})
	}
	return dashboardWidget{
		Type:   "metric",
		Width:  24,
		Height: 6,
		Properties: widgetProperties{
			Metrics: rows,
			Period:  period,
			Stat:    stat,
			Title:   title,
			Region:  os.Getenv("AWS_REGION"),
		},
	}
}

// defaultDashboard describes the pipeline and host panels for the metrics
// that StartReport publishes.
func defaultDashboard() ([]byte, error) {
	return json.Marshal(dashboardBody{Widgets: []dashboardWidget{
		metricWidget("MarketPulse COT Pipeline", "Sum", 300,
			"YearsFetched", "YearsFailed", "CacheHits", "CacheMisses", "RowsDropped"),
		metricWidget("MarketPulse Host", "Average", 60,
			"CPUPercent", "MemoryMB", "DiskMB"),
		metricWidget("MarketPulse Network", "Sum", 300,
			"NetBytesSent", "NetBytesRecv"),
	}})
}

// CreateDefaultDashboard puts the pipeline dashboard. Failures are only logged.
func CreateDefaultDashboard(ctx context.Context) {
	if cwClient == nil {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")

	body, err := defaultDashboard()
	if err != nil {
		log.WithError(err).Warn("failed to encode CloudWatch dashboard")
		return
	}
	if _, err := cwClient.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(cwDashboard),
		DashboardBody: aws.String(string(body)),
	}); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}

func metricNames(data []cwtypes.MetricDatum) string {
	names := make([]string, 0, len(data))
	for _, datum := range data {
		if datum.MetricName != nil {
			names = append(names, *datum.MetricName)
		}
	}
	return strings.Join(names, ",")
}
