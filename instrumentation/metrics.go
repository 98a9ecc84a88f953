package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Authorization flow
	LoginsTotal     metric.Int64Counter
	CodesIssued     metric.Int64Counter
	CodesExchanged  metric.Int64Counter
	TokensRefreshed metric.Int64Counter
	UserinfoServed  metric.Int64Counter

	// Security
	AuthFailures      metric.Int64Counter
	RateLimitExceeded metric.Int64Counter
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"auth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"auth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http.request.duration histogram: %w", err)
	}

	m.LoginsTotal, err = serverMeter.Int64Counter(
		"auth.logins.total",
		metric.WithDescription("Number of successful first-party logins"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create logins.total counter: %w", err)
	}

	m.CodesIssued, err = serverMeter.Int64Counter(
		"auth.codes.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create codes.issued counter: %w", err)
	}

	m.CodesExchanged, err = serverMeter.Int64Counter(
		"auth.codes.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create codes.exchanged counter: %w", err)
	}

	m.TokensRefreshed, err = serverMeter.Int64Counter(
		"auth.tokens.refreshed",
		metric.WithDescription("Number of access tokens issued through refresh grants"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create tokens.refreshed counter: %w", err)
	}

	m.UserinfoServed, err = serverMeter.Int64Counter(
		"auth.userinfo.served",
		metric.WithDescription("Number of userinfo responses served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create userinfo.served counter: %w", err)
	}

	m.AuthFailures, err = securityMeter.Int64Counter(
		"auth.failures.total",
		metric.WithDescription("Number of failed authentication attempts"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create failures.total counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"auth.ratelimit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ratelimit.exceeded counter: %w", err)
	}

	return m, nil
}
