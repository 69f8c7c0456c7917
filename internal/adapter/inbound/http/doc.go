// Package http serves the operational endpoints of a running seatswap:
//
//	GET /metrics  - Prometheus exposition of the seatswap_* metrics
//	GET /healthz  - JSON health report; 503 when degraded
//
// The listener is optional and binds to localhost by default. It exposes no
// way to change the desired state or trigger portal actions.
package http
