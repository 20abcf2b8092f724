// Package infra holds the adapters behind the core interfaces: result
// sinks (InfluxDB, Prometheus, MQTT), run stores, input files, logging and
// error reporting. Core packages never import infra.
package infra
