// Package config loads the network descriptor that configures a
// running OpenAgents network: its transports, its mod pipeline order,
// its workspace, and its observability settings.
//
// # Overview
//
// A descriptor is a YAML document (spec.md §6):
//
//	name: local-dev
//	mode: standalone
//	host: 0.0.0.0
//	workspace: /var/lib/openagents
//	transports:
//	  - type: grpc
//	    listen_addr: 0.0.0.0:50051
//	  - type: http
//	    listen_addr: 0.0.0.0:8090
//	    auth_token: <bearer token, taken literally>
//	mods:
//	  - name: messaging
//	  - name: shared_document
//	observability:
//	  prometheus_port: "9090"
//	  log_level: INFO
//
// # Environment overrides
//
// OPENAGENTS_WORKSPACE, JAEGER_ENDPOINT, PROMETHEUS_PORT, ENVIRONMENT,
// and LOG_LEVEL override the corresponding descriptor fields after
// parsing, mirroring the teacher's env-first AppConfig precedence.
//
// # Usage
//
//	d, err := config.Load("network.yaml")
//	if err != nil { ... }
//	if err := d.Validate(); err != nil { ... }
package config
