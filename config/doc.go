// Package config loads orchestrator configuration from TOML or YAML files.
//
// The decoder is chosen by file extension. Unknown keys are rejected in
// both formats.
//
//	shutdown_grace_period = "30s"
//
//	[services.llm]
//	capacity = 4000
//	refill_interval = "1m"      # or refill_rate = 66.7 (units per second)
//	max_queue_depth = 1000
//	worker_count = 1
//	queue_full_policy = "fail-fast"
//
//	[gates.browser]
//	capacity = 10
//
// File.Specs pairs each configured service with its executor.
package config
