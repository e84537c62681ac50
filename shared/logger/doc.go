// Copyright 2026 LeadRelay
// SPDX-License-Identifier: Apache-2.0

/*
Package logger provides structured JSON logging for LeadRelay components.

Log entries are written to stdout as single-line JSON objects so they can
be consumed by any log aggregation stack. Each entry carries the component
name, instance id, container hostname, an optional user id and request id
for correlation, a message, and free-form fields.

Create a logger per component:

	log := logger.New("orchestrator")

Log with user and request context:

	log.Info("user-123", "req_a1b2", "model selected", map[string]interface{}{
	    "model_id": "claude-sonnet",
	    "score":    128.5,
	})

The logger reads INSTANCE_ID from the environment and detects the container
hostname automatically. Logger instances are safe for concurrent use.
*/
package logger
