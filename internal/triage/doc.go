// Package triage provides the business boundary for warden's WAF event triage.
// It defines the deterministic severity table (Classify), campaign
// revalidation (Aggregate), the Engine (one model call plus extraction), the
// Service that runs the analyze and monitor workflows against a Backend, and
// the domain models those workflows report.
package triage
