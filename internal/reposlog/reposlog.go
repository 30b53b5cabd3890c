// Package reposlog centralizes the logrus field names repx's components
// tag their log lines with, the way boskos/ranch.go consistently keys
// its own entries by "name", "type", "state" across ranch, mason, and
// the janitor rather than letting each package invent its own labels.
package reposlog

import "github.com/sirupsen/logrus"

// Field names shared across every component that logs about a job, run,
// target, or wave.
const (
	FieldJobID  = "job_id"
	FieldRunID  = "run_id"
	FieldTarget = "target"
	FieldWave   = "wave"
	FieldBatch  = "batch_id"
)

// Job returns a logrus.Entry pre-populated with jobID under the shared
// field name, ready for further WithField/WithError chaining.
func Job(jobID string) *logrus.Entry {
	return logrus.WithField(FieldJobID, jobID)
}

// Run returns a logrus.Entry pre-populated with runID.
func Run(runID string) *logrus.Entry {
	return logrus.WithField(FieldRunID, runID)
}

// Target returns a logrus.Entry pre-populated with targetName.
func Target(targetName string) *logrus.Entry {
	return logrus.WithField(FieldTarget, targetName)
}
