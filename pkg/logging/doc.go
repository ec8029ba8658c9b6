// Package logging provides subsystem-tagged structured logging for refsession.
//
// It is a thin layer over log/slog. Every entry carries a subsystem attribute
// so output from the scheduler, the stores and the CLI can be told apart.
//
// # Usage
//
//	logging.Init(logging.LevelInfo, os.Stderr)
//
//	logging.Info("RefreshScheduler", "Starting (mode=%s)", mode)
//	logging.Debug("CredentialStore", "External change detected in %s", dir)
//	logging.Error("RefreshCoordinator", err, "Refresh failed")
//
// # Security audit
//
// Changes to the stored session are recorded with Audit. Audit lines are
// emitted at INFO with a SECURITY_AUDIT prefix and key-value attributes so they
// can be filtered in log aggregation:
//
//	logging.Audit(logging.AuditEvent{
//		Action:  "credential_cleared",
//		Outcome: "success",
//		Origin:  store.Origin(),
//	})
//
// Token values are never logged. Origins are shortened with TruncateID.
package logging
