// Package errs collects the sentinel error kinds DD surfaces at its RPC
// boundary (spec §6) and the retry/recovery classification of §7, in the
// style of weed/cluster/lock_manager/lock_manager.go's package-level
// `var XError = fmt.Errorf(...)` sentinels.
package errs

import "errors"

var (
	ErrOperationFailed             = errors.New("operation_failed")
	ErrTimedOut                    = errors.New("timed_out")
	ErrSnapDisableTLogPopFailed    = errors.New("snap_disable_tlog_pop_failed")
	ErrSnapStorageFailed           = errors.New("snap_storage_failed")
	ErrSnapTLogFailed              = errors.New("snap_tlog_failed")
	ErrSnapEnableTLogPopFailed     = errors.New("snap_enable_tlog_pop_failed")
	ErrSnapCoordFailed             = errors.New("snap_coord_failed")
	ErrSnapWithRecoveryUnsupported = errors.New("snap_with_recovery_unsupported")
	ErrMoveKeysConflict            = errors.New("movekeys_conflict")
	ErrDataMoveCancelled           = errors.New("data_move_cancelled")
	ErrDataMoveDestTeamNotFound    = errors.New("data_move_dest_team_not_found")
	ErrBrokenPromise               = errors.New("broken_promise")
	ErrWorkerRemoved               = errors.New("worker_removed")
	ErrPleaseReboot                = errors.New("please_reboot")
	ErrActorCancelled              = errors.New("actor_cancelled")
)

// normalDDQueueErrors is the §4.5/§7 "collaborator-recoverable zone": errors
// that cause the orchestrator to tear down and restart rather than propagate
// fatally.
var normalDDQueueErrors = map[error]bool{
	ErrMoveKeysConflict:         true,
	ErrBrokenPromise:            true,
	ErrDataMoveCancelled:        true,
	ErrDataMoveDestTeamNotFound: true,
}

// IsNormalDDQueueError reports whether err (or its wrapped cause) belongs to
// the normalDDQueueErrors set named in §4.5 and §7.
func IsNormalDDQueueError(err error) bool {
	for sentinel := range normalDDQueueErrors {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err is a transactional error the
// transactional-retry zone (§7) should retry after back-off rather than
// surface. FoundationDB's own onError classifies errors by numeric code;
// here only ErrActorCancelled and the normalDDQueueErrors set are
// non-retryable. Every other error, including the remaining sentinels
// above and context errors, is treated as retryable, on the basis that
// transaction conflicts and network hiccups are the common case.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrActorCancelled) {
		return false
	}
	for sentinel := range normalDDQueueErrors {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}
