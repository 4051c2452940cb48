package services

import "github.com/custodia-labs/nestsync/internal/core/domain"

type syncAction int

const (
	actionSkip syncAction = iota
	actionPull
	actionPush
)

func (a syncAction) String() string {
	switch a {
	case actionPull:
		return "pull"
	case actionPush:
		return "push"
	default:
		return "skip"
	}
}

// localFile is the local side of a comparison.
type localFile struct {
	exists bool
	fp     domain.Fingerprint
}

// decision is what the orchestrator does after comparing.
type decision struct {
	action   syncAction
	conflict bool
	note     string
}

// decide applies the decision table for mode.
//
// Without a baseline (never synced) an existing remote is adopted: a fresh
// install must not overwrite real remote data with an empty database.
// With a baseline, each side is "changed" when its fingerprint differs
// from the one recorded at the last successful sync.
func decide(mode domain.Mode, state domain.SyncState, local localFile, remote domain.RemoteInfo) decision {
	switch {
	case !local.exists && !remote.Exists:
		return decision{action: actionSkip, note: domain.NoteLocalAbsent}
	case !remote.Exists:
		if mode == domain.ModeAuto || mode == domain.ModeForcePush || mode == domain.ModePushIfChanged {
			return decision{action: actionPush}
		}
		return decision{action: actionSkip, note: domain.NoteRemoteAbsent}
	case !local.exists:
		if mode == domain.ModeForcePush || mode == domain.ModePushIfChanged {
			return decision{action: actionSkip, note: domain.NoteLocalAbsent}
		}
		return decision{action: actionPull}
	}

	baseline := state.HasBaseline()
	localChanged := !baseline || !local.fp.Equal(state.LastLocal)
	remoteChanged := !baseline || !remote.Fingerprint.Equal(state.LastRemote)

	if !localChanged && !remoteChanged {
		return decision{action: actionSkip, note: domain.NoteUnchanged}
	}

	switch mode {
	case domain.ModeForcePull:
		return decision{action: actionPull}
	case domain.ModeForcePush:
		if baseline && localChanged && remoteChanged {
			return decision{action: actionPush, conflict: true, note: domain.NoteConflictResolvedLocal}
		}
		return decision{action: actionPush}
	case domain.ModePushIfChanged:
		switch {
		case !baseline || !localChanged:
			return decision{action: actionSkip, note: domain.NoteRemoteNewer}
		case remoteChanged:
			return decision{action: actionPush, conflict: true, note: domain.NoteConflictResolvedLocal}
		default:
			return decision{action: actionPush}
		}
	case domain.ModePullIfNewer:
		if remoteChanged && (!localChanged || !baseline) {
			return decision{action: actionPull}
		}
		return decision{action: actionSkip, note: domain.NoteLocalNewer}
	default:
		switch {
		case !baseline:
			return decision{action: actionPull}
		case remoteChanged && !localChanged:
			return decision{action: actionPull}
		case localChanged && !remoteChanged:
			return decision{action: actionPush}
		default:
			return decision{action: actionPush, conflict: true, note: domain.NoteConflictResolvedLocal}
		}
	}
}
