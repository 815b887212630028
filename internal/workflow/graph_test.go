package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/portail-univ/demande-api/internal/models"
)

var validTransitions = [][2]models.DemandeStatus{
	{models.StatusSubmitted, models.StatusReceived},
	{models.StatusReceived, models.StatusInProgress},
	{models.StatusReceived, models.StatusRejected},
	{models.StatusInProgress, models.StatusAwaitingInfo},
	{models.StatusInProgress, models.StatusApproved},
	{models.StatusInProgress, models.StatusRejected},
	{models.StatusAwaitingInfo, models.StatusInProgress},
	{models.StatusAwaitingInfo, models.StatusRejected},
	{models.StatusApproved, models.StatusProcessed},
	{models.StatusRejected, models.StatusArchived},
	{models.StatusProcessed, models.StatusArchived},
}

func TestRegistryAndGraphAgreeOnTerminal(t *testing.T) {
	tables := DefaultTables()
	for _, status := range AllStatuses() {
		meta, ok := Meta(status)
		require.True(t, ok, "status %s missing from registry", status)
		require.Equal(t, meta.Terminal, tables.IsTerminal(status),
			"registry terminal flag and graph disagree for %s", status)
		require.Equal(t, meta.Terminal, len(tables.AllowedTransitions(status)) == 0,
			"allowed transitions emptiness disagrees with terminal flag for %s", status)
	}
}

func TestArchivedIsTheOnlyTerminalStatus(t *testing.T) {
	tables := DefaultTables()
	for _, status := range AllStatuses() {
		meta, _ := Meta(status)
		if status == models.StatusArchived {
			require.True(t, meta.Terminal)
			require.True(t, tables.IsTerminal(status))
			continue
		}
		// REJECTED and PROCESSED still archive, so the lifecycle only ever
		// ends in ARCHIVED
		require.False(t, meta.Terminal, "unexpected terminal flag on %s", status)
		require.NotEmpty(t, tables.AllowedTransitions(status))
	}
}

func TestEveryStatusCoveredByGraph(t *testing.T) {
	tables := DefaultTables()
	require.Len(t, tables.Graph, len(AllStatuses()))
	for _, status := range AllStatuses() {
		_, ok := tables.Graph[status]
		require.True(t, ok, "status %s missing from graph", status)
	}
}

func TestCanTransitionMatchesFixedSet(t *testing.T) {
	tables := DefaultTables()
	valid := make(map[string]bool, len(validTransitions))
	for _, pair := range validTransitions {
		valid[TransitionKey(pair[0], pair[1])] = true
	}

	count := 0
	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			got := tables.CanTransition(from, to)
			require.Equal(t, valid[TransitionKey(from, to)], got,
				"unexpected CanTransition(%s, %s)", from, to)
			if got {
				count++
			}
		}
	}
	require.Equal(t, len(validTransitions), count)
}

func TestNoSelfTransitions(t *testing.T) {
	tables := DefaultTables()
	for _, status := range AllStatuses() {
		require.False(t, tables.CanTransition(status, status), "self-loop on %s", status)
	}
}

func TestUnknownStatusIsHarmless(t *testing.T) {
	tables := DefaultTables()
	unknown := models.DemandeStatus("DRAFT")
	require.Empty(t, tables.AllowedTransitions(unknown))
	require.False(t, tables.CanTransition(unknown, models.StatusReceived))
	require.False(t, tables.CanTransition(models.StatusReceived, unknown))
	require.False(t, tables.IsTerminal(unknown))
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("IN_PROGRESS")
	require.NoError(t, err)
	require.Equal(t, models.StatusInProgress, status)

	_, err = ParseStatus("in_progress")
	require.Error(t, err)
	_, err = ParseStatus("")
	require.Error(t, err)
}
