package component

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/app/engine/scan"
	"github.com/Vimbi/cryptocurrency-investments-sub000/internal/models"
	"github.com/Vimbi/cryptocurrency-investments-sub000/observability"
)

func TestParseLimit(t *testing.T) {
	limit, err := parseLimit("100")
	require.NoError(t, err)
	require.Equal(t, 100, limit)

	for _, raw := range []string{"0", "-1", "1001", "abc", ""} {
		_, err := parseLimit(raw)
		require.Error(t, err, "limit %q", raw)
	}
}

func TestQueueEnqueuerRoutesByNetwork(t *testing.T) {
	obs := observability.Make("debug", "text")
	btc := scan.NewQueue(obs, models.NetworkBTC, 4)
	enqueuer := &queueEnqueuer{
		log:    obs.Log(),
		queues: map[models.Network]*scan.Queue{models.NetworkBTC: btc},
	}

	enqueuer.EnqueueScan(models.NetworkBTC, "t1")
	// unknown network must not panic
	enqueuer.EnqueueScan(models.NetworkTRON, "t2")

	btc.Close()
	var drained []string
	for id := range btc.Jobs() {
		drained = append(drained, id)
	}
	require.Equal(t, []string{"t1"}, drained)
}
