package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shuttle-dispatch-service/internal/domain"
)

func TestTimelineJoinsScheduleWithMasters(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	pick, drop := f.addPair(t, run.RunID)
	f.solver.out = &domain.SolverOutput{
		Status: "FEASIBLE",
		Routes: []domain.SolverRoute{{VehicleID: 501, TaskIDs: []int64{pick.TaskID, drop.TaskID}}},
	}
	_, err := f.p.Solve(context.Background(), run.RunID)
	require.NoError(t, err)

	timelines, err := f.p.Timeline(context.Background(), run.RunID)
	require.NoError(t, err)
	require.Len(t, timelines, 1)

	vt := timelines[0]
	assert.Equal(t, int64(501), vt.VehicleID)
	assert.Equal(t, "はと号", vt.VehicleName)
	assert.Equal(t, 3, vt.Seats)
	require.Len(t, vt.Stops, 4)

	depart := vt.Stops[0]
	assert.Equal(t, domain.EventDepart, depart.Kind)
	assert.Equal(t, "あおぞら園", depart.NodeName)
	assert.Nil(t, depart.TaskID)

	stop := vt.Stops[1]
	assert.Equal(t, domain.EventTask, stop.Kind)
	assert.Equal(t, "中央公園前", stop.NodeName)
	assert.Equal(t, domain.TaskPick, stop.TaskKind)
	assert.Equal(t, "user_7_20251021_1", stop.PairKey)
	assert.Equal(t, "佐藤花子", stop.UserName)
	assert.Equal(t, 1, stop.Passengers)
	require.NotNil(t, stop.TaskID)
	assert.Equal(t, pick.TaskID, *stop.TaskID)
	assert.Contains(t, stop.Meta, domain.EventMetaLegSec)
}

func TestTimelineGroupsVehiclesInOrder(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)
	day := f.day

	// Hand-written schedule across two vehicles, inserted unordered.
	mk := func(veh int64, seq int, kind domain.EventKind) domain.ScheduleEvent {
		return domain.ScheduleEvent{
			RunID: run.RunID, VehicleID: veh, Seq: seq, Kind: kind,
			NodeID: 100, ArriveAt: day.Add(8 * time.Hour), DepartAt: day.Add(8 * time.Hour),
		}
	}
	err := f.results.ReplaceForRun(context.Background(), run.RunID, []domain.ScheduleEvent{
		mk(502, 0, domain.EventDepart),
		mk(502, 1, domain.EventArrive),
		mk(501, 0, domain.EventDepart),
		mk(501, 1, domain.EventArrive),
	})
	require.NoError(t, err)

	timelines, err := f.p.Timeline(context.Background(), run.RunID)
	require.NoError(t, err)
	require.Len(t, timelines, 2)
	assert.Equal(t, int64(501), timelines[0].VehicleID)
	assert.Equal(t, "はと号", timelines[0].VehicleName)
	assert.Equal(t, int64(502), timelines[1].VehicleID)
	assert.Len(t, timelines[0].Stops, 2)
	assert.Len(t, timelines[1].Stops, 2)
}

func TestTimelineEmptyWithoutSchedule(t *testing.T) {
	f := newPipelineFixture(t)
	run := f.createRun(t)

	timelines, err := f.p.Timeline(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.NotNil(t, timelines)
	assert.Empty(t, timelines)
}

func TestTimelineUnknownRun(t *testing.T) {
	f := newPipelineFixture(t)

	_, err := f.p.Timeline(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}
