package workload

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-sim/triage-sim/sim"
)

const sampleCSV = `patient_id,arrival_min,service_min,encounter_class,reason_description,age,priority,patient_history
p1,30,20,emergency,chest pain,54,2,prior MI in 2019
p2,5,15,wellness,annual exam,,,
p3,12,40,Emergency,abdominal pain,8,,
p4,45,10,ambulatory,ankle sprain,30,,
`

func TestReadEncounters_ParsesAllColumns(t *testing.T) {
	encounters, err := ReadEncounters(strings.NewReader(sampleCSV))

	require.NoError(t, err)
	require.Len(t, encounters, 4)

	first := encounters[0]
	assert.Equal(t, "p1", first.PatientID)
	assert.Equal(t, 30.0, first.ArrivalMin)
	assert.Equal(t, 20.0, first.ServiceMin)
	assert.Equal(t, "emergency", first.EncounterClass)
	assert.Equal(t, "chest pain", first.ReasonDescription)
	assert.Equal(t, 54, first.AgeYears)
	assert.Equal(t, 2, first.Priority)
	assert.Equal(t, "prior MI in 2019", first.PatientHistory)

	// Optional columns left blank stay at their zero values.
	second := encounters[1]
	assert.Equal(t, 0, second.AgeYears)
	assert.Equal(t, 0, second.Priority)
}

func TestReadEncounters_MissingRequiredColumn(t *testing.T) {
	data := "patient_id,arrival_min,service_min,encounter_class\np1,0,10,emergency\n"

	_, err := ReadEncounters(strings.NewReader(data))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "reason_description")
}

func TestReadEncounters_BadValues_ReportLineNumber(t *testing.T) {
	cases := []struct {
		name string
		row  string
	}{
		{"bad arrival", "p1,soon,10,emergency,chest pain"},
		{"bad service", "p1,0,long,emergency,chest pain"},
		{"bad age", "p1,0,10,emergency,chest pain\np2,1,10,wellness,exam,forty"},
	}
	header := "patient_id,arrival_min,service_min,encounter_class,reason_description"
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := header
			if tc.name == "bad age" {
				h += ",age"
			}
			_, err := ReadEncounters(strings.NewReader(h + "\n" + tc.row + "\n"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "line ")
		})
	}
}

func TestPrepare_FilterSortLimitRebase(t *testing.T) {
	encounters, err := ReadEncounters(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	// GIVEN a case-insensitive class filter
	out := Prepare(encounters, LoadOptions{ClassFilter: "EMERGENCY"})

	// THEN both emergency rows survive, sorted by arrival and re-based so
	// the earliest arrival is minute zero
	require.Len(t, out, 2)
	assert.Equal(t, "p3", out[0].PatientID)
	assert.Equal(t, 0.0, out[0].ArrivalMin)
	assert.Equal(t, "p1", out[1].PatientID)
	assert.Equal(t, 18.0, out[1].ArrivalMin)
}

func TestPrepare_LimitAppliesAfterSort(t *testing.T) {
	encounters, err := ReadEncounters(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	out := Prepare(encounters, LoadOptions{Limit: 2})

	// The two earliest arrivals survive regardless of file order.
	require.Len(t, out, 2)
	assert.Equal(t, "p2", out[0].PatientID)
	assert.Equal(t, "p3", out[1].PatientID)
	assert.Equal(t, 0.0, out[0].ArrivalMin)
	assert.Equal(t, 7.0, out[1].ArrivalMin)
}

func TestPrepare_EmptyAfterFilter(t *testing.T) {
	encounters, err := ReadEncounters(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	out := Prepare(encounters, LoadOptions{ClassFilter: "hospice"})

	assert.Empty(t, out)
}

func makeBatch(n int) []*sim.Encounter {
	encounters := make([]*sim.Encounter, n)
	for i := range encounters {
		encounters[i] = &sim.Encounter{PatientID: "p", ArrivalMin: float64(i * 10), ServiceMin: 5}
	}
	return encounters
}

func TestAssignPoissonArrivals_StartsAtZeroAndMonotonic(t *testing.T) {
	encounters := makeBatch(50)

	err := AssignPoissonArrivals(encounters, 0.5, rand.New(rand.NewSource(42)))

	require.NoError(t, err)
	assert.Equal(t, 0.0, encounters[0].ArrivalMin)
	for i := 1; i < len(encounters); i++ {
		assert.GreaterOrEqual(t, encounters[i].ArrivalMin, encounters[i-1].ArrivalMin,
			"arrival %d went backwards", i)
	}
}

func TestAssignPoissonArrivals_DeterministicPerSeed(t *testing.T) {
	a := makeBatch(20)
	b := makeBatch(20)

	require.NoError(t, AssignPoissonArrivals(a, 2.0, rand.New(rand.NewSource(7))))
	require.NoError(t, AssignPoissonArrivals(b, 2.0, rand.New(rand.NewSource(7))))

	for i := range a {
		assert.Equal(t, a[i].ArrivalMin, b[i].ArrivalMin, "arrival %d differs", i)
	}
}

func TestAssignPoissonArrivals_RejectsNonPositiveRate(t *testing.T) {
	assert.Error(t, AssignPoissonArrivals(makeBatch(2), 0, rand.New(rand.NewSource(1))))
	assert.Error(t, AssignPoissonArrivals(makeBatch(2), -1, rand.New(rand.NewSource(1))))
}
