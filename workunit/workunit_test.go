package workunit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TestDays_Inclusive verifies both ends of the range are included
func TestDays_Inclusive(t *testing.T) {
	days, err := Days(date(2020, 2, 27), date(2020, 3, 1), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2020, 2, 27), date(2020, 2, 28), date(2020, 2, 29), date(2020, 3, 1),
	}, days)
}

// TestDays_RejectsReversedRange verifies from after to is an error
func TestDays_RejectsReversedRange(t *testing.T) {
	_, err := Days(date(2020, 1, 2), date(2020, 1, 1), time.UTC)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

// TestPendingDays_SkipsCovered verifies days with a stored publication are
// dropped
func TestPendingDays_SkipsCovered(t *testing.T) {
	existing := []time.Time{
		time.Date(2020, 1, 1, 7, 30, 0, 0, time.UTC),
		time.Date(2020, 1, 3, 23, 0, 0, 0, time.UTC),
	}

	days, err := PendingDays(date(2020, 1, 1), date(2020, 1, 4), existing, time.UTC, true)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2020, 1, 2), date(2020, 1, 4)}, days)

	days, err = PendingDays(date(2020, 1, 1), date(2020, 1, 4), existing, time.UTC, false)
	require.NoError(t, err)
	assert.Len(t, days, 4, "skipExisting=false keeps every day")
}

// TestPendingDays_AllCovered verifies a fully covered range is empty
func TestPendingDays_AllCovered(t *testing.T) {
	existing := []time.Time{time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)}

	days, err := PendingDays(date(2020, 1, 1), date(2020, 1, 1), existing, time.UTC, true)
	require.NoError(t, err)
	assert.Empty(t, days)
}

// TestPendingDays_PublisherLocation verifies coverage is decided on the
// publisher's calendar, not UTC
func TestPendingDays_PublisherLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}

	// 23:30 UTC on Jan 1 is already Jan 2 in Berlin.
	existing := []time.Time{time.Date(2020, 1, 1, 23, 30, 0, 0, time.UTC)}

	days, err := PendingDays(
		time.Date(2020, 1, 1, 0, 0, 0, 0, berlin),
		time.Date(2020, 1, 2, 0, 0, 0, 0, berlin),
		existing, berlin, true)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, 1, days[0].Day())
}

// TestParseEdition verifies labels and their errors
func TestParseEdition(t *testing.T) {
	e, err := ParseEdition("2020-12")
	require.NoError(t, err)
	assert.Equal(t, Edition{Year: 2020, Number: 12}, e)
	assert.Equal(t, "2020-12", e.String())

	for _, bad := range []string{"", "2020", "2020-x", "x-1", "2020-0", "-1-3"} {
		_, err := ParseEdition(bad)
		assert.ErrorIs(t, err, ErrInvalidEdition, bad)
	}
}

// TestEditions_SameYear verifies a short range within one year
func TestEditions_SameYear(t *testing.T) {
	eds, err := PendingEditions("2020-1", "2020-3", 55, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []Edition{{2020, 1}, {2020, 2}, {2020, 3}}, eds)
}

// TestEditions_SpansYears verifies whole years in between are filled
func TestEditions_SpansYears(t *testing.T) {
	eds, err := Editions(Edition{2019, 54}, Edition{2021, 2}, 55)
	require.NoError(t, err)

	require.Len(t, eds, 2+55+2)
	assert.Equal(t, Edition{2019, 54}, eds[0])
	assert.Equal(t, Edition{2019, 55}, eds[1])
	assert.Equal(t, Edition{2020, 1}, eds[2])
	assert.Equal(t, Edition{2020, 55}, eds[56])
	assert.Equal(t, Edition{2021, 2}, eds[len(eds)-1])
}

// TestEditions_Invalid verifies configuration errors
func TestEditions_Invalid(t *testing.T) {
	_, err := Editions(Edition{2020, 3}, Edition{2020, 1}, 55)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = Editions(Edition{2020, 1}, Edition{2020, 2}, 0)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = Editions(Edition{2020, 1}, Edition{2020, 60}, 55)
	assert.ErrorIs(t, err, ErrInvalidEdition)

	_, err = PendingEditions("2020/1", "2020-2", 55, nil, true)
	assert.ErrorIs(t, err, ErrInvalidEdition)
}

// TestPendingEditions_SkipsExisting verifies stored editions are dropped
func TestPendingEditions_SkipsExisting(t *testing.T) {
	eds, err := PendingEditions("2020-1", "2020-3", 55, []string{"2020-2"}, true)
	require.NoError(t, err)
	assert.Equal(t, []Edition{{2020, 1}, {2020, 3}}, eds)

	eds, err = PendingEditions("2020-1", "2020-2", 55, []string{"2020-1", "2020-2"}, true)
	require.NoError(t, err)
	assert.Empty(t, eds)
}
