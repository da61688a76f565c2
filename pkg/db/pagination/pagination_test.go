package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type row struct {
	id string
	at time.Time
}

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{CreatedAt: time.Date(2024, 3, 10, 12, 0, 0, 123000, time.UTC), ID: "42"}

	s, err := EncodeCursor(c)
	require.NoError(t, err)

	got, err := DecodeCursor(s)
	require.NoError(t, err)
	require.True(t, c.CreatedAt.Equal(got.CreatedAt))
	require.Equal(t, "42", got.ID)

	_, err = DecodeCursor("%%%")
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	require.Equal(t, DefaultLimit, Pagination{}.Normalize().Limit)
	require.Equal(t, MaxLimit, Pagination{Limit: 1000}.Normalize().Limit)
	require.Equal(t, 7, Pagination{Limit: 7}.Normalize().Limit)
}

func TestPage(t *testing.T) {
	at := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	rows := []*row{{"1", at}, {"2", at}, {"3", at}}
	cursorOf := func(r *row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page, info, err := Page(rows, 2, cursorOf)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	next, err := DecodeCursor(info.NextCursor)
	require.NoError(t, err)
	require.Equal(t, "2", next.ID)

	page, info, err = Page(rows, 3, cursorOf)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
}
