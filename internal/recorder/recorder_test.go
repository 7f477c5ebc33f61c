package recorder

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/ardulink-go/internal/pin"
	"github.com/shaunagostinho/ardulink-go/internal/proto"
)

// fakeClock advances by step on every reading.
func fakeClock(step time.Duration) func() time.Time {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func readAll(t *testing.T, dir string) [][][]string {
	t.Helper()
	names, err := filepath.Glob(filepath.Join(dir, "pins_*.csv"))
	require.NoError(t, err)
	sort.Strings(names)
	var files [][][]string
	for _, name := range names {
		f, err := os.Open(name)
		require.NoError(t, err)
		rows, err := csv.NewReader(f).ReadAll()
		f.Close()
		require.NoError(t, err)
		files = append(files, rows)
	}
	return files
}

func TestRecordWritesRows(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Enabled: true, Path: dir, IntervalMs: 0})
	r.now = fakeClock(time.Millisecond)

	rec := r.Listener("link-1")
	rec.PinChanged(proto.PinChanged{Pin: pin.AnalogPin(3), Value: 512})
	rec.PinChanged(proto.PinChanged{Pin: pin.DigitalPin(7), Value: 1})
	r.Close()

	files := readAll(t, dir)
	require.Len(t, files, 1)
	rows := files[0]
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"link-1", "A3", "analog", "512"}, rows[1][1:])
	assert.Equal(t, []string{"link-1", "D7", "digital", "1"}, rows[2][1:])
}

func TestRecordThrottlesPerPin(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Enabled: true, Path: dir, IntervalMs: 100})
	r.now = fakeClock(30 * time.Millisecond)

	for i := 0; i < 10; i++ {
		r.Record("l", proto.PinChanged{Pin: pin.AnalogPin(0), Value: i})
	}
	r.Close()

	rows := readAll(t, dir)[0]
	// Readings at 30ms steps, one row per >=100ms: t=30,150,270.
	assert.Len(t, rows, 1+3)
}

func TestDisabledRecordsNothing(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Enabled: false, Path: dir})
	r.Record("l", proto.PinChanged{Pin: pin.AnalogPin(0), Value: 1})
	assert.False(t, r.IsEnabled())
	assert.Empty(t, readAll(t, dir))

	r.SetEnabled(true)
	r.Record("l", proto.PinChanged{Pin: pin.AnalogPin(0), Value: 1})
	r.SetEnabled(false)
	assert.Len(t, readAll(t, dir), 1)
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{Enabled: true, Path: dir})
	r.now = fakeClock(time.Second)
	r.maxRows = 2

	for i := 0; i < 5; i++ {
		r.Record("l", proto.PinChanged{Pin: pin.DigitalPin(i), Value: 1})
	}
	r.Close()

	files := readAll(t, dir)
	require.Len(t, files, 3)
	assert.Len(t, files[0], 3)
	assert.Len(t, files[2], 2)
}
