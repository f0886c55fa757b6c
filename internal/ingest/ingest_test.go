package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/lox/pvyield/internal/models"
)

// writeStation writes a station CSV with one row per day starting at start.
// An empty string in values writes an empty cell.
func writeStation(t *testing.T, dir, name string, start time.Time, values []string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("date,insol\n")
	for i, v := range values {
		fmt.Fprintf(&b, "%s,%s\n", start.AddDate(0, 0, i).Format("2006-01-02"), v)
	}
	path := filepath.Join(dir, name+".csv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func repeat(v string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func dayNumbers(n int, missing ...int) []string {
	skip := make(map[int]bool)
	for _, d := range missing {
		skip[d] = true
	}
	out := make([]string, n)
	for d := 1; d <= n; d++ {
		if !skip[d] {
			out[d-1] = fmt.Sprintf("%d", d)
		}
	}
	return out
}

func jan(year int) time.Time { return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC) }

func TestLoadClimatology(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		values []string
		month  time.Month
		want   float64
		wantOK bool
	}{
		{
			name:   "month with 20 valid days is dropped",
			start:  time.Date(2023, time.February, 1, 0, 0, 0, 0, time.UTC),
			values: append(repeat("5", 20), repeat("", 8)...),
			month:  time.February,
			wantOK: false,
		},
		{
			name:   "28 present days with the rest absent is the sum",
			start:  jan(2023),
			values: repeat("2", 28),
			month:  time.January,
			want:   56,
			wantOK: true,
		},
		{
			name:   "gap of 3 days is interpolated",
			start:  jan(2023),
			values: dayNumbers(31, 10, 11, 12),
			month:  time.January,
			want:   496,
			wantOK: true,
		},
		{
			name:   "gap of 4 days stays missing",
			start:  jan(2023),
			values: dayNumbers(31, 10, 11, 12, 13),
			month:  time.January,
			want:   496 - (10 + 11 + 12 + 13),
			wantOK: true,
		},
		{
			name:   "gap of 5 days leaves too few valid days",
			start:  jan(2023),
			values: dayNumbers(31, 10, 11, 12, 13, 14),
			month:  time.January,
			wantOK: false,
		},
	}

	loader := NewLoader("", zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeStation(t, t.TempDir(), "st1", tt.start, tt.values)
			clim, err := loader.LoadClimatology([]string{path})
			if err != nil {
				t.Fatalf("LoadClimatology: %v", err)
			}
			got, ok := clim.Get("st1", tt.month)
			if ok != tt.wantOK {
				t.Fatalf("present = %v, want %v (value %v)", ok, tt.wantOK, got)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadClimatology_AveragesYears(t *testing.T) {
	dir := t.TempDir()
	// Jan 2022 at 1/day, then Jan 2023 at 3/day; the months in between are
	// absent from the file and therefore missing.
	path := filepath.Join(dir, "st2.csv")
	var b strings.Builder
	b.WriteString("date,insol\n")
	for i := 0; i < 31; i++ {
		fmt.Fprintf(&b, "%s,1\n", jan(2022).AddDate(0, 0, i).Format("2006-01-02"))
	}
	for i := 0; i < 31; i++ {
		fmt.Fprintf(&b, "%s,3\n", jan(2023).AddDate(0, 0, i).Format("2006-01-02"))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	clim, err := NewLoader("insol", zap.NewNop()).LoadClimatology([]string{path})
	if err != nil {
		t.Fatalf("LoadClimatology: %v", err)
	}
	if clim.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (only January has data)", clim.Len())
	}
	entries := clim.Entries()
	if entries[0].Value != 62 {
		t.Errorf("January mean = %v, want 62", entries[0].Value)
	}
	if !entries[0].Date.Equal(time.Date(models.ReferenceYear, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("entry anchored at %v, want 2024-01-01", entries[0].Date)
	}
}

func TestLoadClimatology_StationIDFromFilename(t *testing.T) {
	dir := t.TempDir()
	a := writeStation(t, dir, "alpha", jan(2023), repeat("1", 31))
	b := writeStation(t, dir, "beta", jan(2023), repeat("2", 31))

	clim, err := NewLoader("insol", zap.NewNop()).LoadClimatology([]string{a, b})
	if err != nil {
		t.Fatalf("LoadClimatology: %v", err)
	}
	if got := strings.Join(clim.Stations(), ","); got != "alpha,beta" {
		t.Errorf("Stations = %s", got)
	}
	if v, _ := clim.Get("beta", time.January); v != 62 {
		t.Errorf("beta January = %v, want 62", v)
	}
}

func TestLoadClimatology_Errors(t *testing.T) {
	loader := NewLoader("insol", zap.NewNop())

	t.Run("no files", func(t *testing.T) {
		_, err := loader.LoadClimatology(nil)
		if !errors.Is(err, models.ErrDataQuality) {
			t.Errorf("err = %v, want ErrDataQuality", err)
		}
	})

	cases := []struct {
		name string
		body string
	}{
		{"missing value column", "date,radiation\n2023-01-01,1\n"},
		{"missing date column", "day,insol\n2023-01-01,1\n"},
		{"non-numeric value", "date,insol\n2023-01-01,sunny\n"},
		{"bad date", "date,insol\n01/01/2023,1\n"},
		{"negative radiation", "date,insol\n2023-01-01,-4\n"},
		{"duplicate date", "date,insol\n2023-01-01,1\n2023-01-01,2\n"},
		{"only missing values", "date,insol\n2023-01-01,\n2023-01-02,NaN\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.csv")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := loader.LoadClimatology([]string{path})
			if !errors.Is(err, models.ErrDataQuality) {
				t.Errorf("err = %v, want ErrDataQuality", err)
			}
			if err != nil && !strings.Contains(err.Error(), "bad.csv") {
				t.Errorf("error should name the file: %v", err)
			}
		})
	}

	t.Run("missing file names the path", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "gone.csv")
		_, err := loader.LoadClimatology([]string{missing})
		if err == nil || !strings.Contains(err.Error(), "gone.csv") {
			t.Errorf("err = %v, want error naming gone.csv", err)
		}
	})
}

func TestInterpolate_EdgesStayMissing(t *testing.T) {
	start := jan(2023)
	days := []models.DailyValue{
		{Date: start},
		{Date: start.AddDate(0, 0, 1), Value: 4, Valid: true},
		{Date: start.AddDate(0, 0, 2)},
		{Date: start.AddDate(0, 0, 3), Value: 8, Valid: true},
		{Date: start.AddDate(0, 0, 4)},
	}
	got := Interpolate(days, MaxGapDays)

	if got[0].Valid || got[4].Valid {
		t.Errorf("edge gaps were filled: %+v", got)
	}
	if !got[2].Valid || got[2].Value != 6 {
		t.Errorf("interior gap = %+v, want 6", got[2])
	}
	if days[2].Valid {
		t.Error("Interpolate modified its input")
	}
}

func TestValidateDaily(t *testing.T) {
	d := jan(2023)
	tests := []struct {
		name      string
		days      []models.DailyValue
		wantFlags []string
	}{
		{"clean", []models.DailyValue{{Date: d, Value: 3, Valid: true}}, nil},
		{"negative", []models.DailyValue{{Date: d, Value: -1, Valid: true}}, []string{FlagRadiationNegative}},
		{"infinite", []models.DailyValue{{Date: d, Value: math.Inf(1), Valid: true}}, []string{FlagRadiationNotFinite}},
		{"nothing valid", []models.DailyValue{{Date: d}}, []string{FlagNoValidValues}},
		{
			"duplicate raised once",
			[]models.DailyValue{{Date: d, Value: 1, Valid: true}, {Date: d, Value: 1, Valid: true}, {Date: d, Value: 1, Valid: true}},
			[]string{FlagDuplicateDate},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateDaily(tt.days)
			if strings.Join(got, ",") != strings.Join(tt.wantFlags, ",") {
				t.Errorf("flags = %v, want %v", got, tt.wantFlags)
			}
		})
	}
}

func TestLoadConsumption_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consumption.csv")
	body := "date,consumption\n2024-02-01,310\n2024-01-01,350.5\n2024-03-01,\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	series, err := LoadConsumption(path)
	if err != nil {
		t.Fatalf("LoadConsumption: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("len = %d, want 2 (empty cell skipped)", len(series))
	}
	if series[0].Value != 350.5 || series[0].Date.Month() != time.January {
		t.Errorf("first sample = %+v, want January 350.5", series[0])
	}
}

func TestLoadConsumption_Workbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consumption.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"date", "consumption"},
		{"2024-01-01", 420},
		{"2024-02-01", 380},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	series, err := LoadConsumption(path)
	if err != nil {
		t.Fatalf("LoadConsumption: %v", err)
	}
	if len(series) != 2 || series.Sum() != 800 {
		t.Errorf("series = %+v, want 2 samples summing to 800", series)
	}
}

func TestLoadConsumption_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr error
	}{
		{"negative", "c.csv", "date,consumption\n2024-01-01,-3\n", models.ErrDataQuality},
		{"missing column", "c.csv", "date,kwh\n2024-01-01,3\n", models.ErrDataQuality},
		{"bad number", "c.csv", "date,consumption\n2024-01-01,lots\n", models.ErrDataQuality},
		{"unsupported extension", "c.json", "{}", models.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConsumption(path); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadStations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.csv")
	body := "st_id,x,y\nzug,681000.5,5224000\naarau,645000,5250000.25\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	stations, err := LoadStations(path)
	if err != nil {
		t.Fatalf("LoadStations: %v", err)
	}
	if len(stations) != 2 || stations[0].StationID != "aarau" {
		t.Fatalf("stations = %+v, want sorted by id", stations)
	}
	if stations[1].StationID != "zug" || stations[1].X != 681000.5 {
		t.Errorf("stations = %+v", stations)
	}

	dup := filepath.Join(t.TempDir(), "dup.csv")
	os.WriteFile(dup, []byte("st_id,x,y\na,1,2\na,3,4\n"), 0o644)
	if _, err := LoadStations(dup); !errors.Is(err, models.ErrDataQuality) {
		t.Errorf("duplicate station err = %v, want ErrDataQuality", err)
	}
}

type fakeFTP struct {
	entries  []ftpEntry
	files    map[string]string
	user     string
	retrieve []string
	quit     bool
}

func (f *fakeFTP) Login(user, _ string) error { f.user = user; return nil }
func (f *fakeFTP) Quit() error                { f.quit = true; return nil }
func (f *fakeFTP) List(string) ([]ftpEntry, error) {
	return f.entries, nil
}
func (f *fakeFTP) Retr(file string) (io.ReadCloser, error) {
	f.retrieve = append(f.retrieve, file)
	body, ok := f.files[file]
	if !ok {
		return nil, fmt.Errorf("550 %s not found", file)
	}
	return io.NopCloser(bytes.NewBufferString(body)), nil
}

func TestFTPSource_Fetch(t *testing.T) {
	fake := &fakeFTP{
		entries: []ftpEntry{
			{Name: "st1.csv", File: true},
			{Name: "README", File: true},
			{Name: "archive", File: false},
			{Name: "st2.CSV", File: true},
		},
		files: map[string]string{
			"/obs/st1.csv": "date,insol\n2023-01-01,1\n",
			"/obs/st2.CSV": "date,insol\n2023-01-01,2\n",
		},
	}
	src, err := NewFTPSource("ftp://archive.example.org/obs", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	var dialed string
	src.dial = func(_ context.Context, addr string) (ftpConn, error) {
		dialed = addr
		return fake, nil
	}

	dir := t.TempDir()
	files, err := src.Fetch(context.Background(), dir)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if dialed != "archive.example.org:21" {
		t.Errorf("dialed %q, want default port 21", dialed)
	}
	if fake.user != "anonymous" || !fake.quit {
		t.Errorf("user = %q quit = %v", fake.user, fake.quit)
	}
	if len(files) != 2 {
		t.Fatalf("files = %v, want 2 csv files", files)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "st2.CSV"))
	if !strings.Contains(string(got), "2023-01-01,2") {
		t.Errorf("st2 content = %q", got)
	}
	if !IsRemote("FTP://host/dir") || IsRemote("/data/optim") {
		t.Error("IsRemote misclassified")
	}
}

func TestNewFTPSource_Invalid(t *testing.T) {
	for _, raw := range []string{"http://host/dir", "ftp://", "::"} {
		if _, err := NewFTPSource(raw, zap.NewNop()); err == nil {
			t.Errorf("NewFTPSource(%q) succeeded, want error", raw)
		}
	}
}
