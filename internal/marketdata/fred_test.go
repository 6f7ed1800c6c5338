package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSeriesForTenor(t *testing.T) {
	tests := []struct {
		days   int
		series string
	}{
		{1, "DGS3MO"},
		{90, "DGS3MO"},
		{135, "DGS3MO"}, // equidistant from 90 and 180: ties go short
		{136, "DGS6MO"},
		{180, "DGS6MO"},
		{300, "DGS1"},
		{365, "DGS1"},
		{547, "DGS1"},
		{548, "DGS2"},
		{730, "DGS2"},
		{3650, "DGS2"},
	}
	for _, tt := range tests {
		if got := seriesForTenor(tt.days); got != tt.series {
			t.Errorf("seriesForTenor(%d) = %s, want %s", tt.days, got, tt.series)
		}
	}
}

func TestFREDRate(t *testing.T) {
	var gotSeries string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSeries = r.URL.Query().Get("series_id")
		// FRED prints "." on days with no observation; the latest real
		// value wins.
		w.Write([]byte(`{"observations":[
			{"date":"2026-08-24","value":"."},
			{"date":"2026-08-23","value":"."},
			{"date":"2026-08-22","value":"4.23"},
			{"date":"2026-08-21","value":"4.19"}
		]}`))
	}))
	defer srv.Close()

	rate, err := NewFREDClient(srv.URL, "test").Rate(context.Background(), 365)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate != 0.0423 {
		t.Errorf("rate = %g, want 0.0423", rate)
	}
	if gotSeries != "DGS1" {
		t.Errorf("series = %s, want DGS1 for a 365-day lockup", gotSeries)
	}
}

func TestFREDRate_NoAPIKey(t *testing.T) {
	_, err := NewFREDClient("", "").Rate(context.Background(), 365)
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestFREDRate_NoUsableObservations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"observations":[
			{"date":"2026-08-24","value":"."},
			{"date":"2026-08-23","value":"."}
		]}`))
	}))
	defer srv.Close()

	_, err := NewFREDClient(srv.URL, "test").Rate(context.Background(), 90)
	if !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestFREDRate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewFREDClient(srv.URL, "test").Rate(context.Background(), 90)
	if err == nil {
		t.Fatal("expected error on 500")
	}
}
